package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/fdclock/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateIdentity = errors.New("external id already enrolled")
	ErrInvalidIdentity   = errors.New("invalid identity")
	ErrInvalidEmbedding  = errors.New("invalid embedding")
	ErrInvalidEvent      = errors.New("invalid attendance event")
	ErrStoreIO           = errors.New("store io failure")
)

// Backend persists whole collections. Every Save replaces the stored
// collection with the given slice, keeping its order.
type Backend interface {
	LoadIdentities(ctx context.Context) ([]models.Identity, error)
	SaveIdentities(ctx context.Context, identities []models.Identity) error
	LoadEvents(ctx context.Context) ([]models.AttendanceEvent, error)
	SaveEvents(ctx context.Context, events []models.AttendanceEvent) error
	Ping(ctx context.Context) error
	Close() error
}

// ProfileStore holds enrolled identities and the attendance event log.
//
// Each mutation builds the next version of the whole collection, hands it to
// the backend and only then swaps it in, so a failed write leaves readers on
// the previous version. Identities and events have separate locks and never
// block each other.
type ProfileStore struct {
	backend Backend
	dim     int

	idMu       sync.RWMutex
	identities []models.Identity

	evMu   sync.RWMutex
	events []models.AttendanceEvent

	now func() time.Time
}

// NewProfileStore loads both collections from the backend. dim fixes the
// embedding length; 0 means the first enrolled identity decides.
func NewProfileStore(ctx context.Context, backend Backend, dim int) (*ProfileStore, error) {
	identities, err := backend.LoadIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load identities: %w", ErrStoreIO, err)
	}
	events, err := backend.LoadEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load events: %w", ErrStoreIO, err)
	}

	if dim == 0 && len(identities) > 0 {
		dim = len(identities[0].Embedding)
	}
	for _, id := range identities {
		if len(id.Embedding) != dim {
			slog.Warn("identity embedding length mismatch",
				"identity", id.ID, "len", len(id.Embedding), "want", dim)
		}
	}

	slog.Info("profile store loaded", "identities", len(identities), "events", len(events), "dim", dim)

	return &ProfileStore{
		backend:    backend,
		dim:        dim,
		identities: identities,
		events:     events,
		now:        func() time.Time { return StoredTime(time.Now()) },
	}, nil
}

// Dim returns the embedding length, or 0 while nothing is enrolled and no
// length was configured.
func (s *ProfileStore) Dim() int {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	return s.dim
}

// Ping checks the backend.
func (s *ProfileStore) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

func (s *ProfileStore) Close() error {
	return s.backend.Close()
}

// --- Identities ---

// ListIdentities returns deep copies in enrollment order.
func (s *ProfileStore) ListIdentities() []models.Identity {
	s.idMu.RLock()
	defer s.idMu.RUnlock()

	out := make([]models.Identity, len(s.identities))
	for i := range s.identities {
		out[i] = s.identities[i].Clone()
	}
	return out
}

// Candidates returns the current identities in enrollment order without
// copying embeddings. Embedding slices are never written after they are
// stored, so the result is safe to read but must not be modified.
func (s *ProfileStore) Candidates() []models.Identity {
	s.idMu.RLock()
	defer s.idMu.RUnlock()

	out := make([]models.Identity, len(s.identities))
	copy(out, s.identities)
	return out
}

func (s *ProfileStore) CountIdentities() int {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	return len(s.identities)
}

func (s *ProfileStore) GetIdentity(id uuid.UUID) (models.Identity, error) {
	s.idMu.RLock()
	defer s.idMu.RUnlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return models.Identity{}, fmt.Errorf("identity %s: %w", id, ErrNotFound)
	}
	return s.identities[idx].Clone(), nil
}

// Enroll creates an identity from a single embedding sample.
func (s *ProfileStore) Enroll(ctx context.Context, externalID, displayName string, embedding []float32) (models.Identity, error) {
	externalID = strings.TrimSpace(externalID)
	displayName = strings.TrimSpace(displayName)
	if externalID == "" {
		return models.Identity{}, fmt.Errorf("%w: external id is required", ErrInvalidIdentity)
	}
	if displayName == "" {
		displayName = externalID
	}

	s.idMu.Lock()
	defer s.idMu.Unlock()

	if err := s.checkEmbedding(embedding); err != nil {
		return models.Identity{}, err
	}
	for i := range s.identities {
		if s.identities[i].ExternalID == externalID {
			return models.Identity{}, fmt.Errorf("%w: %s", ErrDuplicateIdentity, externalID)
		}
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	identity := models.Identity{
		ID:          uuid.New(),
		ExternalID:  externalID,
		DisplayName: displayName,
		Embedding:   vec,
		EnrolledAt:  StoredTime(s.now()),
	}

	next := make([]models.Identity, len(s.identities), len(s.identities)+1)
	copy(next, s.identities)
	next = append(next, identity)

	if err := s.commitIdentities(ctx, next); err != nil {
		return models.Identity{}, err
	}
	if s.dim == 0 {
		s.dim = len(vec)
	}
	return identity.Clone(), nil
}

// UpdateIdentity applies fn to a copy of the identity and persists the
// result. ID, ExternalID and Embedding can't be changed this way.
func (s *ProfileStore) UpdateIdentity(ctx context.Context, id uuid.UUID, fn func(*models.Identity) error) (models.Identity, error) {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return models.Identity{}, fmt.Errorf("identity %s: %w", id, ErrNotFound)
	}

	orig := s.identities[idx]
	updated := orig.Clone()
	if err := fn(&updated); err != nil {
		return models.Identity{}, err
	}
	if updated.ID != orig.ID || updated.ExternalID != orig.ExternalID {
		return models.Identity{}, fmt.Errorf("%w: id and external id are immutable", ErrInvalidIdentity)
	}
	// Keep the stored slice so it's never replaced behind readers' backs.
	updated.Embedding = orig.Embedding
	updated.EnrolledAt = StoredTime(updated.EnrolledAt)
	updated.LastInAt = storedTimePtr(updated.LastInAt)
	updated.LastOutAt = storedTimePtr(updated.LastOutAt)

	next := make([]models.Identity, len(s.identities))
	copy(next, s.identities)
	next[idx] = updated

	if err := s.commitIdentities(ctx, next); err != nil {
		return models.Identity{}, err
	}
	return updated.Clone(), nil
}

// RenameIdentity changes the display name.
func (s *ProfileStore) RenameIdentity(ctx context.Context, id uuid.UUID, displayName string) (models.Identity, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return models.Identity{}, fmt.Errorf("%w: display name is required", ErrInvalidIdentity)
	}
	return s.UpdateIdentity(ctx, id, func(i *models.Identity) error {
		i.DisplayName = displayName
		return nil
	})
}

// Reenroll replaces the embedding of an existing identity.
func (s *ProfileStore) Reenroll(ctx context.Context, id uuid.UUID, embedding []float32) (models.Identity, error) {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return models.Identity{}, fmt.Errorf("identity %s: %w", id, ErrNotFound)
	}
	if err := s.checkEmbedding(embedding); err != nil {
		return models.Identity{}, err
	}

	updated := s.identities[idx].Clone()
	updated.Embedding = make([]float32, len(embedding))
	copy(updated.Embedding, embedding)

	next := make([]models.Identity, len(s.identities))
	copy(next, s.identities)
	next[idx] = updated

	if err := s.commitIdentities(ctx, next); err != nil {
		return models.Identity{}, err
	}
	return updated.Clone(), nil
}

// DeleteIdentity removes an identity. Its attendance events stay.
func (s *ProfileStore) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("identity %s: %w", id, ErrNotFound)
	}

	next := make([]models.Identity, 0, len(s.identities)-1)
	next = append(next, s.identities[:idx]...)
	next = append(next, s.identities[idx+1:]...)

	return s.commitIdentities(ctx, next)
}

func (s *ProfileStore) indexOf(id uuid.UUID) int {
	for i := range s.identities {
		if s.identities[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *ProfileStore) checkEmbedding(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidEmbedding)
	}
	dim := s.dim
	if dim == 0 && len(s.identities) > 0 {
		dim = len(s.identities[0].Embedding)
	}
	if dim != 0 && len(embedding) != dim {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidEmbedding, len(embedding), dim)
	}
	for i, v := range embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: component %d is not finite", ErrInvalidEmbedding, i)
		}
	}
	return nil
}

// StoredTime is t as every backend keeps it: UTC at microsecond precision,
// the resolution of a Postgres TIMESTAMPTZ.
func StoredTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func storedTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := StoredTime(*t)
	return &v
}

// commitIdentities must be called with idMu held.
func (s *ProfileStore) commitIdentities(ctx context.Context, next []models.Identity) error {
	if err := s.backend.SaveIdentities(ctx, next); err != nil {
		return fmt.Errorf("%w: save identities: %w", ErrStoreIO, err)
	}
	s.identities = next
	return nil
}

// --- Attendance events ---

// AppendEvent adds an event to the log. A missing ID is generated.
func (s *ProfileStore) AppendEvent(ctx context.Context, ev models.AttendanceEvent) (models.AttendanceEvent, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	ev.Timestamp = StoredTime(ev.Timestamp)
	if _, err := models.ParseEventKind(string(ev.Kind)); err != nil {
		return models.AttendanceEvent{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	s.evMu.Lock()
	defer s.evMu.Unlock()

	next := make([]models.AttendanceEvent, len(s.events), len(s.events)+1)
	copy(next, s.events)
	next = append(next, ev)

	if err := s.backend.SaveEvents(ctx, next); err != nil {
		return models.AttendanceEvent{}, fmt.Errorf("%w: save events: %w", ErrStoreIO, err)
	}
	s.events = next
	return ev, nil
}

// ListEvents returns every event in commit order.
func (s *ProfileStore) ListEvents() []models.AttendanceEvent {
	s.evMu.RLock()
	defer s.evMu.RUnlock()

	out := make([]models.AttendanceEvent, len(s.events))
	copy(out, s.events)
	return out
}

// QueryEvents returns events with from <= timestamp <= to, newest first.
// A zero bound is open.
func (s *ProfileStore) QueryEvents(from, to time.Time) []models.AttendanceEvent {
	return s.filterEvents(func(ev *models.AttendanceEvent) bool {
		if !from.IsZero() && ev.Timestamp.Before(from) {
			return false
		}
		if !to.IsZero() && ev.Timestamp.After(to) {
			return false
		}
		return true
	})
}

// EventsForIdentity returns one identity's events, newest first.
func (s *ProfileStore) EventsForIdentity(id uuid.UUID) []models.AttendanceEvent {
	return s.filterEvents(func(ev *models.AttendanceEvent) bool {
		return ev.IdentityID == id
	})
}

func (s *ProfileStore) filterEvents(keep func(*models.AttendanceEvent) bool) []models.AttendanceEvent {
	s.evMu.RLock()
	out := make([]models.AttendanceEvent, 0)
	for i := range s.events {
		if keep(&s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	s.evMu.RUnlock()

	// Reverse commit order first so equal timestamps keep newest-committed first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
