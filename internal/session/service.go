package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/fdclock/internal/autoclock"
	"github.com/your-org/fdclock/internal/matching"
	"github.com/your-org/fdclock/internal/models"
	"github.com/your-org/fdclock/internal/observability"
	"github.com/your-org/fdclock/internal/storage"
	"github.com/your-org/fdclock/internal/vision"
)

// IdentityView is an identity with its derived presence.
type IdentityView struct {
	models.Identity
	CurrentlyIn bool
}

type ServiceConfig struct {
	Machine      MachineConfig
	TickInterval time.Duration
}

// Service is the operator surface of the kiosk. It owns the machine's run
// loop and fronts the profile store.
type Service struct {
	machine    *Machine
	store      *storage.ProfileStore
	engine     *matching.Engine
	clock      *autoclock.Controller
	perception vision.Perception
	cfg        ServiceConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService wires the machine to its collaborators. source and perception
// are wrapped in exclusive-access guards here; every caller goes through
// the same guards.
func NewService(cfg ServiceConfig, store *storage.ProfileStore, clock *autoclock.Controller,
	source vision.FrameSource, perception vision.Perception) *Service {
	guarded := vision.NewGuardedPerception(perception)
	engine := matching.NewEngine(store)

	m := NewMachine(cfg.Machine, vision.NewGuardedSource(source), guarded, engine, clock, store)
	clock.OnCommit(m.CommitFinished)

	observability.EnrolledIdentities.Set(float64(store.CountIdentities()))

	return &Service{
		machine:    m,
		store:      store,
		engine:     engine,
		clock:      clock,
		perception: guarded,
		cfg:        cfg,
	}
}

// Machine exposes the state machine, mainly to register observers.
func (s *Service) Machine() *Machine { return s.machine }

// Start runs the tick loop in the background.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyRunning
	}
	if err := s.machine.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		s.machine.Loop(ctx, s.cfg.TickInterval)
	}()
	return nil
}

// Stop ends the tick loop and waits for the tick in flight.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return ErrNotRunning
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	return s.machine.Stop()
}

func (s *Service) Running() bool { return s.machine.Running() }

// Close stops the session if it runs and waits for a commit in progress.
func (s *Service) Close() {
	if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		slog.Warn("stop session", "error", err)
	}
	s.clock.Close()
}

func (s *Service) Threshold() float32 { return s.machine.Threshold() }

func (s *Service) SetThreshold(t float32) error { return s.machine.SetThreshold(t) }

func (s *Service) Snapshot() Snapshot { return s.machine.Snapshot() }

// --- Identities ---

func (s *Service) Enroll(ctx context.Context, externalID, displayName string, embedding []float32) (models.Identity, error) {
	identity, err := s.store.Enroll(ctx, externalID, displayName, embedding)
	if err != nil {
		return models.Identity{}, err
	}
	s.identitiesChanged()
	slog.Info("identity enrolled", "identity", identity.ID, "external_id", identity.ExternalID)
	return identity, nil
}

// EnrollPhoto detects the most confident face in a JPEG or PNG image and
// enrolls its embedding.
func (s *Service) EnrollPhoto(ctx context.Context, externalID, displayName string, photo []byte) (models.Identity, error) {
	vec, err := s.EmbedPhoto(ctx, photo)
	if err != nil {
		return models.Identity{}, err
	}
	return s.Enroll(ctx, externalID, displayName, vec)
}

// EmbedPhoto returns the embedding of the most confident face in photo.
func (s *Service) EmbedPhoto(ctx context.Context, photo []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(photo))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %w", ErrInvalidValue, err)
	}

	detCtx, cancel := context.WithTimeout(ctx, s.cfg.Machine.CaptureTimeout)
	det, err := s.perception.Detect(detCtx, img)
	cancel()
	if err != nil {
		return nil, err
	}
	if det == nil {
		return nil, vision.ErrNoFace
	}

	embCtx, cancel := context.WithTimeout(ctx, s.cfg.Machine.EmbedTimeout)
	defer cancel()
	return s.perception.Embed(embCtx, img, det)
}

// EnrollUnknown enrolls the last unknown face seen by the session.
func (s *Service) EnrollUnknown(ctx context.Context, externalID, displayName string) (models.Identity, error) {
	identity, err := s.machine.EnrollUnknown(ctx, externalID, displayName)
	if err != nil {
		return models.Identity{}, err
	}
	s.identitiesChanged()
	return identity, nil
}

// RejectLastMatch cancels the current match and optionally deletes the
// matched identity.
func (s *Service) RejectLastMatch(ctx context.Context, deleteProfile bool) (MatchInfo, error) {
	info, err := s.machine.RejectLastMatch(ctx, deleteProfile)
	if err == nil && deleteProfile {
		s.identitiesChanged()
	}
	return info, err
}

func (s *Service) ListIdentities() []IdentityView {
	ids := s.store.ListIdentities()
	out := make([]IdentityView, len(ids))
	for i, id := range ids {
		out[i] = IdentityView{Identity: id, CurrentlyIn: id.IsCurrentlyIn()}
	}
	return out
}

func (s *Service) GetIdentity(id uuid.UUID) (IdentityView, error) {
	identity, err := s.store.GetIdentity(id)
	if err != nil {
		return IdentityView{}, err
	}
	return IdentityView{Identity: identity, CurrentlyIn: identity.IsCurrentlyIn()}, nil
}

func (s *Service) RenameIdentity(ctx context.Context, id uuid.UUID, displayName string) (IdentityView, error) {
	identity, err := s.store.RenameIdentity(ctx, id, displayName)
	if err != nil {
		return IdentityView{}, err
	}
	return IdentityView{Identity: identity, CurrentlyIn: identity.IsCurrentlyIn()}, nil
}

// DeleteIdentity removes the identity and drops a commit pending for it.
func (s *Service) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	if err := s.clock.Reject(ctx, id, true); err != nil {
		return err
	}
	s.identitiesChanged()
	return nil
}

// Search ranks enrolled identities against a query vector.
func (s *Service) Search(query []float32, limit int) ([]matching.Result, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrInvalidValue)
	}
	if dim := s.store.Dim(); dim != 0 && len(query) != dim {
		return nil, fmt.Errorf("%w: vector length %d, want %d", ErrInvalidValue, len(query), dim)
	}
	for i, v := range query {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w: component %d is not finite", ErrInvalidValue, i)
		}
	}
	return s.engine.Rank(query, limit), nil
}

// --- Events ---

func (s *Service) QueryEvents(from, to time.Time) []models.AttendanceEvent {
	return s.store.QueryEvents(from, to)
}

func (s *Service) EventsForIdentity(id uuid.UUID) []models.AttendanceEvent {
	return s.store.EventsForIdentity(id)
}

// Ready checks the profile store backend.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) identitiesChanged() {
	observability.EnrolledIdentities.Set(float64(s.store.CountIdentities()))
}
