package storage

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/fdclock/internal/models"
)

// memBackend is an in-memory Backend with error injection.
type memBackend struct {
	mu         sync.Mutex
	identities []models.Identity
	events     []models.AttendanceEvent

	SaveIdentitiesErr error
	SaveEventsErr     error
	LoadErr           error

	SaveIdentitiesCalls int
	SaveEventsCalls     int
}

func (m *memBackend) LoadIdentities(ctx context.Context) ([]models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return append([]models.Identity(nil), m.identities...), nil
}

func (m *memBackend) SaveIdentities(ctx context.Context, identities []models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveIdentitiesCalls++
	if m.SaveIdentitiesErr != nil {
		return m.SaveIdentitiesErr
	}
	m.identities = append([]models.Identity(nil), identities...)
	return nil
}

func (m *memBackend) LoadEvents(ctx context.Context) ([]models.AttendanceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return append([]models.AttendanceEvent(nil), m.events...), nil
}

func (m *memBackend) SaveEvents(ctx context.Context, events []models.AttendanceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveEventsCalls++
	if m.SaveEventsErr != nil {
		return m.SaveEventsErr
	}
	m.events = append([]models.AttendanceEvent(nil), events...)
	return nil
}

func (m *memBackend) Ping(ctx context.Context) error { return nil }
func (m *memBackend) Close() error                   { return nil }

func newTestStore(t *testing.T) (*ProfileStore, *memBackend) {
	t.Helper()
	b := &memBackend{}
	s, err := NewProfileStore(context.Background(), b, 0)
	require.NoError(t, err)
	return s, b
}

func TestEnroll(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enroll(ctx, " 1001 ", "Ada", []float32{1, 0, 0})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, id.ID)
	assert.Equal(t, "1001", id.ExternalID)
	assert.Equal(t, "Ada", id.DisplayName)
	assert.False(t, id.EnrolledAt.IsZero())
	assert.False(t, id.IsCurrentlyIn())
	assert.Equal(t, 3, s.Dim())
	assert.Len(t, b.identities, 1)
}

func TestEnroll_DuplicateExternalID(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()

	_, err := s.Enroll(ctx, "1001", "Ada", []float32{1, 0})
	require.NoError(t, err)
	calls := b.SaveIdentitiesCalls

	_, err = s.Enroll(ctx, "1001", "Impostor", []float32{0, 1})
	assert.ErrorIs(t, err, ErrDuplicateIdentity)
	assert.Equal(t, calls, b.SaveIdentitiesCalls, "no write on rejected enrollment")
	assert.Equal(t, 1, s.CountIdentities())
}

func TestEnroll_Validation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Enroll(ctx, "", "Nobody", []float32{1})
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = s.Enroll(ctx, "1", "Empty", nil)
	assert.ErrorIs(t, err, ErrInvalidEmbedding)

	_, err = s.Enroll(ctx, "2", "Ada", []float32{1, 0})
	require.NoError(t, err)

	_, err = s.Enroll(ctx, "3", "Wrong dim", []float32{1, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidEmbedding)
}

func TestEnroll_RejectsNonFiniteComponents(t *testing.T) {
	ctx := context.Background()
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	for name, vec := range map[string][]float32{
		"nan":      {nan, 0, 1},
		"+inf":     {1, inf, 0},
		"-inf":     {0, 1, -inf},
		"all nans": {nan, nan, nan},
	} {
		t.Run(name, func(t *testing.T) {
			s, b := newTestStore(t)
			_, err := s.Enroll(ctx, "1", "Ada", vec)
			assert.ErrorIs(t, err, ErrInvalidEmbedding)
			assert.NotErrorIs(t, err, ErrStoreIO)
			assert.Zero(t, b.SaveIdentitiesCalls)
			assert.Zero(t, s.Dim())
		})
	}

	s, _ := newTestStore(t)
	ada, err := s.Enroll(ctx, "1", "Ada", []float32{1, 0, 0})
	require.NoError(t, err)
	_, err = s.Reenroll(ctx, ada.ID, []float32{0, nan, 1})
	assert.ErrorIs(t, err, ErrInvalidEmbedding)
	got, err := s.GetIdentity(ada.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)
}

func TestTimestampsStoredAtMicrosecondPrecision(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()
	nanos := time.Date(2026, 3, 1, 8, 0, 0, 123456789, time.FixedZone("CET", 3600))
	want := time.Date(2026, 3, 1, 7, 0, 0, 123456000, time.UTC)
	s.now = func() time.Time { return nanos }

	ada, err := s.Enroll(ctx, "1", "Ada", []float32{1, 0})
	require.NoError(t, err)
	assert.Equal(t, want, ada.EnrolledAt)

	ev, err := s.AppendEvent(ctx, models.AttendanceEvent{IdentityID: ada.ID, Kind: models.EventKindEnter, Timestamp: nanos})
	require.NoError(t, err)
	assert.Equal(t, want, ev.Timestamp)
	assert.Equal(t, want, b.events[0].Timestamp)

	out := nanos.Add(time.Hour)
	ada, err = s.UpdateIdentity(ctx, ada.ID, func(i *models.Identity) error {
		i.LastInAt = &nanos
		i.LastOutAt = &out
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, ada.LastInAt)
	require.NotNil(t, ada.LastOutAt)
	assert.Equal(t, want, *ada.LastInAt)
	assert.Equal(t, want.Add(time.Hour), *ada.LastOutAt)
	assert.Equal(t, want, *b.identities[0].LastInAt)
}

func TestEnroll_ConfiguredDim(t *testing.T) {
	s, err := NewProfileStore(context.Background(), &memBackend{}, 4)
	require.NoError(t, err)

	_, err = s.Enroll(context.Background(), "1", "Ada", []float32{1, 0})
	assert.ErrorIs(t, err, ErrInvalidEmbedding)
}

func TestEnroll_CopiesEmbedding(t *testing.T) {
	s, _ := newTestStore(t)
	vec := []float32{1, 0}

	id, err := s.Enroll(context.Background(), "1", "Ada", vec)
	require.NoError(t, err)
	vec[0] = 0

	got, err := s.GetIdentity(id.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, got.Embedding)
}

func TestStoreIOFailure_LeavesStateUnchanged(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()

	ada, err := s.Enroll(ctx, "1", "Ada", []float32{1, 0})
	require.NoError(t, err)

	b.SaveIdentitiesErr = errors.New("disk full")

	_, err = s.Enroll(ctx, "2", "Grace", []float32{0, 1})
	assert.ErrorIs(t, err, ErrStoreIO)
	assert.Equal(t, 1, s.CountIdentities())

	_, err = s.RenameIdentity(ctx, ada.ID, "Countess")
	assert.ErrorIs(t, err, ErrStoreIO)
	got, _ := s.GetIdentity(ada.ID)
	assert.Equal(t, "Ada", got.DisplayName)

	err = s.DeleteIdentity(ctx, ada.ID)
	assert.ErrorIs(t, err, ErrStoreIO)
	_, err = s.GetIdentity(ada.ID)
	assert.NoError(t, err)

	b.SaveEventsErr = errors.New("disk full")
	_, err = s.AppendEvent(ctx, models.AttendanceEvent{IdentityID: ada.ID, Kind: models.EventKindEnter})
	assert.ErrorIs(t, err, ErrStoreIO)
	assert.Empty(t, s.ListEvents())
}

func TestUpdateIdentity(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ada, err := s.Enroll(ctx, "1", "Ada", []float32{1, 0})
	require.NoError(t, err)

	in := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	got, err := s.UpdateIdentity(ctx, ada.ID, func(i *models.Identity) error {
		i.LastInAt = &in
		return nil
	})
	require.NoError(t, err)
	assert.True(t, got.IsCurrentlyIn())

	_, err = s.UpdateIdentity(ctx, ada.ID, func(i *models.Identity) error {
		i.ExternalID = "2"
		return nil
	})
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = s.UpdateIdentity(ctx, uuid.New(), func(i *models.Identity) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)

	fnErr := errors.New("stop")
	_, err = s.UpdateIdentity(ctx, ada.ID, func(i *models.Identity) error { return fnErr })
	assert.ErrorIs(t, err, fnErr)
}

func TestRenameAndReenroll(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ada, err := s.Enroll(ctx, "1", "Ada", []float32{1, 0})
	require.NoError(t, err)

	got, err := s.RenameIdentity(ctx, ada.ID, "Ada L.")
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", got.DisplayName)

	_, err = s.RenameIdentity(ctx, ada.ID, "  ")
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	got, err = s.Reenroll(ctx, ada.ID, []float32{0, 1})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, got.Embedding)

	_, err = s.Reenroll(ctx, ada.ID, []float32{0, 1, 0})
	assert.ErrorIs(t, err, ErrInvalidEmbedding)
}

func TestDeleteIdentity_KeepsEvents(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ada, err := s.Enroll(ctx, "1", "Ada", []float32{1, 0})
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, models.AttendanceEvent{IdentityID: ada.ID, IdentityName: "Ada", Kind: models.EventKindEnter})
	require.NoError(t, err)

	require.NoError(t, s.DeleteIdentity(ctx, ada.ID))
	_, err = s.GetIdentity(ada.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteIdentity(ctx, ada.ID), ErrNotFound)

	evs := s.EventsForIdentity(ada.ID)
	require.Len(t, evs, 1)
	assert.Equal(t, "Ada", evs[0].IdentityName)
}

func TestListIdentities_EnrollmentOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for _, ext := range []string{"c", "a", "b"} {
		_, err := s.Enroll(ctx, ext, ext, []float32{1})
		require.NoError(t, err)
	}

	list := s.ListIdentities()
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].ExternalID)
	assert.Equal(t, "a", list[1].ExternalID)
	assert.Equal(t, "b", list[2].ExternalID)
}

func TestAppendEvent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ev, err := s.AppendEvent(ctx, models.AttendanceEvent{IdentityID: uuid.New(), Kind: models.EventKindEnter, Confidence: 0.9})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())

	_, err = s.AppendEvent(ctx, models.AttendanceEvent{Kind: "lunch"})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Len(t, s.ListEvents(), 1)
}

func TestQueryEvents_InclusiveNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.AppendEvent(ctx, models.AttendanceEvent{
			IdentityID: uuid.New(),
			Kind:       models.EventKindEnter,
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	got := s.QueryEvents(base.Add(time.Hour), base.Add(3*time.Hour))
	require.Len(t, got, 3)
	assert.Equal(t, base.Add(3*time.Hour), got[0].Timestamp)
	assert.Equal(t, base.Add(2*time.Hour), got[1].Timestamp)
	assert.Equal(t, base.Add(time.Hour), got[2].Timestamp)

	assert.Len(t, s.QueryEvents(time.Time{}, time.Time{}), 5)
	assert.Empty(t, s.QueryEvents(base.Add(10*time.Hour), time.Time{}))
}

func TestQueryEvents_EqualTimestampsNewestCommittedFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	first, err := s.AppendEvent(ctx, models.AttendanceEvent{Kind: models.EventKindEnter, Timestamp: ts})
	require.NoError(t, err)
	second, err := s.AppendEvent(ctx, models.AttendanceEvent{Kind: models.EventKindExit, Timestamp: ts})
	require.NoError(t, err)

	got := s.QueryEvents(ts, ts)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)
}

// Identity writes must not wait for a slow event write and vice versa.
func TestCollectionsLockIndependently(t *testing.T) {
	b := &blockingBackend{memBackend: &memBackend{}, release: make(chan struct{}), entered: make(chan struct{})}
	s, err := NewProfileStore(context.Background(), b, 0)
	require.NoError(t, err)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := s.AppendEvent(ctx, models.AttendanceEvent{Kind: models.EventKindEnter})
		done <- err
	}()
	<-b.entered

	_, err = s.Enroll(ctx, "1", "Ada", []float32{1})
	assert.NoError(t, err, "enroll proceeds while an event write is blocked")

	close(b.release)
	assert.NoError(t, <-done)
}

type blockingBackend struct {
	*memBackend
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBackend) SaveEvents(ctx context.Context, events []models.AttendanceEvent) error {
	close(b.entered)
	<-b.release
	return b.memBackend.SaveEvents(ctx, events)
}

func TestNewProfileStore_LoadError(t *testing.T) {
	_, err := NewProfileStore(context.Background(), &memBackend{LoadErr: errors.New("boom")}, 0)
	assert.ErrorIs(t, err, ErrStoreIO)
}

func TestNewProfileStore_DimFromLoadedIdentities(t *testing.T) {
	b := &memBackend{identities: []models.Identity{{ID: uuid.New(), ExternalID: "1", Embedding: []float32{1, 0, 0, 0}}}}
	s, err := NewProfileStore(context.Background(), b, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Dim())
}
