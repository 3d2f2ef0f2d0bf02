// Package autoclock turns a recognition into an attendance event once the
// match has held for a grace period.
package autoclock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/fdclock/internal/models"
	"github.com/your-org/fdclock/internal/observability"
)

// Store is the part of the profile store the controller writes to.
type Store interface {
	GetIdentity(id uuid.UUID) (models.Identity, error)
	UpdateIdentity(ctx context.Context, id uuid.UUID, fn func(*models.Identity) error) (models.Identity, error)
	DeleteIdentity(ctx context.Context, id uuid.UUID) error
	AppendEvent(ctx context.Context, ev models.AttendanceEvent) (models.AttendanceEvent, error)
}

// Sink receives every committed attendance event.
type Sink interface {
	AttendanceCommitted(ctx context.Context, ev models.AttendanceEvent)
}

// Cancellation reasons.
const (
	ReasonFaceLost          = "face_lost"
	ReasonDifferentIdentity = "different_identity"
	ReasonRejected          = "rejected"
	ReasonStopped           = "stopped"
)

// CommitResult is handed to the commit handler after a grace period elapses.
// Err is set when nothing was recorded.
type CommitResult struct {
	IdentityID uuid.UUID
	Event      models.AttendanceEvent
	Err        error
}

// Pending describes the commit currently waiting for its grace period.
type Pending struct {
	IdentityID   uuid.UUID
	IdentityName string
	Confidence   float32
	StartedAt    time.Time
	DueAt        time.Time
}

type pendingCommit struct {
	Pending
	timer *time.Timer
}

type Config struct {
	GracePeriod time.Duration
	// Enabled=false keeps matches as notifications only.
	Enabled bool
}

// Controller holds at most one pending commit.
type Controller struct {
	store   Store
	grace   time.Duration
	enabled bool

	mu       sync.Mutex
	pending  *pendingCommit
	sinks    []Sink
	onCommit func(CommitResult)
	wg       sync.WaitGroup

	now func() time.Time
}

func NewController(store Store, cfg Config) *Controller {
	return &Controller{
		store:   store,
		grace:   cfg.GracePeriod,
		enabled: cfg.Enabled,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// AddSink registers a receiver for committed events.
func (c *Controller) AddSink(s Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, s)
}

// OnCommit sets the function called after each elapsed grace period,
// whether or not the commit succeeded.
func (c *Controller) OnCommit(fn func(CommitResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCommit = fn
}

func (c *Controller) Enabled() bool { return c.enabled }

// OnMatch starts the grace period for identity. A pending commit for the
// same identity keeps running; one for another identity is replaced.
// It returns false when auto-clocking is disabled.
func (c *Controller) OnMatch(identity models.Identity, confidence float32) bool {
	if !c.enabled {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		if c.pending.IdentityID == identity.ID {
			return true
		}
		c.cancelLocked(ReasonDifferentIdentity)
	}

	now := c.now()
	p := &pendingCommit{Pending: Pending{
		IdentityID:   identity.ID,
		IdentityName: identity.DisplayName,
		Confidence:   clamp01(confidence),
		StartedAt:    now,
		DueAt:        now.Add(c.grace),
	}}
	c.wg.Add(1)
	p.timer = time.AfterFunc(c.grace, func() {
		defer c.wg.Done()
		c.fire(p)
	})
	c.pending = p

	slog.Debug("attendance commit pending", "identity", identity.ID, "grace", c.grace)
	return true
}

// Cancel drops the pending commit. It reports whether one was pending.
func (c *Controller) Cancel(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelLocked(reason)
}

func (c *Controller) cancelLocked(reason string) bool {
	p := c.pending
	if p == nil {
		return false
	}
	c.pending = nil
	if p.timer.Stop() {
		// The callback will never run, so release its slot here.
		c.wg.Done()
	}
	observability.PendingCancellations.WithLabelValues(reason).Inc()
	slog.Debug("attendance commit cancelled", "identity", p.IdentityID, "reason", reason)
	return true
}

// Reject cancels a pending commit for identityID and, if deleteProfile is
// set, removes the identity from the store.
func (c *Controller) Reject(ctx context.Context, identityID uuid.UUID, deleteProfile bool) error {
	c.mu.Lock()
	if c.pending != nil && c.pending.IdentityID == identityID {
		c.cancelLocked(ReasonRejected)
	}
	c.mu.Unlock()

	if !deleteProfile {
		return nil
	}
	if err := c.store.DeleteIdentity(ctx, identityID); err != nil {
		return fmt.Errorf("delete rejected identity: %w", err)
	}
	slog.Info("rejected identity deleted", "identity", identityID)
	return nil
}

// Pending returns the commit waiting for its grace period, if any.
func (c *Controller) Pending() (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return Pending{}, false
	}
	return c.pending.Pending, true
}

// Close cancels the pending commit and waits for a commit already in
// progress to finish.
func (c *Controller) Close() {
	c.Cancel(ReasonStopped)
	c.wg.Wait()
}

func (c *Controller) fire(p *pendingCommit) {
	c.mu.Lock()
	if c.pending != p {
		// Cancelled or replaced after the timer had already fired.
		c.mu.Unlock()
		return
	}
	c.pending = nil
	sinks := append([]Sink(nil), c.sinks...)
	onCommit := c.onCommit
	c.mu.Unlock()

	ctx := context.Background()
	ev, err := c.commit(ctx, p.Pending)
	if err != nil {
		slog.Error("attendance commit failed", "identity", p.IdentityID, "error", err)
	}
	if ev.ID != uuid.Nil {
		for _, s := range sinks {
			s.AttendanceCommitted(ctx, ev)
		}
	}
	if onCommit != nil {
		onCommit(CommitResult{IdentityID: p.IdentityID, Event: ev, Err: err})
	}
}

// commit appends the event first, then moves the identity's timestamps.
// If the second write fails the event stays recorded and the error is
// reported; the next commit for the identity will toggle from the old state.
func (c *Controller) commit(ctx context.Context, p Pending) (models.AttendanceEvent, error) {
	identity, err := c.store.GetIdentity(p.IdentityID)
	if err != nil {
		return models.AttendanceEvent{}, fmt.Errorf("load identity: %w", err)
	}

	kind := models.EventKindEnter
	if identity.IsCurrentlyIn() {
		kind = models.EventKindExit
	}

	ev, err := c.store.AppendEvent(ctx, models.AttendanceEvent{
		ID:           uuid.New(),
		IdentityID:   identity.ID,
		IdentityName: identity.DisplayName,
		Timestamp:    c.now(),
		Kind:         kind,
		Confidence:   p.Confidence,
	})
	if err != nil {
		return models.AttendanceEvent{}, fmt.Errorf("append event: %w", err)
	}

	ts := ev.Timestamp
	_, err = c.store.UpdateIdentity(ctx, identity.ID, func(i *models.Identity) error {
		if kind == models.EventKindEnter {
			i.LastInAt = &ts
		} else {
			i.LastOutAt = &ts
		}
		return nil
	})
	if err != nil {
		return ev, fmt.Errorf("event %s recorded but identity timestamps not updated: %w", ev.ID, err)
	}

	observability.AttendanceCommits.WithLabelValues(string(kind)).Inc()
	slog.Info("attendance recorded",
		"identity", identity.ID,
		"name", identity.DisplayName,
		"kind", kind,
		"confidence", p.Confidence,
	)
	return ev, nil
}

func clamp01(v float32) float32 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
