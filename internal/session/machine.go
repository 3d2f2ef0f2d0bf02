package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/fdclock/internal/autoclock"
	"github.com/your-org/fdclock/internal/matching"
	"github.com/your-org/fdclock/internal/models"
	"github.com/your-org/fdclock/internal/observability"
	"github.com/your-org/fdclock/internal/vision"
)

// Matcher finds the enrolled identity for a query embedding.
type Matcher interface {
	Match(query []float32, threshold float32) (matching.Result, bool)
}

// Clock is the auto-clock controller as seen by the machine.
type Clock interface {
	OnMatch(identity models.Identity, confidence float32) bool
	Cancel(reason string) bool
	Reject(ctx context.Context, identityID uuid.UUID, deleteProfile bool) error
	Pending() (autoclock.Pending, bool)
}

// Enroller stores a new identity.
type Enroller interface {
	Enroll(ctx context.Context, externalID, displayName string, embedding []float32) (models.Identity, error)
}

type MachineConfig struct {
	// CaptureTimeout bounds capture and detection together.
	CaptureTimeout time.Duration
	EmbedTimeout   time.Duration
	// MinSamples is the number of consecutive frames with a face before
	// recognition runs.
	MinSamples int
	// ReRecognizeInterval is how often an unknown face is tried again.
	// Zero means never.
	ReRecognizeInterval time.Duration
	Threshold           float32
}

type unknownFace struct {
	embedding []float32
	trackID   int
	at        time.Time
}

// Machine is the frame processing state machine. It owns all session state;
// operator actions go through its methods and show up in the next tick's
// notification.
type Machine struct {
	cfg        MachineConfig
	source     vision.FrameSource
	perception vision.Perception
	matcher    Matcher
	clock      Clock
	enroller   Enroller
	observers  []Observer

	inFlight atomic.Bool
	// tickMu is held for the whole of a tick so Stop can wait it out.
	tickMu sync.Mutex

	mu              sync.Mutex
	state           State
	running         bool
	threshold       float32
	tracker         *vision.FaceTracker
	lastMatch       *MatchInfo
	unknown         *unknownFace
	recognizedTrack int // no more recognition for this track
	lastEvent       *models.AttendanceEvent
	lastView        view

	now func() time.Time
}

// NewMachine expects source and perception to be guarded already
// (vision.GuardedSource, vision.GuardedPerception).
func NewMachine(cfg MachineConfig, source vision.FrameSource, perception vision.Perception,
	matcher Matcher, clock Clock, enroller Enroller) *Machine {
	if cfg.MinSamples < 1 {
		cfg.MinSamples = 1
	}
	m := &Machine{
		cfg:        cfg,
		source:     source,
		perception: perception,
		matcher:    matcher,
		clock:      clock,
		enroller:   enroller,
		state:      StateIdle,
		threshold:  cfg.Threshold,
		tracker:    vision.NewFaceTracker(cfg.MinSamples),
		now:        func() time.Time { return time.Now().UTC() },
	}
	m.lastView = view{state: StateIdle}
	return m
}

// AddObserver registers o. Call before Run.
func (m *Machine) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// Start moves the machine from idle to scanning.
func (m *Machine) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.state = StateScanning
	m.mu.Unlock()

	slog.Info("session started")
	m.notify(OutcomeStarted)
	return nil
}

// Stop waits for the tick in flight, drops the session and goes idle.
func (m *Machine) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.running = false
	m.mu.Unlock()

	m.tickMu.Lock()
	m.tickMu.Unlock()

	m.mu.Lock()
	m.tracker.Reset()
	m.clearLocked(autoclock.ReasonStopped)
	m.state = StateIdle
	m.mu.Unlock()

	slog.Info("session stopped")
	m.notify(OutcomeStopped)
	return nil
}

// Loop ticks every interval until ctx is done. The machine must have been
// started. A tick that arrives while the previous one is still in flight is
// dropped.
func (m *Machine) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.dispatch(ctx)
		}
	}
}

// dispatch runs a tick in the background unless one is in flight.
func (m *Machine) dispatch(ctx context.Context) bool {
	if !m.inFlight.CompareAndSwap(false, true) {
		observability.TicksDropped.Inc()
		return false
	}
	go func() {
		defer m.inFlight.Store(false)
		m.process(ctx)
	}()
	return true
}

// Tick runs one tick synchronously. It returns OutcomeDropped without doing
// anything when another tick is in flight.
func (m *Machine) Tick(ctx context.Context) Outcome {
	if !m.inFlight.CompareAndSwap(false, true) {
		observability.TicksDropped.Inc()
		return OutcomeDropped
	}
	defer m.inFlight.Store(false)
	return m.process(ctx)
}

func (m *Machine) process(ctx context.Context) Outcome {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	outcome := m.step(ctx)
	observability.TicksTotal.WithLabelValues(string(outcome)).Inc()
	if outcome != OutcomeIdle {
		m.notify(outcome)
	}
	return outcome
}

func (m *Machine) step(ctx context.Context) Outcome {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return OutcomeIdle
	}

	captureCtx, cancel := context.WithTimeout(ctx, m.cfg.CaptureTimeout)
	defer cancel()

	img, err := m.source.Capture(captureCtx)
	if err != nil {
		outcome := classify(err, OutcomeCaptureFailed)
		slog.Debug("capture failed", "outcome", outcome, "error", err)
		m.faceAbsent()
		return outcome
	}
	if img == nil {
		m.faceAbsent()
		return OutcomeNoFace
	}

	det, err := m.perception.Detect(captureCtx, img)
	if err != nil {
		outcome := classify(err, OutcomeDetectFailed)
		slog.Warn("face detection failed", "outcome", outcome, "error", err)
		m.faceAbsent()
		return outcome
	}
	if det == nil {
		m.faceAbsent()
		return OutcomeNoFace
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return OutcomeIdle
	}
	track, ended := m.tracker.Update(det)
	if ended {
		// A different face replaced the previous one without a gap.
		m.clearLocked(autoclock.ReasonFaceLost)
	}

	now := m.now()
	interval := m.cfg.ReRecognizeInterval
	if track.ID == m.recognizedTrack || !m.tracker.ShouldRecognize(track, interval, now) {
		if m.state != StateCommitting {
			m.state = StateTracking
		}
		m.mu.Unlock()
		return OutcomeTracking
	}

	track.LastRecognized = now
	m.state = StateRecognizing
	threshold := m.threshold
	m.mu.Unlock()

	return m.recognize(ctx, img, det, track, threshold)
}

func (m *Machine) recognize(ctx context.Context, img image.Image, det *vision.Detection, track *vision.Track, threshold float32) Outcome {
	embedCtx, cancel := context.WithTimeout(ctx, m.cfg.EmbedTimeout)
	defer cancel()

	vec, err := m.perception.Embed(embedCtx, img, det)
	if err != nil {
		outcome := classify(err, OutcomeRecognitionFailed)
		slog.Warn("embedding failed", "outcome", outcome, "error", err)
		observability.Recognitions.WithLabelValues("failed").Inc()

		m.mu.Lock()
		if m.tracker.Current() == track {
			// Let the next tick try again.
			track.LastRecognized = time.Time{}
			m.state = StateTracking
		}
		m.mu.Unlock()
		return outcome
	}

	res, matched := m.matcher.Match(vec, threshold)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || m.tracker.Current() != track {
		return OutcomeIdle
	}

	if !matched {
		observability.Recognitions.WithLabelValues("unknown").Inc()
		m.unknown = &unknownFace{embedding: vec, trackID: track.ID, at: m.now()}
		m.state = StateTracking
		slog.Info("unknown face", "track", track.ID)
		return OutcomeUnknown
	}

	observability.Recognitions.WithLabelValues("matched").Inc()
	m.unknown = nil
	m.recognizedTrack = track.ID
	m.lastMatch = &MatchInfo{
		IdentityID:  res.Identity.ID,
		ExternalID:  res.Identity.ExternalID,
		DisplayName: res.Identity.DisplayName,
		Confidence:  res.Similarity,
		At:          m.now(),
		trackID:     track.ID,
	}
	slog.Info("face recognized",
		"identity", res.Identity.ID,
		"name", res.Identity.DisplayName,
		"similarity", res.Similarity,
	)

	if m.clock.OnMatch(res.Identity, res.Similarity) {
		m.state = StateCommitting
	} else {
		m.state = StateTracking
	}
	return OutcomeMatched
}

// faceAbsent handles a tick that saw no face.
func (m *Machine) faceAbsent() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if _, ended := m.tracker.Update(nil); ended {
		m.clearLocked(autoclock.ReasonFaceLost)
	}
	m.state = StateScanning
}

// clearLocked forgets everything about the current face and cancels its
// pending commit.
func (m *Machine) clearLocked(reason string) {
	m.clock.Cancel(reason)
	m.lastMatch = nil
	m.unknown = nil
	m.recognizedTrack = 0
}

// CommitFinished is called by the auto-clock controller after a grace
// period elapsed. Register it with Controller.OnCommit.
func (m *Machine) CommitFinished(r autoclock.CommitResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.Event.ID != uuid.Nil {
		ev := r.Event
		m.lastEvent = &ev
	}
	if m.state == StateCommitting && m.lastMatch != nil && m.lastMatch.IdentityID == r.IdentityID {
		m.state = StateTracking
	}
}

// RejectLastMatch undoes the current recognition: the pending commit is
// cancelled, the face is not recognized again while it stays in view and,
// if deleteProfile is set, the identity is removed.
func (m *Machine) RejectLastMatch(ctx context.Context, deleteProfile bool) (MatchInfo, error) {
	m.mu.Lock()
	lm := m.lastMatch
	if lm == nil {
		m.mu.Unlock()
		return MatchInfo{}, ErrNoRecentMatch
	}
	m.lastMatch = nil
	m.recognizedTrack = lm.trackID
	if m.state == StateCommitting {
		m.state = StateTracking
	}
	m.mu.Unlock()

	if err := m.clock.Reject(ctx, lm.IdentityID, deleteProfile); err != nil {
		return *lm, fmt.Errorf("reject %s: %w", lm.IdentityID, err)
	}
	slog.Info("match rejected", "identity", lm.IdentityID, "deleted", deleteProfile)
	return *lm, nil
}

// EnrollUnknown stores the last unknown face as a new identity. The face is
// not recognized again while it stays in view.
func (m *Machine) EnrollUnknown(ctx context.Context, externalID, displayName string) (models.Identity, error) {
	m.mu.Lock()
	u := m.unknown
	m.mu.Unlock()
	if u == nil {
		return models.Identity{}, ErrNoUnknownFace
	}

	identity, err := m.enroller.Enroll(ctx, externalID, displayName, u.embedding)
	if err != nil {
		return models.Identity{}, err
	}

	m.mu.Lock()
	if m.unknown == u {
		m.unknown = nil
		m.recognizedTrack = u.trackID
	}
	m.mu.Unlock()

	slog.Info("unknown face enrolled", "identity", identity.ID, "external_id", identity.ExternalID)
	return identity, nil
}

func (m *Machine) Threshold() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// SetThreshold changes the similarity threshold for future recognitions.
func (m *Machine) SetThreshold(t float32) error {
	if math.IsNaN(float64(t)) || t < -1 || t > 1 {
		return fmt.Errorf("%w: threshold %v out of range [-1, 1]", ErrInvalidValue, t)
	}
	m.mu.Lock()
	m.threshold = t
	m.mu.Unlock()
	slog.Info("recognition threshold changed", "threshold", t)
	return nil
}

func (m *Machine) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Snapshot returns the current session state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked("")
}

func (m *Machine) snapshotLocked(outcome Outcome) Snapshot {
	s := Snapshot{
		State:     m.state,
		Running:   m.running,
		Outcome:   outcome,
		Threshold: m.threshold,
		At:        m.now(),
	}
	if tr := m.tracker.Current(); tr != nil {
		s.Samples = tr.Hits
	}
	if m.lastMatch != nil {
		lm := *m.lastMatch
		s.LastMatch = &lm
	}
	if m.unknown != nil {
		s.UnknownFace = true
		s.UnknownAt = m.unknown.at
	}
	if p, ok := m.clock.Pending(); ok {
		s.Pending = &p
	}
	if m.lastEvent != nil {
		ev := *m.lastEvent
		s.LastEvent = &ev
	}
	return s
}

// notify tells observers about the state if it differs from what they last
// saw. Changes made by operator actions since then are included.
func (m *Machine) notify(outcome Outcome) {
	m.mu.Lock()
	snap := m.snapshotLocked(outcome)
	v := snap.view()
	if v == m.lastView {
		m.mu.Unlock()
		return
	}
	m.lastView = v
	m.mu.Unlock()

	for _, o := range m.observers {
		o.StateChanged(snap)
	}
}

func classify(err error, fallback Outcome) Outcome {
	if errors.Is(err, vision.ErrPerceptionTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	return fallback
}
