// Package session drives the kiosk: one tick captures a frame, looks for a
// face, and once the face has been steady long enough, recognizes it and
// hands a match to the auto-clock controller.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/fdclock/internal/autoclock"
	"github.com/your-org/fdclock/internal/models"
)

var (
	ErrNoRecentMatch  = errors.New("no recent match to reject")
	ErrNoUnknownFace  = errors.New("no unknown face to enroll")
	ErrNotRunning     = errors.New("session not running")
	ErrAlreadyRunning = errors.New("session already running")
	ErrInvalidValue   = errors.New("invalid value")
)

type State string

const (
	StateIdle        State = "idle"
	StateScanning    State = "scanning"
	StateTracking    State = "tracking"
	StateRecognizing State = "recognizing"
	StateCommitting  State = "committing"
)

// Outcome says what a single tick did.
type Outcome string

const (
	OutcomeIdle              Outcome = "idle"
	OutcomeDropped           Outcome = "dropped"
	OutcomeTimeout           Outcome = "timeout"
	OutcomeCaptureFailed     Outcome = "capture_failed"
	OutcomeDetectFailed      Outcome = "detect_failed"
	OutcomeNoFace            Outcome = "no_face"
	OutcomeTracking          Outcome = "tracking"
	OutcomeMatched           Outcome = "matched"
	OutcomeUnknown           Outcome = "unknown"
	OutcomeRecognitionFailed Outcome = "recognition_failed"
	OutcomeStarted           Outcome = "started"
	OutcomeStopped           Outcome = "stopped"
)

// MatchInfo is the most recent recognition of the face in front of the camera.
type MatchInfo struct {
	IdentityID  uuid.UUID
	ExternalID  string
	DisplayName string
	Confidence  float32
	At          time.Time
	trackID     int
}

// Snapshot is a copy of the session state handed to observers and the API.
type Snapshot struct {
	State       State
	Running     bool
	Outcome     Outcome
	Samples     int
	Threshold   float32
	LastMatch   *MatchInfo
	UnknownFace bool
	UnknownAt   time.Time
	Pending     *autoclock.Pending
	LastEvent   *models.AttendanceEvent
	At          time.Time
}

// Observer is told about visible session changes, at most once per tick.
type Observer interface {
	StateChanged(snap Snapshot)
}

// view holds the fields whose change is worth a notification.
type view struct {
	state       State
	running     bool
	matchID     uuid.UUID
	unknown     bool
	pendingID   uuid.UUID
	lastEventID uuid.UUID
}

func (s Snapshot) view() view {
	v := view{state: s.State, running: s.Running, unknown: s.UnknownFace}
	if s.LastMatch != nil {
		v.matchID = s.LastMatch.IdentityID
	}
	if s.Pending != nil {
		v.pendingID = s.Pending.IdentityID
	}
	if s.LastEvent != nil {
		v.lastEventID = s.LastEvent.ID
	}
	return v
}
