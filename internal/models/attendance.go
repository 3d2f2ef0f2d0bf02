package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventKindEnter EventKind = "enter"
	EventKindExit  EventKind = "exit"
)

// ParseEventKind validates a persisted kind value.
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case EventKindEnter, EventKindExit:
		return k, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", s)
	}
}

// AttendanceEvent is an immutable record written by the auto-clock controller.
// IdentityName is a snapshot taken at commit time and survives renames and deletions.
type AttendanceEvent struct {
	ID           uuid.UUID `json:"id"`
	IdentityID   uuid.UUID `json:"identity_id"`
	IdentityName string    `json:"identity_name"`
	Timestamp    time.Time `json:"timestamp"`
	Kind         EventKind `json:"kind"`
	Confidence   float32   `json:"confidence"`
}
