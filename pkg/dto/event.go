package dto

import "github.com/google/uuid"

type AttendanceEventResponse struct {
	ID           uuid.UUID `json:"id"`
	IdentityID   uuid.UUID `json:"identity_id"`
	IdentityName string    `json:"identity_name"`
	Timestamp    string    `json:"timestamp"`
	Kind         string    `json:"kind"`
	Confidence   float32   `json:"confidence"`
}

type EventListResponse struct {
	Events []AttendanceEventResponse `json:"events"`
	Total  int                       `json:"total"`
}

// EventQuery bounds are RFC 3339 and inclusive; either may be empty.
type EventQuery struct {
	From string `form:"from"`
	To   string `form:"to"`
}

// WSEvent is a WebSocket message for real-time delivery.
type WSEvent struct {
	Type    string                   `json:"type"` // state_changed, attendance
	Session *SessionSnapshot         `json:"session,omitempty"`
	Event   *AttendanceEventResponse `json:"event,omitempty"`
}
