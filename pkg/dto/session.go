package dto

import "github.com/google/uuid"

type MatchResponse struct {
	IdentityID  uuid.UUID `json:"identity_id"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name"`
	Confidence  float32   `json:"confidence"`
	At          string    `json:"at"`
}

type PendingResponse struct {
	IdentityID   uuid.UUID `json:"identity_id"`
	IdentityName string    `json:"identity_name"`
	Confidence   float32   `json:"confidence"`
	StartedAt    string    `json:"started_at"`
	DueAt        string    `json:"due_at"`
}

type SessionSnapshot struct {
	State       string                   `json:"state"`
	Running     bool                     `json:"running"`
	Outcome     string                   `json:"outcome"`
	Samples     int                      `json:"samples"`
	Threshold   float32                  `json:"threshold"`
	LastMatch   *MatchResponse           `json:"last_match,omitempty"`
	UnknownFace bool                     `json:"unknown_face"`
	UnknownAt   string                   `json:"unknown_at,omitempty"`
	Pending     *PendingResponse         `json:"pending,omitempty"`
	LastEvent   *AttendanceEventResponse `json:"last_event,omitempty"`
	At          string                   `json:"at"`
}

type ThresholdRequest struct {
	Threshold *float32 `json:"threshold" binding:"required"`
}

type ThresholdResponse struct {
	Threshold float32 `json:"threshold"`
}

type RejectRequest struct {
	DeleteProfile bool `json:"delete_profile"`
}

// ControlCommand is the payload accepted on the NATS control subject.
type ControlCommand struct {
	Action    string   `json:"action"` // start, stop, set_threshold
	Threshold *float32 `json:"threshold,omitempty"`
}

type ControlReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
