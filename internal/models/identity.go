package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity is an enrolled person.
type Identity struct {
	ID          uuid.UUID  `json:"id"`
	ExternalID  string     `json:"external_id"`
	DisplayName string     `json:"display_name"`
	Embedding   []float32  `json:"embedding"`
	EnrolledAt  time.Time  `json:"enrolled_at"`
	LastInAt    *time.Time `json:"last_in_at,omitempty"`
	LastOutAt   *time.Time `json:"last_out_at,omitempty"`
}

// IsCurrentlyIn is derived from the two clock timestamps and never stored.
func (i *Identity) IsCurrentlyIn() bool {
	if i.LastInAt == nil {
		return false
	}
	return i.LastOutAt == nil || i.LastOutAt.Before(*i.LastInAt)
}

// Clone returns a deep copy so callers can't mutate store-owned slices and pointers.
func (i Identity) Clone() Identity {
	c := i
	if i.Embedding != nil {
		c.Embedding = make([]float32, len(i.Embedding))
		copy(c.Embedding, i.Embedding)
	}
	if i.LastInAt != nil {
		t := *i.LastInAt
		c.LastInAt = &t
	}
	if i.LastOutAt != nil {
		t := *i.LastOutAt
		c.LastOutAt = &t
	}
	return c
}
