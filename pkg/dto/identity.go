package dto

import "github.com/google/uuid"

type EnrollRequest struct {
	ExternalID  string    `json:"external_id" binding:"required"`
	DisplayName string    `json:"display_name" binding:"required"`
	Embedding   []float32 `json:"embedding" binding:"required"`
}

// EnrollUnknownRequest enrolls the last unknown face seen by the session.
type EnrollUnknownRequest struct {
	ExternalID  string `json:"external_id" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
}

type RenameRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

type IdentityResponse struct {
	ID            uuid.UUID `json:"id"`
	ExternalID    string    `json:"external_id"`
	DisplayName   string    `json:"display_name"`
	EmbeddingDim  int       `json:"embedding_dim"`
	EnrolledAt    string    `json:"enrolled_at"`
	LastInAt      string    `json:"last_in_at,omitempty"`
	LastOutAt     string    `json:"last_out_at,omitempty"`
	IsCurrentlyIn bool      `json:"is_currently_in"`
}

type IdentityListResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Total      int                `json:"total"`
}

type SearchRequest struct {
	Embedding []float32 `json:"embedding" binding:"required"`
	Limit     int       `json:"limit"`
}

type SearchResult struct {
	IdentityID  uuid.UUID `json:"identity_id"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name"`
	Score       float32   `json:"score"`
	Qualifies   bool      `json:"qualifies"`
}
