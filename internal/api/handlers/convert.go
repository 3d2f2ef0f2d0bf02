package handlers

import (
	"time"

	"github.com/your-org/fdclock/internal/models"
	"github.com/your-org/fdclock/internal/session"
	"github.com/your-org/fdclock/pkg/dto"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func IdentityResponse(v session.IdentityView) dto.IdentityResponse {
	return dto.IdentityResponse{
		ID:            v.ID,
		ExternalID:    v.ExternalID,
		DisplayName:   v.DisplayName,
		EmbeddingDim:  len(v.Embedding),
		EnrolledAt:    formatTime(v.EnrolledAt),
		LastInAt:      formatTimePtr(v.LastInAt),
		LastOutAt:     formatTimePtr(v.LastOutAt),
		IsCurrentlyIn: v.CurrentlyIn,
	}
}

func EventResponse(ev models.AttendanceEvent) dto.AttendanceEventResponse {
	return dto.AttendanceEventResponse{
		ID:           ev.ID,
		IdentityID:   ev.IdentityID,
		IdentityName: ev.IdentityName,
		Timestamp:    formatTime(ev.Timestamp),
		Kind:         string(ev.Kind),
		Confidence:   ev.Confidence,
	}
}

func EventListResponse(evs []models.AttendanceEvent) dto.EventListResponse {
	resp := make([]dto.AttendanceEventResponse, 0, len(evs))
	for _, ev := range evs {
		resp = append(resp, EventResponse(ev))
	}
	return dto.EventListResponse{Events: resp, Total: len(resp)}
}

func MatchResponse(m session.MatchInfo) dto.MatchResponse {
	return dto.MatchResponse{
		IdentityID:  m.IdentityID,
		ExternalID:  m.ExternalID,
		DisplayName: m.DisplayName,
		Confidence:  m.Confidence,
		At:          formatTime(m.At),
	}
}

func SnapshotResponse(s session.Snapshot) dto.SessionSnapshot {
	resp := dto.SessionSnapshot{
		State:       string(s.State),
		Running:     s.Running,
		Outcome:     string(s.Outcome),
		Samples:     s.Samples,
		Threshold:   s.Threshold,
		UnknownFace: s.UnknownFace,
		At:          formatTime(s.At),
	}
	if s.UnknownFace {
		resp.UnknownAt = formatTime(s.UnknownAt)
	}
	if s.LastMatch != nil {
		m := MatchResponse(*s.LastMatch)
		resp.LastMatch = &m
	}
	if s.Pending != nil {
		resp.Pending = &dto.PendingResponse{
			IdentityID:   s.Pending.IdentityID,
			IdentityName: s.Pending.IdentityName,
			Confidence:   s.Pending.Confidence,
			StartedAt:    formatTime(s.Pending.StartedAt),
			DueAt:        formatTime(s.Pending.DueAt),
		}
	}
	if s.LastEvent != nil {
		ev := EventResponse(*s.LastEvent)
		resp.LastEvent = &ev
	}
	return resp
}
