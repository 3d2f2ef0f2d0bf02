package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/fdclock/internal/session"
	"github.com/your-org/fdclock/pkg/dto"
)

type EventHandler struct {
	svc *session.Service
}

func NewEventHandler(svc *session.Service) *EventHandler {
	return &EventHandler{svc: svc}
}

// List returns events with from <= timestamp <= to, newest first. Missing
// bounds are open.
func (h *EventHandler) List(c *gin.Context) {
	var q dto.EventQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var from, to time.Time
	if q.From != "" {
		t, err := time.Parse(time.RFC3339, q.From)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from, want RFC 3339"})
			return
		}
		from = t
	}
	if q.To != "" {
		t, err := time.Parse(time.RFC3339, q.To)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to, want RFC 3339"})
			return
		}
		to = t
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to is before from"})
		return
	}

	c.JSON(http.StatusOK, EventListResponse(h.svc.QueryEvents(from, to)))
}
