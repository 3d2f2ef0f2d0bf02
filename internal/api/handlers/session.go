package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/fdclock/internal/session"
	"github.com/your-org/fdclock/pkg/dto"
)

type SessionHandler struct {
	svc *session.Service
	// FrameFn returns the latest camera JPEG and when it was captured.
	FrameFn func() ([]byte, time.Time, bool)
}

func NewSessionHandler(svc *session.Service) *SessionHandler {
	return &SessionHandler{svc: svc}
}

func (h *SessionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, SnapshotResponse(h.svc.Snapshot()))
}

func (h *SessionHandler) Start(c *gin.Context) {
	if err := h.svc.Start(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SnapshotResponse(h.svc.Snapshot()))
}

func (h *SessionHandler) Stop(c *gin.Context) {
	if err := h.svc.Stop(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SnapshotResponse(h.svc.Snapshot()))
}

func (h *SessionHandler) GetThreshold(c *gin.Context) {
	c.JSON(http.StatusOK, dto.ThresholdResponse{Threshold: h.svc.Threshold()})
}

func (h *SessionHandler) SetThreshold(c *gin.Context) {
	var req dto.ThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.SetThreshold(*req.Threshold); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ThresholdResponse{Threshold: h.svc.Threshold()})
}

// Reject discards the last match. An empty body rejects without deleting.
func (h *SessionHandler) Reject(c *gin.Context) {
	var req dto.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info, err := h.svc.RejectLastMatch(c.Request.Context(), req.DeleteProfile)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rejected": MatchResponse(info), "deleted": req.DeleteProfile})
}

// EnrollUnknown enrolls the face the session last failed to recognize.
func (h *SessionHandler) EnrollUnknown(c *gin.Context) {
	var req dto.EnrollUnknownRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	identity, err := h.svc.EnrollUnknown(c.Request.Context(), req.ExternalID, req.DisplayName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, IdentityResponse(session.IdentityView{Identity: identity}))
}

// Frame serves the latest camera frame as JPEG.
func (h *SessionHandler) Frame(c *gin.Context) {
	if h.FrameFn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame source"})
		return
	}
	data, at, ok := h.FrameFn()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame yet"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Last-Modified", at.UTC().Format(http.TimeFormat))
	c.Data(http.StatusOK, "image/jpeg", data)
}
