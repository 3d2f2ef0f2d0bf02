package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/fdclock/internal/session"
	"github.com/your-org/fdclock/internal/storage"
	"github.com/your-org/fdclock/internal/vision"
)

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateIdentity),
		errors.Is(err, session.ErrAlreadyRunning),
		errors.Is(err, session.ErrNotRunning),
		errors.Is(err, session.ErrNoRecentMatch),
		errors.Is(err, session.ErrNoUnknownFace):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInvalidIdentity),
		errors.Is(err, storage.ErrInvalidEmbedding),
		errors.Is(err, storage.ErrInvalidEvent),
		errors.Is(err, session.ErrInvalidValue),
		errors.Is(err, vision.ErrNoFace):
		return http.StatusBadRequest
	case errors.Is(err, vision.ErrPerceptionTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
