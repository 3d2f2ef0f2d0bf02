package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/fdclock/internal/api/handlers"
	"github.com/your-org/fdclock/internal/api/ws"
	"github.com/your-org/fdclock/internal/auth"
	"github.com/your-org/fdclock/internal/session"
)

type RouterConfig struct {
	APIKey  string
	Service *session.Service
	Hub     *ws.Hub
	// NATS is checked by /readyz when set.
	NATS handlers.Pinger
	// FrameFn returns the latest camera JPEG (from the frame source).
	FrameFn func() ([]byte, time.Time, bool)
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Service, cfg.NATS)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Session
	sessionH := handlers.NewSessionHandler(cfg.Service)
	sessionH.FrameFn = cfg.FrameFn
	v1.GET("/session", sessionH.Get)
	v1.POST("/session/start", sessionH.Start)
	v1.POST("/session/stop", sessionH.Stop)
	v1.GET("/session/threshold", sessionH.GetThreshold)
	v1.PUT("/session/threshold", sessionH.SetThreshold)
	v1.POST("/session/reject", sessionH.Reject)
	v1.POST("/session/enroll", sessionH.EnrollUnknown)
	v1.GET("/session/frame", sessionH.Frame)

	// Identities
	identityH := handlers.NewIdentityHandler(cfg.Service)
	v1.POST("/identities", identityH.Create)
	v1.POST("/identities/photo", identityH.CreateFromPhoto)
	v1.GET("/identities", identityH.List)
	v1.GET("/identities/:id", identityH.Get)
	v1.PATCH("/identities/:id", identityH.Rename)
	v1.DELETE("/identities/:id", identityH.Delete)
	v1.GET("/identities/:id/events", identityH.Events)
	v1.POST("/search", identityH.Search)

	// Events
	eventH := handlers.NewEventHandler(cfg.Service)
	v1.GET("/events", eventH.List)

	return r
}
