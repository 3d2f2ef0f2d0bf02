package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/fdclock/internal/api"
	"github.com/your-org/fdclock/internal/api/handlers"
	"github.com/your-org/fdclock/internal/api/ws"
	"github.com/your-org/fdclock/internal/autoclock"
	"github.com/your-org/fdclock/internal/config"
	"github.com/your-org/fdclock/internal/ingest"
	"github.com/your-org/fdclock/internal/observability"
	"github.com/your-org/fdclock/internal/queue"
	"github.com/your-org/fdclock/internal/session"
	"github.com/your-org/fdclock/internal/storage"
	"github.com/your-org/fdclock/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting FD kiosk", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Profile store
	backend, err := storage.OpenBackend(ctx, cfg.Storage)
	if err != nil {
		slog.Error("open storage backend", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	dim := cfg.Vision.EmbeddingDim
	if dim == 0 {
		dim = vision.EmbeddingDim
	}
	store, err := storage.NewProfileStore(ctx, backend, dim)
	if err != nil {
		slog.Error("load profile store", "error", err)
		os.Exit(1)
	}

	// Auto-clock
	clock := autoclock.NewController(store, autoclock.Config{
		GracePeriod: cfg.AutoClock.GracePeriod,
		Enabled:     cfg.AutoClock.IsEnabled(),
	})

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)
	clock.AddSink(hub)

	// Face models
	if err := vision.InitRuntime(getONNXLibPath()); err != nil {
		slog.Error("onnx runtime init failed", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	perception, err := vision.NewONNXPerception(cfg.Vision)
	if err != nil {
		slog.Error("load face models", "error", err)
		os.Exit(1)
	}
	defer perception.Close()

	// Camera
	source := ingest.NewFFmpegSource(cfg.Source)
	if cfg.Source.URL != "" {
		go func() {
			if err := source.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("frame source stopped", "error", err)
			}
		}()
	} else {
		slog.Warn("no source url configured, session will see no faces")
	}

	svc := session.NewService(session.ServiceConfig{
		TickInterval: cfg.Session.TickInterval,
		Machine: session.MachineConfig{
			CaptureTimeout:      cfg.Session.CaptureTimeout,
			EmbedTimeout:        cfg.Session.EmbedTimeout,
			MinSamples:          cfg.Session.MinSamples,
			ReRecognizeInterval: cfg.Session.ReRecognize(),
			Threshold:           float32(cfg.Vision.Threshold()),
		},
	}, store, clock, source, perception)
	svc.Machine().AddObserver(hub)

	// NATS is optional
	var natsPing handlers.Pinger
	if cfg.NATS.URL != "" {
		nc, err := queue.Connect(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}

		producer, err := queue.NewProducer(nc)
		if err != nil {
			slog.Error("create nats producer", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		clock.AddSink(producer)
		natsPing = producer

		consumer := queue.NewConsumer(nc, svc)
		if err := consumer.Subscribe(cfg.NATS.ControlSubject); err != nil {
			slog.Warn("subscribe control subject", "error", err)
		}
		defer consumer.Close()
	}

	if cfg.Session.AutoStart {
		if err := svc.Start(); err != nil {
			slog.Error("start session", "error", err)
		}
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:  cfg.Server.APIKey,
		Service: svc,
		Hub:     hub,
		NATS:    natsPing,
		FrameFn: source.Latest,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("kiosk API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down kiosk...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Stops the tick loop and drops a pending commit.
	svc.Close()
	cancel()

	slog.Info("kiosk stopped")
}

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
