package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	NATS      NATSConfig      `yaml:"nats"`
	Vision    VisionConfig    `yaml:"vision"`
	Source    SourceConfig    `yaml:"source"`
	Session   SessionConfig   `yaml:"session"`
	AutoClock AutoClockConfig `yaml:"autoclock"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

// StorageConfig selects the profile store backend: file, postgres or minio.
type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	Dir      string         `yaml:"dir"`
	Database DatabaseConfig `yaml:"database"`
	MinIO    MinIOConfig    `yaml:"minio"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// NATSConfig is optional; an empty URL disables publishing and remote control.
type NATSConfig struct {
	URL            string `yaml:"url"`
	ControlSubject string `yaml:"control_subject"`
}

type VisionConfig struct {
	ModelsDir            string  `yaml:"models_dir"`
	DetectionThreshold   float64 `yaml:"detection_threshold"`
	// RecognitionThreshold is a pointer so an explicit 0 is kept.
	RecognitionThreshold *float64 `yaml:"recognition_threshold"`
	EmbeddingDim         int      `yaml:"embedding_dim"`
}

// Threshold returns the recognition threshold, 0.42 when unset.
func (v VisionConfig) Threshold() float64 {
	if v.RecognitionThreshold == nil {
		return 0.42
	}
	return *v.RecognitionThreshold
}

// SourceConfig describes the camera feed read by ffmpeg.
type SourceConfig struct {
	URL        string `yaml:"url"`
	FPS        int    `yaml:"fps"`
	FrameWidth int    `yaml:"frame_width"`
}

type SessionConfig struct {
	TickInterval        time.Duration `yaml:"tick_interval"`
	CaptureTimeout      time.Duration `yaml:"capture_timeout"`
	EmbedTimeout        time.Duration `yaml:"embed_timeout"`
	MinSamples          int           `yaml:"min_samples"`
	// ReRecognizeInterval of 0 means an unknown face is tried only once.
	ReRecognizeInterval *time.Duration `yaml:"re_recognize_interval"`
	AutoStart           bool           `yaml:"auto_start"`
}

// ReRecognize returns the re-recognition interval, 3s when unset.
func (s SessionConfig) ReRecognize() time.Duration {
	if s.ReRecognizeInterval == nil {
		return 3 * time.Second
	}
	return *s.ReRecognizeInterval
}

type AutoClockConfig struct {
	Enabled     *bool         `yaml:"enabled"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// IsEnabled defaults to true when the key is absent.
func (a AutoClockConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// Variables from a .env file in the working directory are loaded first; a
// missing .env is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no default can repair.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "file", "postgres", "minio":
	default:
		return fmt.Errorf("unknown storage driver %q, want file, postgres or minio", c.Storage.Driver)
	}
	if t := c.Vision.Threshold(); math.IsNaN(t) || t < -1 || t > 1 {
		return fmt.Errorf("recognition_threshold %v out of range [-1, 1]", t)
	}
	if c.Session.ReRecognize() < 0 {
		return fmt.Errorf("re_recognize_interval must not be negative")
	}
	if c.Session.MinSamples < 1 {
		return fmt.Errorf("min_samples must be at least 1")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "file"
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "data"
	}
	if cfg.Storage.Database.Port == 0 {
		cfg.Storage.Database.Port = 5432
	}
	if cfg.Storage.Database.MaxConns == 0 {
		cfg.Storage.Database.MaxConns = 4
	}
	if cfg.Storage.MinIO.Bucket == "" {
		cfg.Storage.MinIO.Bucket = "fdclock"
	}
	if cfg.NATS.ControlSubject == "" {
		cfg.NATS.ControlSubject = "kiosk.control"
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.RecognitionThreshold == nil {
		t := cfg.Vision.Threshold()
		cfg.Vision.RecognitionThreshold = &t
	}
	if cfg.Source.FPS == 0 {
		cfg.Source.FPS = 5
	}
	if cfg.Source.FrameWidth == 0 {
		cfg.Source.FrameWidth = 640
	}
	if cfg.Session.TickInterval == 0 {
		cfg.Session.TickInterval = time.Second
	}
	if cfg.Session.CaptureTimeout == 0 {
		cfg.Session.CaptureTimeout = 2 * time.Second
	}
	if cfg.Session.EmbedTimeout == 0 {
		cfg.Session.EmbedTimeout = 2 * time.Second
	}
	if cfg.Session.MinSamples == 0 {
		cfg.Session.MinSamples = 3
	}
	if cfg.Session.ReRecognizeInterval == nil {
		d := cfg.Session.ReRecognize()
		cfg.Session.ReRecognizeInterval = &d
	}
	if cfg.AutoClock.GracePeriod == 0 {
		cfg.AutoClock.GracePeriod = 3 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FD_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FD_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("FD_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("FD_DB_HOST"); v != "" {
		cfg.Storage.Database.Host = v
	}
	if v := os.Getenv("FD_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Storage.Database.Port = port
		}
	}
	if v := os.Getenv("FD_DB_NAME"); v != "" {
		cfg.Storage.Database.Name = v
	}
	if v := os.Getenv("FD_DB_USER"); v != "" {
		cfg.Storage.Database.User = v
	}
	if v := os.Getenv("FD_DB_PASSWORD"); v != "" {
		cfg.Storage.Database.Password = v
	}
	if v := os.Getenv("FD_MINIO_ENDPOINT"); v != "" {
		cfg.Storage.MinIO.Endpoint = v
	}
	if v := os.Getenv("FD_MINIO_ACCESS_KEY"); v != "" {
		cfg.Storage.MinIO.AccessKey = v
	}
	if v := os.Getenv("FD_MINIO_SECRET_KEY"); v != "" {
		cfg.Storage.MinIO.SecretKey = v
	}
	if v := os.Getenv("FD_MINIO_BUCKET"); v != "" {
		cfg.Storage.MinIO.Bucket = v
	}
	if v := os.Getenv("FD_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FD_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FD_RECOGNITION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.RecognitionThreshold = &f
		}
	}
	if v := os.Getenv("FD_SOURCE_URL"); v != "" {
		cfg.Source.URL = v
	}
	if v := os.Getenv("FD_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.TickInterval = d
		}
	}
	if v := os.Getenv("FD_GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AutoClock.GracePeriod = d
		}
	}
	if v := os.Getenv("FD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
