package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/fdclock/internal/config"
)

const (
	detectorModel = "det_10g.onnx"
	embedderModel = "w600k_r50.onnx"
)

// InitRuntime loads the ONNX Runtime shared library. Call once per process
// before NewONNXPerception; pair with ort.DestroyEnvironment.
func InitRuntime(libPath string) error {
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

// ONNXPerception implements Perception with RetinaFace and ArcFace.
// It does no locking of its own; wrap it in GuardedPerception.
type ONNXPerception struct {
	detector *Detector
	embedder *Embedder
}

func NewONNXPerception(cfg config.VisionConfig) (*ONNXPerception, error) {
	detPath := filepath.Join(cfg.ModelsDir, detectorModel)
	embPath := filepath.Join(cfg.ModelsDir, embedderModel)

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath, nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	slog.Info("face models ready", "embedding_dim", EmbeddingDim)
	return &ONNXPerception{detector: det, embedder: emb}, nil
}

// Detect returns the most confident face; other faces are ignored.
func (p *ONNXPerception) Detect(ctx context.Context, img image.Image) (*Detection, error) {
	dets, err := p.detector.Detect(img)
	if err != nil {
		return nil, err
	}
	return Best(dets), nil
}

func (p *ONNXPerception) Embed(ctx context.Context, img image.Image, det *Detection) ([]float32, error) {
	if det == nil {
		return nil, ErrNoFace
	}
	crop := cropFace(img, det.BBox)
	if crop == nil {
		return nil, fmt.Errorf("face box %v outside frame", det.BBox)
	}
	return p.embedder.Extract(crop)
}

func (p *ONNXPerception) Close() {
	p.detector.Close()
	p.embedder.Close()
}
