// Package ingest reads camera frames through an ffmpeg child process.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/your-org/fdclock/internal/config"
)

var (
	ErrNoFrame    = errors.New("no frame received yet")
	ErrStaleFrame = errors.New("latest frame is stale")
)

const (
	maxFrameBytes   = 10 * 1024 * 1024
	maxRestartDelay = 30 * time.Second
)

// FFmpegSource keeps the most recent JPEG produced by ffmpeg and decodes it
// on Capture. It implements vision.FrameSource.
type FFmpegSource struct {
	url   string
	fps   int
	width int
	// Frames older than maxAge are not handed out.
	maxAge time.Duration

	mu         sync.RWMutex
	latest     []byte
	receivedAt time.Time
	frames     uint64

	now func() time.Time
}

func NewFFmpegSource(cfg config.SourceConfig) *FFmpegSource {
	fps := cfg.FPS
	if fps <= 0 {
		fps = 5
	}
	return &FFmpegSource{
		url:    cfg.URL,
		fps:    fps,
		width:  cfg.FrameWidth,
		maxAge: 2 * time.Second,
		now:    time.Now,
	}
}

// Run keeps ffmpeg running until ctx is cancelled, restarting it with a
// growing delay whenever it exits.
func (s *FFmpegSource) Run(ctx context.Context) error {
	failures := 0
	for {
		before := s.frameCount()
		err := s.extract(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.frameCount() > before {
			failures = 0
		}
		failures++

		delay := time.Duration(1<<uint(min(failures, 5))) * time.Second
		if delay > maxRestartDelay {
			delay = maxRestartDelay
		}
		slog.Warn("ffmpeg exited, restarting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Capture decodes the latest frame.
func (s *FFmpegSource) Capture(ctx context.Context) (image.Image, error) {
	data, at, ok := s.Latest()
	if !ok {
		return nil, ErrNoFrame
	}
	if s.maxAge > 0 && s.now().Sub(at) > s.maxAge {
		return nil, fmt.Errorf("%w: received %s ago", ErrStaleFrame, s.now().Sub(at).Round(time.Millisecond))
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// Latest returns the raw JPEG of the most recent frame.
func (s *FFmpegSource) Latest() ([]byte, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, time.Time{}, false
	}
	return s.latest, s.receivedAt, true
}

func (s *FFmpegSource) setFrame(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = data
	s.receivedAt = s.now()
	s.frames++
}

func (s *FFmpegSource) frameCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

func (s *FFmpegSource) extract(ctx context.Context) error {
	url, err := resolveSourceURL(ctx, s.url)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(url, s.fps, s.width)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	slog.Info("ffmpeg started", "url", s.url, "fps", s.fps, "width", s.width)

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	fr := newFrameReader(stdout)
	for {
		frame, err := fr.Next()
		if err != nil {
			_ = cmd.Wait()
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("ffmpeg stream ended")
			}
			return fmt.Errorf("read frames: %w", err)
		}
		s.setFrame(frame)
	}
}

func ffmpegArgs(url string, fps, width int) []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	switch {
	case strings.HasPrefix(url, "rtsp://"), strings.HasPrefix(url, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
		)
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000",
		)
	case strings.HasPrefix(url, "/dev/video"):
		args = append(args, "-f", "v4l2")
	}

	vf := fmt.Sprintf("fps=%d", fps)
	if width > 0 {
		vf += fmt.Sprintf(",scale=%d:-1", width)
	}
	return append(args,
		"-i", url,
		"-vf", vf,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
}

// frameReader splits a stream of concatenated JPEG images on their
// SOI (FF D8) and EOI (FF D9) markers.
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReaderSize(r, 512*1024)}
}

// Next returns the next complete JPEG. Bytes before a start marker are
// skipped. io.EOF means the stream ended, possibly mid-frame.
func (f *frameReader) Next() ([]byte, error) {
	if err := f.skipToStart(); err != nil {
		return nil, err
	}

	buf := []byte{0xFF, 0xD8}
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
		if b == 0xFF {
			next, err := f.r.ReadByte()
			if err != nil {
				return nil, err
			}
			buf = append(buf, next)
			if next == 0xD9 {
				return buf, nil
			}
		}
		if len(buf) > maxFrameBytes {
			return nil, fmt.Errorf("jpeg frame larger than %d bytes", maxFrameBytes)
		}
	}
}

func (f *frameReader) skipToStart() error {
	prevFF := false
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return err
		}
		if prevFF && b == 0xD8 {
			return nil
		}
		prevFF = b == 0xFF
	}
}
