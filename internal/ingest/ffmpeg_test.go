package ingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/fdclock/internal/config"
)

func encodeJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestFrameReader_SplitsConcatenatedFrames(t *testing.T) {
	a := encodeJPEG(t, 8, 8, color.White)
	b := encodeJPEG(t, 16, 4, color.Black)

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0xFF, 0x12})
	stream.Write(a)
	stream.Write([]byte("noise"))
	stream.Write(b)

	fr := newFrameReader(&stream)

	got, err := fr.Next()
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = fr.Next()
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = fr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameReader_TruncatedFrame(t *testing.T) {
	a := encodeJPEG(t, 8, 8, color.White)
	fr := newFrameReader(bytes.NewReader(a[:len(a)/2]))

	_, err := fr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCapture(t *testing.T) {
	s := NewFFmpegSource(config.SourceConfig{URL: "rtsp://cam", FPS: 5})
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)

	s.setFrame(encodeJPEG(t, 32, 24, color.Gray{Y: 128}))
	img, err := s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 24, img.Bounds().Dy())

	now = now.Add(5 * time.Second)
	_, err = s.Capture(context.Background())
	assert.ErrorIs(t, err, ErrStaleFrame)
}

func TestCapture_CorruptFrame(t *testing.T) {
	s := NewFFmpegSource(config.SourceConfig{URL: "rtsp://cam"})
	s.setFrame([]byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9})

	_, err := s.Capture(context.Background())
	assert.Error(t, err)
}

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs("rtsp://cam/1", 5, 640)
	assert.Contains(t, args, "-rtsp_transport")
	assert.Contains(t, args, "fps=5,scale=640:-1")

	args = ffmpegArgs("/dev/video0", 10, 0)
	assert.Contains(t, args, "v4l2")
	assert.Contains(t, args, "fps=10")
}

func TestIsYouTubeURL(t *testing.T) {
	assert.True(t, isYouTubeURL("https://www.youtube.com/watch?v=abc"))
	assert.True(t, isYouTubeURL("https://youtu.be/abc"))
	assert.False(t, isYouTubeURL("rtsp://10.0.0.5/stream"))
	assert.False(t, isYouTubeURL("/dev/video0"))
}
