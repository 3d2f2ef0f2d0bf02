// Package vision wraps the camera and the face models behind small
// interfaces the session state machine drives.
package vision

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrPerceptionTimeout means a call did not finish before its deadline.
	ErrPerceptionTimeout = errors.New("perception timeout")
	// ErrPerceptionFailure means a call returned an error or panicked.
	ErrPerceptionFailure = errors.New("perception failure")
	// ErrNoFace is returned when an image expected to hold a face has none.
	ErrNoFace = errors.New("no face detected")
)

// FrameSource yields the most recent camera frame.
type FrameSource interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Perception finds a face in a frame and turns it into an embedding.
// Detect returns nil when there is no face.
type Perception interface {
	Detect(ctx context.Context, img image.Image) (*Detection, error)
	Embed(ctx context.Context, img image.Image, det *Detection) ([]float32, error)
}
