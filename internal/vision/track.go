package vision

import "time"

// minTrackIoU is the overlap a detection needs with the previous box to
// count as the same face.
const minTrackIoU = 0.3

// Track is the face currently in front of the camera.
type Track struct {
	ID             int
	BBox           [4]float32
	Confidence     float32
	Hits           int       // consecutive frames with this face
	LastRecognized time.Time // zero until the first recognition attempt
}

// FaceTracker follows a single face across consecutive frames. A frame
// without a face, or with a face that doesn't overlap the previous one,
// ends the track. Not safe for concurrent use.
type FaceTracker struct {
	minHits int
	track   *Track
	nextID  int
}

func NewFaceTracker(minHits int) *FaceTracker {
	if minHits < 1 {
		minHits = 1
	}
	return &FaceTracker{minHits: minHits}
}

// Update feeds one frame's detection. It returns the current track (nil when
// det is nil) and whether the previous track ended with this frame.
func (t *FaceTracker) Update(det *Detection) (cur *Track, ended bool) {
	prev := t.track

	if det == nil {
		t.track = nil
		return nil, prev != nil
	}

	if prev != nil && iou(det.BBox, prev.BBox) >= minTrackIoU {
		prev.BBox = det.BBox
		prev.Confidence = det.Confidence
		prev.Hits++
		return prev, false
	}

	t.nextID++
	t.track = &Track{
		ID:         t.nextID,
		BBox:       det.BBox,
		Confidence: det.Confidence,
		Hits:       1,
	}
	return t.track, prev != nil
}

// Current returns the active track, if any.
func (t *FaceTracker) Current() *Track {
	return t.track
}

// Reset drops the active track.
func (t *FaceTracker) Reset() {
	t.track = nil
}

// Confirmed reports whether tr has been seen on enough consecutive frames.
func (t *FaceTracker) Confirmed(tr *Track) bool {
	return tr != nil && tr.Hits >= t.minHits
}

// ShouldRecognize is true for a confirmed track never recognized, or one
// last recognized at least interval ago. A zero interval means only once.
func (t *FaceTracker) ShouldRecognize(tr *Track, interval time.Duration, now time.Time) bool {
	if !t.Confirmed(tr) {
		return false
	}
	if tr.LastRecognized.IsZero() {
		return true
	}
	return interval > 0 && now.Sub(tr.LastRecognized) >= interval
}
