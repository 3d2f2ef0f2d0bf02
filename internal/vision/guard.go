package vision

import (
	"context"
	"fmt"
	"image"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/your-org/fdclock/internal/observability"
)

// Guard gives one call at a time access to a resource that is not safe for
// concurrent use, such as an ONNX session.
type Guard struct {
	stage string
	sem   *semaphore.Weighted
}

func NewGuard(stage string) *Guard {
	return &Guard{stage: stage, sem: semaphore.NewWeighted(1)}
}

// Busy reports whether a call currently holds the guard.
func (g *Guard) Busy() bool {
	if !g.sem.TryAcquire(1) {
		return true
	}
	g.sem.Release(1)
	return false
}

type result[T any] struct {
	val T
	err error
}

// Do runs fn while holding g and waits for it until ctx is done.
//
// When the deadline passes first, Do returns ErrPerceptionTimeout at once but
// fn keeps the guard until it really returns, so the next caller can never
// overlap an abandoned call.
func Do[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := g.sem.Acquire(ctx, 1); err != nil {
		observability.PerceptionTimeouts.WithLabelValues(g.stage).Inc()
		return zero, fmt.Errorf("%w: %s: resource still busy", ErrPerceptionTimeout, g.stage)
	}

	done := make(chan result[T], 1)
	start := time.Now()
	go func() {
		defer g.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- result[T]{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		observability.PerceptionDuration.WithLabelValues(g.stage).Observe(time.Since(start).Seconds())
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return zero, fmt.Errorf("%w: %s: %w", ErrPerceptionFailure, g.stage, r.err)
		}
		return r.val, nil
	case <-ctx.Done():
		observability.PerceptionTimeouts.WithLabelValues(g.stage).Inc()
		return zero, fmt.Errorf("%w: %s", ErrPerceptionTimeout, g.stage)
	}
}

// GuardedSource serializes captures from a FrameSource.
type GuardedSource struct {
	src   FrameSource
	guard *Guard
}

func NewGuardedSource(src FrameSource) *GuardedSource {
	return &GuardedSource{src: src, guard: NewGuard("capture")}
}

func (s *GuardedSource) Capture(ctx context.Context) (image.Image, error) {
	return Do(ctx, s.guard, s.src.Capture)
}

// GuardedPerception puts the detector and the embedder behind separate
// guards, so an abandoned detection never blocks embedding and vice versa.
type GuardedPerception struct {
	inner Perception
	det   *Guard
	emb   *Guard
}

func NewGuardedPerception(p Perception) *GuardedPerception {
	return &GuardedPerception{
		inner: p,
		det:   NewGuard("detect"),
		emb:   NewGuard("embed"),
	}
}

func (p *GuardedPerception) Detect(ctx context.Context, img image.Image) (*Detection, error) {
	return Do(ctx, p.det, func(ctx context.Context) (*Detection, error) {
		return p.inner.Detect(ctx, img)
	})
}

func (p *GuardedPerception) Embed(ctx context.Context, img image.Image, det *Detection) ([]float32, error) {
	return Do(ctx, p.emb, func(ctx context.Context) ([]float32, error) {
		return p.inner.Embed(ctx, img, det)
	})
}
