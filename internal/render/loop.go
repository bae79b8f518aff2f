// Package render runs the per-session crop-and-redraw loop: on every tick it
// reads the latest source frame, maps the capture region into video space,
// and draws that sub-rectangle scaled to fill the target surface.
package render

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/mirrorcast/platform/internal/geom"
)

// Source supplies decoded frames. A source is not ready until it has
// produced at least one frame with non-zero dimensions.
type Source interface {
	Frame() (*image.RGBA, bool)
	Size() geom.Size
}

// Transform returns the current capture region and the source window bounds,
// ok=false while bounds are unknown. Re-read on every tick: the region
// selector stays live while a session renders, so both values change
// out-of-band.
type Transform func() (region geom.Rect, bounds geom.Rect, ok bool)

// Loop redraws one session's surface on a fixed-period timer. Each session
// owns its own Loop; loops share no mutable state.
type Loop struct {
	source    Source
	transform Transform
	onFrame   func(*image.RGBA)
	interval  time.Duration
	target    *image.RGBA

	paused   atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLoop creates a loop drawing into a surface of the given size.
func NewLoop(source Source, transform Transform, width, height int, interval time.Duration, onFrame func(*image.RGBA)) *Loop {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &Loop{
		source:    source,
		transform: transform,
		onFrame:   onFrame,
		interval:  interval,
		target:    image.NewRGBA(image.Rect(0, 0, width, height)),
		stopCh:    make(chan struct{}),
	}
}

// Run drives the loop until the context ends or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	if l.paused.Load() {
		return
	}

	frame, ok := l.source.Frame()
	if !ok {
		return
	}
	video := l.source.Size()
	if video.Empty() {
		return
	}

	region, bounds, known := l.transform()
	if !known {
		// Unknown bounds degrade to identity scaling: assume the captured
		// extent equals the requested region.
		bounds = region
	}

	crop := geom.CropRectInVideoSpace(region, bounds, video)
	srcRect := crop.ImageRect().Add(frame.Bounds().Min)
	xdraw.ApproxBiLinear.Scale(l.target, l.target.Bounds(), frame, srcRect, xdraw.Src, nil)

	if l.onFrame != nil {
		l.onFrame(l.target)
	}
}

// SetPaused skips drawing without tearing down the source stream.
func (l *Loop) SetPaused(paused bool) { l.paused.Store(paused) }

// Paused reports whether drawing is suspended.
func (l *Loop) Paused() bool { return l.paused.Load() }

// Stop ends the loop. Idempotent.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}
