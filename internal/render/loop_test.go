package render

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mirrorcast/platform/internal/geom"
)

type fakeSource struct {
	mu    sync.Mutex
	frame *image.RGBA
}

func (s *fakeSource) Frame() (*image.RGBA, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, false
	}
	return s.frame, true
}

func (s *fakeSource) Size() geom.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return geom.Size{}
	}
	b := s.frame.Bounds()
	return geom.Size{Width: float64(b.Dx()), Height: float64(b.Dy())}
}

// splitFrame is red on the left half and blue on the right half.
func splitFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.Set(x, y, color.RGBA{R: 255, A: 255})
			} else {
				img.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}
	return img
}

func dominantChannel(img *image.RGBA) string {
	b := img.Bounds()
	var red, blue int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			if c.R > c.B {
				red++
			} else if c.B > c.R {
				blue++
			}
		}
	}
	if red > blue {
		return "red"
	}
	if blue > red {
		return "blue"
	}
	return "even"
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestLoopCropsRegion(t *testing.T) {
	src := &fakeSource{frame: splitFrame(200, 100)}
	bounds := geom.Rect{Width: 200, Height: 100}
	region := geom.Rect{Width: 100, Height: 100} // left half

	var mu sync.Mutex
	var last *image.RGBA
	var frames int64

	loop := NewLoop(src, func() (geom.Rect, geom.Rect, bool) {
		return region, bounds, true
	}, 50, 50, 2*time.Millisecond, func(img *image.RGBA) {
		mu.Lock()
		defer mu.Unlock()
		copied := image.NewRGBA(img.Bounds())
		copy(copied.Pix, img.Pix)
		last = copied
		atomic.AddInt64(&frames, 1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	defer loop.Stop()

	waitFor(t, func() bool { return atomic.LoadInt64(&frames) > 0 })

	mu.Lock()
	got := dominantChannel(last)
	mu.Unlock()
	if got != "red" {
		t.Fatalf("left-half crop rendered %s, want red", got)
	}
}

func TestLoopRecomputesTransformEachTick(t *testing.T) {
	src := &fakeSource{frame: splitFrame(200, 100)}
	bounds := geom.Rect{Width: 200, Height: 100}

	var regionMu sync.Mutex
	region := geom.Rect{Width: 100, Height: 100}

	var mu sync.Mutex
	var last *image.RGBA
	var frames int64

	loop := NewLoop(src, func() (geom.Rect, geom.Rect, bool) {
		regionMu.Lock()
		defer regionMu.Unlock()
		return region, bounds, true
	}, 50, 50, 2*time.Millisecond, func(img *image.RGBA) {
		mu.Lock()
		defer mu.Unlock()
		copied := image.NewRGBA(img.Bounds())
		copy(copied.Pix, img.Pix)
		last = copied
		atomic.AddInt64(&frames, 1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	defer loop.Stop()

	waitFor(t, func() bool { return atomic.LoadInt64(&frames) > 0 })

	// Move the region to the right half without restarting the loop.
	regionMu.Lock()
	region = geom.Rect{X: 100, Width: 100, Height: 100}
	regionMu.Unlock()

	mark := atomic.LoadInt64(&frames)
	waitFor(t, func() bool { return atomic.LoadInt64(&frames) > mark+1 })

	mu.Lock()
	got := dominantChannel(last)
	mu.Unlock()
	if got != "blue" {
		t.Fatalf("right-half crop rendered %s, want blue", got)
	}
}

func TestLoopPauseSkipsDrawing(t *testing.T) {
	src := &fakeSource{frame: splitFrame(40, 40)}
	bounds := geom.Rect{Width: 40, Height: 40}

	var frames int64
	loop := NewLoop(src, func() (geom.Rect, geom.Rect, bool) {
		return bounds, bounds, true
	}, 20, 20, 2*time.Millisecond, func(*image.RGBA) {
		atomic.AddInt64(&frames, 1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	defer loop.Stop()

	waitFor(t, func() bool { return atomic.LoadInt64(&frames) > 0 })

	loop.SetPaused(true)
	if !loop.Paused() {
		t.Fatal("expected paused")
	}
	time.Sleep(20 * time.Millisecond)
	mark := atomic.LoadInt64(&frames)
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt64(&frames); got != mark {
		t.Fatalf("frames advanced while paused: %d -> %d", mark, got)
	}

	loop.SetPaused(false)
	waitFor(t, func() bool { return atomic.LoadInt64(&frames) > mark })
}

func TestLoopIgnoresUnreadySource(t *testing.T) {
	src := &fakeSource{}
	var frames int64
	loop := NewLoop(src, func() (geom.Rect, geom.Rect, bool) {
		return geom.Rect{Width: 10, Height: 10}, geom.Rect{Width: 10, Height: 10}, true
	}, 10, 10, 2*time.Millisecond, func(*image.RGBA) {
		atomic.AddInt64(&frames, 1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	defer loop.Stop()

	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt64(&frames); got != 0 {
		t.Fatalf("drew %d frames from an unready source", got)
	}
}

func TestLoopStopIdempotent(t *testing.T) {
	src := &fakeSource{frame: splitFrame(10, 10)}
	loop := NewLoop(src, func() (geom.Rect, geom.Rect, bool) {
		return geom.Rect{Width: 10, Height: 10}, geom.Rect{Width: 10, Height: 10}, true
	}, 10, 10, 2*time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	loop.Stop()
	loop.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
