package stream

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/kbinani/screenshot"

	apperrors "github.com/mirrorcast/platform/internal/errors"
	"github.com/mirrorcast/platform/internal/geom"
	"github.com/mirrorcast/platform/internal/syncx"
)

// Grabber captures one frame of the given absolute-screen rectangle.
// Swappable in tests; production uses CaptureRect.
type Grabber func(rect image.Rectangle) (*image.RGBA, error)

// CaptureRect grabs a screen rectangle in absolute desktop coordinates,
// spanning displays when the rectangle does.
func CaptureRect(rect image.Rectangle) (*image.RGBA, error) {
	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodePermissionDenied, "screen capture failed")
	}
	return img, nil
}

// PrimaryDisplayBounds returns the bounds of the main display, used when a
// capture target names the whole screen.
func PrimaryDisplayBounds() image.Rectangle {
	if screenshot.NumActiveDisplays() == 0 {
		return image.Rectangle{}
	}
	return screenshot.GetDisplayBounds(0)
}

// ScreenStream continuously grabs a fixed absolute-screen rectangle on its
// own timer and retains only the latest frame. One grab goroutine per
// stream; streams never share state.
type ScreenStream struct {
	latest *syncx.RWGuard[*image.RGBA]
	track  *videoTrack
	cancel context.CancelFunc
}

// NewScreen starts a stream grabbing the given extent at the given period.
func NewScreen(extent geom.Rect, interval time.Duration, grab Grabber) *ScreenStream {
	if grab == nil {
		grab = CaptureRect
	}
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &ScreenStream{
		latest: syncx.NewGuard[*image.RGBA](nil),
		cancel: cancel,
	}
	s.track = &videoTrack{id: "video-0", stop: cancel}

	go s.grabLoop(ctx, extent.ImageRect(), interval, grab)
	return s
}

func (s *ScreenStream) grabLoop(ctx context.Context, rect image.Rectangle, interval time.Duration, grab Grabber) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			img, err := grab(rect)
			if err != nil {
				slog.Debug("frame grab failed", "error", err)
				continue
			}
			if img == nil || img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
				continue
			}
			s.latest.Set(img)
		}
	}
}

// Frame returns the latest grabbed frame, false until the first grab lands.
func (s *ScreenStream) Frame() (*image.RGBA, bool) {
	img := s.latest.Get()
	if img == nil {
		return nil, false
	}
	return img, true
}

// Size returns the frame dimensions, zero until the stream is ready.
func (s *ScreenStream) Size() geom.Size {
	img := s.latest.Get()
	if img == nil {
		return geom.Size{}
	}
	b := img.Bounds()
	return geom.Size{Width: float64(b.Dx()), Height: float64(b.Dy())}
}

// Tracks returns the stream's single video track.
func (s *ScreenStream) Tracks() []Track { return []Track{s.track} }

// Close stops the grab loop.
func (s *ScreenStream) Close() { s.track.Stop() }
