// Package monitor watches a snapshot source for visual change. Candidate
// images arrive from two paths, a poll timer and explicit pastes, and both
// funnel through one goroutine so the compare-and-update against the last
// accepted signature is a single step. Duplicates by perceptual hash are
// dropped; accepted images go out as notifications.
package monitor

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirrorcast/platform/internal/phash"
	"github.com/mirrorcast/platform/internal/trace"
)

// Capture produces the current candidate image, nil when nothing is
// available right now.
type Capture func(ctx context.Context) (*image.RGBA, error)

// Notification is one accepted content change.
type Notification struct {
	Image     *image.RGBA
	Signature phash.Signature
	Origin    string // "poll" or "paste"
	At        time.Time
}

// Poll and paste origins.
const (
	OriginPoll  = "poll"
	OriginPaste = "paste"
)

// Monitor deduplicates candidate images against the last accepted one.
type Monitor struct {
	capture   Capture
	interval  time.Duration
	threshold float64

	pasteCh  chan *image.RGBA
	notifyCh chan Notification

	// last is touched only by the Run goroutine.
	last phash.Signature

	degradedLogged atomic.Bool
	stopOnce       sync.Once
	stopCh         chan struct{}
}

// New creates a monitor polling capture every interval. Images whose
// similarity to the last accepted image is at or above threshold are dropped.
func New(capture Capture, interval time.Duration, threshold float64) *Monitor {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if threshold <= 0 || threshold > 1 {
		threshold = phash.DefaultThreshold
	}
	return &Monitor{
		capture:   capture,
		interval:  interval,
		threshold: threshold,
		pasteCh:   make(chan *image.RGBA, 4),
		notifyCh:  make(chan Notification, 16),
		stopCh:    make(chan struct{}),
	}
}

// Notifications returns the accepted-change channel.
func (m *Monitor) Notifications() <-chan Notification {
	return m.notifyCh
}

// Paste submits an explicitly pasted image. It joins the same dedup gate as
// polled images. Returns false when the monitor is backed up and the image
// was dropped.
func (m *Monitor) Paste(img *image.RGBA) bool {
	if img == nil {
		return false
	}
	select {
	case m.pasteCh <- img:
		return true
	case <-m.stopCh:
		return false
	default:
		return false
	}
}

// Run drives the monitor until the context ends or Stop is called.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case img := <-m.pasteCh:
			m.evaluate(ctx, img, OriginPaste)
		case <-ticker.C:
			img, err := m.capture(ctx)
			if err != nil {
				trace.Logger(ctx).Debug("poll capture failed", slog.String("error", err.Error()))
				continue
			}
			m.evaluate(ctx, img, OriginPoll)
		}
	}
}

// Stop ends the monitor. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Monitor) evaluate(ctx context.Context, img *image.RGBA, origin string) {
	if img == nil {
		return
	}

	sig, err := phash.Hash(img)
	if err != nil {
		// Hashing unavailable degrades to treating every candidate as
		// changed. Log the downgrade once, not per image.
		if m.degradedLogged.CompareAndSwap(false, true) {
			trace.Logger(ctx).Warn("perceptual hashing unavailable, change detection degraded",
				slog.String("error", err.Error()))
		}
	} else {
		if m.last.Valid() && !phash.Changed(m.last, sig, m.threshold) {
			return
		}
		m.last = sig
	}

	note := Notification{Image: img, Signature: sig, Origin: origin, At: time.Now()}
	select {
	case m.notifyCh <- note:
	default:
		trace.Logger(ctx).Warn("change notification dropped, consumer backed up")
	}
}
