// Package input projects pointer and keyboard events from widget space onto
// the source window's absolute screen coordinates and forwards them through
// the host bridge.
package input

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mirrorcast/platform/internal/bridge"
	"github.com/mirrorcast/platform/internal/geom"
	"github.com/mirrorcast/platform/internal/syncx"
	"github.com/mirrorcast/platform/internal/trace"
)

// moveThrottle caps forwarded move events using a sliding window, so a fast
// pointer sweep does not flood the bridge. Clicks and key events bypass it.
// Pruning the window and claiming a slot must be one atomic step; the guard's
// Update is that step.
type moveThrottle struct {
	timestamps *syncx.RWGuard[[]time.Time]
	limit      int
	window     time.Duration
}

func newMoveThrottle(eventsPerSec int) *moveThrottle {
	if eventsPerSec <= 0 {
		eventsPerSec = 60
	}
	return &moveThrottle{
		timestamps: syncx.NewGuard[[]time.Time](nil),
		limit:      eventsPerSec,
		window:     time.Second,
	}
}

func (m *moveThrottle) allow() bool {
	now := time.Now()
	cutoff := now.Add(-m.window)

	return m.timestamps.Update(func(ts *[]time.Time) bool {
		valid := (*ts)[:0]
		for _, t := range *ts {
			if t.After(cutoff) {
				valid = append(valid, t)
			}
		}
		if len(valid) >= m.limit {
			*ts = valid
			return false
		}
		*ts = append(valid, now)
		return true
	})
}

// Projector maps widget-space pointer events onto one source window.
// Events arrive while the window's screen bounds may still be unknown;
// until they are known every pointer event is swallowed rather than sent
// somewhere wrong.
type Projector struct {
	sender bridge.InputSender
	target bridge.WindowQuery

	mu        sync.Mutex
	widget    geom.Size
	bounds    geom.Rect
	hasBounds bool

	moveBudget *moveThrottle
}

// NewProjector creates a projector for the window identified by target.
func NewProjector(sender bridge.InputSender, target bridge.WindowQuery, moveEventsPerSec int) *Projector {
	return &Projector{
		sender:     sender,
		target:     target,
		moveBudget: newMoveThrottle(moveEventsPerSec),
	}
}

// SetViewport records the widget's current drawing size.
func (p *Projector) SetViewport(size geom.Size) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.widget = size
}

// SetWindowBounds records the source window's screen bounds once known.
func (p *Projector) SetWindowBounds(bounds geom.Rect) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bounds = bounds
	p.hasBounds = true
}

// ClearWindowBounds marks the bounds unknown again, e.g. after the window
// could not be re-resolved. Pointer events are swallowed until bounds return.
func (p *Projector) ClearWindowBounds() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasBounds = false
}

// Pointer projects one widget-space pointer event to screen coordinates and
// forwards it. Returns false when the event was swallowed.
func (p *Projector) Pointer(ctx context.Context, eventType string, at geom.Point, button string) bool {
	p.mu.Lock()
	widget, bounds, ok := p.widget, p.bounds, p.hasBounds
	p.mu.Unlock()

	if !ok || widget.Empty() || bounds.Empty() {
		trace.Logger(ctx).Debug("pointer event swallowed, window bounds unknown")
		return false
	}

	if eventType == bridge.MouseMove && !p.moveBudget.allow() {
		return false
	}

	screen := geom.WidgetToScreen(at, widget, bounds)
	event := bridge.MouseEvent{
		X:      int(math.Round(screen.X)),
		Y:      int(math.Round(screen.Y)),
		Button: button,
		Type:   eventType,
		Target: p.target,
	}
	if err := p.sender.SendMouseEvent(ctx, event); err != nil {
		trace.Logger(ctx).Warn("mouse event dropped", slog.String("error", err.Error()))
		return false
	}
	return true
}

// Key forwards one keyboard event unchanged except for window identity.
// Keyboard events carry no coordinates, so they pass through even while the
// window bounds are unknown.
func (p *Projector) Key(ctx context.Context, ev bridge.KeyboardEvent) bool {
	ev.Target = p.target
	if err := p.sender.SendKeyboardEvent(ctx, ev); err != nil {
		trace.Logger(ctx).Warn("keyboard event dropped", slog.String("error", err.Error()))
		return false
	}
	return true
}
