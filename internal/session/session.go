// Package session orchestrates capture sessions: stream acquisition through
// the host bridge, registry bookkeeping, the per-session render loop or
// change monitor, and input projection.
package session

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/mirrorcast/platform/internal/bridge"
	apperrors "github.com/mirrorcast/platform/internal/errors"
	"github.com/mirrorcast/platform/internal/geom"
	"github.com/mirrorcast/platform/internal/input"
	"github.com/mirrorcast/platform/internal/monitor"
	"github.com/mirrorcast/platform/internal/render"
	"github.com/mirrorcast/platform/internal/trace"
)

// Session states.
const (
	StateAcquiring = "acquiring"
	StateActive    = "active"
	StateError     = "error"
	StateClosed    = "closed"
)

// Capture modes.
const (
	ModeLive     = "live"
	ModeSnapshot = "snapshot"
)

// Spec configures one capture session.
type Spec struct {
	ID          string             `json:"id"`
	Region      geom.Rect          `json:"region"`
	Window      bridge.WindowQuery `json:"window"`
	Mode        string             `json:"mode"`
	Interactive bool               `json:"interactive"`

	// Viewport is the embedding widget's drawing size in pixels.
	ViewportWidth  int `json:"viewportWidth"`
	ViewportHeight int `json:"viewportHeight"`
}

func (s Spec) validate() error {
	if s.ID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "session id required")
	}
	if s.Mode != ModeLive && s.Mode != ModeSnapshot {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "unknown mode %q", s.Mode)
	}
	if s.Region.Empty() && s.Window == (bridge.WindowQuery{}) {
		return apperrors.New(apperrors.CodeInvalidArgument, "session needs a region or a window target")
	}
	return nil
}

// hasWindowTarget reports whether the spec names a source window.
func (s Spec) hasWindowTarget() bool {
	return s.Window != (bridge.WindowQuery{})
}

// FrameSink receives rendered or accepted frames for one session.
type FrameSink func(sessionID string, img *image.RGBA)

// Session is the per-capture aggregate. All of its timers and goroutines
// are private to it; sessions never share mutable state.
type Session struct {
	spec      Spec
	projector *input.Projector

	mu           sync.Mutex
	state        string
	lastErr      error
	region       geom.Rect
	bounds       geom.Rect
	hasBounds    bool
	inputEnabled bool
	closed       bool

	// Installed under mu once acquisition succeeds. A concurrent Close
	// either tears these down or sets closed before they exist.
	loop   *render.Loop
	mon    *monitor.Monitor
	cancel context.CancelFunc
}

// ID returns the session id.
func (s *Session) ID() string { return s.spec.ID }

// Mode returns the capture mode.
func (s *Session) Mode() string { return s.spec.Mode }

// State returns the current state and, in StateError, the causing error.
func (s *Session) State() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastErr
}

// Region returns the current capture region.
func (s *Session) Region() geom.Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region
}

// SetRegion moves the capture region. The render loop picks the new value
// up on its next tick.
func (s *Session) SetRegion(r geom.Rect) {
	s.mu.Lock()
	s.region = r
	s.mu.Unlock()
}

// SetViewport updates the widget size used for input projection.
func (s *Session) SetViewport(size geom.Size) {
	if s.projector != nil {
		s.projector.SetViewport(size)
	}
}

// WindowBounds returns the source window bounds when known.
func (s *Session) WindowBounds() (geom.Rect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds, s.hasBounds
}

// transform feeds the render loop. Called every tick.
func (s *Session) transform() (geom.Rect, geom.Rect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region, s.bounds, s.hasBounds
}

// whileOpen runs fn under the session lock unless the session has already
// been closed. All installation of timers, goroutine contexts, and registry
// entries goes through here so it serializes with Close.
func (s *Session) whileOpen(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	fn()
	return true
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) setState(ctx context.Context, state string, cause error, events *EventStore) {
	s.mu.Lock()
	if s.closed && state != StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.lastErr = cause
	s.mu.Unlock()

	msg := state
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", state, cause)
	}
	events.Add(s.spec.ID, EventState, msg)
	trace.Logger(ctx).Info("session state", "session", s.spec.ID, "state", state)
}

// SetPaused suspends or resumes drawing for a live session without touching
// the underlying stream.
func (s *Session) SetPaused(paused bool) {
	s.mu.Lock()
	loop := s.loop
	s.mu.Unlock()
	if loop != nil {
		loop.SetPaused(paused)
	}
}

// Paused reports whether a live session's drawing is suspended.
func (s *Session) Paused() bool {
	s.mu.Lock()
	loop := s.loop
	s.mu.Unlock()
	return loop != nil && loop.Paused()
}

// Pointer projects a widget-space pointer event into the source window.
// Swallowed unless the session is interactive and the window was resolved.
func (s *Session) Pointer(ctx context.Context, eventType string, at geom.Point, button string) bool {
	if !s.inputAllowed() {
		return false
	}
	return s.projector.Pointer(ctx, eventType, at, button)
}

// Key forwards a keyboard event into the source window.
func (s *Session) Key(ctx context.Context, ev bridge.KeyboardEvent) bool {
	if !s.inputAllowed() {
		return false
	}
	return s.projector.Key(ctx, ev)
}

func (s *Session) inputAllowed() bool {
	if !s.spec.Interactive || s.projector == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputEnabled && s.state == StateActive
}

// Paste submits an externally pasted image to a snapshot session's monitor.
func (s *Session) Paste(img *image.RGBA) bool {
	s.mu.Lock()
	mon := s.mon
	s.mu.Unlock()
	return mon != nil && mon.Paste(img)
}

// captureTarget builds the bridge target for this session.
func (s *Session) captureTarget() bridge.CaptureTarget {
	if s.spec.hasWindowTarget() {
		return bridge.CaptureTarget{Kind: bridge.TargetWindow, Window: s.spec.Window}
	}
	return bridge.CaptureTarget{Kind: bridge.TargetRegion, Region: s.Region()}
}

// waitReady polls a frame source until it has decoded a frame with non-zero
// dimensions, or the timeout elapses. abort is re-checked every poll so a
// session closed mid-acquisition stops waiting.
func waitReady(ctx context.Context, src render.Source, timeout time.Duration, abort func() bool) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if abort() {
			return apperrors.New(apperrors.CodeSessionClosed, "session closed during acquisition")
		}
		if _, ok := src.Frame(); ok && !src.Size().Empty() {
			return nil
		}
		if time.Now().After(deadline) {
			return apperrors.Newf(apperrors.CodeFrameTimeout,
				"stream produced no frame within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return apperrors.Wrap(ctx.Err(), apperrors.CodeFrameTimeout, "ready wait aborted")
		case <-ticker.C:
		}
	}
}
