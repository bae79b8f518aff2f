// Package bridge defines the privileged host capability the capture core
// depends on: window lookup, OS-level input injection, and stream
// acquisition. Two implementations exist: a local one driving the OS
// directly, and a remote one speaking JSON over websocket to a privileged
// helper process.
package bridge

import (
	"context"
	"image"
	"time"

	"github.com/mirrorcast/platform/internal/geom"
	"github.com/mirrorcast/platform/internal/stream"
)

// WindowQuery identifies a capture target window. Matching is by substring
// on either field; empty fields match anything. Both fields ride along on
// injected input events so the host can route correctly even when several
// windows share a process name.
type WindowQuery struct {
	ProcessName string `json:"processName,omitempty"`
	WindowTitle string `json:"windowTitle,omitempty"`
}

// WindowInfo describes a physical window in absolute screen coordinates.
type WindowInfo struct {
	ProcessName string    `json:"processName"`
	WindowTitle string    `json:"windowTitle"`
	Bounds      geom.Rect `json:"bounds"`
}

// Mouse event types.
const (
	MouseMove = "move"
	MouseDown = "down"
	MouseUp   = "up"
)

// Keyboard event types.
const (
	KeyDown = "keydown"
	KeyUp   = "keyup"
)

// MouseEvent is an absolute-screen pointer event to inject.
type MouseEvent struct {
	X      int         `json:"x"`
	Y      int         `json:"y"`
	Button string      `json:"button"` // "left", "right", "middle"
	Type   string      `json:"type"`
	Target WindowQuery `json:"target"`
}

// KeyboardEvent is a key transition to inject, modifiers included.
type KeyboardEvent struct {
	Key      string      `json:"key"`
	Code     string      `json:"code"`
	Type     string      `json:"type"`
	CtrlKey  bool        `json:"ctrlKey"`
	ShiftKey bool        `json:"shiftKey"`
	AltKey   bool        `json:"altKey"`
	MetaKey  bool        `json:"metaKey"`
	Target   WindowQuery `json:"target"`
}

// Capture target kinds.
const (
	TargetWindow = "window"
	TargetRegion = "region"
	TargetScreen = "screen"
)

// CaptureTarget describes what to acquire a stream of.
type CaptureTarget struct {
	Kind   string      `json:"kind"`
	Window WindowQuery `json:"window,omitempty"`
	Region geom.Rect   `json:"region,omitempty"`
}

// WindowFinder locates physical windows.
type WindowFinder interface {
	// FindWindow returns the first window matching the query, or an error
	// carrying CodeWindowNotFound.
	FindWindow(ctx context.Context, q WindowQuery) (WindowInfo, error)
	WindowList(ctx context.Context) ([]WindowInfo, error)
}

// InputSender injects input at absolute screen coordinates. Calls are
// fire-and-forget: no acknowledgment, no backpressure.
type InputSender interface {
	SendMouseEvent(ctx context.Context, ev MouseEvent) error
	SendKeyboardEvent(ctx context.Context, ev KeyboardEvent) error
}

// StreamProvider acquires capture streams and one-shot stills.
type StreamProvider interface {
	// AcquireStream starts a live stream of the target. Refusal surfaces as
	// CodePermissionDenied.
	AcquireStream(ctx context.Context, target CaptureTarget, interval time.Duration) (stream.Stream, error)
	CaptureStill(ctx context.Context, target CaptureTarget) (*image.RGBA, error)
}

// Bridge is the full host capability.
type Bridge interface {
	WindowFinder
	InputSender
	StreamProvider
	Close() error
}
