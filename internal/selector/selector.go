// Package selector implements the floating region selector: a rectangle in
// absolute screen coordinates the user drags and resizes before confirming
// it as the capture region. All state between a pointer-down and the
// matching pointer-up lives in one gesture value, discarded on release.
package selector

import (
	"strings"
	"sync"

	"github.com/mirrorcast/platform/internal/geom"
)

// Resize handles, named by compass position. Corner handles move two edges,
// edge handles move one.
const (
	HandleNW = "nw"
	HandleN  = "n"
	HandleNE = "ne"
	HandleE  = "e"
	HandleSE = "se"
	HandleS  = "s"
	HandleSW = "sw"
	HandleW  = "w"
)

// MinSize is the floor on either axis of the selection rectangle.
const MinSize = 100.0

const (
	gestureDrag = iota
	gestureResize
)

type gesture struct {
	kind   int
	handle string
	// offset between the pointer and the tracked point at gesture start:
	// the rectangle origin for drags, the handle position for resizes.
	offset geom.Point
	start  geom.Rect
}

// Selector holds the current selection rectangle and the active gesture.
type Selector struct {
	mu      sync.Mutex
	rect    geom.Rect
	minSize float64
	active  *gesture
}

// New creates a selector with an initial rectangle. minSize <= 0 falls back
// to MinSize.
func New(initial geom.Rect, minSize float64) *Selector {
	if minSize <= 0 {
		minSize = MinSize
	}
	s := &Selector{minSize: minSize}
	s.rect = s.floor(initial)
	return s
}

// Rect returns the current selection rectangle.
func (s *Selector) Rect() geom.Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rect
}

// Dragging reports whether a gesture is in progress.
func (s *Selector) Dragging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// BeginDrag starts moving the whole rectangle. The pointer keeps its offset
// to the rectangle origin, so the rectangle never snaps to the cursor.
func (s *Selector) BeginDrag(at geom.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = &gesture{
		kind:   gestureDrag,
		offset: geom.Point{X: at.X - s.rect.X, Y: at.Y - s.rect.Y},
		start:  s.rect,
	}
}

// BeginResize starts resizing from the given handle. The pointer keeps its
// offset to the handle position so a grab slightly off-center does not jump.
func (s *Selector) BeginResize(handle string, at geom.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hp := handlePos(s.rect, handle)
	s.active = &gesture{
		kind:   gestureResize,
		handle: handle,
		offset: geom.Point{X: at.X - hp.X, Y: at.Y - hp.Y},
		start:  s.rect,
	}
}

// Move advances the active gesture to the new pointer position. Moves are
// unconstrained; the rectangle may leave the visible screen. Resizes keep
// the opposite edge fixed and clamp each axis at the minimum size.
func (s *Selector) Move(at geom.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.active
	if g == nil {
		return
	}

	switch g.kind {
	case gestureDrag:
		s.rect.X = at.X - g.offset.X
		s.rect.Y = at.Y - g.offset.Y
	case gestureResize:
		eff := geom.Point{X: at.X - g.offset.X, Y: at.Y - g.offset.Y}
		s.rect = resize(g.start, g.handle, eff, s.minSize)
	}
}

// End finishes the active gesture, keeping the rectangle where it is.
func (s *Selector) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
}

// Confirm ends any gesture and returns the selected rectangle.
func (s *Selector) Confirm() geom.Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	return s.rect
}

// Reset ends any gesture and restores the rectangle, e.g. on cancel.
func (s *Selector) Reset(r geom.Rect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	s.rect = s.floor(r)
}

func (s *Selector) floor(r geom.Rect) geom.Rect {
	if r.Width < s.minSize {
		r.Width = s.minSize
	}
	if r.Height < s.minSize {
		r.Height = s.minSize
	}
	return r
}

// handlePos returns the screen position of a handle on r.
func handlePos(r geom.Rect, handle string) geom.Point {
	p := geom.Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
	if strings.Contains(handle, "w") {
		p.X = r.X
	}
	if strings.Contains(handle, "e") {
		p.X = r.X + r.Width
	}
	if strings.Contains(handle, "n") {
		p.Y = r.Y
	}
	if strings.Contains(handle, "s") {
		p.Y = r.Y + r.Height
	}
	return p
}

// resize moves the edges named by handle to the effective pointer position,
// anchoring the opposite edges and flooring each axis at min.
func resize(start geom.Rect, handle string, eff geom.Point, min float64) geom.Rect {
	left := start.X
	top := start.Y
	right := start.X + start.Width
	bottom := start.Y + start.Height

	if strings.Contains(handle, "w") {
		left = eff.X
		if right-left < min {
			left = right - min
		}
	}
	if strings.Contains(handle, "e") {
		right = eff.X
		if right-left < min {
			right = left + min
		}
	}
	if strings.Contains(handle, "n") {
		top = eff.Y
		if bottom-top < min {
			top = bottom - min
		}
	}
	if strings.Contains(handle, "s") {
		bottom = eff.Y
		if bottom-top < min {
			bottom = top + min
		}
	}

	return geom.Rect{X: left, Y: top, Width: right - left, Height: bottom - top}
}
