// Package geom provides pure coordinate transforms between screen space,
// window space, video space, and widget space. All functions are total:
// degenerate inputs degrade to identity mappings instead of failing, because
// frames must keep rendering during the window before source bounds are known.
package geom

import (
	"image"
	"math"
)

// Point is a position in any of the coordinate spaces.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width/height pair.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether either dimension is non-positive.
func (s Size) Empty() bool { return s.Width <= 0 || s.Height <= 0 }

// Aspect returns width/height, or 0 for an empty size.
func (s Size) Aspect() float64 {
	if s.Empty() {
		return 0
	}
	return s.Width / s.Height
}

// Rect is an axis-aligned rectangle. When used as a CaptureRegion or as
// window bounds, coordinates are absolute screen coordinates and may be
// negative or span multiple monitors.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether either dimension is non-positive.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Size returns the rectangle's dimensions.
func (r Rect) Size() Size { return Size{Width: r.Width, Height: r.Height} }

// Contains reports whether p lies inside r (inclusive of edges).
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// ImageRect converts to an image.Rectangle, rounding to whole pixels.
func (r Rect) ImageRect() image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)), int(math.Round(r.Y)),
		int(math.Round(r.X+r.Width)), int(math.Round(r.Y+r.Height)),
	)
}

// VideoToScreen maps a point in captured-video pixel space to absolute screen
// coordinates, assuming region fully describes the captured area. Degenerate
// video or region sizes degrade to identity scaling.
func VideoToScreen(p Point, video Size, region Rect) Point {
	if video.Empty() || region.Empty() {
		return Point{X: region.X + p.X, Y: region.Y + p.Y}
	}
	return Point{
		X: region.X + p.X*region.Width/video.Width,
		Y: region.Y + p.Y*region.Height/video.Height,
	}
}

// ScreenToVideo is the inverse of VideoToScreen.
func ScreenToVideo(p Point, video Size, region Rect) Point {
	if video.Empty() || region.Empty() {
		return Point{X: p.X - region.X, Y: p.Y - region.Y}
	}
	return Point{
		X: (p.X - region.X) * video.Width / region.Width,
		Y: (p.Y - region.Y) * video.Height / region.Height,
	}
}

// Letterbox describes how a source fits inside a widget when aspect ratios
// differ: the scaled extent of the source and the bar offsets.
type Letterbox struct {
	OffsetX      float64
	OffsetY      float64
	ScaledWidth  float64
	ScaledHeight float64
}

// FitInside computes the aspect-fit placement of source inside widget. When
// the widget is wider than the source the source spans the widget's height and
// bars sit left/right; otherwise the source spans the width and bars sit
// top/bottom. Empty inputs degrade to a 1:1 fill of the widget.
func FitInside(widget, source Size) Letterbox {
	if widget.Empty() || source.Empty() {
		return Letterbox{ScaledWidth: widget.Width, ScaledHeight: widget.Height}
	}
	if widget.Aspect() > source.Aspect() {
		sw := widget.Height * source.Aspect()
		return Letterbox{
			OffsetX:      (widget.Width - sw) / 2,
			ScaledWidth:  sw,
			ScaledHeight: widget.Height,
		}
	}
	sh := widget.Width / source.Aspect()
	return Letterbox{
		OffsetY:      (widget.Height - sh) / 2,
		ScaledWidth:  widget.Width,
		ScaledHeight: sh,
	}
}

// WidgetToWindow maps a point in widget space into the source window's own
// coordinate space, correcting for letterboxing introduced by aspect-fit
// scaling. The result is clamped to [0,bounds.Width]x[0,bounds.Height].
func WidgetToWindow(p Point, widget Size, bounds Rect) Point {
	if widget.Empty() || bounds.Empty() {
		return Point{X: p.X, Y: p.Y}
	}
	lb := FitInside(widget, bounds.Size())
	x := (p.X - lb.OffsetX) / lb.ScaledWidth * bounds.Width
	y := (p.Y - lb.OffsetY) / lb.ScaledHeight * bounds.Height
	return Point{
		X: clamp(x, 0, bounds.Width),
		Y: clamp(y, 0, bounds.Height),
	}
}

// WidgetToScreen maps a widget-space point to absolute screen coordinates by
// way of the source window's bounds.
func WidgetToScreen(p Point, widget Size, bounds Rect) Point {
	w := WidgetToWindow(p, widget, bounds)
	return Point{X: bounds.X + w.X, Y: bounds.Y + w.Y}
}

// CropRectInVideoSpace converts an absolute-screen crop region into the
// source-pixel rectangle to read from a frame whose dimensions equal video
// but whose captured extent equals bounds (the capture may include chrome
// beyond the requested region). The rectangle is clamped to the frame, and
// any degenerate input falls back to the full frame so rendering never stops
// on a bounds race.
func CropRectInVideoSpace(region, bounds Rect, video Size) Rect {
	full := Rect{Width: video.Width, Height: video.Height}
	if video.Empty() || bounds.Empty() || region.Empty() {
		return full
	}

	scaleX := video.Width / bounds.Width
	scaleY := video.Height / bounds.Height

	x := clamp((region.X-bounds.X)*scaleX, 0, video.Width)
	y := clamp((region.Y-bounds.Y)*scaleY, 0, video.Height)
	w := clamp(region.Width*scaleX, 0, video.Width-x)
	h := clamp(region.Height*scaleY, 0, video.Height-y)

	if w <= 0 || h <= 0 {
		return full
	}
	return Rect{X: x, Y: y, Width: w, Height: h}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
