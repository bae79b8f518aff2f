package bridge

import (
	"context"
	"image"
	"strings"
	"time"

	"github.com/go-vgo/robotgo"

	apperrors "github.com/mirrorcast/platform/internal/errors"
	"github.com/mirrorcast/platform/internal/geom"
	"github.com/mirrorcast/platform/internal/stream"
)

// Local drives the OS directly: robotgo for window enumeration and input
// injection, the screen grabber for streams and stills.
type Local struct {
	listWindows func() ([]WindowInfo, error)
	grab        stream.Grabber
}

// NewLocal creates the local bridge.
func NewLocal() *Local {
	return &Local{listWindows: enumerateWindows, grab: stream.CaptureRect}
}

// enumerateWindows lists visible windows with their owning process names.
func enumerateWindows() ([]WindowInfo, error) {
	procs, err := robotgo.Process()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "process enumeration failed")
	}

	infos := make([]WindowInfo, 0, len(procs))
	for _, p := range procs {
		x, y, w, h := robotgo.GetBounds(p.Pid)
		if w == 0 && h == 0 {
			continue
		}
		infos = append(infos, WindowInfo{
			ProcessName: p.Name,
			WindowTitle: robotgo.GetTitle(p.Pid),
			Bounds:      geom.Rect{X: float64(x), Y: float64(y), Width: float64(w), Height: float64(h)},
		})
	}
	return infos, nil
}

// FindWindow returns the first visible window whose process name and title
// both contain the query's fields as substrings. Empty fields match all.
func (l *Local) FindWindow(_ context.Context, q WindowQuery) (WindowInfo, error) {
	infos, err := l.listWindows()
	if err != nil {
		return WindowInfo{}, err
	}
	for _, info := range infos {
		if matchesQuery(info, q) {
			return info, nil
		}
	}
	return WindowInfo{}, apperrors.Newf(apperrors.CodeWindowNotFound,
		"no window matching process=%q title=%q", q.ProcessName, q.WindowTitle)
}

func matchesQuery(info WindowInfo, q WindowQuery) bool {
	matchProcess := q.ProcessName == "" ||
		strings.Contains(strings.ToLower(info.ProcessName), strings.ToLower(q.ProcessName))
	matchTitle := q.WindowTitle == "" ||
		strings.Contains(strings.ToLower(info.WindowTitle), strings.ToLower(q.WindowTitle))
	return matchProcess && matchTitle
}

// WindowList returns every visible window.
func (l *Local) WindowList(_ context.Context) ([]WindowInfo, error) {
	return l.listWindows()
}

// SendMouseEvent injects a pointer event at absolute screen coordinates.
func (l *Local) SendMouseEvent(_ context.Context, ev MouseEvent) error {
	robotgo.Move(ev.X, ev.Y)

	button := ev.Button
	if button == "" {
		button = "left"
	}

	switch ev.Type {
	case MouseMove:
		return nil
	case MouseDown:
		return robotgo.Toggle(button)
	case MouseUp:
		return robotgo.Toggle(button, "up")
	default:
		return apperrors.Newf(apperrors.CodeInvalidArgument, "unknown mouse event type %q", ev.Type)
	}
}

// modifierOrder fixes the sequence modifiers are pressed around the main key.
var modifierOrder = []struct {
	name string
	set  func(KeyboardEvent) bool
}{
	{"ctrl", func(e KeyboardEvent) bool { return e.CtrlKey }},
	{"shift", func(e KeyboardEvent) bool { return e.ShiftKey }},
	{"alt", func(e KeyboardEvent) bool { return e.AltKey }},
	{"cmd", func(e KeyboardEvent) bool { return e.MetaKey }},
}

// SendKeyboardEvent injects a key transition. Modifiers are toggled before
// the key on keydown and after it on keyup so held combinations land intact.
func (l *Local) SendKeyboardEvent(_ context.Context, ev KeyboardEvent) error {
	key := translateKey(ev.Key)
	if key == "" {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "unmappable key %q", ev.Key)
	}

	switch ev.Type {
	case KeyDown:
		for _, m := range modifierOrder {
			if m.set(ev) {
				_ = robotgo.KeyToggle(m.name, "down")
			}
		}
		return robotgo.KeyToggle(key, "down")
	case KeyUp:
		err := robotgo.KeyToggle(key, "up")
		for _, m := range modifierOrder {
			if m.set(ev) {
				_ = robotgo.KeyToggle(m.name, "up")
			}
		}
		return err
	default:
		return apperrors.Newf(apperrors.CodeInvalidArgument, "unknown keyboard event type %q", ev.Type)
	}
}

// specialKeys maps DOM key names to robotgo key tokens.
var specialKeys = map[string]string{
	"Enter":      "enter",
	"Tab":        "tab",
	" ":          "space",
	"Space":      "space",
	"Backspace":  "backspace",
	"Delete":     "delete",
	"Escape":     "escape",
	"ArrowUp":    "up",
	"ArrowDown":  "down",
	"ArrowLeft":  "left",
	"ArrowRight": "right",
	"Home":       "home",
	"End":        "end",
	"PageUp":     "pageup",
	"PageDown":   "pagedown",
	"Shift":      "shift",
	"Control":    "ctrl",
	"Alt":        "alt",
	"Meta":       "cmd",
}

func translateKey(key string) string {
	if mapped, ok := specialKeys[key]; ok {
		return mapped
	}
	if len(key) == 1 {
		return strings.ToLower(key)
	}
	// F1..F12 and anything else robotgo names in lowercase.
	if len(key) <= 3 && (key[0] == 'F' || key[0] == 'f') {
		return strings.ToLower(key)
	}
	return ""
}

// resolveExtent turns a capture target into an absolute screen rectangle.
func (l *Local) resolveExtent(ctx context.Context, target CaptureTarget) (geom.Rect, error) {
	switch target.Kind {
	case TargetRegion:
		if target.Region.Empty() {
			return geom.Rect{}, apperrors.New(apperrors.CodeInvalidArgument, "empty capture region")
		}
		return target.Region, nil
	case TargetWindow:
		info, err := l.FindWindow(ctx, target.Window)
		if err != nil {
			return geom.Rect{}, err
		}
		return info.Bounds, nil
	case TargetScreen, "":
		b := stream.PrimaryDisplayBounds()
		return geom.Rect{
			X: float64(b.Min.X), Y: float64(b.Min.Y),
			Width: float64(b.Dx()), Height: float64(b.Dy()),
		}, nil
	default:
		return geom.Rect{}, apperrors.Newf(apperrors.CodeInvalidArgument, "unknown capture target kind %q", target.Kind)
	}
}

// AcquireStream starts a live screen stream of the target. A probe grab runs
// first so permission refusals surface at acquisition, not mid-render.
func (l *Local) AcquireStream(ctx context.Context, target CaptureTarget, interval time.Duration) (stream.Stream, error) {
	extent, err := l.resolveExtent(ctx, target)
	if err != nil {
		return nil, err
	}
	if _, err := l.grab(extent.ImageRect()); err != nil {
		return nil, err
	}
	return stream.NewScreen(extent, interval, l.grab), nil
}

// CaptureStill grabs one frame of the target.
func (l *Local) CaptureStill(ctx context.Context, target CaptureTarget) (*image.RGBA, error) {
	extent, err := l.resolveExtent(ctx, target)
	if err != nil {
		return nil, err
	}
	return l.grab(extent.ImageRect())
}

// Close implements Bridge; the local bridge holds no connection.
func (l *Local) Close() error { return nil }
