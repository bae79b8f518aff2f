package bridge

import (
	"context"
	"encoding/json"
	"image"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/mirrorcast/platform/internal/errors"
	"github.com/mirrorcast/platform/internal/geom"
	"github.com/mirrorcast/platform/internal/resilience"
	"github.com/mirrorcast/platform/internal/stream"
	"github.com/mirrorcast/platform/internal/trace"
)

// Remote speaks JSON over websocket to a privileged helper that performs
// window lookup and input injection. Stream acquisition stays in-process:
// frames are grabbed locally, only control operations cross the wire.
//
// Window/lookup calls are request/response; input injection is
// fire-and-forget (a notification without an id, never awaited).
type Remote struct {
	addr    string
	breaker *resilience.Breaker

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int64

	streams StreamProvider
}

type request struct {
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	TraceID string          `json:"trace_id,omitempty"`
}

type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *responseError  `json:"error,omitempty"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewRemote dials the helper, retrying with backoff while it comes up.
func NewRemote(ctx context.Context, addr string) (*Remote, error) {
	r := &Remote{
		addr:    addr,
		breaker: resilience.New(resilience.FastConfig()),
		streams: NewLocal(),
	}

	err := resilience.Retry(ctx, resilience.BridgeRetryConfig(), func() error {
		return r.redial(ctx)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// redial replaces the connection. Caller need not hold the lock.
func (r *Remote) redial(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, r.addr, nil)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeBridgeUnavailable, "dial host bridge %s", r.addr)
	}

	r.mu.Lock()
	old := r.conn
	r.conn = conn
	r.mu.Unlock()

	if old != nil {
		_ = old.Close(websocket.StatusNormalClosure, "replaced")
	}
	return nil
}

// call performs one request/response exchange, serialized per connection.
func (r *Remote) call(ctx context.Context, method string, params any, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "marshal bridge params")
	}

	return r.breaker.Execute(func() error {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.conn == nil {
			return apperrors.New(apperrors.CodeBridgeUnavailable, "bridge connection closed")
		}

		r.nextID++
		req := request{ID: r.nextID, Method: method, Params: raw}
		if tc, ok := trace.FromContext(ctx); ok {
			req.TraceID = tc.TraceID
		}

		if err := wsjson.Write(ctx, r.conn, req); err != nil {
			r.dropConnLocked()
			return apperrors.Wrapf(err, apperrors.CodeBridgeUnavailable, "write %s", method)
		}

		var resp response
		if err := wsjson.Read(ctx, r.conn, &resp); err != nil {
			r.dropConnLocked()
			return apperrors.Wrapf(err, apperrors.CodeBridgeUnavailable, "read %s response", method)
		}
		if resp.Error != nil {
			return apperrors.New(codeFromName(resp.Error.Code), resp.Error.Message)
		}
		if result != nil && resp.Result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return apperrors.Wrapf(err, apperrors.CodeInternal, "decode %s result", method)
			}
		}
		return nil
	})
}

// notify sends a request without an id and never waits for a response.
func (r *Remote) notify(ctx context.Context, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "marshal bridge params")
	}

	return r.breaker.Execute(func() error {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.conn == nil {
			return apperrors.New(apperrors.CodeBridgeUnavailable, "bridge connection closed")
		}
		if err := wsjson.Write(ctx, r.conn, request{Method: method, Params: raw}); err != nil {
			r.dropConnLocked()
			return apperrors.Wrapf(err, apperrors.CodeBridgeUnavailable, "write %s", method)
		}
		return nil
	})
}

func (r *Remote) dropConnLocked() {
	if r.conn != nil {
		_ = r.conn.Close(websocket.StatusInternalError, "io error")
		r.conn = nil
	}
}

var codeNames = map[string]apperrors.Code{
	"WINDOW_NOT_FOUND":   apperrors.CodeWindowNotFound,
	"PERMISSION_DENIED":  apperrors.CodePermissionDenied,
	"INVALID_ARGUMENT":   apperrors.CodeInvalidArgument,
	"BRIDGE_UNAVAILABLE": apperrors.CodeBridgeUnavailable,
}

func codeFromName(name string) apperrors.Code {
	if c, ok := codeNames[name]; ok {
		return c
	}
	return apperrors.CodeUnknown
}

type findWindowResult struct {
	Found       bool    `json:"found"`
	ProcessName string  `json:"processName"`
	WindowTitle string  `json:"windowTitle"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
}

// FindWindow asks the helper to locate a window.
func (r *Remote) FindWindow(ctx context.Context, q WindowQuery) (WindowInfo, error) {
	var res findWindowResult
	if err := r.call(ctx, "findWindow", q, &res); err != nil {
		return WindowInfo{}, err
	}
	if !res.Found {
		return WindowInfo{}, apperrors.Newf(apperrors.CodeWindowNotFound,
			"no window matching process=%q title=%q", q.ProcessName, q.WindowTitle)
	}
	return WindowInfo{
		ProcessName: res.ProcessName,
		WindowTitle: res.WindowTitle,
		Bounds:      rectFromResult(res),
	}, nil
}

func rectFromResult(res findWindowResult) geom.Rect {
	return geom.Rect{X: res.X, Y: res.Y, Width: res.Width, Height: res.Height}
}

// WindowList asks the helper for every visible window.
func (r *Remote) WindowList(ctx context.Context) ([]WindowInfo, error) {
	var res []findWindowResult
	if err := r.call(ctx, "getWindowList", nil, &res); err != nil {
		return nil, err
	}
	infos := make([]WindowInfo, 0, len(res))
	for _, w := range res {
		infos = append(infos, WindowInfo{
			ProcessName: w.ProcessName,
			WindowTitle: w.WindowTitle,
			Bounds:      rectFromResult(w),
		})
	}
	return infos, nil
}

// SendMouseEvent forwards a pointer event, fire-and-forget.
func (r *Remote) SendMouseEvent(ctx context.Context, ev MouseEvent) error {
	return r.notify(ctx, "sendMouseEvent", ev)
}

// SendKeyboardEvent forwards a key transition, fire-and-forget.
func (r *Remote) SendKeyboardEvent(ctx context.Context, ev KeyboardEvent) error {
	return r.notify(ctx, "sendKeyboardEvent", ev)
}

// AcquireStream grabs frames locally; only control operations are remoted.
func (r *Remote) AcquireStream(ctx context.Context, target CaptureTarget, interval time.Duration) (stream.Stream, error) {
	if target.Kind == TargetWindow {
		// Resolve the window through the helper, then capture its extent.
		info, err := r.FindWindow(ctx, target.Window)
		if err != nil {
			return nil, err
		}
		target = CaptureTarget{Kind: TargetRegion, Region: info.Bounds}
	}
	return r.streams.AcquireStream(ctx, target, interval)
}

// CaptureStill grabs one frame locally.
func (r *Remote) CaptureStill(ctx context.Context, target CaptureTarget) (*image.RGBA, error) {
	return r.streams.CaptureStill(ctx, target)
}

// Close shuts the helper connection.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close(websocket.StatusNormalClosure, "")
	r.conn = nil
	return err
}
