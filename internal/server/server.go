// Package server provides HTTP and WebSocket handlers
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/nfnt/resize"

	"github.com/mirrorcast/platform/internal/bridge"
	"github.com/mirrorcast/platform/internal/config"
	apperrors "github.com/mirrorcast/platform/internal/errors"
	"github.com/mirrorcast/platform/internal/geom"
	"github.com/mirrorcast/platform/internal/selector"
	"github.com/mirrorcast/platform/internal/session"
	"github.com/mirrorcast/platform/internal/trace"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type ConfigureMessage struct {
	Type    string       `json:"type"`
	Session session.Spec `json:"session"`
	TraceID string       `json:"trace_id,omitempty"`
}

type SessionRefMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type PointerMessage struct {
	Type   string  `json:"type"`
	ID     string  `json:"id"`
	Event  string  `json:"event"` // "move", "down", "up"
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Button string  `json:"button"`
}

type KeyMessage struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Event    string `json:"event"` // "keydown", "keyup"
	Key      string `json:"key"`
	Code     string `json:"code"`
	CtrlKey  bool   `json:"ctrlKey"`
	ShiftKey bool   `json:"shiftKey"`
	AltKey   bool   `json:"altKey"`
	MetaKey  bool   `json:"metaKey"`
}

type ViewportMessage struct {
	Type   string  `json:"type"`
	ID     string  `json:"id"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type RegionMessage struct {
	Type   string    `json:"type"`
	ID     string    `json:"id"`
	Region geom.Rect `json:"region"`
}

type SelectorMessage struct {
	Type   string     `json:"type"`
	Action string     `json:"action"` // "show", "drag", "resize", "move", "release", "confirm", "cancel"
	Handle string     `json:"handle,omitempty"`
	X      float64    `json:"x"`
	Y      float64    `json:"y"`
	Rect   *geom.Rect `json:"rect,omitempty"`
}

type SessionStateMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

type FrameMessage struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   string `json:"data"` // base64 JPEG
}

type CaptureMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Preview string `json:"preview"` // base64 JPEG thumbnail
}

type EventMessage struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

type RegionSelectedMessage struct {
	Type   string    `json:"type"`
	Region geom.Rect `json:"region"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	cfg *config.Config
	br  bridge.Bridge
	mgr *session.Manager

	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
	selectors  map[*websocket.Conn]*selector.Selector
}

// New creates a new server and the session manager behind it.
func New(br bridge.Bridge, cfg *config.Config) *Server {
	s := &Server{
		cfg:        cfg,
		br:         br,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
		selectors:  make(map[*websocket.Conn]*selector.Selector),
	}
	s.mgr = session.NewManager(br, cfg, s.broadcastFrame)

	// Start event broadcaster
	go s.broadcastEvents()

	return s
}

// Manager exposes the session manager, e.g. for shutdown.
func (s *Server) Manager() *session.Manager {
	return s.mgr
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/windows", s.handleWindows)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		delete(s.selectors, conn)
		s.mu.Unlock()
	}()

	// Get trace context from HTTP upgrade request
	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		// Check rate limit
		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "configure":
			var cm ConfigureMessage
			if err := json.Unmarshal(msg, &cm); err != nil {
				continue
			}
			ctx := baseCtx
			if cm.TraceID != "" {
				tc := trace.Context{TraceID: cm.TraceID, SpanID: ""}
				tc = trace.NewChild(tc)
				ctx = trace.WithContext(ctx, tc)
			} else {
				ctx, _ = trace.EnsureContext(ctx)
			}
			// Acquisition can block on the ready wait; keep the read loop
			// responsive to pointer traffic meanwhile.
			go s.handleConfigure(ctx, conn, cm.Session)
		case "close":
			var rm SessionRefMessage
			if err := json.Unmarshal(msg, &rm); err != nil {
				continue
			}
			s.mgr.Close(baseCtx, rm.ID)
		case "pause", "resume":
			var rm SessionRefMessage
			if err := json.Unmarshal(msg, &rm); err != nil {
				continue
			}
			if sess, ok := s.mgr.Get(rm.ID); ok {
				sess.SetPaused(base.Type == "pause")
			}
		case "pointer":
			var pm PointerMessage
			if err := json.Unmarshal(msg, &pm); err != nil {
				continue
			}
			s.handlePointer(baseCtx, pm)
		case "key":
			var km KeyMessage
			if err := json.Unmarshal(msg, &km); err != nil {
				continue
			}
			s.handleKey(baseCtx, km)
		case "viewport":
			var vm ViewportMessage
			if err := json.Unmarshal(msg, &vm); err != nil {
				continue
			}
			if sess, ok := s.mgr.Get(vm.ID); ok {
				sess.SetViewport(geom.Size{Width: vm.Width, Height: vm.Height})
			}
		case "region":
			var rm RegionMessage
			if err := json.Unmarshal(msg, &rm); err != nil {
				continue
			}
			if sess, ok := s.mgr.Get(rm.ID); ok {
				sess.SetRegion(rm.Region)
			}
		case "selector":
			var sm SelectorMessage
			if err := json.Unmarshal(msg, &sm); err != nil {
				continue
			}
			s.handleSelector(baseCtx, conn, sm)
		}
	}
}

func (s *Server) handleConfigure(ctx context.Context, conn *websocket.Conn, spec session.Spec) {
	ctx, span := trace.StartSpan(ctx, "configure_session")
	defer span.End()

	log := trace.Logger(ctx)
	log.Info("configure session", "session", spec.ID, "mode", spec.Mode)

	sess, err := s.mgr.Configure(ctx, spec)
	if err != nil {
		span.SetAttr("error", err.Error())
		log.Error("configure error", "session", spec.ID, "error", err)
		_ = wsjson.Write(ctx, conn, ErrorMessage{
			Type:    "error",
			ID:      spec.ID,
			Code:    apperrors.CodeOf(err).String(),
			Message: err.Error(),
		})
	}
	if sess == nil {
		return
	}

	state, cause := sess.State()
	msg := SessionStateMessage{Type: "session", ID: sess.ID(), State: state}
	if cause != nil {
		msg.Error = cause.Error()
	}
	_ = wsjson.Write(ctx, conn, msg)
}

func (s *Server) handlePointer(ctx context.Context, pm PointerMessage) {
	sess, ok := s.mgr.Get(pm.ID)
	if !ok {
		return
	}
	var eventType string
	switch pm.Event {
	case "move":
		eventType = bridge.MouseMove
	case "down":
		eventType = bridge.MouseDown
	case "up":
		eventType = bridge.MouseUp
	default:
		return
	}
	sess.Pointer(ctx, eventType, geom.Point{X: pm.X, Y: pm.Y}, pm.Button)
}

func (s *Server) handleKey(ctx context.Context, km KeyMessage) {
	sess, ok := s.mgr.Get(km.ID)
	if !ok {
		return
	}
	if km.Event != bridge.KeyDown && km.Event != bridge.KeyUp {
		return
	}
	sess.Key(ctx, bridge.KeyboardEvent{
		Key:      km.Key,
		Code:     km.Code,
		Type:     km.Event,
		CtrlKey:  km.CtrlKey,
		ShiftKey: km.ShiftKey,
		AltKey:   km.AltKey,
		MetaKey:  km.MetaKey,
	})
}

func (s *Server) handleSelector(ctx context.Context, conn *websocket.Conn, sm SelectorMessage) {
	s.mu.Lock()
	sel := s.selectors[conn]
	if sel == nil && sm.Action == "show" && sm.Rect != nil {
		sel = selector.New(*sm.Rect, s.cfg.MinSelectionSize)
		s.selectors[conn] = sel
	}
	s.mu.Unlock()
	if sel == nil {
		return
	}

	at := geom.Point{X: sm.X, Y: sm.Y}
	switch sm.Action {
	case "show":
		// Created above; nothing else to do.
	case "drag":
		sel.BeginDrag(at)
	case "resize":
		sel.BeginResize(sm.Handle, at)
	case "move":
		sel.Move(at)
	case "release":
		sel.End()
	case "confirm":
		region := sel.Confirm()
		s.dropSelector(conn)
		_ = wsjson.Write(ctx, conn, RegionSelectedMessage{Type: "region_selected", Region: region})
	case "cancel":
		s.dropSelector(conn)
	}
}

func (s *Server) dropSelector(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.selectors, conn)
	s.mu.Unlock()
}

// broadcastFrame is the manager's frame sink: one JPEG per rendered or
// accepted frame, fanned out to every connection. Snapshot captures also
// carry a thumbnail preview.
func (s *Server) broadcastFrame(id string, img *image.RGBA) {
	data, err := encodeJPEG(img)
	if err != nil {
		return
	}

	b := img.Bounds()
	frame := FrameMessage{
		Type:   "frame",
		ID:     id,
		Width:  b.Dx(),
		Height: b.Dy(),
		Data:   data,
	}

	var capture *CaptureMessage
	if sess, ok := s.mgr.Get(id); ok && sess.Mode() == session.ModeSnapshot {
		if preview, err := encodeJPEG(thumbnail(img, s.cfg.PreviewWidth)); err == nil {
			capture = &CaptureMessage{Type: "capture", ID: id, Preview: preview}
		}
	}

	s.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	// Write per connection in goroutines with a deadline; the render loop
	// calling this sink must never wait on a slow consumer.
	for _, conn := range conns {
		go func(c *websocket.Conn) {
			ctx, cancel := context.WithTimeout(context.Background(), FrameWriteTimeout)
			defer cancel()
			_ = wsjson.Write(ctx, c, frame)
			if capture != nil {
				_ = wsjson.Write(ctx, c, *capture)
			}
		}(conn)
	}
}

func (s *Server) broadcastEvents() {
	for evt := range s.mgr.Events() {
		msg := EventMessage{
			Type:      "event",
			SessionID: evt.SessionID,
			Kind:      evt.Kind,
			Message:   evt.Message,
			At:        evt.At,
		}

		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn) {
				_ = wsjson.Write(context.Background(), c, msg)
			}(conn)
		}
		s.mu.RUnlock()
	}
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := s.br.WindowList(r.Context())
	if err != nil {
		trace.Logger(r.Context()).Error("window list error", "error", err)
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"windows": windows})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"events": s.mgr.EventHistory(EventHistoryLimit),
	})
}

func encodeJPEG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: FrameJPEGQuality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func thumbnail(img image.Image, width int) image.Image {
	if width <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= width {
		return img
	}
	return resize.Resize(uint(width), 0, img, resize.Bilinear)
}
