package session

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/mirrorcast/platform/internal/bridge"
	"github.com/mirrorcast/platform/internal/config"
	apperrors "github.com/mirrorcast/platform/internal/errors"
	"github.com/mirrorcast/platform/internal/geom"
	"github.com/mirrorcast/platform/internal/input"
	"github.com/mirrorcast/platform/internal/monitor"
	"github.com/mirrorcast/platform/internal/render"
	"github.com/mirrorcast/platform/internal/stream"
	"github.com/mirrorcast/platform/internal/trace"
)

// Manager owns every capture session and the shared stream registry.
// Failures stay local to the session that hit them.
type Manager struct {
	cfg     *config.Config
	br      bridge.Bridge
	streams *stream.Registry
	events  *EventStore
	sink    FrameSink

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager delivering frames to sink.
func NewManager(br bridge.Bridge, cfg *config.Config, sink FrameSink) *Manager {
	return &Manager{
		cfg:      cfg,
		br:       br,
		streams:  stream.NewRegistry(),
		events:   NewEventStore(200, 100),
		sink:     sink,
		sessions: make(map[string]*Session),
	}
}

// Events returns the live session event channel.
func (m *Manager) Events() <-chan Event {
	return m.events.Events()
}

// EventHistory returns up to n recent session events.
func (m *Manager) EventHistory(n int) []Event {
	return m.events.Recent(n)
}

// Get returns an active session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Configure creates a session from spec, replacing any previous session with
// the same id. On acquisition failure the returned session is in StateError;
// the caller may retry by re-configuring.
func (m *Manager) Configure(ctx context.Context, spec Spec) (*Session, error) {
	ctx, span := trace.StartSpan(ctx, "session_configure")
	defer span.End()
	span.SetAttr("session", spec.ID)
	span.SetAttr("mode", spec.Mode)

	if err := spec.validate(); err != nil {
		return nil, err
	}

	// Re-configuring an id tears the old session down first.
	m.Close(ctx, spec.ID)

	s := &Session{
		spec:      spec,
		state:     StateAcquiring,
		region:    spec.Region,
		projector: input.NewProjector(m.br, spec.Window, m.cfg.MoveEventsPerSec),
	}
	s.projector.SetViewport(viewportSize(spec))

	m.mu.Lock()
	m.sessions[spec.ID] = s
	m.mu.Unlock()

	s.setState(ctx, StateAcquiring, nil, m.events)

	if err := m.start(ctx, s); err != nil {
		span.SetAttr("error", err.Error())
		s.setState(ctx, StateError, err, m.events)
		return s, err
	}

	s.setState(ctx, StateActive, nil, m.events)
	return s, nil
}

func (m *Manager) start(ctx context.Context, s *Session) error {
	log := trace.Logger(ctx)

	if s.spec.hasWindowTarget() {
		info, err := m.br.FindWindow(ctx, s.spec.Window)
		switch {
		case err == nil:
			s.mu.Lock()
			s.bounds = info.Bounds
			s.hasBounds = true
			s.inputEnabled = true
			s.mu.Unlock()
			s.projector.SetWindowBounds(info.Bounds)
			if s.Region().Empty() {
				s.SetRegion(info.Bounds)
			}
		case apperrors.IsCode(err, apperrors.CodeWindowNotFound):
			// Render with identity-scale fallback; input cannot be trusted
			// without real bounds, so it stays off.
			log.Warn("target window not found, input disabled",
				"session", s.spec.ID, "process", s.spec.Window.ProcessName)
		default:
			return apperrors.Wrap(err, apperrors.CodeBridgeUnavailable, "window lookup failed")
		}
	} else {
		// Region captures map input straight back onto the captured area.
		s.mu.Lock()
		s.bounds = s.region
		s.hasBounds = true
		s.inputEnabled = true
		s.mu.Unlock()
		s.projector.SetWindowBounds(s.Region())
	}

	switch s.spec.Mode {
	case ModeLive:
		return m.startLive(ctx, s)
	case ModeSnapshot:
		return m.startSnapshot(ctx, s)
	default:
		return apperrors.Newf(apperrors.CodeInvalidArgument, "unknown mode %q", s.spec.Mode)
	}
}

func (m *Manager) startLive(ctx context.Context, s *Session) error {
	st, err := m.br.AcquireStream(ctx, s.captureTarget(), m.cfg.CaptureInterval())
	if err != nil {
		return err
	}
	if !s.whileOpen(func() { m.streams.Register(s.spec.ID, st) }) {
		disposeStream(st)
		return errClosedDuringAcquisition()
	}

	if err := waitReady(ctx, st, m.cfg.ReadyTimeout, s.isClosed); err != nil {
		m.streams.Unregister(s.spec.ID)
		return err
	}

	size := viewportSize(s.spec)
	loop := render.NewLoop(st, s.transform, int(size.Width), int(size.Height),
		m.cfg.RenderInterval(), func(img *image.RGBA) {
			m.deliver(s.spec.ID, img)
		})

	runCtx, cancel := context.WithCancel(context.Background())
	if !s.whileOpen(func() {
		s.loop = loop
		s.cancel = cancel
	}) {
		cancel()
		m.streams.Unregister(s.spec.ID)
		return errClosedDuringAcquisition()
	}
	go loop.Run(runCtx)
	return nil
}

func errClosedDuringAcquisition() error {
	return apperrors.New(apperrors.CodeSessionClosed, "session closed during acquisition")
}

func disposeStream(st stream.Stream) {
	for _, t := range st.Tracks() {
		t.Stop()
	}
	st.Close()
}

func (m *Manager) startSnapshot(ctx context.Context, s *Session) error {
	capture := func(ctx context.Context) (*image.RGBA, error) {
		return m.br.CaptureStill(ctx, s.captureTarget())
	}

	// The initial still both proves the capture works and seeds the monitor.
	initial, err := capture(ctx)
	if err != nil {
		return err
	}

	mon := monitor.New(capture, m.cfg.PollInterval, m.cfg.ChangeThreshold)
	runCtx, cancel := context.WithCancel(context.Background())
	if !s.whileOpen(func() {
		s.mon = mon
		s.cancel = cancel
	}) {
		cancel()
		mon.Stop()
		return errClosedDuringAcquisition()
	}

	go mon.Run(runCtx)
	go m.forwardCaptures(runCtx, s.spec.ID, mon)

	// Clipboard pastes join the same dedup gate as the poll timer. Headless
	// hosts simply run without the paste feed.
	clipboardInit.once.Do(func() { clipboardInit.err = monitor.InitClipboard() })
	if clipboardInit.err == nil {
		go monitor.WatchClipboard(runCtx, mon)
	} else {
		trace.Logger(ctx).Debug("clipboard paste feed unavailable", "error", clipboardInit.err)
	}

	mon.Paste(initial)
	return nil
}

var clipboardInit struct {
	once sync.Once
	err  error
}

// forwardCaptures turns accepted monitor notifications into frames and
// capture events.
func (m *Manager) forwardCaptures(ctx context.Context, id string, mon *monitor.Monitor) {
	for {
		select {
		case <-ctx.Done():
			return
		case note := <-mon.Notifications():
			m.events.Add(id, EventCapture,
				fmt.Sprintf("capture accepted via %s", note.Origin))
			m.deliver(id, note.Image)
		}
	}
}

func (m *Manager) deliver(id string, img *image.RGBA) {
	if m.sink != nil && img != nil {
		m.sink(id, img)
	}
}

// Close tears one session down: render timer first, then the poll timer,
// then the stream handle. Idempotent; closing an unknown id is a no-op.
// Setting closed under the session lock fences a configure still in flight:
// whatever it installs afterwards it also disposes.
func (m *Manager) Close(ctx context.Context, id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	already := s.closed
	s.closed = true
	loop, mon, cancel := s.loop, s.mon, s.cancel
	s.mu.Unlock()
	if already {
		return
	}

	if loop != nil {
		loop.Stop()
	}
	if mon != nil {
		mon.Stop()
	}
	if cancel != nil {
		cancel()
	}
	m.streams.Unregister(id)
	s.setState(ctx, StateClosed, nil, m.events)
}

// CloseAll tears every session down. Used on service shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Close(ctx, id)
	}
	m.streams.Close()
}

func viewportSize(spec Spec) geom.Size {
	if spec.ViewportWidth > 0 && spec.ViewportHeight > 0 {
		return geom.Size{Width: float64(spec.ViewportWidth), Height: float64(spec.ViewportHeight)}
	}
	if !spec.Region.Empty() {
		return spec.Region.Size()
	}
	return geom.Size{Width: 640, Height: 360}
}
