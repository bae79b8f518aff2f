package session

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mirrorcast/platform/internal/bridge"
	"github.com/mirrorcast/platform/internal/config"
	apperrors "github.com/mirrorcast/platform/internal/errors"
	"github.com/mirrorcast/platform/internal/geom"
	"github.com/mirrorcast/platform/internal/stream"
)

func testConfig() *config.Config {
	return &config.Config{
		RenderRate:       200,
		CaptureRate:      200,
		PollInterval:     5 * time.Millisecond,
		ChangeThreshold:  0.95,
		ReadyTimeout:     200 * time.Millisecond,
		MoveEventsPerSec: 1000,
	}
}

func solid(c color.RGBA, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

type fakeTrack struct {
	stops int64
}

func (t *fakeTrack) ID() string   { return "video-0" }
func (t *fakeTrack) Kind() string { return "video" }
func (t *fakeTrack) Stop()        { atomic.AddInt64(&t.stops, 1) }

type fakeStream struct {
	mu     sync.Mutex
	frame  *image.RGBA
	track  fakeTrack
	closed int64
}

func (s *fakeStream) Frame() (*image.RGBA, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, false
	}
	return s.frame, true
}

func (s *fakeStream) Size() geom.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return geom.Size{}
	}
	b := s.frame.Bounds()
	return geom.Size{Width: float64(b.Dx()), Height: float64(b.Dy())}
}

func (s *fakeStream) Tracks() []stream.Track { return []stream.Track{&s.track} }
func (s *fakeStream) Close()                 { atomic.AddInt64(&s.closed, 1) }

type fakeBridge struct {
	mu         sync.Mutex
	windows    []bridge.WindowInfo
	acquireErr error
	stillErr   error
	still      *image.RGBA
	streams    []*fakeStream
	streamless bool // acquired streams never become ready
	mouse      int
}

func (b *fakeBridge) FindWindow(_ context.Context, q bridge.WindowQuery) (bridge.WindowInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range b.windows {
		if q.ProcessName != "" && w.ProcessName == q.ProcessName {
			return w, nil
		}
		if q.WindowTitle != "" && w.WindowTitle == q.WindowTitle {
			return w, nil
		}
	}
	return bridge.WindowInfo{}, apperrors.New(apperrors.CodeWindowNotFound, "no matching window")
}

func (b *fakeBridge) WindowList(context.Context) ([]bridge.WindowInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.windows, nil
}

func (b *fakeBridge) SendMouseEvent(context.Context, bridge.MouseEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mouse++
	return nil
}

func (b *fakeBridge) SendKeyboardEvent(context.Context, bridge.KeyboardEvent) error { return nil }

func (b *fakeBridge) AcquireStream(context.Context, bridge.CaptureTarget, time.Duration) (stream.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.acquireErr != nil {
		return nil, b.acquireErr
	}
	st := &fakeStream{}
	if !b.streamless {
		st.frame = solid(color.RGBA{R: 120, A: 255}, 400, 300)
	}
	b.streams = append(b.streams, st)
	return st, nil
}

func (b *fakeBridge) CaptureStill(context.Context, bridge.CaptureTarget) (*image.RGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stillErr != nil {
		return nil, b.stillErr
	}
	return b.still, nil
}

func (b *fakeBridge) Close() error { return nil }

type frameCounter struct {
	count int64
}

func (f *frameCounter) sink(string, *image.RGBA) { atomic.AddInt64(&f.count, 1) }
func (f *frameCounter) frames() int64            { return atomic.LoadInt64(&f.count) }

func waitCond(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestConfigureLiveRegionSession(t *testing.T) {
	br := &fakeBridge{}
	frames := &frameCounter{}
	m := NewManager(br, testConfig(), frames.sink)
	defer m.CloseAll(context.Background())

	s, err := m.Configure(context.Background(), Spec{
		ID:     "node-1",
		Region: geom.Rect{X: 100, Y: 100, Width: 400, Height: 300},
		Mode:   ModeLive,
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	state, _ := s.State()
	if state != StateActive {
		t.Fatalf("state = %s, want %s", state, StateActive)
	}

	waitCond(t, func() bool { return frames.frames() > 2 })
}

func TestConfigureValidation(t *testing.T) {
	m := NewManager(&fakeBridge{}, testConfig(), nil)

	if _, err := m.Configure(context.Background(), Spec{Mode: ModeLive}); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("missing id: got %v", err)
	}
	if _, err := m.Configure(context.Background(), Spec{
		ID: "a", Mode: "weird", Region: geom.Rect{Width: 10, Height: 10},
	}); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("bad mode: got %v", err)
	}
}

func TestPermissionDeniedEntersError(t *testing.T) {
	br := &fakeBridge{acquireErr: apperrors.New(apperrors.CodePermissionDenied, "capture refused")}
	m := NewManager(br, testConfig(), nil)
	defer m.CloseAll(context.Background())

	s, err := m.Configure(context.Background(), Spec{
		ID:     "node-1",
		Region: geom.Rect{Width: 200, Height: 200},
		Mode:   ModeLive,
	})
	if !apperrors.IsCode(err, apperrors.CodePermissionDenied) {
		t.Fatalf("err = %v, want permission denied", err)
	}

	state, cause := s.State()
	if state != StateError || cause == nil {
		t.Fatalf("state = %s (%v), want error state with cause", state, cause)
	}
}

func TestFrameTimeoutUnregistersStream(t *testing.T) {
	br := &fakeBridge{streamless: true}
	cfg := testConfig()
	cfg.ReadyTimeout = 50 * time.Millisecond
	m := NewManager(br, cfg, nil)
	defer m.CloseAll(context.Background())

	_, err := m.Configure(context.Background(), Spec{
		ID:     "node-1",
		Region: geom.Rect{Width: 200, Height: 200},
		Mode:   ModeLive,
	})
	if !apperrors.IsCode(err, apperrors.CodeFrameTimeout) {
		t.Fatalf("err = %v, want frame timeout", err)
	}

	br.mu.Lock()
	st := br.streams[0]
	br.mu.Unlock()
	if atomic.LoadInt64(&st.track.stops) == 0 || atomic.LoadInt64(&st.closed) == 0 {
		t.Fatal("timed-out stream not disposed")
	}
}

func TestWindowNotFoundDisablesInput(t *testing.T) {
	br := &fakeBridge{}
	m := NewManager(br, testConfig(), nil)
	defer m.CloseAll(context.Background())

	s, err := m.Configure(context.Background(), Spec{
		ID:          "node-1",
		Region:      geom.Rect{Width: 400, Height: 300},
		Window:      bridge.WindowQuery{ProcessName: "gone"},
		Mode:        ModeLive,
		Interactive: true,
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	state, _ := s.State()
	if state != StateActive {
		t.Fatalf("state = %s, want active fallback", state)
	}
	if _, known := s.WindowBounds(); known {
		t.Fatal("bounds should be unknown for an unresolved window")
	}

	s.SetViewport(geom.Size{Width: 400, Height: 300})
	if s.Pointer(context.Background(), bridge.MouseDown, geom.Point{X: 10, Y: 10}, "left") {
		t.Fatal("pointer event forwarded without window bounds")
	}
	if br.mouse != 0 {
		t.Fatalf("bridge received %d mouse events", br.mouse)
	}
}

func TestInteractiveWindowSessionProjectsInput(t *testing.T) {
	br := &fakeBridge{windows: []bridge.WindowInfo{{
		ProcessName: "editor",
		WindowTitle: "main.go",
		Bounds:      geom.Rect{X: 100, Y: 100, Width: 400, Height: 300},
	}}}
	m := NewManager(br, testConfig(), nil)
	defer m.CloseAll(context.Background())

	s, err := m.Configure(context.Background(), Spec{
		ID:             "node-1",
		Window:         bridge.WindowQuery{ProcessName: "editor"},
		Mode:           ModeLive,
		Interactive:    true,
		ViewportWidth:  400,
		ViewportHeight: 300,
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if !s.Pointer(context.Background(), bridge.MouseDown, geom.Point{X: 200, Y: 150}, "left") {
		t.Fatal("pointer event swallowed")
	}
	if br.mouse != 1 {
		t.Fatalf("bridge received %d mouse events, want 1", br.mouse)
	}
}

func TestSnapshotSessionEmitsOnChange(t *testing.T) {
	br := &fakeBridge{still: solid(color.RGBA{R: 200, A: 255}, 64, 64)}
	frames := &frameCounter{}
	m := NewManager(br, testConfig(), frames.sink)
	defer m.CloseAll(context.Background())

	_, err := m.Configure(context.Background(), Spec{
		ID:     "node-1",
		Region: geom.Rect{Width: 64, Height: 64},
		Mode:   ModeSnapshot,
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	// The seeded initial still is the first accepted capture.
	waitCond(t, func() bool { return frames.frames() == 1 })

	// Identical polls: no further captures.
	time.Sleep(50 * time.Millisecond)
	if frames.frames() != 1 {
		t.Fatalf("duplicate stills accepted: %d", frames.frames())
	}

	// A genuinely different still triggers exactly one more.
	checker := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if (x/8+y/8)%2 == 0 {
				checker.Set(x, y, color.RGBA{A: 255})
			} else {
				checker.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}
	br.mu.Lock()
	br.still = checker
	br.mu.Unlock()

	waitCond(t, func() bool { return frames.frames() == 2 })
}

func TestReplaceDisposesPreviousStream(t *testing.T) {
	br := &fakeBridge{}
	m := NewManager(br, testConfig(), nil)
	defer m.CloseAll(context.Background())

	spec := Spec{ID: "node-1", Region: geom.Rect{Width: 100, Height: 100}, Mode: ModeLive}
	if _, err := m.Configure(context.Background(), spec); err != nil {
		t.Fatalf("first Configure: %v", err)
	}
	if _, err := m.Configure(context.Background(), spec); err != nil {
		t.Fatalf("second Configure: %v", err)
	}

	br.mu.Lock()
	first := br.streams[0]
	br.mu.Unlock()
	if atomic.LoadInt64(&first.track.stops) != 1 {
		t.Fatalf("first stream stops = %d, want 1", atomic.LoadInt64(&first.track.stops))
	}
	if m.Len() != 1 {
		t.Fatalf("sessions = %d, want 1", m.Len())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	br := &fakeBridge{}
	m := NewManager(br, testConfig(), nil)

	spec := Spec{ID: "node-1", Region: geom.Rect{Width: 100, Height: 100}, Mode: ModeLive}
	if _, err := m.Configure(context.Background(), spec); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	m.Close(context.Background(), "node-1")
	m.Close(context.Background(), "node-1")
	m.Close(context.Background(), "missing")

	br.mu.Lock()
	st := br.streams[0]
	br.mu.Unlock()
	if got := atomic.LoadInt64(&st.track.stops); got != 1 {
		t.Fatalf("track stops = %d, want 1", got)
	}
	if m.Len() != 0 {
		t.Fatalf("sessions = %d after close", m.Len())
	}
}

func TestCloseDuringAcquisitionDisposesEverything(t *testing.T) {
	br := &fakeBridge{streamless: true}
	frames := &frameCounter{}
	cfg := testConfig()
	cfg.ReadyTimeout = 2 * time.Second
	m := NewManager(br, cfg, frames.sink)
	defer m.CloseAll(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := m.Configure(context.Background(), Spec{
			ID: "node-1", Region: geom.Rect{Width: 100, Height: 100}, Mode: ModeLive,
		})
		done <- err
	}()

	// The stream is acquired but never ready, so configure sits in the
	// ready wait when the close lands.
	waitCond(t, func() bool {
		br.mu.Lock()
		defer br.mu.Unlock()
		return len(br.streams) == 1
	})
	m.Close(context.Background(), "node-1")

	// The stream becomes ready only after the close.
	br.mu.Lock()
	st := br.streams[0]
	br.mu.Unlock()
	st.mu.Lock()
	st.frame = solid(color.RGBA{G: 200, A: 255}, 100, 100)
	st.mu.Unlock()

	if err := <-done; !apperrors.IsCode(err, apperrors.CodeSessionClosed) {
		t.Fatalf("Configure raced by close: %v, want session closed", err)
	}
	if atomic.LoadInt64(&st.track.stops) == 0 {
		t.Fatal("stream acquired by the closed configure was never disposed")
	}
	if m.Len() != 0 {
		t.Fatalf("sessions = %d after close", m.Len())
	}

	// No render loop may survive the race.
	mark := frames.frames()
	time.Sleep(50 * time.Millisecond)
	if frames.frames() != mark {
		t.Fatal("render loop still delivering frames for a closed session")
	}
}

func TestSessionFailureIsIsolated(t *testing.T) {
	br := &fakeBridge{}
	m := NewManager(br, testConfig(), nil)
	defer m.CloseAll(context.Background())

	if _, err := m.Configure(context.Background(), Spec{
		ID: "healthy", Region: geom.Rect{Width: 100, Height: 100}, Mode: ModeLive,
	}); err != nil {
		t.Fatalf("Configure healthy: %v", err)
	}

	br.mu.Lock()
	br.acquireErr = apperrors.New(apperrors.CodePermissionDenied, "refused")
	br.mu.Unlock()

	if _, err := m.Configure(context.Background(), Spec{
		ID: "denied", Region: geom.Rect{Width: 100, Height: 100}, Mode: ModeLive,
	}); err == nil {
		t.Fatal("expected acquisition failure")
	}

	s, ok := m.Get("healthy")
	if !ok {
		t.Fatal("healthy session lost")
	}
	if state, _ := s.State(); state != StateActive {
		t.Fatalf("healthy session state = %s", state)
	}
}

func TestPauseSkipsFramesWithoutTeardown(t *testing.T) {
	br := &fakeBridge{}
	frames := &frameCounter{}
	m := NewManager(br, testConfig(), frames.sink)
	defer m.CloseAll(context.Background())

	s, err := m.Configure(context.Background(), Spec{
		ID: "node-1", Region: geom.Rect{Width: 100, Height: 100}, Mode: ModeLive,
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	waitCond(t, func() bool { return frames.frames() > 0 })

	s.SetPaused(true)
	time.Sleep(20 * time.Millisecond)
	mark := frames.frames()
	time.Sleep(40 * time.Millisecond)
	if frames.frames() != mark {
		t.Fatal("frames advanced while paused")
	}

	br.mu.Lock()
	st := br.streams[0]
	br.mu.Unlock()
	if atomic.LoadInt64(&st.track.stops) != 0 {
		t.Fatal("pause tore the stream down")
	}

	s.SetPaused(false)
	waitCond(t, func() bool { return frames.frames() > mark })
}
