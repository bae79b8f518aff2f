package stream

import (
	"log/slog"
	"sync"
)

// Registry maps session ids to live stream handles. Exactly one handle may
// exist per id: registering a replacement stops every track of the previous
// handle first, so a re-acquired capture never leaks the OS permission
// indicator of its predecessor.
type Registry struct {
	mu      sync.Mutex
	handles map[string]Stream
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]Stream)}
}

// Register stores a stream under the session id, disposing any previous
// stream registered for the same id.
func (r *Registry) Register(id string, s Stream) {
	r.mu.Lock()
	prev := r.handles[id]
	r.handles[id] = s
	r.mu.Unlock()

	if prev != nil {
		stopTracks(id, prev)
	}
}

// Get returns the stream for a session id.
func (r *Registry) Get(id string) (Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.handles[id]
	return s, ok
}

// Unregister stops the stream's tracks and removes the entry. Idempotent:
// widget-close and unmount teardown paths may both call it.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	s, ok := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()

	if ok {
		stopTracks(id, s)
	}
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Close disposes every handle. Used on service shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]Stream)
	r.mu.Unlock()

	for id, s := range handles {
		stopTracks(id, s)
	}
}

func stopTracks(id string, s Stream) {
	for _, t := range s.Tracks() {
		t.Stop()
	}
	s.Close()
	slog.Debug("stream disposed", "session", id)
}
