package session

import (
	"sync"
	"time"
)

// Event kinds.
const (
	EventState   = "state"
	EventCapture = "capture"
	EventError   = "error"
)

// Event is one observable session happening, e.g. a state change or an
// accepted snapshot capture.
type Event struct {
	SessionID string
	Kind      string
	Message   string
	At        time.Time
}

// EventStore keeps a bounded in-memory history of session events and fans
// them out on a channel for live consumers.
type EventStore struct {
	mu       sync.RWMutex
	entries  []Event
	maxSize  int
	eventsCh chan Event
}

// NewEventStore creates a store holding at most maxEntries events.
func NewEventStore(maxEntries, eventBuffer int) *EventStore {
	return &EventStore{
		entries:  make([]Event, 0, maxEntries),
		maxSize:  maxEntries,
		eventsCh: make(chan Event, eventBuffer),
	}
}

// Add stores an event and emits it to live consumers.
func (s *EventStore) Add(sessionID, kind, message string) {
	ev := Event{SessionID: sessionID, Kind: kind, Message: message, At: time.Now()}

	s.mu.Lock()
	s.entries = append(s.entries, ev)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	s.mu.Unlock()

	s.Emit(ev)
}

// Recent returns up to n most recent events, newest last.
func (s *EventStore) Recent(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]Event, n)
	copy(out, s.entries[len(s.entries)-n:])
	return out
}

// Events returns the live event channel.
func (s *EventStore) Events() <-chan Event {
	return s.eventsCh
}

// Emit sends an event without blocking; slow consumers lose events rather
// than stalling session work.
func (s *EventStore) Emit(ev Event) {
	select {
	case s.eventsCh <- ev:
	default:
	}
}
