package session

import "testing"

func TestEventStoreBoundedHistory(t *testing.T) {
	s := NewEventStore(3, 1)

	for i := 0; i < 5; i++ {
		s.Add("node-1", EventState, string(rune('a'+i)))
	}

	recent := s.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("history length = %d, want 3", len(recent))
	}
	if recent[0].Message != "c" || recent[2].Message != "e" {
		t.Fatalf("unexpected window: %q .. %q", recent[0].Message, recent[2].Message)
	}
}

func TestEventStoreEmitNeverBlocks(t *testing.T) {
	s := NewEventStore(10, 1)

	// Nobody is draining the channel; adds must still return.
	for i := 0; i < 20; i++ {
		s.Add("node-1", EventCapture, "snap")
	}

	if got := len(s.Recent(0)); got != 10 {
		t.Fatalf("history length = %d, want 10", got)
	}
}

func TestEventStoreRecentLimit(t *testing.T) {
	s := NewEventStore(10, 1)
	s.Add("a", EventState, "one")
	s.Add("a", EventState, "two")

	recent := s.Recent(1)
	if len(recent) != 1 || recent[0].Message != "two" {
		t.Fatalf("Recent(1) = %+v", recent)
	}
}
