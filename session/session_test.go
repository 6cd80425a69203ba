package session

import (
	"testing"
	"time"
)

func TestNewSession_ReturnsUniqueIDs(t *testing.T) {
	s := New(0, 0)
	a := s.NewSession()
	b := s.NewSession()
	if a == b {
		t.Error("expected distinct session ids")
	}
	if s.Count() != 2 {
		t.Errorf("Count = %d, want 2", s.Count())
	}
}

func TestAppend_CreatesSessionImplicitly(t *testing.T) {
	s := New(0, 0)
	s.Append("sess1", "user", "hello")
	hist := s.History("sess1", 0)
	if len(hist) != 1 || hist[0].Content != "hello" {
		t.Fatalf("History = %+v", hist)
	}
}

func TestAppend_TrimsToMaxTurns(t *testing.T) {
	s := New(3, 0)
	id := s.NewSession()
	for i := 0; i < 5; i++ {
		s.Append(id, "user", string(rune('a'+i)))
	}
	hist := s.History(id, 0)
	if len(hist) != 3 {
		t.Fatalf("expected trimmed to 3 turns, got %d", len(hist))
	}
	if hist[0].Content != "c" || hist[2].Content != "e" {
		t.Errorf("expected the 3 most recent turns retained, got %+v", hist)
	}
}

func TestHistory_RespectsRequestedMaxTurns(t *testing.T) {
	s := New(10, 0)
	id := s.NewSession()
	for i := 0; i < 5; i++ {
		s.Append(id, "user", string(rune('a'+i)))
	}
	hist := s.History(id, 2)
	if len(hist) != 2 || hist[1].Content != "e" {
		t.Errorf("expected last 2 turns, got %+v", hist)
	}
}

func TestHistory_UnknownSessionReturnsEmpty(t *testing.T) {
	s := New(0, 0)
	if hist := s.History("nonexistent", 0); hist != nil {
		t.Errorf("expected nil history for unknown session, got %+v", hist)
	}
}

func TestHistory_AgedOutSessionReturnsEmpty(t *testing.T) {
	s := New(0, 1*time.Millisecond)
	id := s.NewSession()
	s.Append(id, "user", "hi")
	time.Sleep(5 * time.Millisecond)
	if hist := s.History(id, 0); hist != nil {
		t.Errorf("expected aged-out session to return empty history, got %+v", hist)
	}
}

func TestEvict_RemovesAgedSessionsOnly(t *testing.T) {
	s := New(0, 1*time.Millisecond)
	stale := s.NewSession()
	time.Sleep(5 * time.Millisecond)
	fresh := s.NewSession()

	removed := s.Evict()
	if removed != 1 {
		t.Errorf("Evict removed %d, want 1", removed)
	}
	if s.History(fresh, 0) == nil && s.Count() != 1 {
		t.Errorf("expected fresh session %q to survive eviction", fresh)
	}
	_ = stale
}
