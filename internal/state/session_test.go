package state

import (
	"testing"
	"time"
)

func TestSessionStoreTouchAndEnd(t *testing.T) {
	var ended []string
	s := NewSessionStore(func(id string) { ended = append(ended, id) })

	if _, err := s.Touch("s1", "ws1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Touch("s1", "ws2"); err == nil {
		t.Error("session reused across workspaces")
	}
	if _, err := s.Get("s1"); err != nil {
		t.Fatal(err)
	}

	s.End("s1")
	s.End("s1")
	if len(ended) != 1 || ended[0] != "s1" {
		t.Errorf("onEnd calls = %v, want [s1]", ended)
	}
	if _, err := s.Get("s1"); err == nil {
		t.Error("ended session still present")
	}
	if _, err := s.Touch("", "ws1"); err == nil {
		t.Error("empty id accepted")
	}
}

func TestSessionStoreExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var ended []string
	s := NewSessionStore(func(id string) { ended = append(ended, id) })
	s.now = func() time.Time { return now }

	s.Touch("old", "ws1")
	now = now.Add(20 * time.Minute)
	s.Touch("fresh", "ws1")
	now = now.Add(5 * time.Minute)

	got := s.Expire(15 * time.Minute)
	if len(got) != 1 || got[0] != "old" {
		t.Errorf("expired = %v, want [old]", got)
	}
	if len(ended) != 1 {
		t.Errorf("onEnd calls = %v", ended)
	}
	if l := s.List(); len(l) != 1 || l[0].ID != "fresh" {
		t.Errorf("remaining = %v", l)
	}
}
