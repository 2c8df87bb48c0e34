package search

import (
	"testing"

	"github.com/ChamsBouzaiene/shiva/internal/engine"
	"github.com/ChamsBouzaiene/shiva/internal/session"
)

func newSession(id, title string, texts ...string) *session.Session {
	s := &session.Session{
		ID:       id,
		Title:    title,
		Messages: []session.Message{{Role: engine.RoleSystem, Content: "gravity system prompt"}},
	}
	for i, text := range texts {
		role := engine.RoleUser
		if i%2 == 1 {
			role = engine.RoleAssistant
		}
		s.Messages = append(s.Messages, session.Message{Role: role, Content: text})
	}
	return s
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	x, err := NewIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = x.Close() })
	return x
}

func TestIndex_SearchMessages(t *testing.T) {
	x := newTestIndex(t)
	sessions := []*session.Session{
		newSession("a", "Physics", "Explain gravity", "Gravity pulls objects together"),
		newSession("b", "Cooking", "How long to boil an egg", "About nine minutes"),
	}
	if n := x.IndexAll(sessions); n != 2 {
		t.Fatalf("indexed %d sessions", n)
	}

	hits, err := x.Search("gravity", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits (system prompt excluded), got %+v", hits)
	}
	for _, h := range hits {
		if h.SessionID != "a" || h.MessageIndex < 1 {
			t.Errorf("unexpected hit %+v", h)
		}
	}

	hits, _ = x.Search("egg", 0)
	if len(hits) != 1 || hits[0].SessionID != "b" || hits[0].MessageIndex != 1 || hits[0].Role != engine.RoleUser {
		t.Errorf("egg hits = %+v", hits)
	}
}

func TestIndex_TitleHits(t *testing.T) {
	x := newTestIndex(t)
	if err := x.IndexSession(newSession("a", "Quantum questions", "hello")); err != nil {
		t.Fatal(err)
	}
	if err := x.IndexSession(newSession("b", session.DefaultTitle, "hello")); err != nil {
		t.Fatal(err)
	}

	hits, _ := x.Search("quantum", 0)
	if len(hits) != 1 || hits[0].MessageIndex != TitleDoc {
		t.Errorf("title hits = %+v", hits)
	}
	if hits, _ := x.Search("new chat", 0); len(hits) != 0 {
		t.Errorf("sentinel titles must not be indexed: %+v", hits)
	}
}

func TestIndex_ReindexAndRemove(t *testing.T) {
	x := newTestIndex(t)
	s := newSession("a", "t", "first draft about comets")
	_ = x.IndexSession(s)

	s.Messages = s.Messages[:1]
	s.Messages = append(s.Messages, session.Message{Role: engine.RoleUser, Content: "asteroids only"})
	_ = x.IndexSession(s)

	if hits, _ := x.Search("comets", 0); len(hits) != 0 {
		t.Errorf("stale documents after reindex: %+v", hits)
	}
	if hits, _ := x.Search("asteroids", 0); len(hits) != 1 {
		t.Errorf("reindexed content not found: %+v", hits)
	}

	if err := x.RemoveSession("a"); err != nil {
		t.Fatal(err)
	}
	if hits, _ := x.Search("asteroids", 0); len(hits) != 0 {
		t.Errorf("removed session still searchable: %+v", hits)
	}
	if err := x.RemoveSession("missing"); err != nil {
		t.Errorf("removing an unknown session should be a no-op: %v", err)
	}
}

func TestIndex_EmptyQuery(t *testing.T) {
	x := newTestIndex(t)
	hits, err := x.Search("   ", 0)
	if err != nil || hits != nil {
		t.Errorf("Search(blank) = %v, %v", hits, err)
	}
}

func TestParseDocID(t *testing.T) {
	tests := []struct {
		id      string
		session string
		msg     int
		ok      bool
	}{
		{"abc#3", "abc", 3, true},
		{"abc#title", "abc", TitleDoc, true},
		{"a#b#7", "a#b", 7, true},
		{"nohash", "", 0, false},
		{"abc#x", "", 0, false},
	}
	for _, tt := range tests {
		s, m, ok := parseDocID(tt.id)
		if s != tt.session || m != tt.msg || ok != tt.ok {
			t.Errorf("parseDocID(%q) = %q, %d, %v", tt.id, s, m, ok)
		}
	}
	if docID("abc", TitleDoc) != "abc#title" || docID("abc", 2) != "abc#2" {
		t.Error("docID mismatch")
	}
}
