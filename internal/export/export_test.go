package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChamsBouzaiene/shiva/internal/engine"
	"github.com/ChamsBouzaiene/shiva/internal/session"
)

func testSession() *session.Session {
	return &session.Session{
		ID:        "0123456789abcdef",
		Title:     "Explain gravity",
		CreatedAt: time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC),
		Messages: []session.Message{
			{Role: engine.RoleSystem, Content: "You are Shiva AI."},
			{Role: engine.RoleUser, Content: "Explain **gravity**"},
			{Role: engine.RoleAssistant, Content: "Mass attracts mass.\n```\nF = G**m1*m2\n```"},
		},
		Files: []session.AttachedFile{{Filename: "notes.txt", Content: "secret text", Size: 21, Type: "TXT"}},
	}
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		format  string
		ext     string
		wantErr bool
	}{
		{"json", "json", false},
		{"yaml", "yaml", false},
		{"YML", "yaml", false},
		{"md", "md", false},
		{"markdown", "md", false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			e, err := NewExporter(tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewExporter(%q) error = %v", tt.format, err)
			}
			if err == nil && e.Extension() != tt.ext {
				t.Errorf("Extension() = %q, want %q", e.Extension(), tt.ext)
			}
		})
	}
}

func TestNewDocument(t *testing.T) {
	doc := NewDocument(testSession(), false)
	if len(doc.Messages) != 2 || doc.Messages[0].Role != "user" {
		t.Errorf("system message should be skipped: %+v", doc.Messages)
	}
	if len(doc.Files) != 1 || doc.Files[0].Name != "notes.txt" {
		t.Errorf("files = %+v", doc.Files)
	}

	if withSystem := NewDocument(testSession(), true); len(withSystem.Messages) != 3 {
		t.Errorf("expected system message included, got %d", len(withSystem.Messages))
	}
	if got := Filename(doc, &MarkdownExporter{}); got != "shiva-01234567.md" {
		t.Errorf("Filename() = %q", got)
	}
}

func TestJSONExporter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONExporter{}).Export(NewDocument(testSession(), false), &buf); err != nil {
		t.Fatal(err)
	}
	var got Document
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Title != "Explain gravity" || len(got.Messages) != 2 {
		t.Errorf("decoded = %+v", got)
	}
	if strings.Contains(buf.String(), "secret text") {
		t.Error("attachment contents must not be exported")
	}
}

func TestYAMLExporter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&YAMLExporter{}).Export(NewDocument(testSession(), false), &buf); err != nil {
		t.Fatal(err)
	}
	var got map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if got["title"] != "Explain gravity" {
		t.Errorf("title = %v", got["title"])
	}
	if msgs, ok := got["messages"].([]interface{}); !ok || len(msgs) != 2 {
		t.Errorf("messages = %v", got["messages"])
	}
}

func TestMarkdownExporter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&MarkdownExporter{}).Export(NewDocument(testSession(), false), &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	for _, want := range []string{
		"# Explain gravity",
		"**Created:** 2024-05-01 10:30",
		"- notes.txt (TXT, 21 bytes)",
		"**You:**",
		"Explain \\*\\*gravity\\*\\*",
		"F = G**m1*m2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}
}
