package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSynthesizer_WritesTrackedMP3(t *testing.T) {
	var input string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Input string `json:"input"`
			Voice string `json:"voice"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		input = req.Input
		if req.Voice != "nova" {
			t.Errorf("voice = %q", req.Voice)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3fake-mp3"))
	}))
	defer srv.Close()

	scratch, err := NewScratch(filepath.Join(t.TempDir(), "tmp"))
	if err != nil {
		t.Fatal(err)
	}
	s := NewSynthesizer(Config{APIKey: "k", BaseURL: srv.URL, Voice: "Nova"}, scratch, true)

	long := strings.Repeat("é", MaxSpeechChars+100)
	path, err := s.Synthesize(context.Background(), long)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if utf8.RuneCountInString(input) != MaxSpeechChars {
		t.Errorf("spoke %d characters, want %d", utf8.RuneCountInString(input), MaxSpeechChars)
	}
	if filepath.Ext(path) != ".mp3" {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "ID3fake-mp3" {
		t.Errorf("audio file = %q, %v", data, err)
	}

	if n := scratch.Cleanup(); n != 1 {
		t.Errorf("Cleanup removed %d files", n)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("scratch file should be gone after Cleanup")
	}
}

func TestSynthesizer_Disabled(t *testing.T) {
	scratch, _ := NewScratch(t.TempDir())
	for name, s := range map[string]*Synthesizer{
		"capability off": NewSynthesizer(Config{APIKey: "k"}, scratch, false),
		"no key":         NewSynthesizer(Config{}, scratch, true),
		"nil":            nil,
	} {
		if s.Enabled() {
			t.Errorf("%s: should be disabled", name)
		}
		if _, err := s.Synthesize(context.Background(), "hi"); !errors.Is(err, ErrDisabled) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestSynthesizer_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	scratch, _ := NewScratch(t.TempDir())
	s := NewSynthesizer(Config{APIKey: "k", BaseURL: srv.URL}, scratch, true)
	if _, err := s.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	if len(scratch.Files()) != 0 {
		t.Error("failed synthesis must not leave scratch files")
	}
}

func TestTranscriber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			if header.Filename != "note.wav" || string(data) != "RIFF" {
				t.Errorf("upload = %s %q", header.Filename, data)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" explain gravity "}`))
	}))
	defer srv.Close()

	tr := NewTranscriber(Config{APIKey: "k", BaseURL: srv.URL}, true)
	got, err := tr.Transcribe(context.Background(), "note.wav", strings.NewReader("RIFF"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "explain gravity" {
		t.Errorf("text = %q", got)
	}

	if _, err := NewTranscriber(Config{APIKey: "k"}, false).Transcribe(context.Background(), "a.wav", strings.NewReader("")); !errors.Is(err, ErrDisabled) {
		t.Errorf("disabled transcriber err = %v", err)
	}
}
