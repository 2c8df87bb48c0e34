// Package speech wraps the OpenAI audio endpoints: text-to-speech for
// assistant replies and Whisper transcription for voice input.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// MaxSpeechChars is how much of a reply is spoken.
const MaxSpeechChars = 500

// ErrDisabled is returned when the capability is switched off.
var ErrDisabled = errors.New("speech capability disabled")

// Config configures both directions.
type Config struct {
	APIKey  string
	BaseURL string // empty means api.openai.com
	Voice   string
	Model   string // tts-1 by default
}

func newClient(cfg Config) *openai.Client {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(c)
}

// Synthesizer turns assistant replies into mp3 scratch files.
type Synthesizer struct {
	client  *openai.Client
	scratch *Scratch
	voice   openai.SpeechVoice
	model   openai.SpeechModel
	enabled bool
}

// NewSynthesizer returns a synthesizer writing into scratch. When enabled is
// false every call returns ErrDisabled.
func NewSynthesizer(cfg Config, scratch *Scratch, enabled bool) *Synthesizer {
	s := &Synthesizer{
		scratch: scratch,
		voice:   openai.VoiceAlloy,
		model:   openai.TTSModel1,
		enabled: enabled && cfg.APIKey != "" && scratch != nil,
	}
	if cfg.Voice != "" {
		s.voice = openai.SpeechVoice(strings.ToLower(cfg.Voice))
	}
	if cfg.Model != "" {
		s.model = openai.SpeechModel(cfg.Model)
	}
	if s.enabled {
		s.client = newClient(cfg)
	}
	return s
}

// Enabled reports whether Synthesize can succeed.
func (s *Synthesizer) Enabled() bool {
	return s != nil && s.enabled
}

// Synthesize speaks the first MaxSpeechChars characters of text and returns
// the path of the mp3 file.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("nothing to speak")
	}
	if utf8.RuneCountInString(text) > MaxSpeechChars {
		text = string([]rune(text)[:MaxSpeechChars])
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return "", fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Close()

	f, err := s.scratch.Create("reply-*.mp3")
	if err != nil {
		return "", err
	}
	defer f.Close()

	n, err := io.Copy(f, resp)
	if err != nil {
		return "", fmt.Errorf("failed to write speech audio: %w", err)
	}

	slog.Debug("speech synthesized", slog.String("file", filepath.Base(f.Name())), slog.Int64("bytes", n))
	return f.Name(), nil
}

// Transcriber converts recorded audio to text.
type Transcriber struct {
	client  *openai.Client
	enabled bool
}

// NewTranscriber returns a Whisper transcriber.
func NewTranscriber(cfg Config, enabled bool) *Transcriber {
	t := &Transcriber{enabled: enabled && cfg.APIKey != ""}
	if t.enabled {
		t.client = newClient(cfg)
	}
	return t
}

// Enabled reports whether Transcribe can succeed.
func (t *Transcriber) Enabled() bool {
	return t != nil && t.enabled
}

// Transcribe sends the audio in r (named filename, whose extension tells
// Whisper the format) and returns the recognised text.
func (t *Transcriber) Transcribe(ctx context.Context, filename string, r io.Reader) (string, error) {
	if !t.Enabled() {
		return "", ErrDisabled
	}
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: filename,
		Reader:   r,
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
