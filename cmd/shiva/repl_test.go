package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/shiva/internal/assembler"
	"github.com/ChamsBouzaiene/shiva/internal/chat"
	"github.com/ChamsBouzaiene/shiva/internal/config"
	"github.com/ChamsBouzaiene/shiva/internal/engine"
	"github.com/ChamsBouzaiene/shiva/internal/providers"
	"github.com/ChamsBouzaiene/shiva/internal/session"
)

type echoLLM struct{}

func (echoLLM) Chat(ctx context.Context, model string, messages []engine.ChatMessage, opts engine.ChatOptions) (engine.LLMResponse, error) {
	last := messages[len(messages)-1].Content
	return engine.LLMResponse{
		Assistant:    engine.ChatMessage{Role: engine.RoleAssistant, Content: "echo: " + last},
		FinishReason: engine.FinishReasonStop,
	}, nil
}

func testEnv(t *testing.T) *runtimeEnv {
	t.Helper()
	gw := providers.NewGateway(providers.WithBackoff(engine.RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}))
	gw.Register(providers.ProviderSarvam, echoLLM{}, "sarvam-m")

	app := chat.New(chat.Options{
		Sessions: session.Open(context.Background(), nil, "tester", "sys"),
		Gateway:  gw,
		Provider: providers.ProviderSarvam,
		Limits:   assembler.DefaultLimits(),
	})
	return &runtimeEnv{
		Settings: &config.Settings{Provider: providers.ProviderSarvam},
		App:      app,
	}
}

func runScript(t *testing.T, env *runtimeEnv, lines ...string) string {
	t.Helper()
	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	if err := runREPL(context.Background(), env, in, &out); err != nil {
		t.Fatalf("runREPL: %v", err)
	}
	return out.String()
}

func TestREPL_SendAndSessions(t *testing.T) {
	env := testEnv(t)
	out := runScript(t, env,
		"Explain gravity",
		"/new",
		"/list",
		"/delete nope",
		"/quit",
		"never sent",
	)

	if !strings.Contains(out, "echo: Explain gravity") {
		t.Errorf("reply missing:\n%s", out)
	}
	if !strings.Contains(out, "2 session(s)") || !strings.Contains(out, "Explain gravity") {
		t.Errorf("listing missing:\n%s", out)
	}
	if !strings.Contains(out, "no such session") {
		t.Errorf("unknown id should be reported:\n%s", out)
	}
	if strings.Contains(out, "never sent") {
		t.Error("/quit should stop the loop")
	}
	if env.App.Sessions().Len() != 2 {
		t.Errorf("sessions = %d", env.App.Sessions().Len())
	}
}

func TestREPL_Files(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("gravity pulls objects"), 0o644); err != nil {
		t.Fatal(err)
	}

	env := testEnv(t)
	out := runScript(t, env,
		"/attach "+path,
		"/attach "+path,
		"/files",
		"summarize the file",
		"/remove notes.txt",
		"/remove notes.txt",
	)

	for _, want := range []string{
		"attached notes.txt (TXT",
		"notes.txt is already attached",
		"[FILE: notes.txt (TXT)]",
		"removed notes.txt",
		"notes.txt is not attached",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestREPL_Commands(t *testing.T) {
	env := testEnv(t)
	out := runScript(t, env,
		"/help",
		"/provider",
		"/provider openai",
		"/provider nonsense",
		"/bogus",
		"/delete "+env.App.Sessions().CurrentID(),
	)

	for _, want := range []string{
		"/attach <path>",
		"current: sarvam",
		"provider is not configured",
		"unknown provider",
		"unknown command /bogus",
		"the last chat cannot be deleted",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestREPL_Export(t *testing.T) {
	dir := t.TempDir()
	env := testEnv(t)
	target := filepath.Join(dir, "chat.md")
	runScript(t, env, "hello", "/export md "+target)

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "echo: hello") {
		t.Errorf("export = %s", data)
	}
}

func TestFormatCreated(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		t    time.Time
		want string
	}{
		{now.Add(-time.Hour), "Today 11:00"},
		{now.Add(-48 * time.Hour), "Wed 12:00"},
		{now.Add(-30 * 24 * time.Hour), "Apr 10 12:00"},
		{now.Add(-400 * 24 * time.Hour), "2023-04-06"},
	}
	for _, tt := range tests {
		if got := formatCreated(tt.t, now); got != tt.want {
			t.Errorf("formatCreated(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}
