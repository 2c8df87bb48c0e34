package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/shiva/internal/assembler"
	"github.com/ChamsBouzaiene/shiva/internal/config"
	"github.com/ChamsBouzaiene/shiva/internal/engine"
	"github.com/ChamsBouzaiene/shiva/internal/providers"
	"github.com/ChamsBouzaiene/shiva/internal/search"
	"github.com/ChamsBouzaiene/shiva/internal/session"
)

const systemPrompt = "You are Shiva AI."

// MockLLM answers every call with the next canned reply and records requests.
type MockLLM struct {
	replies []string
	errs    []error
	calls   [][]engine.ChatMessage
}

func (m *MockLLM) Chat(ctx context.Context, model string, messages []engine.ChatMessage, opts engine.ChatOptions) (engine.LLMResponse, error) {
	i := len(m.calls)
	m.calls = append(m.calls, messages)
	if i < len(m.errs) && m.errs[i] != nil {
		return engine.LLMResponse{}, m.errs[i]
	}
	text := "ok"
	if i < len(m.replies) {
		text = m.replies[i]
	}
	return engine.LLMResponse{
		Assistant:    engine.ChatMessage{Role: engine.RoleAssistant, Content: text},
		FinishReason: engine.FinishReasonStop,
	}, nil
}

func newTestApp(t *testing.T, llm engine.LLMClient, caps config.Capabilities) *App {
	t.Helper()
	backend, err := session.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sessions := session.Open(context.Background(), backend, "tester", systemPrompt)

	gw := providers.NewGateway(providers.WithBackoff(engine.RetryPolicy{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}))
	gw.Register(providers.ProviderSarvam, llm, "sarvam-m")

	opts := Options{
		Sessions:     sessions,
		Gateway:      gw,
		Provider:     providers.ProviderSarvam,
		Capabilities: caps,
		Limits:       assembler.DefaultLimits(),
		MaxRetries:   3,
	}
	if caps.Search {
		index, err := search.NewIndex()
		if err != nil {
			t.Fatal(err)
		}
		opts.Index = index
	}
	app := New(opts)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestApp_SendRecordsBothTurns(t *testing.T) {
	llm := &MockLLM{replies: []string{"Mass attracts mass."}}
	app := newTestApp(t, llm, config.Capabilities{})

	reply, err := app.Send(context.Background(), "Explain gravity")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != "Mass attracts mass." || !reply.Completion.OK() {
		t.Errorf("reply = %+v", reply)
	}

	s := app.Sessions().Current()
	if s.Title != "Explain gravity" {
		t.Errorf("title = %q", s.Title)
	}
	roles := []engine.MessageRole{engine.RoleSystem, engine.RoleUser, engine.RoleAssistant}
	if len(s.Messages) != len(roles) {
		t.Fatalf("messages = %+v", s.Messages)
	}
	for i, r := range roles {
		if s.Messages[i].Role != r {
			t.Errorf("message %d role = %s, want %s", i, s.Messages[i].Role, r)
		}
	}

	sent := llm.calls[0]
	if len(sent) != 2 || sent[0].Content != systemPrompt || sent[1].Content != "Explain gravity" {
		t.Errorf("request = %+v", sent)
	}
}

func TestApp_TitleSetOnce(t *testing.T) {
	app := newTestApp(t, &MockLLM{}, config.Capabilities{})
	ctx := context.Background()

	_, _ = app.Send(ctx, "first question")
	_, _ = app.Send(ctx, "second question")

	if got := app.Sessions().Current().Title; got != "first question" {
		t.Errorf("title = %q", got)
	}
}

func TestApp_SendEmpty(t *testing.T) {
	llm := &MockLLM{}
	app := newTestApp(t, llm, config.Capabilities{})
	if _, err := app.Send(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v", err)
	}
	if len(llm.calls) != 0 {
		t.Error("blank input must not reach the provider")
	}
}

func TestApp_EmptyReplyBecomesPlaceholder(t *testing.T) {
	app := newTestApp(t, &MockLLM{replies: []string{""}}, config.Capabilities{})
	reply, _ := app.Send(context.Background(), "hi")
	if reply.Text != NoResponse {
		t.Errorf("reply = %q", reply.Text)
	}
}

func TestApp_ProviderErrorIsAnAssistantTurn(t *testing.T) {
	apiErr := engine.WrapLLMError(fmt.Errorf("status code: 500"), 500, "internal error", "")
	llm := &MockLLM{errs: []error{apiErr}}
	app := newTestApp(t, llm, config.Capabilities{})

	reply, err := app.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("provider failures must not be returned as errors: %v", err)
	}
	if !strings.Contains(reply.Text, "500") || !strings.Contains(reply.Text, "internal error") {
		t.Errorf("reply = %q", reply.Text)
	}
	if len(llm.calls) != 1 {
		t.Errorf("500 must not be retried, got %d calls", len(llm.calls))
	}

	msgs := app.Sessions().Current().Messages
	if last := msgs[len(msgs)-1]; last.Role != engine.RoleAssistant || last.Content != reply.Text {
		t.Errorf("last stored message = %+v", last)
	}

	// the conversation keeps working afterwards
	if reply, _ := app.Send(context.Background(), "again"); !reply.Completion.OK() {
		t.Errorf("second send = %+v", reply)
	}
}

func TestApp_AttachedFileReachesProvider(t *testing.T) {
	llm := &MockLLM{}
	app := newTestApp(t, llm, config.Capabilities{})

	res := app.Attach("notes.txt", []byte("gravity pulls objects"))
	if !res.Attached || !res.Supported || res.File.Type != "TXT" || res.File.Size != 21 {
		t.Fatalf("attach = %+v", res)
	}
	if again := app.Attach("notes.txt", []byte("other")); again.Attached {
		t.Error("duplicate filename must not be attached twice")
	}

	_, _ = app.Send(context.Background(), "summarize the file")

	sent := llm.calls[0]
	last := sent[len(sent)-1].Content
	for _, want := range []string{"[FILE: notes.txt (TXT)]", "gravity pulls objects", "summarize the file"} {
		if !strings.Contains(last, want) {
			t.Errorf("final user entry missing %q: %q", want, last)
		}
	}

	// stored history holds only what the user typed
	msgs := app.Sessions().Current().Messages
	if msgs[1].Content != "summarize the file" {
		t.Errorf("stored user turn = %q", msgs[1].Content)
	}
}

func TestApp_AttachUnsupported(t *testing.T) {
	app := newTestApp(t, &MockLLM{}, config.Capabilities{})
	res := app.Attach("image.png", []byte{0x89, 'P', 'N', 'G'})
	if res.Supported || !res.Attached {
		t.Fatalf("attach = %+v", res)
	}
	if !strings.Contains(res.File.Content, "unsupported") || res.File.Type != "PNG" {
		t.Errorf("placeholder = %q", res.File.Content)
	}
}

func TestApp_AttachUnknownTextExtension(t *testing.T) {
	app := newTestApp(t, &MockLLM{}, config.Capabilities{})
	res := app.Attach("server.log", []byte{'b', 'o', 'o', 't', 0xff, ' ', 'o', 'k'})
	if res.Supported || !res.AsText || !res.Attached {
		t.Fatalf("attach = %+v", res)
	}
	if res.File.Content != "boot ok" {
		t.Errorf("content = %q, want invalid bytes dropped", res.File.Content)
	}
	if res.File.Type != "LOG" {
		t.Errorf("type = %q", res.File.Type)
	}

	bin := app.Attach("core.dat", []byte{0x7f, 'E', 'L', 'F', 0, 0})
	if bin.AsText || !strings.Contains(bin.File.Content, "unsupported") {
		t.Errorf("binary attach = %+v", bin)
	}
}

func TestApp_AttachPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	if err := os.WriteFile(path, []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	app := newTestApp(t, &MockLLM{}, config.Capabilities{})
	res, err := app.AttachPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if res.File.Filename != "data.json" || res.File.Content != "{\n  \"a\": 1\n}" {
		t.Errorf("file = %+v", res.File)
	}

	app.maxUploadBytes = 2
	if _, err := app.AttachPath(path); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("err = %v", err)
	}
	if _, err := app.AttachPath(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApp_RemoveAndClearFiles(t *testing.T) {
	app := newTestApp(t, &MockLLM{}, config.Capabilities{})
	app.Attach("a.txt", []byte("a"))
	app.Attach("b.txt", []byte("b"))

	if !app.RemoveFile("a.txt") || app.RemoveFile("a.txt") {
		t.Error("remove should succeed once and then be a no-op")
	}
	if n := app.ClearFiles(); n != 1 {
		t.Errorf("ClearFiles() = %d", n)
	}
	if files := app.Sessions().Current().Files; len(files) != 0 {
		t.Errorf("files = %+v", files)
	}
}

func TestApp_SessionLifecycle(t *testing.T) {
	app := newTestApp(t, &MockLLM{}, config.Capabilities{})
	first := app.Sessions().CurrentID()

	if ok, err := app.DeleteSession(first); ok || err != nil {
		t.Errorf("deleting the only session = %v, %v", ok, err)
	}

	second := app.NewSession()
	if app.Sessions().CurrentID() != second.ID {
		t.Error("new session should become active")
	}

	s, err := app.SwitchSession(first[:8])
	if err != nil || s.ID != first {
		t.Fatalf("SwitchSession(prefix) = %v, %v", s, err)
	}
	if _, err := app.SwitchSession("zzz-not-there"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("err = %v", err)
	}

	ok, err := app.DeleteSession(first)
	if !ok || err != nil {
		t.Fatalf("DeleteSession = %v, %v", ok, err)
	}
	if app.Sessions().CurrentID() != second.ID {
		t.Error("active pointer should move to the remaining session")
	}
}

func TestApp_SetProvider(t *testing.T) {
	app := newTestApp(t, &MockLLM{}, config.Capabilities{})
	if err := app.SetProvider(providers.ProviderOpenAI); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("err = %v", err)
	}
	if app.Provider() != providers.ProviderSarvam {
		t.Error("failed switch must keep the previous provider")
	}
}

func TestApp_Search(t *testing.T) {
	app := newTestApp(t, &MockLLM{replies: []string{"Objects fall because of gravity.", "Boil it for nine minutes."}}, config.Capabilities{Search: true})
	ctx := context.Background()

	_, _ = app.Send(ctx, "Why do apples fall?")
	app.NewSession()
	_, _ = app.Send(ctx, "How long for an egg?")

	results, err := app.Search("gravity")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Title != "Why do apples fall?" || results[0].Role != engine.RoleAssistant {
		t.Errorf("results = %+v", results)
	}

	id := app.Sessions().CurrentID()
	app.SwitchSession(results[0].SessionID)
	if ok, _ := app.DeleteSession(results[0].SessionID); !ok {
		t.Fatal("delete failed")
	}
	if results, _ := app.Search("gravity"); len(results) != 0 {
		t.Errorf("deleted session still found: %+v", results)
	}
	if app.Sessions().CurrentID() != id {
		t.Error("remaining session should be active")
	}
}

func TestApp_SearchWithoutIndexFiltersTitles(t *testing.T) {
	app := newTestApp(t, &MockLLM{}, config.Capabilities{})
	_, _ = app.Send(context.Background(), "Gravity basics")

	results, _ := app.Search("GRAVITY")
	if len(results) != 1 || results[0].Title != "Gravity basics" {
		t.Errorf("results = %+v", results)
	}
}

func TestApp_Export(t *testing.T) {
	app := newTestApp(t, &MockLLM{replies: []string{"Mass attracts mass."}}, config.Capabilities{})
	_, _ = app.Send(context.Background(), "Explain gravity")

	var buf bytes.Buffer
	name, err := app.Export("", "md", &buf)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(name, ".md") || !strings.Contains(buf.String(), "Mass attracts mass.") {
		t.Errorf("export %s:\n%s", name, buf.String())
	}
	if _, err := app.Export("", "docx", &buf); err == nil {
		t.Error("expected unsupported format error")
	}
}

func TestSnippet(t *testing.T) {
	text := strings.Repeat("a ", 50) + "gravity " + strings.Repeat("b ", 50)
	got := snippet(text, "gravity", 40)
	if !strings.Contains(got, "gravity") || !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") {
		t.Errorf("snippet = %q", got)
	}
	if snippet("short", "x", 40) != "short" {
		t.Error("short text must be returned whole")
	}
}
