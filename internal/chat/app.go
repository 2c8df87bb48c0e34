// Package chat wires the session store, the conversation assembler and the
// provider gateway into the operations a chat front end performs.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/shiva/internal/assembler"
	"github.com/ChamsBouzaiene/shiva/internal/config"
	"github.com/ChamsBouzaiene/shiva/internal/engine"
	"github.com/ChamsBouzaiene/shiva/internal/export"
	"github.com/ChamsBouzaiene/shiva/internal/extract"
	"github.com/ChamsBouzaiene/shiva/internal/providers"
	"github.com/ChamsBouzaiene/shiva/internal/search"
	"github.com/ChamsBouzaiene/shiva/internal/session"
	"github.com/ChamsBouzaiene/shiva/internal/speech"
)

// NoResponse replaces an empty successful reply.
const NoResponse = "No response."

// DefaultMaxUploadBytes bounds files read by AttachPath.
const DefaultMaxUploadBytes = 10 << 20

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrUnknownSession  = errors.New("no such session")
	ErrAmbiguousID     = errors.New("session id prefix is ambiguous")
	ErrUnknownProvider = errors.New("provider is not configured")
	ErrFileTooLarge    = errors.New("file is too large")
)

// Options configures an App. Sessions and Gateway are required.
type Options struct {
	Sessions     *session.Manager
	Gateway      *providers.Gateway
	Provider     providers.ProviderID
	Capabilities config.Capabilities

	Limits         assembler.Limits
	MaxFileChars   int
	Timeout        time.Duration
	MaxRetries     int
	MaxUploadBytes int64

	// Optional collaborators; nil disables the feature.
	Index       *search.Index
	Synthesizer *speech.Synthesizer
	Transcriber *speech.Transcriber
	Scratch     *speech.Scratch
}

// App is the explicit state of one user's chat: the session collection, the
// selected provider and the optional integrations.
type App struct {
	sessions *session.Manager
	gateway  *providers.Gateway
	provider providers.ProviderID
	caps     config.Capabilities

	limits         assembler.Limits
	maxFileChars   int
	timeout        time.Duration
	maxRetries     int
	maxUploadBytes int64

	index       *search.Index
	synth       *speech.Synthesizer
	transcriber *speech.Transcriber
	scratch     *speech.Scratch
}

// New builds an App. The search index is filled from the restored sessions.
func New(opts Options) *App {
	a := &App{
		sessions:       opts.Sessions,
		gateway:        opts.Gateway,
		provider:       opts.Provider,
		caps:           opts.Capabilities,
		limits:         opts.Limits,
		maxFileChars:   opts.MaxFileChars,
		timeout:        opts.Timeout,
		maxRetries:     opts.MaxRetries,
		maxUploadBytes: opts.MaxUploadBytes,
		transcriber:    opts.Transcriber,
		scratch:        opts.Scratch,
	}
	if a.maxFileChars <= 0 {
		a.maxFileChars = opts.Limits.MaxFileChars
	}
	if a.maxFileChars <= 0 {
		a.maxFileChars = assembler.DefaultMaxFileChars
	}
	if a.maxUploadBytes <= 0 {
		a.maxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Capabilities.TTS {
		a.synth = opts.Synthesizer
	}
	if opts.Capabilities.Search && opts.Index != nil {
		a.index = opts.Index
		n := a.index.IndexAll(a.sessions.List(""))
		slog.Debug("search index built", slog.Int("sessions", n))
	}
	return a
}

// Sessions exposes the underlying store.
func (a *App) Sessions() *session.Manager {
	return a.sessions
}

// Capabilities returns the integrations this App was started with.
func (a *App) Capabilities() config.Capabilities {
	return a.caps
}

// Provider returns the selected provider.
func (a *App) Provider() providers.ProviderID {
	return a.provider
}

// Providers lists the providers that can be selected.
func (a *App) Providers() []providers.ProviderID {
	return a.gateway.Providers()
}

// SetProvider selects the provider used by the next Send.
func (a *App) SetProvider(id providers.ProviderID) error {
	if !a.gateway.Has(id) {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	a.provider = id
	slog.Info("provider switched", slog.String("provider", string(id)))
	return nil
}

// Reply is the outcome of Send.
type Reply struct {
	Text       string
	AudioRef   string
	Completion providers.Completion
	Request    []engine.ChatMessage
}

// Send records text as a user turn, asks the provider for a reply and records
// that as an assistant turn. Provider failures come back as the reply text;
// only an empty message is an error.
func (a *App) Send(ctx context.Context, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyMessage
	}

	a.sessions.SetTitleFromMessage(text)
	a.sessions.AppendMessage(engine.RoleUser, text)

	current := a.sessions.Current()
	fileContext := assembler.FileContext(current.Files, a.maxFileChars)
	request := assembler.BuildRequest(a.sessions.SystemPrompt(), current, text, fileContext, a.limits)

	completion := a.gateway.Complete(ctx, providers.Request{
		Provider:   a.provider,
		Messages:   request,
		Timeout:    a.timeout,
		MaxRetries: a.maxRetries,
	})

	reply := Reply{Text: completion.Text, Completion: completion, Request: request}
	if completion.OK() && strings.TrimSpace(reply.Text) == "" {
		reply.Text = NoResponse
	}

	idx := a.sessions.AppendMessage(engine.RoleAssistant, reply.Text)

	if completion.OK() && a.synth.Enabled() {
		path, err := a.synth.Synthesize(ctx, reply.Text)
		if err != nil {
			slog.Warn("speech synthesis failed", slog.Any("error", err))
		} else {
			a.sessions.SetAudioRef(idx, path)
			reply.AudioRef = path
		}
	}

	a.reindex(a.sessions.CurrentID())
	return reply, nil
}

// AttachResult describes an upload.
type AttachResult struct {
	File      session.AttachedFile
	Attached  bool // false when a file with the same name was already attached
	Supported bool
	AsText    bool // unknown extension read as plain text
}

// Attach extracts data and attaches it to the active session. Files with an
// unknown extension are read as text when they look like text; binaries and
// unreadable files are attached with a placeholder as their content.
func (a *App) Attach(filename string, data []byte) AttachResult {
	filename = filepath.Base(filename)
	features := extract.Features{PDF: a.caps.PDF, DOCX: a.caps.DOCX}

	res := AttachResult{Supported: extract.IsSupported(filename, features)}
	res.AsText = !res.Supported && extract.LooksLikeText(filename, data)
	var content string
	if res.Supported || res.AsText {
		content = extract.ExtractContent(data, filename, features)
	} else {
		content = fmt.Sprintf("[%s: unsupported file type %s, %s]", filename, extract.FileType(filename), extract.HumanSize(int64(len(data))))
	}

	res.File = session.AttachedFile{
		Filename: filename,
		Content:  content,
		Size:     int64(len(data)),
		Type:     extract.FileType(filename),
	}
	res.Attached = a.sessions.AttachFile(res.File)
	if res.Attached {
		slog.Info("file attached",
			slog.String("file", filename),
			slog.String("size", extract.HumanSize(res.File.Size)),
			slog.Bool("supported", res.Supported),
			slog.Bool("as_text", res.AsText),
		)
	}
	return res
}

// AttachPath reads a file from disk and attaches it.
func (a *App) AttachPath(path string) (AttachResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return AttachResult{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return AttachResult{}, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > a.maxUploadBytes {
		return AttachResult{}, fmt.Errorf("%w: %s is %s (limit %s)", ErrFileTooLarge, path,
			extract.HumanSize(info.Size()), extract.HumanSize(a.maxUploadBytes))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return AttachResult{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return a.Attach(path, data), nil
}

// RemoveFile detaches a file from the active session.
func (a *App) RemoveFile(name string) bool {
	return a.sessions.RemoveFile(name)
}

// ClearFiles detaches every file from the active session.
func (a *App) ClearFiles() int {
	return a.sessions.ClearFiles()
}

// Transcribe turns a recording into text without sending it.
func (a *App) Transcribe(ctx context.Context, path string) (string, error) {
	if !a.caps.Transcription || !a.transcriber.Enabled() {
		return "", speech.ErrDisabled
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()
	return a.transcriber.Transcribe(ctx, filepath.Base(path), f)
}

// NewSession creates and activates an empty session.
func (a *App) NewSession() *session.Session {
	return a.sessions.Create()
}

// ResolveID expands a unique id prefix to a full session id.
func (a *App) ResolveID(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", ErrUnknownSession
	}
	if _, ok := a.sessions.Get(prefix); ok {
		return prefix, nil
	}
	var match string
	for _, s := range a.sessions.List("") {
		if strings.HasPrefix(s.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("%w: %s", ErrAmbiguousID, prefix)
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownSession, prefix)
	}
	return match, nil
}

// SwitchSession activates the session whose id starts with prefix.
func (a *App) SwitchSession(prefix string) (*session.Session, error) {
	id, err := a.ResolveID(prefix)
	if err != nil {
		return nil, err
	}
	return a.sessions.Switch(id), nil
}

// DeleteSession removes a session. It reports false when the session is the
// last one left.
func (a *App) DeleteSession(prefix string) (bool, error) {
	id, err := a.ResolveID(prefix)
	if err != nil {
		return false, err
	}
	if !a.sessions.Delete(id) {
		return false, nil
	}
	if a.index != nil {
		if err := a.index.RemoveSession(id); err != nil {
			slog.Warn("failed to drop session from search index", slog.String("session", id), slog.Any("error", err))
		}
	}
	return true, nil
}

// SearchResult is a full-text hit resolved against the session store.
type SearchResult struct {
	SessionID string
	Title     string
	Role      engine.MessageRole
	Snippet   string
	Score     float64
}

// SnippetChars bounds SearchResult.Snippet.
const SnippetChars = 80

// Search finds messages and titles matching query. Without the search
// capability it falls back to a title filter.
func (a *App) Search(query string) ([]SearchResult, error) {
	if a.index == nil {
		var out []SearchResult
		for _, s := range a.sessions.List(query) {
			out = append(out, SearchResult{SessionID: s.ID, Title: s.Title, Snippet: s.Title})
		}
		return out, nil
	}

	hits, err := a.index.Search(query, search.DefaultLimit)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		s, ok := a.sessions.Get(h.SessionID)
		if !ok {
			continue
		}
		r := SearchResult{SessionID: s.ID, Title: s.Title, Role: h.Role, Score: h.Score, Snippet: s.Title}
		if h.MessageIndex >= 0 && h.MessageIndex < len(s.Messages) {
			r.Snippet = snippet(s.Messages[h.MessageIndex].Content, query, SnippetChars)
		}
		out = append(out, r)
	}
	return out, nil
}

// snippet returns up to limit characters of text around the first word of
// query that occurs in it.
func snippet(text, query string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	start := 0
	lower := strings.ToLower(text)
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if i := strings.Index(lower, word); i >= 0 {
			start = len([]rune(lower[:i])) - limit/4
			break
		}
	}
	if start < 0 {
		start = 0
	}
	if start+limit > len(runes) {
		start = len(runes) - limit
	}

	out := string(runes[start : start+limit])
	if start > 0 {
		out = "..." + out
	}
	if start+limit < len(runes) {
		out += "..."
	}
	return out
}

// Export writes the session whose id starts with prefix (the active session
// when prefix is empty) in the given format.
func (a *App) Export(prefix, format string, w io.Writer) (string, error) {
	exporter, err := export.NewExporter(format)
	if err != nil {
		return "", err
	}

	var s *session.Session
	if prefix == "" {
		s = a.sessions.Current()
	} else {
		id, err := a.ResolveID(prefix)
		if err != nil {
			return "", err
		}
		s, _ = a.sessions.Get(id)
	}

	doc := export.NewDocument(s, false)
	if err := exporter.Export(doc, w); err != nil {
		return "", fmt.Errorf("failed to export session %s: %w", s.ID, err)
	}
	return export.Filename(doc, exporter), nil
}

// Close releases the search index and removes scratch audio.
func (a *App) Close() error {
	if a.scratch != nil {
		if n := a.scratch.Cleanup(); n > 0 {
			slog.Debug("scratch audio removed", slog.Int("files", n))
		}
	}
	if a.index != nil {
		return a.index.Close()
	}
	return nil
}

func (a *App) reindex(id string) {
	if a.index == nil {
		return
	}
	s, ok := a.sessions.Get(id)
	if !ok {
		return
	}
	if err := a.index.IndexSession(s); err != nil {
		slog.Warn("failed to update search index", slog.String("session", id), slog.Any("error", err))
	}
}
