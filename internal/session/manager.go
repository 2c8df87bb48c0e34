package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/shiva/internal/engine"
)

// Backend persists one user's Snapshot. Load returns (nil, nil) when the
// user has no saved state yet.
type Backend interface {
	Load(ctx context.Context, userID string) (*Snapshot, error)
	Save(ctx context.Context, userID string, snap *Snapshot) error
	Close() error
}

// Manager owns a user's session collection and the active-session pointer.
//
// Every mutation is followed by a best-effort write to the Backend; write
// failures are logged and never returned. Method calls are serialised, but two
// Managers sharing a Backend and user id will overwrite each other.
type Manager struct {
	mu sync.Mutex

	backend      Backend
	userID       string
	systemPrompt string
	now          func() time.Time
	newID        func() string

	sessions  map[string]*Session
	order     []string // insertion order
	currentID string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides uuid-based ids.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

// NewManager creates an empty collection. Call Restore and then EnsureSession
// before use. backend may be nil for a purely in-memory collection.
func NewManager(backend Backend, userID, systemPrompt string, opts ...Option) *Manager {
	m := &Manager{
		backend:      backend,
		userID:       userID,
		systemPrompt: systemPrompt,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
		sessions:     make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open restores the user's collection and guarantees at least one session.
func Open(ctx context.Context, backend Backend, userID, systemPrompt string, opts ...Option) *Manager {
	m := NewManager(backend, userID, systemPrompt, opts...)
	m.Restore(ctx)
	m.EnsureSession()
	return m
}

// UserID returns the identifier the collection is persisted under.
func (m *Manager) UserID() string {
	return m.userID
}

// SystemPrompt returns the preamble seeded into new sessions.
func (m *Manager) SystemPrompt() string {
	return m.systemPrompt
}

// Create allocates a new session, makes it active and persists.
func (m *Manager) Create() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.createLocked()
	m.persistLocked()
	return s.clone()
}

func (m *Manager) createLocked() *Session {
	s := &Session{
		ID:        m.newID(),
		Title:     DefaultTitle,
		CreatedAt: m.now(),
		Messages:  []Message{{Role: engine.RoleSystem, Content: m.systemPrompt}},
		Files:     []AttachedFile{},
	}
	m.sessions[s.ID] = s
	m.order = append(m.order, s.ID)
	m.currentID = s.ID
	slog.Debug("session created", slog.String("session_id", s.ID))
	return s
}

// EnsureSession creates a session when the collection is empty and returns
// the active one.
func (m *Manager) EnsureSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.activeLocked().clone()
}

// activeLocked returns the active session, creating one if the collection
// is empty.
func (m *Manager) activeLocked() *Session {
	if s, ok := m.sessions[m.currentID]; ok {
		return s
	}
	if len(m.order) > 0 {
		m.currentID = m.order[0]
		return m.sessions[m.currentID]
	}
	s := m.createLocked()
	m.persistLocked()
	return s
}

// Switch makes id the active session. id must be a key of the collection;
// anything else is a caller bug and panics.
func (m *Manager) Switch(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		panic(fmt.Sprintf("session: switch to unknown session %q", id))
	}
	m.currentID = id
	m.persistLocked()
	return s.clone()
}

// Delete removes a session. The last remaining session is never removed and
// false is returned. Deleting the active session moves the pointer to the
// oldest remaining session by insertion order.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	if len(m.sessions) <= 1 {
		return false
	}

	delete(m.sessions, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.currentID == id {
		m.currentID = m.order[0]
	}
	slog.Debug("session deleted", slog.String("session_id", id), slog.String("current", m.currentID))
	m.persistLocked()
	return true
}

// List returns sessions newest first. A non-empty filter keeps only sessions
// whose title contains it, ignoring case. Equal timestamps keep insertion order.
func (m *Manager) List(filter string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(filter))
	out := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		s := m.sessions[id]
		if needle != "" && !strings.Contains(strings.ToLower(s.Title), needle) {
			continue
		}
		out = append(out, s.clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Meta returns List(filter) reduced to listing metadata.
func (m *Manager) Meta(filter string) []SessionMeta {
	sessions := m.List(filter)
	metas := make([]SessionMeta, 0, len(sessions))
	for _, s := range sessions {
		metas = append(metas, SessionMeta{
			ID:        s.ID,
			Title:     s.Title,
			CreatedAt: s.CreatedAt,
			Messages:  s.TurnCount(),
			Files:     len(s.Files),
		})
	}
	return metas
}

// Current returns a copy of the active session.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked().clone()
}

// CurrentID returns the active session id.
func (m *Manager) CurrentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked().ID
}

// Get returns a copy of the session with this id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Len returns the number of sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// AppendMessage adds a turn to the active session and returns its index.
func (m *Manager) AppendMessage(role engine.MessageRole, content string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.activeLocked()
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
	m.persistLocked()
	return len(s.Messages) - 1
}

// SetAudioRef attaches a speech scratch file to a message of the active session.
func (m *Manager) SetAudioRef(index int, ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.activeLocked()
	if index < 0 || index >= len(s.Messages) {
		return
	}
	s.Messages[index].AudioRef = ref
}

// SetTitleFromMessage derives the active session's title from text. Only the
// DefaultTitle sentinel is ever replaced, so later calls are no-ops.
func (m *Manager) SetTitleFromMessage(text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.activeLocked()
	if s.Title != DefaultTitle {
		return false
	}
	title := GenerateTitle(text)
	if title == "" {
		return false
	}
	s.Title = title
	m.persistLocked()
	return true
}

// GenerateTitle shortens a first message into a session title.
func GenerateTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= TitleMaxChars {
		return text
	}
	return string([]rune(text)[:TitleMaxChars]) + TitleEllipsis
}

// AttachFile adds f to the active session. A file with the same name already
// attached is left in place and false is returned.
func (m *Manager) AttachFile(f AttachedFile) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.activeLocked()
	if s.HasFile(f.Filename) {
		return false
	}
	s.Files = append(s.Files, f)
	m.persistLocked()
	return true
}

// RemoveFile detaches every file named name from the active session.
// Removing an absent file is a no-op.
func (m *Manager) RemoveFile(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.activeLocked()
	kept := s.Files[:0]
	for _, f := range s.Files {
		if f.Filename != name {
			kept = append(kept, f)
		}
	}
	removed := len(kept) != len(s.Files)
	s.Files = kept
	if removed {
		m.persistLocked()
	}
	return removed
}

// ClearFiles detaches all files from the active session.
func (m *Manager) ClearFiles() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.activeLocked()
	n := len(s.Files)
	s.Files = []AttachedFile{}
	if n > 0 {
		m.persistLocked()
	}
	return n
}

// Persist writes the collection to the backend. Failures are logged.
func (m *Manager) Persist() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistLocked()
}

func (m *Manager) persistLocked() {
	if m.backend == nil {
		return
	}
	snap := m.snapshotLocked()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.backend.Save(ctx, m.userID, snap); err != nil {
		slog.Warn("failed to persist sessions",
			slog.String("user", m.userID),
			slog.Any("error", err),
		)
	}
}

// Snapshot returns a deep copy of the collection in its persisted form.
func (m *Manager) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Version:   snapshotVersion,
		CurrentID: m.currentID,
		Order:     append([]string(nil), m.order...),
		Sessions:  make(map[string]*Session, len(m.sessions)),
	}
	for id, s := range m.sessions {
		snap.Sessions[id] = s.clone()
	}
	return snap
}

// Restore replaces the in-memory collection with the persisted one. A missing,
// unreadable or corrupt snapshot yields an empty collection. Returns the
// number of sessions restored.
func (m *Manager) Restore(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[string]*Session)
	m.order = nil
	m.currentID = ""

	if m.backend == nil {
		return 0
	}

	snap, err := m.backend.Load(ctx, m.userID)
	if err != nil {
		slog.Warn("failed to restore sessions, starting empty",
			slog.String("user", m.userID),
			slog.Any("error", err),
		)
		return 0
	}
	if snap == nil {
		return 0
	}

	m.loadLocked(snap)
	slog.Debug("sessions restored", slog.String("user", m.userID), slog.Int("count", len(m.sessions)))
	return len(m.sessions)
}

// loadLocked adopts snap, repairing anything that would break the
// collection's invariants.
func (m *Manager) loadLocked(snap *Snapshot) {
	seen := make(map[string]bool, len(snap.Sessions))
	adopt := func(id string) {
		s, ok := snap.Sessions[id]
		if !ok || s == nil || seen[id] {
			return
		}
		seen[id] = true
		s = s.clone()
		s.ID = id
		if s.Title == "" {
			s.Title = DefaultTitle
		}
		if len(s.Messages) == 0 || s.Messages[0].Role != engine.RoleSystem {
			s.Messages = append([]Message{{Role: engine.RoleSystem, Content: m.systemPrompt}}, s.Messages...)
		}
		if s.Files == nil {
			s.Files = []AttachedFile{}
		}
		m.sessions[id] = s
		m.order = append(m.order, id)
	}

	for _, id := range snap.Order {
		adopt(id)
	}

	// Sessions missing from Order go last, oldest first.
	var rest []*Session
	for id, s := range snap.Sessions {
		if !seen[id] && s != nil {
			rest = append(rest, &Session{ID: id, CreatedAt: s.CreatedAt})
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].CreatedAt.Equal(rest[j].CreatedAt) {
			return rest[i].ID < rest[j].ID
		}
		return rest[i].CreatedAt.Before(rest[j].CreatedAt)
	})
	for _, s := range rest {
		adopt(s.ID)
	}

	if _, ok := m.sessions[snap.CurrentID]; ok {
		m.currentID = snap.CurrentID
	} else if len(m.order) > 0 {
		m.currentID = m.order[0]
	}
}
