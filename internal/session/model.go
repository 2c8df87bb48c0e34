package session

import (
	"time"

	"github.com/ChamsBouzaiene/shiva/internal/engine"
)

const (
	// DefaultTitle marks a session whose title has not been derived yet.
	DefaultTitle = "New Chat"
	// TitleMaxChars bounds a derived title before the ellipsis is added.
	TitleMaxChars = 50
	// TitleEllipsis is appended to titles cut at TitleMaxChars.
	TitleEllipsis = "..."
)

// Message is one stored turn. AudioRef points at a scratch speech file and is
// never persisted.
type Message struct {
	Role     engine.MessageRole `json:"role"`
	Content  string             `json:"content"`
	AudioRef string             `json:"-"`
}

// ChatMessage converts the stored turn into the provider-agnostic form.
func (m Message) ChatMessage() engine.ChatMessage {
	return engine.ChatMessage{Role: m.Role, Content: m.Content}
}

// AttachedFile is an uploaded file's extracted text, keyed by Filename within a session.
type AttachedFile struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
}

// Session represents one conversation thread.
type Session struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"created"`
	Messages  []Message      `json:"messages"`
	Files     []AttachedFile `json:"files"`
}

// HasFile reports whether a file with this name is attached.
func (s *Session) HasFile(name string) bool {
	for _, f := range s.Files {
		if f.Filename == name {
			return true
		}
	}
	return false
}

// TurnCount returns the number of user and assistant messages.
func (s *Session) TurnCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == engine.RoleUser || m.Role == engine.RoleAssistant {
			n++
		}
	}
	return n
}

func (s *Session) clone() *Session {
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	c.Files = append([]AttachedFile(nil), s.Files...)
	return &c
}

// SessionMeta is a lightweight representation for listing in the UI.
type SessionMeta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created"`
	Messages  int       `json:"messages"`
	Files     int       `json:"files"`
}

// Snapshot is the persisted form of one user's session collection.
// Order lists session ids by insertion.
type Snapshot struct {
	Version   int                 `json:"version"`
	CurrentID string              `json:"current_session_id"`
	Order     []string            `json:"order"`
	Sessions  map[string]*Session `json:"sessions"`
}

const snapshotVersion = 1
