// Package export writes a chat session in a portable format.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/shiva/internal/engine"
	"github.com/ChamsBouzaiene/shiva/internal/session"
)

// Exporter defines the interface for all export formats.
type Exporter interface {
	Export(doc *Document, w io.Writer) error
	Extension() string
}

// Formats lists the accepted format names.
func Formats() []string {
	return []string{"json", "yaml", "md"}
}

// NewExporter creates a new exporter based on format.
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: %s)", format, strings.Join(Formats(), ", "))
	}
}

// Document is the exported view of a session. Attachment contents are left
// out; only their metadata is kept.
type Document struct {
	ID       string    `json:"id" yaml:"id"`
	Title    string    `json:"title" yaml:"title"`
	Created  time.Time `json:"created" yaml:"created"`
	Messages []Turn    `json:"messages" yaml:"messages"`
	Files    []File    `json:"files,omitempty" yaml:"files,omitempty"`
}

// Turn is one exported message.
type Turn struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// File describes an attachment.
type File struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
	Size int64  `json:"size" yaml:"size"`
}

// NewDocument converts s. The system preamble is included only when
// withSystem is set.
func NewDocument(s *session.Session, withSystem bool) *Document {
	doc := &Document{
		ID:       s.ID,
		Title:    s.Title,
		Created:  s.CreatedAt.UTC(),
		Messages: make([]Turn, 0, len(s.Messages)),
	}
	for _, m := range s.Messages {
		if m.Role == engine.RoleSystem && !withSystem {
			continue
		}
		doc.Messages = append(doc.Messages, Turn{Role: string(m.Role), Content: m.Content})
	}
	for _, f := range s.Files {
		doc.Files = append(doc.Files, File{Name: f.Filename, Type: f.Type, Size: f.Size})
	}
	return doc
}

// Filename suggests a file name for the exported session.
func Filename(doc *Document, e Exporter) string {
	id := doc.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("shiva-%s.%s", id, e.Extension())
}
