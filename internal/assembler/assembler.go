// Package assembler turns a stored session plus the newest user input into
// the exact message list sent to a completion provider.
package assembler

import (
	"strings"
	"unicode/utf8"

	"github.com/ChamsBouzaiene/shiva/internal/engine"
	"github.com/ChamsBouzaiene/shiva/internal/session"
)

const (
	DefaultHistoryWindow   = 20
	DefaultMaxMessageChars = 4000
	DefaultMaxFileChars    = 3000

	// TruncationMarker follows any history message cut at MaxMessageChars.
	TruncationMarker = "\n... (truncated)"

	filesHeader = "\n\n=== UPLOADED FILES ===\n"
	filesFooter = "=== END FILES ===\n\n"
	fileCut     = "\n... (truncated)\n"
)

// Limits bound what is forwarded to a provider. Zero values fall back to
// the defaults; a negative HistoryWindow forwards no history.
type Limits struct {
	HistoryWindow   int
	MaxMessageChars int
	MaxFileChars    int
}

// DefaultLimits returns the limits used when nothing is configured.
func DefaultLimits() Limits {
	return Limits{
		HistoryWindow:   DefaultHistoryWindow,
		MaxMessageChars: DefaultMaxMessageChars,
		MaxFileChars:    DefaultMaxFileChars,
	}
}

func (l Limits) withDefaults() Limits {
	if l.HistoryWindow == 0 {
		l.HistoryWindow = DefaultHistoryWindow
	}
	if l.MaxMessageChars <= 0 {
		l.MaxMessageChars = DefaultMaxMessageChars
	}
	if l.MaxFileChars <= 0 {
		l.MaxFileChars = DefaultMaxFileChars
	}
	return l
}

// BuildRequest assembles [system, window of prior turns..., user(current)].
//
// The output after the system entry strictly alternates user/assistant,
// starts with user and ends with the current user turn. systemPrompt
// replaces whatever system entries the stored history holds.
func BuildRequest(systemPrompt string, s *session.Session, newUserText, fileContext string, limits Limits) []engine.ChatMessage {
	limits = limits.withDefaults()

	history := priorTurns(s, newUserText)
	history = window(history, limits.HistoryWindow)

	out := make([]engine.ChatMessage, 0, len(history)+2)
	out = append(out, engine.ChatMessage{Role: engine.RoleSystem, Content: systemPrompt})

	for _, m := range history {
		out = append(out, engine.ChatMessage{
			Role:    m.Role,
			Content: Truncate(m.Content, limits.MaxMessageChars),
		})
	}

	current := newUserText
	if fileContext != "" {
		current = fileContext + newUserText
	}
	out = append(out, engine.ChatMessage{Role: engine.RoleUser, Content: current})

	return RepairAlternation(out)
}

// priorTurns returns the stored user/assistant messages. The trailing user
// message is dropped when it is the turn being sent now, since callers store
// the user message before assembling.
func priorTurns(s *session.Session, newUserText string) []session.Message {
	if s == nil {
		return nil
	}
	turns := make([]session.Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.Role == engine.RoleUser || m.Role == engine.RoleAssistant {
			turns = append(turns, m)
		}
	}
	if n := len(turns); n > 0 && turns[n-1].Role == engine.RoleUser && turns[n-1].Content == newUserText {
		turns = turns[:n-1]
	}
	return turns
}

func window(turns []session.Message, size int) []session.Message {
	if size < 0 {
		return nil
	}
	if len(turns) > size {
		return turns[len(turns)-size:]
	}
	return turns
}

// RepairAlternation enforces strict user/assistant alternation after the
// leading system entry while keeping the final message in place.
//
// Walking backwards from the last entry, any message whose role equals the
// role of the message kept after it is dropped, then a leading assistant is
// dropped. The result starts with user and ends with the original last entry.
func RepairAlternation(msgs []engine.ChatMessage) []engine.ChatMessage {
	if len(msgs) == 0 {
		return msgs
	}

	var system []engine.ChatMessage
	body := msgs
	for len(body) > 0 && body[0].Role == engine.RoleSystem {
		if system == nil {
			system = body[:1]
		}
		body = body[1:]
	}

	kept := make([]engine.ChatMessage, 0, len(body))
	for i := len(body) - 1; i >= 0; i-- {
		m := body[i]
		if m.Role != engine.RoleUser && m.Role != engine.RoleAssistant {
			continue
		}
		if len(kept) > 0 && kept[len(kept)-1].Role == m.Role {
			continue
		}
		kept = append(kept, m)
	}
	if n := len(kept); n > 0 && kept[n-1].Role == engine.RoleAssistant {
		kept = kept[:n-1]
	}

	out := make([]engine.ChatMessage, 0, len(system)+len(kept))
	out = append(out, system...)
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i])
	}
	return out
}

// Truncate cuts s to limit characters and appends TruncationMarker when it
// had to cut.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + TruncationMarker
}

// FileContext renders attached files as a delimited block placed before the
// user's text. It returns "" when there are no files.
func FileContext(files []session.AttachedFile, maxFileChars int) string {
	if len(files) == 0 {
		return ""
	}
	if maxFileChars <= 0 {
		maxFileChars = DefaultMaxFileChars
	}

	var b strings.Builder
	b.WriteString(filesHeader)
	for _, f := range files {
		fileType := f.Type
		if fileType == "" {
			fileType = "FILE"
		}
		b.WriteString("\n[FILE: ")
		b.WriteString(f.Filename)
		b.WriteString(" (")
		b.WriteString(fileType)
		b.WriteString(")]\n")

		if utf8.RuneCountInString(f.Content) > maxFileChars {
			b.WriteString(string([]rune(f.Content)[:maxFileChars]))
			b.WriteString(fileCut)
		} else {
			b.WriteString(f.Content)
		}
	}
	b.WriteString(filesFooter)
	return b.String()
}
