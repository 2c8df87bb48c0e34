package export

import (
	"fmt"
	"io"
	"strings"
)

// MarkdownExporter exports sessions as a readable transcript.
type MarkdownExporter struct{}

var roleLabels = map[string]string{
	"system":    "System",
	"user":      "You",
	"assistant": "Assistant",
}

// Export writes doc as Markdown.
func (e *MarkdownExporter) Export(doc *Document, w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	fmt.Fprintf(&b, "**Session:** %s  \n", doc.ID)
	fmt.Fprintf(&b, "**Created:** %s  \n", doc.Created.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "**Messages:** %d\n\n", len(doc.Messages))

	if len(doc.Files) > 0 {
		b.WriteString("**Files:**\n\n")
		for _, f := range doc.Files {
			fmt.Fprintf(&b, "- %s (%s, %d bytes)\n", f.Name, f.Type, f.Size)
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n\n")

	for i, m := range doc.Messages {
		label, ok := roleLabels[m.Role]
		if !ok {
			label = m.Role
		}
		fmt.Fprintf(&b, "**%s:**\n\n%s\n\n", label, escapeMarkdown(m.Content))
		if i < len(doc.Messages)-1 {
			b.WriteString("---\n\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// escapeMarkdown escapes emphasis markers outside fenced code blocks.
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCodeBlock := false

	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCodeBlock = !inCodeBlock
			continue
		}
		if inCodeBlock {
			continue
		}
		line = strings.ReplaceAll(line, "**", "\\*\\*")
		lines[i] = strings.ReplaceAll(line, "__", "\\_\\_")
	}

	return strings.Join(lines, "\n")
}

// Extension returns the file extension for this format.
func (e *MarkdownExporter) Extension() string {
	return "md"
}
