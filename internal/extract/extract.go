// Package extract turns uploaded file bytes into text that can be placed in a
// conversation. Extraction never fails: anything unreadable becomes a short
// placeholder describing the problem.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	units "github.com/docker/go-units"
	"github.com/ledongthuc/pdf"
)

// Features selects the optional extractors.
type Features struct {
	PDF  bool
	DOCX bool
}

// Extractor converts bytes of one kind of file into text.
type Extractor func(data []byte) (string, error)

var textExtensions = []string{".txt", ".csv", ".py", ".md", ".html", ".css", ".js"}

// Supported returns the upload extensions accepted with the given features.
func Supported(f Features) []string {
	exts := append([]string{".json"}, textExtensions...)
	if f.PDF {
		exts = append(exts, ".pdf")
	}
	if f.DOCX {
		exts = append(exts, ".docx")
	}
	sort.Strings(exts)
	return exts
}

// IsSupported reports whether filename has an accepted extension.
func IsSupported(filename string, f Features) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range Supported(f) {
		if e == ext {
			return true
		}
	}
	return false
}

var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".ico": true,
	".mp3": true, ".wav": true, ".ogg": true, ".m4a": true, ".mp4": true, ".mov": true,
	".pdf": true, ".docx": true, ".xlsx": true, ".pptx": true,
	".zip": true, ".tar": true, ".gz": true, ".7z": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
	".db": true, ".sqlite": true,
}

// sniffLen is how much of a file LooksLikeText inspects.
const sniffLen = 8000

// LooksLikeText reports whether a file with an unknown extension can be read
// as text: it must not carry a known binary extension and its first bytes
// must contain no NUL.
func LooksLikeText(filename string, data []byte) bool {
	if binaryExtensions[strings.ToLower(filepath.Ext(filename))] {
		return false
	}
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	return bytes.IndexByte(head, 0) == -1
}

// ExtractContent returns the text of an uploaded file. It always returns a
// string; failures are described in the returned text.
func ExtractContent(data []byte, filename string, f Features) (text string) {
	defer func() {
		// Third-party parsers may panic on malformed input.
		if r := recover(); r != nil {
			slog.Warn("extractor panicked", slog.String("file", filename), slog.Any("panic", r))
			text = fmt.Sprintf("Error reading %s: %v", filename, r)
		}
	}()

	ext := strings.ToLower(filepath.Ext(filename))

	var extractor Extractor
	switch {
	case ext == ".json":
		extractor = prettyJSON
	case ext == ".pdf" && f.PDF:
		extractor = pdfText
	case ext == ".docx" && f.DOCX:
		extractor = docxText
	case ext == ".pdf" || ext == ".docx":
		return fmt.Sprintf("[%s: %s parsing is not available]", filename, FileType(filename))
	default:
		extractor = utf8Text
	}

	out, err := extractor(data)
	if err != nil {
		slog.Warn("file extraction failed", slog.String("file", filename), slog.Any("error", err))
		return fmt.Sprintf("Error reading %s: %v", filename, err)
	}
	return out
}

// FileType is the display label for a file: its upper-cased extension, or
// "FILE" when there is none.
func FileType(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" {
		return "FILE"
	}
	return strings.ToUpper(ext)
}

// HumanSize formats a byte count for display, e.g. "2.93KiB".
func HumanSize(size int64) string {
	return units.BytesSize(float64(size))
}

// utf8Text decodes data as UTF-8, dropping invalid bytes.
func utf8Text(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

func prettyJSON(data []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(data), "", "  "); err != nil {
		return "", fmt.Errorf("invalid json: %w", err)
	}
	return buf.String(), nil
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n"), nil
}
