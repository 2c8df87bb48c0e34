package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config selects where logs go.
type Config struct {
	DataDir string
	// Console sends logs to stderr instead of DataDir/shiva.log.
	Console bool
	// Level overrides LOG_LEVEL when non-empty.
	Level string
}

// Init initializes the global slog logger and returns a function that
// closes the log file, if one was opened.
// By default logs are written to DataDir/shiva.log so they do not interleave
// with the chat. LOG_FILE overrides the file path, LOG_FORMAT=json selects
// the JSON handler.
func Init(cfg Config) func() error {
	level := ParseLevel(os.Getenv("LOG_LEVEL"))
	if cfg.Level != "" {
		level = ParseLevel(cfg.Level)
	}
	opts := &slog.HandlerOptions{Level: level}

	var w io.Writer = os.Stderr
	closer := func() error { return nil }

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" && !cfg.Console && cfg.DataDir != "" {
		logFile = filepath.Join(cfg.DataDir, "shiva.log")
	}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			slog.Error("failed to create log directory, using stderr", "file", logFile, "error", err)
		} else {
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				slog.Error("failed to open log file, using stderr", "file", logFile, "error", err)
			} else {
				w = f
				closer = f.Close
			}
		}
	}

	slog.SetDefault(slog.New(NewHandler(w, opts)))
	return closer
}

// NewHandler returns the text or JSON handler chosen by LOG_FORMAT.
func NewHandler(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if os.Getenv("LOG_FORMAT") == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
