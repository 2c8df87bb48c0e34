package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// snapshotSchema rejects snapshots that would not round-trip into a Manager.
const snapshotSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["sessions"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "current_session_id": {"type": "string"},
    "order": {"type": "array", "items": {"type": "string"}},
    "sessions": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["title", "messages"],
        "properties": {
          "id": {"type": "string"},
          "title": {"type": "string"},
          "created": {"type": "string"},
          "messages": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["role", "content"],
              "properties": {
                "role": {"enum": ["system", "user", "assistant"]},
                "content": {"type": "string"}
              }
            }
          },
          "files": {
            "type": ["array", "null"],
            "items": {
              "type": "object",
              "required": ["filename", "content"],
              "properties": {
                "filename": {"type": "string", "minLength": 1},
                "content": {"type": "string"},
                "size": {"type": "integer", "minimum": 0},
                "type": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

// FileBackend stores one JSON snapshot per user under <dir>/sessions.
type FileBackend struct {
	basePath string
	schema   *gojsonschema.Schema
}

// NewFileBackend creates a JSON snapshot backend rooted at dataDir.
func NewFileBackend(dataDir string) (*FileBackend, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(snapshotSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile snapshot schema: %w", err)
	}
	return &FileBackend{
		basePath: filepath.Join(dataDir, "sessions"),
		schema:   schema,
	}, nil
}

// UserKey hashes an opaque user identifier into a file-safe name.
func UserKey(userID string) string {
	hash := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(hash[:])[:16]
}

// Path returns the snapshot file for a user.
func (b *FileBackend) Path(userID string) string {
	return filepath.Join(b.basePath, UserKey(userID)+".json")
}

// Save writes the snapshot atomically.
func (b *FileBackend) Save(ctx context.Context, userID string, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(b.basePath, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}

	target := b.Path(userID)
	tmp, err := os.CreateTemp(b.basePath, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write sessions: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod sessions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close sessions: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Load reads and validates a user's snapshot.
func (b *FileBackend) Load(ctx context.Context, userID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.Path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	result, err := b.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, fmt.Errorf("invalid session file: %s", strings.Join(problems, "; "))
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sessions: %w", err)
	}
	return &snap, nil
}

// Delete removes a user's snapshot. A missing file is not an error.
func (b *FileBackend) Delete(userID string) error {
	err := os.Remove(b.Path(userID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *FileBackend) Close() error {
	return nil
}
