package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/shiva/internal/engine"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores snapshots in a SQLite database, one row set per user.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at dbPath.
func NewSQLiteBackend(ctx context.Context, dbPath string) (*SQLiteBackend, error) {
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		user_key           TEXT PRIMARY KEY,
		current_session_id TEXT NOT NULL,
		version            INTEGER NOT NULL,
		saved_at           INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		user_key   TEXT NOT NULL,
		session_id TEXT NOT NULL,
		position   INTEGER NOT NULL,
		title      TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (user_key, session_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		user_key   TEXT NOT NULL,
		session_id TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		PRIMARY KEY (user_key, session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS files (
		user_key   TEXT NOT NULL,
		session_id TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		filename   TEXT NOT NULL,
		content    TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		file_type  TEXT NOT NULL,
		PRIMARY KEY (user_key, session_id, seq),
		UNIQUE (user_key, session_id, filename)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_key, position);
	`
	_, err := b.db.ExecContext(ctx, schema)
	return err
}

// Save replaces the user's rows with snap in one transaction.
func (b *SQLiteBackend) Save(ctx context.Context, userID string, snap *Snapshot) error {
	key := UserKey(userID)

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"files", "messages", "sessions", "collections"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE user_key = ?", key); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collections (user_key, current_session_id, version, saved_at) VALUES (?, ?, ?, ?)`,
		key, snap.CurrentID, snap.Version, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("failed to insert collection: %w", err)
	}

	for pos, id := range snap.Order {
		s, ok := snap.Sessions[id]
		if !ok || s == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (user_key, session_id, position, title, created_at) VALUES (?, ?, ?, ?, ?)`,
			key, id, pos, s.Title, s.CreatedAt.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("failed to insert session %s: %w", id, err)
		}
		for seq, msg := range s.Messages {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (user_key, session_id, seq, role, content) VALUES (?, ?, ?, ?, ?)`,
				key, id, seq, string(msg.Role), msg.Content,
			); err != nil {
				return fmt.Errorf("failed to insert message: %w", err)
			}
		}
		for seq, f := range s.Files {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO files (user_key, session_id, seq, filename, content, size_bytes, file_type) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				key, id, seq, f.Filename, f.Content, f.Size, f.Type,
			); err != nil {
				return fmt.Errorf("failed to insert file %s: %w", f.Filename, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sessions: %w", err)
	}
	return nil
}

// Load reads the user's snapshot, or (nil, nil) if none was saved.
func (b *SQLiteBackend) Load(ctx context.Context, userID string) (*Snapshot, error) {
	key := UserKey(userID)

	snap := &Snapshot{Sessions: make(map[string]*Session)}
	err := b.db.QueryRowContext(ctx,
		`SELECT current_session_id, version FROM collections WHERE user_key = ?`, key,
	).Scan(&snap.CurrentID, &snap.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT session_id, title, created_at FROM sessions WHERE user_key = ? ORDER BY position`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	for rows.Next() {
		var id, title, created string
		if err := rows.Scan(&id, &title, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("invalid created_at for session %s: %w", id, err)
		}
		snap.Order = append(snap.Order, id)
		snap.Sessions[id] = &Session{ID: id, Title: title, CreatedAt: createdAt, Files: []AttachedFile{}}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if err := b.loadMessages(ctx, key, snap); err != nil {
		return nil, err
	}
	if err := b.loadFiles(ctx, key, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (b *SQLiteBackend) loadMessages(ctx context.Context, key string, snap *Snapshot) error {
	rows, err := b.db.QueryContext(ctx,
		`SELECT session_id, role, content FROM messages WHERE user_key = ? ORDER BY session_id, seq`, key)
	if err != nil {
		return fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, role, content string
		if err := rows.Scan(&id, &role, &content); err != nil {
			return fmt.Errorf("failed to scan message: %w", err)
		}
		msg := Message{Role: engine.MessageRole(role), Content: content}
		if err := msg.ChatMessage().Validate(); err != nil {
			return fmt.Errorf("session %s: %w", id, err)
		}
		if s, ok := snap.Sessions[id]; ok {
			s.Messages = append(s.Messages, msg)
		}
	}
	return rows.Err()
}

func (b *SQLiteBackend) loadFiles(ctx context.Context, key string, snap *Snapshot) error {
	rows, err := b.db.QueryContext(ctx,
		`SELECT session_id, filename, content, size_bytes, file_type FROM files WHERE user_key = ? ORDER BY session_id, seq`, key)
	if err != nil {
		return fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var f AttachedFile
		if err := rows.Scan(&id, &f.Filename, &f.Content, &f.Size, &f.Type); err != nil {
			return fmt.Errorf("failed to scan file: %w", err)
		}
		if s, ok := snap.Sessions[id]; ok {
			s.Files = append(s.Files, f)
		}
	}
	return rows.Err()
}
