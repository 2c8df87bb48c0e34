// Package search provides full-text search over a user's chat history.
package search

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/ChamsBouzaiene/shiva/internal/engine"
	"github.com/ChamsBouzaiene/shiva/internal/session"
)

// TitleDoc marks a hit on the session title rather than a message.
const TitleDoc = -1

// DefaultLimit caps the number of hits returned by Search.
const DefaultLimit = 20

// Hit is one matching message (or title, when MessageIndex is TitleDoc).
type Hit struct {
	SessionID    string
	MessageIndex int
	Role         engine.MessageRole
	Score        float64
}

// Index is an in-memory bleve index over session titles and message bodies.
type Index struct {
	mu    sync.Mutex
	index bleve.Index
	docs  map[string][]string // session id -> indexed doc ids
}

// NewIndex creates an empty in-memory index.
func NewIndex() (*Index, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}
	return &Index{index: index, docs: make(map[string][]string)}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	sessionField := bleve.NewTextFieldMapping()
	sessionField.Analyzer = keyword.Name
	sessionField.Store = true
	doc.AddFieldMappingsAt("session_id", sessionField)

	roleField := bleve.NewTextFieldMapping()
	roleField.Analyzer = keyword.Name
	roleField.Store = true
	doc.AddFieldMappingsAt("role", roleField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = false
	doc.AddFieldMappingsAt("text", textField)

	indexMapping.DefaultMapping = doc
	return indexMapping
}

func docID(sessionID string, msg int) string {
	if msg == TitleDoc {
		return sessionID + "#title"
	}
	return sessionID + "#" + strconv.Itoa(msg)
}

func parseDocID(id string) (string, int, bool) {
	i := strings.LastIndex(id, "#")
	if i < 0 {
		return "", 0, false
	}
	sessionID, suffix := id[:i], id[i+1:]
	if suffix == "title" {
		return sessionID, TitleDoc, true
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return "", 0, false
	}
	return sessionID, n, true
}

// IndexSession replaces everything indexed for s. System messages are skipped.
func (x *Index) IndexSession(s *session.Session) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	batch := x.index.NewBatch()
	for _, id := range x.docs[s.ID] {
		batch.Delete(id)
	}

	var ids []string
	add := func(msg int, role engine.MessageRole, text string) error {
		id := docID(s.ID, msg)
		doc := map[string]interface{}{
			"session_id": s.ID,
			"role":       string(role),
			"text":       text,
		}
		if err := batch.Index(id, doc); err != nil {
			return fmt.Errorf("failed to add %s to batch: %w", id, err)
		}
		ids = append(ids, id)
		return nil
	}

	if s.Title != "" && s.Title != session.DefaultTitle {
		if err := add(TitleDoc, "", s.Title); err != nil {
			return err
		}
	}
	for i, m := range s.Messages {
		if m.Role == engine.RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		if err := add(i, m.Role, m.Content); err != nil {
			return err
		}
	}

	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index session %s: %w", s.ID, err)
	}
	x.docs[s.ID] = ids
	return nil
}

// IndexAll indexes every session, logging failures.
func (x *Index) IndexAll(sessions []*session.Session) int {
	n := 0
	for _, s := range sessions {
		if err := x.IndexSession(s); err != nil {
			slog.Warn("failed to index session", slog.String("session", s.ID), slog.Any("error", err))
			continue
		}
		n++
	}
	return n
}

// RemoveSession drops a session from the index.
func (x *Index) RemoveSession(sessionID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	ids, ok := x.docs[sessionID]
	if !ok {
		return nil
	}
	batch := x.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to remove session %s: %w", sessionID, err)
	}
	delete(x.docs, sessionID)
	return nil
}

// Search runs a match query over titles and messages, best hits first.
// limit <= 0 means DefaultLimit.
func (x *Index) Search(query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("text")

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"session_id", "role"}

	x.mu.Lock()
	result, err := x.index.Search(req)
	x.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		sessionID, msg, ok := parseDocID(h.ID)
		if !ok {
			continue
		}
		hit := Hit{SessionID: sessionID, MessageIndex: msg, Score: h.Score}
		if role, ok := h.Fields["role"].(string); ok {
			hit.Role = engine.MessageRole(role)
		}
		hits = append(hits, hit)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

// Close releases the index.
func (x *Index) Close() error {
	return x.index.Close()
}
