// Package sqlite provides a durable core.MemorySource backed by SQLite via
// the CGo-free modernc.org/sqlite driver. It is a drop-in replacement for the
// in-memory source when items must survive process restarts (episodic and
// procedural stores typically do).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/contextmesh/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_items (
	key         TEXT PRIMARY KEY,
	data        TEXT NOT NULL,
	type        TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '[]',
	priority    INTEGER NOT NULL DEFAULT 0,
	confidence  REAL NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	modified_at TIMESTAMP NOT NULL,
	accessed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_items_type ON memory_items(type);
CREATE INDEX IF NOT EXISTS idx_memory_items_category ON memory_items(category);
CREATE INDEX IF NOT EXISTS idx_memory_items_created ON memory_items(created_at);
`

// Source is a SQLite-backed core.MemorySource. database/sql provides the
// connection pooling, so Source itself holds no extra locking.
type Source struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and bootstraps the schema.
// Parent directories are created as needed.
func New(dbPath string) (*Source, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL allows concurrent readers during assembly fan-out
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &Source{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Source) Close() error { return s.db.Close() }

// Store implements core.MemorySource. An existing key is overwritten.
func (s *Source) Store(ctx context.Context, item core.MemoryItem) error {
	if item.Key == "" {
		return fmt.Errorf("memory item requires a key")
	}

	data, tags, err := encode(item)
	if err != nil {
		return err
	}

	md := item.Metadata
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_items (key, data, type, category, tags, priority, confidence, created_at, modified_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			type = excluded.type,
			category = excluded.category,
			tags = excluded.tags,
			priority = excluded.priority,
			confidence = excluded.confidence,
			modified_at = excluded.modified_at,
			accessed_at = excluded.accessed_at`,
		item.Key, data, md.Type, md.Category, tags, md.Priority, md.Confidence,
		timeOrNow(md.CreatedAt), timeOrNow(md.ModifiedAt), timeOrNow(md.AccessedAt))
	if err != nil {
		return fmt.Errorf("store memory item %q: %w", item.Key, err)
	}
	return nil
}

// Update implements core.MemorySource.
func (s *Source) Update(ctx context.Context, key string, item core.MemoryItem) error {
	data, tags, err := encode(item)
	if err != nil {
		return err
	}

	md := item.Metadata
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_items
		SET data = ?, type = ?, category = ?, tags = ?, priority = ?, confidence = ?, modified_at = ?
		WHERE key = ?`,
		data, md.Type, md.Category, tags, md.Priority, md.Confidence, timeOrNow(md.ModifiedAt), key)
	if err != nil {
		return fmt.Errorf("update memory item %q: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory item %q not found", key)
	}
	return nil
}

// Delete implements core.MemorySource.
func (s *Source) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_items WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete memory item %q: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory item %q not found", key)
	}
	return nil
}

// Query implements core.MemorySource. Filters translate to WHERE clauses
// where SQLite can express them; any-match tag filtering happens in Go since
// tags are stored as a JSON array.
func (s *Source) Query(ctx context.Context, filter core.QueryFilter) ([]core.MemoryItem, error) {
	var (
		where []string
		args  []any
	)

	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Keyword != "" {
		// Same reach as the in-memory source, which searches the whole
		// serialized item: payload, key and metadata fields all count.
		where = append(where, "(data LIKE ? OR key LIKE ? OR tags LIKE ? OR type LIKE ? OR category LIKE ?)")
		kw := "%" + filter.Keyword + "%"
		args = append(args, kw, kw, kw, kw, kw)
	}
	if dr := filter.DateRange; dr != nil {
		if !dr.Start.IsZero() {
			where = append(where, "created_at >= ?")
			args = append(args, dr.Start)
		}
		if !dr.End.IsZero() {
			where = append(where, "created_at <= ?")
			args = append(args, dr.End)
		}
	}
	if pr := filter.PriorityRange; pr != nil {
		if pr.Min > 0 {
			where = append(where, "priority >= ?")
			args = append(args, pr.Min)
		}
		if pr.Max > 0 {
			where = append(where, "priority <= ?")
			args = append(args, pr.Max)
		}
	}

	query := "SELECT key, data, type, category, tags, priority, confidence, created_at, modified_at, accessed_at FROM memory_items"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + orderClause(filter.SortBy, filter.SortOrder)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memory items: %w", err)
	}
	defer rows.Close()

	var items []core.MemoryItem
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		if len(filter.Tags) > 0 && !anyTag(item.Metadata, filter.Tags) {
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory items: %w", err)
	}

	// Offset/limit applied after tag filtering to keep pagination correct
	if filter.Offset > 0 {
		if filter.Offset >= len(items) {
			return []core.MemoryItem{}, nil
		}
		items = items[filter.Offset:]
	}
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}

	return items, nil
}

func orderClause(sortBy string, order core.SortOrder) string {
	col := "created_at"
	switch sortBy {
	case "priority":
		col = "priority"
	case "modified_at":
		col = "modified_at"
	}
	dir := "DESC"
	if order == core.SortAsc {
		dir = "ASC"
	}
	return fmt.Sprintf("%s %s, key %s", col, dir, dir)
}

func anyTag(md core.ItemMetadata, tags []string) bool {
	for _, t := range tags {
		if md.HasTag(t) {
			return true
		}
	}
	return false
}

func encode(item core.MemoryItem) (data string, tags string, err error) {
	dataBytes, err := json.Marshal(item.Data)
	if err != nil {
		return "", "", fmt.Errorf("encode memory item data: %w", err)
	}
	tagList := item.Metadata.Tags
	if tagList == nil {
		tagList = []string{}
	}
	tagBytes, err := json.Marshal(tagList)
	if err != nil {
		return "", "", fmt.Errorf("encode memory item tags: %w", err)
	}
	return string(dataBytes), string(tagBytes), nil
}

func scan(rows *sql.Rows) (core.MemoryItem, error) {
	var (
		item     core.MemoryItem
		data     string
		tags     string
		created  time.Time
		modified time.Time
		accessed time.Time
	)
	if err := rows.Scan(&item.Key, &data, &item.Metadata.Type, &item.Metadata.Category, &tags,
		&item.Metadata.Priority, &item.Metadata.Confidence, &created, &modified, &accessed); err != nil {
		return core.MemoryItem{}, fmt.Errorf("scan memory item: %w", err)
	}

	if err := json.Unmarshal([]byte(data), &item.Data); err != nil {
		// Raw payloads written by other writers are passed through as-is.
		item.Data = data
	}
	if err := json.Unmarshal([]byte(tags), &item.Metadata.Tags); err != nil {
		item.Metadata.Tags = nil
	}
	item.Metadata.CreatedAt = created
	item.Metadata.ModifiedAt = modified
	item.Metadata.AccessedAt = accessed

	return item, nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

var _ core.MemorySource = (*Source)(nil)
