package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Match is one similarity hit. Distance is pgvector cosine distance; lower
// is closer.
type Match struct {
	ItemType string
	ItemID   int64
	Content  string
	Meta     map[string]any
	Distance float64
}

// ConnectionID reads the connection scope marker from the match metadata.
func (m Match) ConnectionID() (int64, bool) {
	return metaInt64(m.Meta, "connection_id")
}

// ScanID reads the scan marker from the match metadata.
func (m Match) ScanID() (int64, bool) {
	return metaInt64(m.Meta, "scan_id")
}

func metaInt64(meta map[string]any, key string) (int64, bool) {
	switch v := meta[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// EmbeddingStore persists documents and vectors in a pgvector table.
type EmbeddingStore struct {
	db *sqlx.DB
}

// NewEmbeddingStore creates a store over the application database.
func NewEmbeddingStore(db *sqlx.DB) *EmbeddingStore {
	return &EmbeddingStore{db: db}
}

// StoredHashes returns content hashes keyed by "item_type:item_id".
func (s *EmbeddingStore) StoredHashes(ctx context.Context) (map[string]string, error) {
	type row struct {
		ItemType string `db:"item_type"`
		ItemID   int64  `db:"item_id"`
		Hash     string `db:"content_hash"`
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT item_type, item_id, content_hash FROM embeddings`); err != nil {
		return nil, fmt.Errorf("load stored hashes: %w", err)
	}

	hashes := make(map[string]string, len(rows))
	for _, r := range rows {
		hashes[fmt.Sprintf("%s:%d", r.ItemType, r.ItemID)] = r.Hash
	}
	return hashes, nil
}

// Delete removes the embeddings for the given documents.
func (s *EmbeddingStore) Delete(ctx context.Context, docs []Document) error {
	byType := make(map[string][]int64)
	for _, d := range docs {
		byType[d.ItemType] = append(byType[d.ItemType], d.ItemID)
	}

	for itemType, ids := range byType {
		query, args, err := sqlx.In(`DELETE FROM embeddings WHERE item_type = ? AND item_id IN (?)`, itemType, ids)
		if err != nil {
			return fmt.Errorf("build delete query: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
			return fmt.Errorf("delete embeddings for %s: %w", itemType, err)
		}
	}
	return nil
}

const insertEmbeddingQuery = `
INSERT INTO embeddings (item_type, item_id, content, content_hash, embedding, meta)
VALUES ($1, $2, $3, $4, $5::vector, $6)`

// Insert writes documents with their vectors. docs and vectors run in
// parallel by index.
func (s *EmbeddingStore) Insert(ctx context.Context, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("document/vector count mismatch: %d vs %d", len(docs), len(vectors))
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	for i, d := range docs {
		meta, err := json.Marshal(d.Meta)
		if err != nil {
			return fmt.Errorf("marshal meta for %s: %w", d.Key(), err)
		}
		if _, err := tx.ExecContext(ctx, insertEmbeddingQuery,
			d.ItemType, d.ItemID, d.Content, d.Hash, vectorLiteral(vectors[i]), meta); err != nil {
			return fmt.Errorf("insert embedding %s: %w", d.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

const searchQuery = `
SELECT item_type, item_id, content, meta, embedding <=> $1::vector AS distance
FROM embeddings
ORDER BY embedding <=> $1::vector
LIMIT $2`

// Search returns the limit nearest documents by cosine distance.
func (s *EmbeddingStore) Search(ctx context.Context, vector []float32, limit int) ([]Match, error) {
	type row struct {
		ItemType string  `db:"item_type"`
		ItemID   int64   `db:"item_id"`
		Content  string  `db:"content"`
		Meta     []byte  `db:"meta"`
		Distance float64 `db:"distance"`
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, searchQuery, vectorLiteral(vector), limit); err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	matches := make([]Match, 0, len(rows))
	for _, r := range rows {
		var meta map[string]any
		if len(r.Meta) > 0 {
			_ = json.Unmarshal(r.Meta, &meta)
		}
		matches = append(matches, Match{
			ItemType: r.ItemType,
			ItemID:   r.ItemID,
			Content:  r.Content,
			Meta:     meta,
			Distance: r.Distance,
		})
	}
	return matches, nil
}

// vectorLiteral renders a pgvector input literal: [0.1,0.2,...].
func vectorLiteral(vector []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
