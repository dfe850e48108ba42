package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atlasdata/atlasrag/catalog"
	"github.com/atlasdata/atlasrag/metrics"
)

// Reindexer rebuilds the embedding store from the catalog, skipping
// entities whose canonical content is unchanged.
type Reindexer struct {
	catalog  *catalog.Store
	store    *EmbeddingStore
	embedder Embedder
	logger   *slog.Logger
}

// NewReindexer creates a reindexer.
func NewReindexer(catalogStore *catalog.Store, store *EmbeddingStore, embedder Embedder, logger *slog.Logger) *Reindexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reindexer{
		catalog:  catalogStore,
		store:    store,
		embedder: embedder,
		logger:   logger.With("component", "reindexer"),
	}
}

// Reindex enumerates catalog entities, optionally scoped to one scan, and
// rewrites the embeddings of changed documents. API routes are not scan
// scoped and only take part in full passes. Returns the number of
// documents rewritten.
func (r *Reindexer) Reindex(ctx context.Context, scanID *int64) (int, error) {
	var docs []Document

	tables, err := r.catalog.Tables(ctx, scanID)
	if err != nil {
		return 0, err
	}
	for _, t := range tables {
		docs = append(docs, TableDocument(t))
	}

	columns, err := r.catalog.Columns(ctx, scanID)
	if err != nil {
		return 0, err
	}
	for _, c := range columns {
		docs = append(docs, ColumnDocument(c))
	}

	if scanID == nil {
		routes, err := r.catalog.APIRoutes(ctx)
		if err != nil {
			return 0, err
		}
		for _, route := range routes {
			docs = append(docs, RouteDocument(route))
		}
	}

	if len(docs) == 0 {
		return 0, nil
	}

	stored, err := r.store.StoredHashes(ctx)
	if err != nil {
		return 0, err
	}

	changed := changedDocuments(docs, stored)
	if len(changed) == 0 {
		r.logger.Info("reindex found no changes", "documents", len(docs))
		return 0, nil
	}

	texts := make([]string, len(changed))
	for i, d := range changed {
		texts[i] = d.Content
	}
	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed documents: %w", err)
	}

	if err := r.store.Delete(ctx, changed); err != nil {
		return 0, err
	}
	if err := r.store.Insert(ctx, changed, vectors); err != nil {
		return 0, err
	}

	metrics.ReindexedItemsTotal.Add(float64(len(changed)))
	r.logger.Info("reindex finished",
		"documents", len(docs),
		"rewritten", len(changed))
	return len(changed), nil
}

// changedDocuments keeps documents whose canonical hash differs from the
// stored one, including documents never stored before.
func changedDocuments(docs []Document, stored map[string]string) []Document {
	var changed []Document
	for _, d := range docs {
		if stored[d.Key()] == d.Hash {
			continue
		}
		changed = append(changed, d)
	}
	return changed
}
