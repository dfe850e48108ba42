package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atlasdata/atlasrag/config"
	"github.com/atlasdata/atlasrag/metrics"
)

// Scope narrows retrieval to a caller-selected slice of the catalog. A nil
// scope means unrestricted.
type Scope struct {
	ConnectionIDs []int64
	APIRouteIDs   []int64
}

func (s *Scope) isSet() bool {
	return s != nil && (len(s.ConnectionIDs) > 0 || len(s.APIRouteIDs) > 0)
}

// scanSetSource resolves the latest completed scan per connection, so scoped
// retrieval only surfaces entities of current catalogs.
type scanSetSource interface {
	LatestCompletedScanIDs(ctx context.Context, connectionIDs []int64) (map[int64]int64, error)
}

// Retriever embeds questions and searches the embedding store.
type Retriever struct {
	embedder Embedder
	store    *EmbeddingStore
	scans    scanSetSource
	cfg      *config.Config
	logger   *slog.Logger
}

// NewRetriever creates a retriever. scans resolves per-connection scan
// currency; the catalog store satisfies it.
func NewRetriever(embedder Embedder, store *EmbeddingStore, scans scanSetSource, cfg *config.Config, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		scans:    scans,
		cfg:      cfg,
		logger:   logger.With("component", "retriever"),
	}
}

// Search embeds the question and returns the top-K scoped matches. With a
// scope set the candidate pool widens to K*20 before filtering; if the
// scope filter empties a non-empty pool, the unscoped top K is returned
// instead.
func (r *Retriever) Search(ctx context.Context, question string, scope *Scope) ([]Match, error) {
	metrics.VectorSearchesTotal.Inc()

	vectors, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding service returned no vector")
	}

	topK := r.cfg.RAG.TopK
	poolSize := topK
	if scope.isSet() {
		poolSize = topK * 20
	}

	candidates, err := r.store.Search(ctx, vectors[0], poolSize)
	if err != nil {
		return nil, err
	}

	var latestScans map[int64]int64
	if scope.isSet() && len(scope.ConnectionIDs) > 0 && r.scans != nil {
		latestScans, err = r.scans.LatestCompletedScanIDs(ctx, scope.ConnectionIDs)
		if err != nil {
			return nil, err
		}
	}

	result := FilterMatches(candidates, scope, latestScans, r.cfg.RAG.MinScore, topK)
	r.logger.Debug("vector search",
		"candidates", len(candidates),
		"returned", len(result))
	return result, nil
}

// FilterMatches applies scope and the distance threshold to raw, distance-
// ordered candidates and caps the result at topK. Scope restricts first:
// table and column entities must belong to a scoped connection and, when a
// latest-scan set is known, to its current scan; API routes must be in the
// route scope. The threshold then trims the scoped pool; when it would empty
// a non-empty scoped pool, the scoped pool itself is returned instead, so a
// scoped caller always sees its nearest in-scope entities and never an
// out-of-scope one.
func FilterMatches(matches []Match, scope *Scope, latestScans map[int64]int64, minScore float64, topK int) []Match {
	if !scope.isSet() {
		return capMatches(withinDistance(matches, minScore), topK)
	}

	connScope := make(map[int64]struct{}, len(scope.ConnectionIDs))
	for _, id := range scope.ConnectionIDs {
		connScope[id] = struct{}{}
	}
	routeScope := make(map[int64]struct{}, len(scope.APIRouteIDs))
	for _, id := range scope.APIRouteIDs {
		routeScope[id] = struct{}{}
	}

	var scoped []Match
	for _, m := range matches {
		switch m.ItemType {
		case ItemTypeTable, ItemTypeColumn:
			connID, ok := m.ConnectionID()
			if !ok {
				continue
			}
			if _, ok := connScope[connID]; !ok {
				continue
			}
			if len(latestScans) > 0 {
				scanID, ok := m.ScanID()
				if !ok || latestScans[connID] != scanID {
					continue
				}
			}
		case ItemTypeAPIRoute:
			if _, ok := routeScope[m.ItemID]; !ok {
				continue
			}
		default:
			continue
		}
		scoped = append(scoped, m)
	}

	kept := withinDistance(scoped, minScore)
	if len(kept) == 0 {
		kept = scoped
	}
	return capMatches(kept, topK)
}

func withinDistance(matches []Match, minScore float64) []Match {
	kept := matches[:0:0]
	for _, m := range matches {
		if m.Distance <= minScore {
			kept = append(kept, m)
		}
	}
	return kept
}

func capMatches(matches []Match, topK int) []Match {
	if len(matches) > topK {
		return matches[:topK]
	}
	return matches
}
