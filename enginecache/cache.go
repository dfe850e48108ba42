// Package enginecache pools sqlx handles to target databases, keyed by
// connection identity and a version marker so credential rotation retires
// stale engines.
package enginecache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/atlasdata/atlasrag/metrics"
)

// Key identifies a cached engine. Version is the connection's update
// marker; a rotated credential produces a new Key and evicts the old entry.
type Key struct {
	ConnectionID int64
	Version      string
}

// BuildFunc constructs a new engine for a connection. It runs outside the
// cache lock, so slow dials never block other connections.
type BuildFunc func(ctx context.Context) (*sqlx.DB, error)

type entry struct {
	key Key
	db  *sqlx.DB
}

// Cache is a bounded FIFO pool of target-database engines.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	order   []Key
	limit   int
	logger  *slog.Logger
}

// New creates a cache holding at most limit engines.
func New(limit int, logger *slog.Logger) *Cache {
	if limit < 1 {
		limit = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries: make(map[Key]*entry, limit),
		limit:   limit,
		logger:  logger.With("component", "engine-cache"),
	}
}

// Acquire returns the cached engine for key, building one when absent. Any
// older entry for the same connection is closed first. When two goroutines
// race to build the same key, the loser's engine is closed and the winner's
// is shared.
func (c *Cache) Acquire(ctx context.Context, key Key, build BuildFunc) (*sqlx.DB, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		metrics.EngineCacheEventsTotal.WithLabelValues("hit").Inc()
		return e.db, nil
	}
	c.evictStaleVersionsLocked(key.ConnectionID)
	c.mu.Unlock()

	metrics.EngineCacheEventsTotal.WithLabelValues("miss").Inc()
	db, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build engine for connection %d: %w", key.ConnectionID, err)
	}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		// Lost the race; keep the existing engine.
		c.mu.Unlock()
		_ = db.Close()
		return e.db, nil
	}

	c.entries[key] = &entry{key: key, db: db}
	c.order = append(c.order, key)

	var evicted []*entry
	for len(c.order) > c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		if e, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			evicted = append(evicted, e)
		}
	}
	c.mu.Unlock()

	for _, e := range evicted {
		_ = e.db.Close()
		metrics.EngineCacheEventsTotal.WithLabelValues("evict").Inc()
		c.logger.Debug("evicted engine",
			"connection_id", e.key.ConnectionID,
			"version", e.key.Version)
	}

	return db, nil
}

// evictStaleVersionsLocked closes entries for the same connection under a
// different version. Caller holds c.mu.
func (c *Cache) evictStaleVersionsLocked(connectionID int64) {
	kept := c.order[:0]
	for _, k := range c.order {
		if k.ConnectionID == connectionID {
			if e, ok := c.entries[k]; ok {
				delete(c.entries, k)
				metrics.EngineCacheEventsTotal.WithLabelValues("evict").Inc()
				go func(e *entry) {
					_ = e.db.Close()
				}(e)
			}
			continue
		}
		kept = append(kept, k)
	}
	c.order = kept
}

// Invalidate drops and closes every engine for a connection.
func (c *Cache) Invalidate(connectionID int64) {
	c.mu.Lock()
	c.evictStaleVersionsLocked(connectionID)
	c.mu.Unlock()
}

// Len reports the number of cached engines.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close releases every cached engine.
func (c *Cache) Close() {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.entries = make(map[Key]*entry)
	c.order = nil
	c.mu.Unlock()

	for _, e := range entries {
		_ = e.db.Close()
	}
}
