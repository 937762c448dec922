// Package idempotency replays the summary of a prior run recorded under the
// same key, for as long as the entry is younger than the TTL.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"invoice-collector/internal/models"
	"invoice-collector/internal/telemetry"
)

// Backend loads and saves the whole key → entry mapping.
type Backend interface {
	Load(ctx context.Context) (map[string]models.CacheEntry, error)
	Save(ctx context.Context, entries map[string]models.CacheEntry) error
}

// Cache is a TTL-bounded result store. Expiry is lazy: stale entries stay in
// the backend and are ignored on read.
type Cache struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the cache logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New builds a cache over backend with the given TTL.
func New(backend Backend, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL is the replay window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// MaybeReplay returns the summary recorded under key if it is still within the
// TTL. An empty key never touches the backend. Reads never modify the entry.
func (c *Cache) MaybeReplay(ctx context.Context, key string) (json.RawMessage, bool) {
	if key == "" {
		return nil, false
	}
	entries, err := c.backend.Load(ctx)
	if err != nil {
		c.logger.Warn("idempotency lookup failed, treating as miss", "key", key, "error", err)
		telemetry.ReplayMisses.Inc()
		return nil, false
	}
	entry, ok := entries[key]
	if !ok {
		telemetry.ReplayMisses.Inc()
		return nil, false
	}
	age := c.now().Sub(entry.Time())
	if age > c.ttl {
		c.logger.Debug("idempotency entry expired", "key", key, "age", age, "ttl", c.ttl)
		telemetry.ReplayMisses.Inc()
		return nil, false
	}
	telemetry.ReplayHits.Inc()
	c.logger.Info("replaying cached result", "key", key, "age", age)
	return entry.Summary, true
}

// Replay is MaybeReplay decoded into T.
func Replay[T any](ctx context.Context, c *Cache, key string) (T, bool, error) {
	var out T
	raw, ok := c.MaybeReplay(ctx, key)
	if !ok {
		return out, false, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode cached summary for %q: %w", key, err)
	}
	return out, true, nil
}

// RecordResult stores summary under key stamped with the current time. An
// empty key is a no-op.
func (c *Cache) RecordResult(ctx context.Context, key string, summary any) error {
	if key == "" {
		return nil
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	entries, err := c.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load idempotency entries: %w", err)
	}
	if entries == nil {
		entries = make(map[string]models.CacheEntry)
	}
	entries[key] = models.CacheEntry{
		TS:      models.EpochSeconds(c.now()),
		Summary: raw,
	}
	if err := c.backend.Save(ctx, entries); err != nil {
		return fmt.Errorf("save idempotency entries: %w", err)
	}
	return nil
}
