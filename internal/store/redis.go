package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"invoice-collector/internal/config"
)

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// RedisHash persists a string-keyed mapping as a Redis hash whose fields hold
// JSON-encoded values. Fields that fail to decode are skipped on load.
type RedisHash[V any] struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisHash returns a mapping stored under key.
func NewRedisHash[V any](client *redis.Client, key string, logger *slog.Logger) *RedisHash[V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisHash[V]{client: client, key: key, logger: logger}
}

// Load reads the whole hash. Transport errors are returned so callers never
// overwrite a mapping they could not read.
func (h *RedisHash[V]) Load(ctx context.Context) (map[string]V, error) {
	fields, err := h.client.HGetAll(ctx, h.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", h.key, err)
	}
	out := make(map[string]V, len(fields))
	for field, raw := range fields {
		var v V
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			h.logger.Warn("skipping malformed entry", "key", h.key, "field", field, "error", err)
			continue
		}
		out[field] = v
	}
	return out, nil
}

// Save replaces the hash contents atomically.
func (h *RedisHash[V]) Save(ctx context.Context, m map[string]V) error {
	values := make([]any, 0, len(m)*2)
	for field, v := range m {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", field, err)
		}
		values = append(values, field, string(b))
	}

	pipe := h.client.TxPipeline()
	pipe.Del(ctx, h.key)
	if len(values) > 0 {
		pipe.HSet(ctx, h.key, values...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save %s: %w", h.key, err)
	}
	return nil
}
