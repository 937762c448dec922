package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-collector/internal/config"
	"invoice-collector/internal/models"
)

func fileConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Load()
	cfg.Tracking = config.TrackingBoth
	cfg.CacheBackend = config.BackendFile
	cfg.LedgerBackend = config.BackendFile
	cfg.IdempotencyPath = filepath.Join(dir, "idempotency.json")
	cfg.LedgerPath = filepath.Join(dir, "session_tracking.json")
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.S3Bucket = ""
	cfg.ArchiveDir = ""
	return cfg
}

func TestNew_FileBackends(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, fileConfig(t), NewLogger(io.Discard, "info", "text", false))
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Cache)
	require.NotNil(t, a.Ledger)
	require.NotNil(t, a.Collector)
	assert.Nil(t, a.Audit, "file ledgers keep no audit trail")

	require.NoError(t, a.Cache.RecordResult(ctx, "k", models.RunSummary{InvoicesCollected: 2}))
	_, hit := a.Cache.MaybeReplay(ctx, "k")
	assert.True(t, hit)

	list, err := a.Ledger.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := fileConfig(t)
	cfg.MaxAttempts = 0
	_, err := New(context.Background(), cfg, NewLogger(io.Discard, "info", "text", false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "warn", "json", false)
	log.Info("hidden")
	log.Warn("shown", "key", "daily")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "daily", rec["key"])

	buf.Reset()
	NewLogger(&buf, "warn", "json", true).Debug("debug wins")
	assert.Contains(t, buf.String(), "debug wins")

	buf.Reset()
	NewLogger(&buf, "bogus", "text", false).Info("text line")
	assert.Contains(t, buf.String(), "text line")
}
