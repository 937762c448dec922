package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><body><table><tbody>
<tr><td></td><td>2025-03-01</td><td>INV-1</td><td></td><td>Acme</td><td>Paid</td><td></td><td>$10.00</td></tr>
<tr><td></td><td>2025-03-01</td><td>INV-2</td><td></td><td>Globex</td><td>Void</td><td></td><td>$3.00</td></tr>
</tbody></table></body></html>`

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("IDEMPOTENCY_PATH", filepath.Join(dir, "idempotency.json"))
	t.Setenv("LEDGER_PATH", filepath.Join(dir, "session_tracking.json"))
	t.Setenv("OUTPUT_DIR", filepath.Join(dir, "out"))
	t.Setenv("PAGE_INTERVAL", "0s")
	t.Setenv("WAIT_TIMEOUT", "50ms")
	t.Setenv("BACKOFF_INITIAL", "1ms")
	t.Setenv("BACKOFF_MAX", "1ms")
	t.Setenv("CACHE_BACKEND", "file")
	t.Setenv("LEDGER_BACKEND", "file")
	t.Setenv("S3_BUCKET", "")
	t.Setenv("ARCHIVE_DIR", "")
	t.Setenv("METRICS_ADDR", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCollectReplayAndInspect(t *testing.T) {
	dir := setupEnv(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, page)
	}))
	defer srv.Close()

	out, err := execute(t, "--url", srv.URL, "--tracking", "both", "--idempotency-key", "daily-2025-03-01")
	require.NoError(t, err)
	assert.Contains(t, out, "Collected 1 paid/partially paid invoices from 1 pages")
	assert.Contains(t, out, "COLLECTED DATA")
	assert.Contains(t, out, "INV-1,Acme,$10.00,2025-03-01,Paid")
	assert.NotContains(t, out, "INV-2")
	assert.FileExists(t, filepath.Join(dir, "out", "invoices_daily-2025-03-01.csv"))
	assert.Equal(t, int32(1), hits.Load())

	out, err = execute(t, "--url", srv.URL, "--tracking", "both", "--idempotency-key", "daily-2025-03-01")
	require.NoError(t, err)
	assert.Contains(t, out, "Replayed cached result")
	assert.Contains(t, out, `"invoices_collected": 1`)
	assert.Equal(t, int32(1), hits.Load(), "a replay does not fetch the page")

	out, err = execute(t, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")

	out, err = execute(t, "replay", "daily-2025-03-01")
	require.NoError(t, err)
	assert.Contains(t, out, `"pages_processed": 1`)

	_, err = execute(t, "replay", "unknown")
	assert.Error(t, err)
}

func TestCollectFailureReturnsError(t *testing.T) {
	setupEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := execute(t, "--url", srv.URL, "--tracking", "ledger", "--max-pages", "1")
	require.Error(t, err)

	out, err := execute(t, "sessions", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "failed"`)
}

func TestInvalidTracking(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "--tracking", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracking mode")
}
