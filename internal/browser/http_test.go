package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const invoicePage = `<!doctype html>
<html><body>
<table id="invoices">
  <thead><tr><th>x</th><th>Date</th><th>Invoice#</th></tr></thead>
  <tbody>
    <tr><td></td><td> 2025-03-01 </td><td>INV-001</td><td>ref</td><td>Acme</td><td>Paid</td><td>due</td><td>$100.00</td></tr>
    <tr><td></td><td>2025-03-02</td><td>INV-002</td></tr>
  </tbody>
</table>
<div id="pagination">
  <a href="?page=0" rel="prev">Prev</a>
  <a href="/invoices?page=2" rel="next">Next</a>
</div>
</body></html>`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBrowser() *HTTPBrowser {
	return NewHTTPBrowser(nil, WithPollInterval(5*time.Millisecond), WithLogger(quietLogger()))
}

func TestHTTPBrowser_NavigateAndRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, invoicePage)
	}))
	defer srv.Close()

	ctx := context.Background()
	b := newTestBrowser()

	resp, err := b.Navigate(ctx, srv.URL+"/invoices")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	el, err := b.WaitFor(ctx, "table", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "invoices", el.ID)

	rows, err := b.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2, "header rows outside tbody are ignored")
	assert.Equal(t, []string{"", "2025-03-01", "INV-001", "ref", "Acme", "Paid", "due", "$100.00"}, rows[0])
	assert.Len(t, rows[1], 3)

	next, ok, err := b.NextLocator(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/invoices?page=2", next)

	text, err := b.Text(ctx, "tbody")
	require.NoError(t, err)
	assert.Contains(t, text, "INV-001")
}

func TestHTTPBrowser_ErrorStatusIsReportedNotRaised(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	resp, err := newTestBrowser().Navigate(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode())
}

func TestHTTPBrowser_ConnectionErrorMentionsConnection(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := newTestBrowser().Navigate(context.Background(), addr)
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "connection")
}

func TestHTTPBrowser_WaitForReloadsUntilPresent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			_, _ = io.WriteString(w, `<html><body><p>loading</p></body></html>`)
			return
		}
		_, _ = io.WriteString(w, invoicePage)
	}))
	defer srv.Close()

	ctx := context.Background()
	b := newTestBrowser()
	_, err := b.Navigate(ctx, srv.URL)
	require.NoError(t, err)

	el, err := b.WaitFor(ctx, "#pagination a", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Prev", el.Text)
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestHTTPBrowser_WaitForTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html><body></body></html>`)
	}))
	defer srv.Close()

	ctx := context.Background()
	b := newTestBrowser()
	_, err := b.Navigate(ctx, srv.URL)
	require.NoError(t, err)

	_, err = b.WaitFor(ctx, "table", 20*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestHTTPBrowser_ClickFollowsRelativeLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "2":
			_, _ = fmt.Fprint(w, `<table><tbody><tr><td>second</td></tr></tbody></table>
<div id="pagination"><a rel="next" aria-disabled="true" href="?page=3">Next</a></div>`)
		case "9":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = io.WriteString(w, invoicePage)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	b := newTestBrowser()
	_, err := b.Navigate(ctx, srv.URL+"/invoices")
	require.NoError(t, err)

	require.NoError(t, b.Click(ctx, "/invoices?page=2"))
	assert.Equal(t, srv.URL+"/invoices?page=2", b.URL())

	text, err := b.Text(ctx, "tbody")
	require.NoError(t, err)
	assert.Equal(t, "second", strings.TrimSpace(text))

	_, ok, err := b.NextLocator(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a disabled next link ends pagination")

	err = b.Click(ctx, "?page=9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestHTTPBrowser_RequiresLoadedPage(t *testing.T) {
	b := newTestBrowser()
	ctx := context.Background()

	_, err := b.Rows(ctx)
	assert.Error(t, err)
	assert.Error(t, b.Click(ctx, "/x"))
	_, _, err = b.NextLocator(ctx)
	assert.Error(t, err)
	_, err = b.Navigate(ctx, "/relative")
	assert.Error(t, err)
}

func TestParseSelector(t *testing.T) {
	testCases := []struct {
		in      string
		want    selector
		wantErr bool
	}{
		{in: "table", want: selector{{tag: "table"}}},
		{in: "#pagination", want: selector{{id: "pagination"}}},
		{in: "tbody tr", want: selector{{tag: "tbody"}, {tag: "tr"}}},
		{in: "div#pagination a.btn.next", want: selector{{tag: "div", id: "pagination"}, {tag: "a", classes: []string{"btn", "next"}}}},
		{in: "   ", wantErr: true},
		{in: "a#", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseSelector(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
