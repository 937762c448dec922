package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultMaxBytes     = 5 * 1024 * 1024
)

// HTTPBrowser drives server-rendered pages over plain HTTP. Each navigation
// replaces the current document. It is not safe for concurrent use.
type HTTPBrowser struct {
	client       *http.Client
	userAgent    string
	pollInterval time.Duration
	maxBytes     int64
	logger       *slog.Logger

	current *url.URL
	doc     *html.Node
}

// Option customises an HTTPBrowser.
type Option func(*HTTPBrowser)

// WithPollInterval sets how often WaitFor reloads the page.
func WithPollInterval(d time.Duration) Option {
	return func(b *HTTPBrowser) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithMaxBytes caps the size of a downloaded page.
func WithMaxBytes(n int64) Option {
	return func(b *HTTPBrowser) {
		if n > 0 {
			b.maxBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(b *HTTPBrowser) { b.userAgent = ua }
}

// WithLogger sets the browser logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *HTTPBrowser) { b.logger = l }
}

// NewHTTPBrowser returns a browser using client, or a 30s-timeout client when nil.
func NewHTTPBrowser(client *http.Client, opts ...Option) *HTTPBrowser {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	b := &HTTPBrowser{
		client:       client,
		userAgent:    "invoice-collector/1.0",
		pollInterval: defaultPollInterval,
		maxBytes:     defaultMaxBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Navigate loads rawURL. Error statuses are reported through the response,
// not as an error.
func (b *HTTPBrowser) Navigate(ctx context.Context, rawURL string) (*Response, error) {
	target, err := b.resolve(rawURL)
	if err != nil {
		return nil, err
	}
	return b.load(ctx, target)
}

// WaitFor returns the first element matching selector, reloading the page
// until it appears or timeout elapses.
func (b *HTTPBrowser) WaitFor(ctx context.Context, sel string, timeout time.Duration) (*Element, error) {
	s, err := parseSelector(sel)
	if err != nil {
		return nil, err
	}
	if b.doc == nil {
		return nil, errors.New("wait for selector: no page loaded")
	}

	deadline := time.Now().Add(timeout)
	for {
		if n := s.first(b.doc); n != nil {
			return &Element{Tag: n.Data, ID: attr(n, "id"), Text: strings.TrimSpace(textContent(n))}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("timeout %s exceeded waiting for selector %q", timeout, sel)
		}

		wait := b.pollInterval
		if left := time.Until(deadline); left < wait {
			wait = left
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}

		if _, err := b.load(ctx, b.current); err != nil {
			b.logger.Debug("reload while waiting failed", "selector", sel, "error", err)
		}
	}
}

// Click follows locator, an href relative to the current page.
func (b *HTTPBrowser) Click(ctx context.Context, locator string) error {
	if b.current == nil {
		return errors.New("click: no page loaded")
	}
	target, err := b.resolve(locator)
	if err != nil {
		return err
	}
	resp, err := b.load(ctx, target)
	if err != nil {
		return fmt.Errorf("click %s: %w", locator, err)
	}
	if resp.Code >= http.StatusBadRequest {
		return fmt.Errorf("click %s: server returned status %d", locator, resp.Code)
	}
	return nil
}

// Rows returns the trimmed cell texts of every "tbody tr" row.
func (b *HTTPBrowser) Rows(_ context.Context) ([][]string, error) {
	if b.doc == nil {
		return nil, errors.New("rows: no page loaded")
	}
	rowSel, _ := parseSelector("tbody tr")
	var out [][]string
	for _, tr := range rowSel.all(b.doc) {
		var cells []string
		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
				cells = append(cells, strings.TrimSpace(textContent(c)))
			}
		}
		out = append(out, cells)
	}
	return out, nil
}

// Text returns the text content of the first element matching selector, or
// "" when nothing matches.
func (b *HTTPBrowser) Text(_ context.Context, sel string) (string, error) {
	s, err := parseSelector(sel)
	if err != nil {
		return "", err
	}
	if n := s.first(b.doc); n != nil {
		return textContent(n), nil
	}
	return "", nil
}

// NextLocator finds an enabled rel=next link, preferring one inside #pagination.
func (b *HTTPBrowser) NextLocator(_ context.Context) (string, bool, error) {
	if b.doc == nil {
		return "", false, errors.New("next locator: no page loaded")
	}
	for _, scope := range []string{"#pagination a", "a"} {
		s, _ := parseSelector(scope)
		for _, n := range s.all(b.doc) {
			if !contains(strings.Fields(strings.ToLower(attr(n, "rel"))), "next") {
				continue
			}
			if hasAttr(n, "disabled") || attr(n, "aria-disabled") == "true" {
				return "", false, nil
			}
			if href := attr(n, "href"); href != "" {
				return href, true, nil
			}
		}
	}
	return "", false, nil
}

// URL is the address of the current document.
func (b *HTTPBrowser) URL() string {
	if b.current == nil {
		return ""
	}
	return b.current.String()
}

func (b *HTTPBrowser) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", ref, err)
	}
	if b.current != nil {
		u = b.current.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("url %q is not absolute", ref)
	}
	return u, nil
}

func (b *HTTPBrowser) load(ctx context.Context, target *url.URL) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", b.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, b.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	if int64(len(body)) > b.maxBytes {
		return nil, fmt.Errorf("page too large (>%d bytes)", b.maxBytes)
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	b.current = resp.Request.URL
	b.doc = doc
	b.logger.Debug("page loaded", "url", b.current.String(), "status", resp.StatusCode)
	return &Response{URL: b.current.String(), Code: resp.StatusCode}, nil
}
