// Package collector drives a browser through the paginated invoices table,
// writes the accepted invoices to CSV and records the run.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"invoice-collector/internal/browser"
	"invoice-collector/internal/export"
	"invoice-collector/internal/idempotency"
	"invoice-collector/internal/ledger"
	"invoice-collector/internal/models"
	"invoice-collector/internal/retry"
	"invoice-collector/internal/telemetry"
)

// Options control one collection.
type Options struct {
	URL          string
	MaxPages     int
	PageInterval time.Duration
	WaitTimeout  time.Duration
	OutputDir    string
}

// Outcome is the result of Run. Invoices is empty for a replay.
type Outcome struct {
	Summary  models.RunSummary
	Invoices []models.Invoice
	Replayed bool
}

type Collector struct {
	browser  browser.Browser
	retrier  *retry.Retrier
	opts     Options
	cache    *idempotency.Cache
	ledger   *ledger.Ledger
	uploader export.Uploader
	limiter  *rate.Limiter
	now      func() time.Time
	logger   *slog.Logger
}

// Option wires optional collaborators.
type Option func(*Collector)

// WithCache enables replay of runs recorded under the same key.
func WithCache(c *idempotency.Cache) Option {
	return func(col *Collector) { col.cache = c }
}

// WithLedger records every run as a session.
func WithLedger(l *ledger.Ledger) Option {
	return func(col *Collector) { col.ledger = l }
}

// WithUploader ships the CSV after it is written.
func WithUploader(u export.Uploader) Option {
	return func(col *Collector) { col.uploader = u }
}

func WithClock(now func() time.Time) Option {
	return func(col *Collector) { col.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(col *Collector) { col.logger = l }
}

func New(b browser.Browser, r *retry.Retrier, opts Options, extra ...Option) *Collector {
	if opts.MaxPages < 1 {
		opts.MaxPages = 5
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 10 * time.Second
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "collected_data"
	}
	limit := rate.Inf
	if opts.PageInterval > 0 {
		limit = rate.Every(opts.PageInterval)
	}
	c := &Collector{
		browser: b,
		retrier: r,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range extra {
		o(c)
	}
	return c
}

// Run collects invoices for key. When the cache holds a fresh summary for key
// the browser is not touched and the summary is returned with Replayed set.
func (c *Collector) Run(ctx context.Context, key string) (Outcome, error) {
	if c.cache != nil {
		summary, ok, err := idempotency.Replay[models.RunSummary](ctx, c.cache, key)
		if err != nil {
			c.logger.Warn("cached summary unreadable, running again", "key", key, "error", err)
		} else if ok {
			c.logger.Info("replaying cached run", "key", key, "session_id", summary.SessionID)
			return Outcome{Summary: summary, Replayed: true}, nil
		}
	}

	var out Outcome
	collect := func(ctx context.Context, run *ledger.Run) error {
		var err error
		out, err = c.collect(ctx, key, run)
		return err
	}

	var err error
	if c.ledger != nil {
		err = c.ledger.Observe(ctx, collect)
	} else {
		err = collect(ctx, nil)
	}
	if err != nil {
		return Outcome{}, err
	}

	if c.cache != nil {
		if err := c.cache.RecordResult(ctx, key, out.Summary); err != nil {
			c.logger.Error("record run result failed", "key", key, "error", err)
		}
	}
	return out, nil
}

func (c *Collector) collect(ctx context.Context, key string, run *ledger.Run) (Outcome, error) {
	sessionID := ledger.GenerateSessionID()
	if run != nil {
		sessionID = run.ID()
	}
	log := c.logger.With("session_id", sessionID)

	log.Info("navigating to invoices", "url", c.opts.URL)
	if _, err := SafeGoto(ctx, c.retrier, c.browser, c.opts.URL); err != nil {
		return Outcome{}, fmt.Errorf("open invoices: %w", err)
	}

	var all []models.Invoice
	pages := 0
	for pages < c.opts.MaxPages {
		if _, err := SafeWaitFor(ctx, c.retrier, c.browser, "table", c.opts.WaitTimeout); err != nil {
			return Outcome{}, fmt.Errorf("page %d: %w", pages+1, err)
		}
		rows, err := c.browser.Rows(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("page %d rows: %w", pages+1, err)
		}
		found := ExtractPage(rows)
		all = append(all, found...)
		pages++

		telemetry.PagesProcessed.Inc()
		telemetry.InvoicesCollected.Add(float64(len(found)))
		log.Info("page processed", "page", pages, "rows", len(rows), "accepted", len(found))
		if run != nil {
			if err := run.Progress(ctx, pages, len(all)); err != nil {
				return Outcome{}, err
			}
		}

		if pages >= c.opts.MaxPages {
			log.Info("page limit reached", "max_pages", c.opts.MaxPages)
			break
		}
		next, ok, err := c.browser.NextLocator(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("find next page: %w", err)
		}
		if !ok {
			log.Info("no more pages")
			break
		}

		before, err := c.browser.Text(ctx, "tbody")
		if err != nil {
			return Outcome{}, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return Outcome{}, err
		}
		if err := SafeClick(ctx, c.retrier, c.browser, next); err != nil {
			return Outcome{}, fmt.Errorf("go to page %d: %w", pages+1, err)
		}
		after, err := c.browser.Text(ctx, "tbody")
		if err != nil {
			return Outcome{}, err
		}
		if after == before {
			log.Info("content unchanged after next, last page reached")
			break
		}
	}

	path := export.OutputPath(c.opts.OutputDir, key)
	body, err := export.WriteFile(path, all)
	if err != nil {
		return Outcome{}, fmt.Errorf("save invoices: %w", err)
	}
	log.Info("invoices saved", "count", len(all), "path", path)

	summary := models.RunSummary{
		SessionID:         sessionID,
		InvoicesCollected: len(all),
		PagesProcessed:    pages,
		OutputPath:        path,
	}
	if c.uploader != nil {
		dest, err := retry.Do(ctx, c.retrier, "upload", func(ctx context.Context) (string, error) {
			return export.Ship(ctx, c.uploader, path, body)
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("upload invoices: %w", err)
		}
		summary.UploadedTo = dest
		log.Info("invoices uploaded", "destination", dest)
	}
	summary.CompletedAt = c.now().UTC()

	return Outcome{Summary: summary, Invoices: all}, nil
}
