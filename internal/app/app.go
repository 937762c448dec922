// Package app assembles the collector and its trackers from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"invoice-collector/internal/browser"
	"invoice-collector/internal/collector"
	"invoice-collector/internal/config"
	"invoice-collector/internal/export"
	"invoice-collector/internal/idempotency"
	"invoice-collector/internal/ledger"
	"invoice-collector/internal/models"
	"invoice-collector/internal/retry"
	"invoice-collector/internal/store"
)

// AuditReader exposes a session's event trail.
type AuditReader interface {
	AuditTrail(ctx context.Context, sessionID string) ([]models.AuditEvent, error)
}

// App holds the wired components. Cache and Ledger are always built so the
// inspection commands work whatever the tracking mode; the collector only
// consults the ones the mode selects.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Cache     *idempotency.Cache
	Ledger    *ledger.Ledger
	Audit     AuditReader
	Collector *collector.Collector

	closers []func()
}

// New validates cfg and wires every component.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &App{Config: cfg, Logger: logger}

	cacheBackend, err := a.cacheBackend(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Cache = idempotency.New(cacheBackend, cfg.IdempotencyTTL, idempotency.WithLogger(logger))

	ledgerStore, err := a.ledgerStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ledger = ledger.New(ledgerStore, ledger.WithRetention(cfg.RetentionLimit), ledger.WithLogger(logger))

	retrier, err := retry.New(retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BackoffInitial,
		MaxDelay:    cfg.BackoffMax,
	}, retry.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}

	uploader, err := export.NewUploader(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []collector.Option{collector.WithLogger(logger)}
	if cfg.UsesCache() {
		opts = append(opts, collector.WithCache(a.Cache))
	}
	if cfg.UsesLedger() {
		opts = append(opts, collector.WithLedger(a.Ledger))
	}
	if uploader != nil {
		opts = append(opts, collector.WithUploader(uploader))
	}

	b := browser.NewHTTPBrowser(&http.Client{Timeout: cfg.WaitTimeout * 3}, browser.WithLogger(logger))
	a.Collector = collector.New(b, retrier, collector.Options{
		URL:          cfg.InvoicesURL,
		MaxPages:     cfg.MaxPages,
		PageInterval: cfg.PageInterval,
		WaitTimeout:  cfg.WaitTimeout,
		OutputDir:    cfg.OutputDir,
	}, opts...)

	return a, nil
}

// Close releases backend connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) cacheBackend(cfg config.Config) (idempotency.Backend, error) {
	switch cfg.CacheBackend {
	case config.BackendFile:
		return store.NewJSONFile[models.CacheEntry](cfg.IdempotencyPath, a.Logger), nil
	case config.BackendRedis:
		client := store.NewRedisClient(cfg)
		a.closers = append(a.closers, func() { _ = client.Close() })
		return store.NewRedisHash[models.CacheEntry](client, cfg.RedisCacheKey, a.Logger), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
}

func (a *App) ledgerStore(ctx context.Context, cfg config.Config) (ledger.Store, error) {
	switch cfg.LedgerBackend {
	case config.BackendFile:
		return store.NewJSONFile[models.Session](cfg.LedgerPath, a.Logger), nil
	case config.BackendPostgres:
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.RunMigrations(ctx); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		a.Audit = pg
		return pg, nil
	}
	return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
}
