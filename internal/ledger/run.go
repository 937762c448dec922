package ledger

import (
	"context"
	"fmt"

	"invoice-collector/internal/models"
	"invoice-collector/internal/telemetry"
)

// Run is a started session. Every mutation is written through to the store.
type Run struct {
	ledger *Ledger
	rec    models.Session
}

// Begin records a new session with status started.
func (l *Ledger) Begin(ctx context.Context) (*Run, error) {
	rec := models.Session{
		SessionID: l.newID(),
		Timestamp: models.NewTimestamp(l.now()),
		Status:    models.StatusStarted,
	}
	if err := l.put(ctx, rec); err != nil {
		return nil, err
	}
	telemetry.Sessions.WithLabelValues(models.StatusStarted).Inc()
	l.logger.Info("session started", "session_id", rec.SessionID)
	l.audit(ctx, rec.SessionID, models.StatusStarted, "")
	return &Run{ledger: l, rec: rec}, nil
}

// ID is the session identifier.
func (r *Run) ID() string {
	return r.rec.SessionID
}

// Record is a copy of the session as last written.
func (r *Run) Record() models.Session {
	return r.rec
}

// Progress stores the running totals after a page.
func (r *Run) Progress(ctx context.Context, pages, invoices int) error {
	if r.rec.Status != models.StatusStarted {
		return fmt.Errorf("%w: progress on %s session", ErrInvalidTransition, r.rec.Status)
	}
	next := r.rec
	next.PagesProcessed = pages
	next.InvoicesCollected = invoices
	if err := r.ledger.put(ctx, next); err != nil {
		return err
	}
	r.rec = next
	r.ledger.audit(ctx, r.rec.SessionID, "progress", fmt.Sprintf("pages=%d invoices=%d", pages, invoices))
	return nil
}

// Complete moves the session from started to completed.
func (r *Run) Complete(ctx context.Context) error {
	if r.rec.Status != models.StatusStarted {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.rec.Status, models.StatusCompleted)
	}
	ctx = context.WithoutCancel(ctx)
	next := r.rec
	next.Status = models.StatusCompleted
	next.CompletionTimestamp = models.TimestampPtr(r.ledger.now())
	if err := r.ledger.put(ctx, next); err != nil {
		return err
	}
	r.rec = next
	telemetry.Sessions.WithLabelValues(models.StatusCompleted).Inc()
	r.ledger.logger.Info("session completed", "session_id", r.rec.SessionID,
		"pages", r.rec.PagesProcessed, "invoices", r.rec.InvoicesCollected)
	r.ledger.audit(ctx, r.rec.SessionID, models.StatusCompleted, "")
	return nil
}

// Fail moves the session from started to failed, keeping cause's message.
func (r *Run) Fail(ctx context.Context, cause error) error {
	if r.rec.Status != models.StatusStarted {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.rec.Status, models.StatusFailed)
	}
	ctx = context.WithoutCancel(ctx)
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	next := r.rec
	next.Status = models.StatusFailed
	next.Error = &msg
	next.FailureTimestamp = models.TimestampPtr(r.ledger.now())
	if err := r.ledger.put(ctx, next); err != nil {
		return err
	}
	r.rec = next
	telemetry.Sessions.WithLabelValues(models.StatusFailed).Inc()
	r.ledger.logger.Error("session failed", "session_id", r.rec.SessionID, "error", msg)
	r.ledger.audit(ctx, r.rec.SessionID, models.StatusFailed, msg)
	return nil
}

// Observe runs fn inside a new session. fn's error is recorded and returned
// unchanged; a panic is recorded as a failure and re-raised.
func (l *Ledger) Observe(ctx context.Context, fn func(ctx context.Context, run *Run) error) error {
	run, err := l.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			if ferr := run.Fail(ctx, fmt.Errorf("panic: %v", p)); ferr != nil {
				l.logger.Error("record panic failed", "session_id", run.ID(), "error", ferr)
			}
			panic(p)
		}
	}()

	if ferr := fn(ctx, run); ferr != nil {
		if run.rec.Status == models.StatusStarted {
			if rerr := run.Fail(ctx, ferr); rerr != nil {
				l.logger.Error("record failure failed", "session_id", run.ID(), "error", rerr)
			}
		}
		return ferr
	}
	if run.rec.Status == models.StatusStarted {
		return run.Complete(ctx)
	}
	return nil
}
