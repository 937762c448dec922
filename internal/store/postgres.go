package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"invoice-collector/internal/models"
)

// Postgres persists ledger sessions and their audit trail.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Load returns every stored session keyed by id.
func (s *Postgres) Load(ctx context.Context) (map[string]models.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, started_at, status, pages_processed, invoices_collected, completed_at, error, failed_at
		FROM collector_sessions
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.Session)
	for rows.Next() {
		var (
			sess      models.Session
			startedAt time.Time
			completed *time.Time
			failed    *time.Time
		)
		if err := rows.Scan(&sess.SessionID, &startedAt, &sess.Status, &sess.PagesProcessed, &sess.InvoicesCollected, &completed, &sess.Error, &failed); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Timestamp = models.NewTimestamp(startedAt)
		if completed != nil {
			sess.CompletionTimestamp = models.TimestampPtr(*completed)
		}
		if failed != nil {
			sess.FailureTimestamp = models.TimestampPtr(*failed)
		}
		out[sess.SessionID] = sess
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// Save replaces the stored sessions with the given mapping in one transaction.
func (s *Postgres) Save(ctx context.Context, sessions map[string]models.Session) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	ids := make([]string, 0, len(sessions))
	batch := &pgx.Batch{}
	for id, sess := range sessions {
		ids = append(ids, id)
		batch.Queue(`
			INSERT INTO collector_sessions (session_id, started_at, status, pages_processed, invoices_collected, completed_at, error, failed_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (session_id) DO UPDATE SET
				started_at = EXCLUDED.started_at,
				status = EXCLUDED.status,
				pages_processed = EXCLUDED.pages_processed,
				invoices_collected = EXCLUDED.invoices_collected,
				completed_at = EXCLUDED.completed_at,
				error = EXCLUDED.error,
				failed_at = EXCLUDED.failed_at,
				updated_at = NOW()
		`, id, sess.Timestamp.Time, sess.Status, sess.PagesProcessed, sess.InvoicesCollected,
			timePtr(sess.CompletionTimestamp), sess.Error, timePtr(sess.FailureTimestamp))
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert sessions: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM collector_sessions WHERE NOT (session_id = ANY($1))`, ids); err != nil {
		return fmt.Errorf("prune sessions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AppendAudit adds an audit row.
func (s *Postgres) AppendAudit(ctx context.Context, sessionID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO collector_audit (session_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, sessionID, event, detail)
	return err
}

// AuditTrail returns the audit events recorded for a session, oldest first.
func (s *Postgres) AuditTrail(ctx context.Context, sessionID string) ([]models.AuditEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, event, detail, ts FROM collector_audit WHERE session_id = $1 ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var ev models.AuditEvent
		if err := rows.Scan(&ev.SessionID, &ev.Event, &ev.Detail, &ev.Recorded); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func timePtr(ts *models.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	t := ts.Time
	return &t
}
