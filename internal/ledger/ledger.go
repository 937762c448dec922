// Package ledger keeps a bounded, write-through record of collection runs:
// when each started, how far it got, and whether it completed or failed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"invoice-collector/internal/models"
)

// DefaultRetention is how many sessions survive a load.
const DefaultRetention = 10

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session status transition")
)

// Store loads and saves the whole session mapping.
type Store interface {
	Load(ctx context.Context) (map[string]models.Session, error)
	Save(ctx context.Context, sessions map[string]models.Session) error
}

// Auditor is implemented by stores that keep an event trail.
type Auditor interface {
	AppendAudit(ctx context.Context, sessionID, event, detail string) error
}

// Ledger tracks sessions in a Store.
type Ledger struct {
	store     Store
	retention int
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithRetention bounds the number of sessions kept; values below 1 are ignored.
func WithRetention(n int) Option {
	return func(l *Ledger) {
		if n >= 1 {
			l.retention = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides GenerateSessionID.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) { l.newID = fn }
}

// WithLogger sets the ledger logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Ledger) { l.logger = lg }
}

// New builds a ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		retention: DefaultRetention,
		now:       time.Now,
		newID:     GenerateSessionID,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GenerateSessionID returns a random (version 4) UUID string.
func GenerateSessionID() string {
	return uuid.NewString()
}

// Load returns the stored sessions. When more than the retention limit are
// present, only the most recent are kept and the trimmed mapping is saved
// before returning.
func (l *Ledger) Load(ctx context.Context) (map[string]models.Session, error) {
	sessions, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	if sessions == nil {
		sessions = make(map[string]models.Session)
	}
	if len(sessions) <= l.retention {
		return sessions, nil
	}

	kept := make(map[string]models.Session, l.retention)
	for _, s := range sortedDesc(sessions)[:l.retention] {
		kept[s.SessionID] = s
	}
	l.logger.Debug("trimmed session ledger", "before", len(sessions), "after", len(kept))
	if err := l.store.Save(ctx, kept); err != nil {
		return nil, fmt.Errorf("save trimmed sessions: %w", err)
	}
	return kept, nil
}

// Save persists sessions as-is.
func (l *Ledger) Save(ctx context.Context, sessions map[string]models.Session) error {
	if err := l.store.Save(ctx, sessions); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}

// CheckSessionCompleted reports whether id exists with status completed.
func (l *Ledger) CheckSessionCompleted(ctx context.Context, id string) bool {
	sessions, err := l.Load(ctx)
	if err != nil {
		l.logger.Warn("completion check failed", "session_id", id, "error", err)
		return false
	}
	s, ok := sessions[id]
	return ok && s.Status == models.StatusCompleted
}

// Get returns one session.
func (l *Ledger) Get(ctx context.Context, id string) (models.Session, error) {
	sessions, err := l.Load(ctx)
	if err != nil {
		return models.Session{}, err
	}
	s, ok := sessions[id]
	if !ok {
		return models.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns sessions newest first.
func (l *Ledger) List(ctx context.Context) ([]models.Session, error) {
	sessions, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return sortedDesc(sessions), nil
}

func (l *Ledger) put(ctx context.Context, s models.Session) error {
	sessions, err := l.Load(ctx)
	if err != nil {
		return err
	}
	sessions[s.SessionID] = s
	return l.Save(ctx, sessions)
}

func (l *Ledger) audit(ctx context.Context, id, event, detail string) {
	a, ok := l.store.(Auditor)
	if !ok {
		return
	}
	if err := a.AppendAudit(ctx, id, event, detail); err != nil {
		l.logger.Warn("append audit failed", "session_id", id, "event", event, "error", err)
	}
}

func sortedDesc(sessions map[string]models.Session) []models.Session {
	out := make([]models.Session, 0, len(sessions))
	for id, s := range sessions {
		if s.SessionID == "" {
			s.SessionID = id
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp.Time) {
			return out[i].SessionID > out[j].SessionID
		}
		return out[i].Timestamp.After(out[j].Timestamp.Time)
	})
	return out
}
