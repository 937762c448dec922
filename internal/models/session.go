package models

import (
	"strings"
	"time"
)

// Session statuses persisted in the ledger.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Session is one execution of the collection job as recorded in the ledger.
type Session struct {
	SessionID           string     `json:"session_id"`
	Timestamp           Timestamp  `json:"timestamp"`
	Status              string     `json:"status"`
	PagesProcessed      int        `json:"pages_processed"`
	InvoicesCollected   int        `json:"invoices_collected"`
	CompletionTimestamp *Timestamp `json:"completion_timestamp,omitempty"`
	Error               *string    `json:"error,omitempty"`
	FailureTimestamp    *Timestamp `json:"failure_timestamp,omitempty"`
}

// Terminal reports whether the session reached completed or failed.
func (s Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// timestampLayouts are tried in order when decoding. Ledgers written by older
// tooling store local time without an offset.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Timestamp is an ISO-8601 instant.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// TimestampPtr is NewTimestamp for optional fields.
func TimestampPtr(t time.Time) *Timestamp {
	ts := NewTimestamp(t)
	return &ts
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(time.RFC3339Nano) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// AuditEvent is a single ledger audit row.
type AuditEvent struct {
	SessionID string    `json:"session_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail"`
	Recorded  time.Time `json:"recorded_at"`
}
