package models

import (
	"encoding/json"
	"math"
	"time"
)

// Invoice statuses accepted by the collector.
const (
	InvoicePaid          = "Paid"
	InvoicePartiallyPaid = "Partially Paid"
)

// Invoice is one row of the invoices table.
type Invoice struct {
	InvoiceID string `json:"invoice_id"`
	Customer  string `json:"customer"`
	Amount    string `json:"amount"`
	PaidAt    string `json:"paid_at"`
	Status    string `json:"status"`
}

// Accepted reports whether the invoice is paid or partially paid.
func (i Invoice) Accepted() bool {
	return i.Status == InvoicePaid || i.Status == InvoicePartiallyPaid
}

// RunSummary is the result of a collection run, cached for replay.
type RunSummary struct {
	SessionID         string    `json:"session_id,omitempty"`
	InvoicesCollected int       `json:"invoices_collected"`
	PagesProcessed    int       `json:"pages_processed"`
	OutputPath        string    `json:"output_path"`
	UploadedTo        string    `json:"uploaded_to,omitempty"`
	CompletedAt       time.Time `json:"completed_at"`
}

// CacheEntry is one idempotency record. TS is seconds since the epoch.
type CacheEntry struct {
	TS      float64         `json:"ts"`
	Summary json.RawMessage `json:"summary"`
}

// EpochSeconds converts t to fractional seconds since the epoch.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Time returns the recording instant.
func (e CacheEntry) Time() time.Time {
	sec, frac := math.Modf(e.TS)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
