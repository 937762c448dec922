// Package export writes collected invoices to CSV and ships the file to its
// destination.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"invoice-collector/internal/idempotency"
	"invoice-collector/internal/models"
)

// Columns is the fixed CSV header.
var Columns = []string{"invoice_id", "customer", "amount", "paid_at", "status"}

// OutputPath is invoices.csv under dir, or invoices_<key>.csv when a key is
// given, with the key made filename-safe.
func OutputPath(dir, key string) string {
	if key == "" {
		return filepath.Join(dir, "invoices.csv")
	}
	return filepath.Join(dir, "invoices_"+idempotency.SanitizeKey(key)+".csv")
}

// Encode writes the header and one record per invoice.
func Encode(w io.Writer, invoices []models.Invoice) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, inv := range invoices {
		if err := cw.Write([]string{inv.InvoiceID, inv.Customer, inv.Amount, inv.PaidAt, inv.Status}); err != nil {
			return fmt.Errorf("write invoice %s: %w", inv.InvoiceID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile encodes invoices to path, creating the parent directory, and
// returns the bytes written.
func WriteFile(path string, invoices []models.Invoice) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, invoices); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}
