package collector

import "invoice-collector/internal/models"

// Cell positions in an invoices table row.
const (
	cellPaidAt    = 1
	cellInvoiceID = 2
	cellCustomer  = 4
	cellStatus    = 5
	cellAmount    = 7
	minCells      = 8
)

// ExtractPage maps table rows to invoices, skipping short rows and keeping
// only paid or partially paid ones.
func ExtractPage(rows [][]string) []models.Invoice {
	var out []models.Invoice
	for _, cells := range rows {
		if len(cells) < minCells {
			continue
		}
		inv := models.Invoice{
			InvoiceID: cells[cellInvoiceID],
			Customer:  cells[cellCustomer],
			Amount:    cells[cellAmount],
			PaidAt:    cells[cellPaidAt],
			Status:    cells[cellStatus],
		}
		if inv.Accepted() {
			out = append(out, inv)
		}
	}
	return out
}
