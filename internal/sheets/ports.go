// Package sheets defines where submitted bills are exported for bookkeeping.
package sheets

import (
	"context"

	"billed/internal/core"
)

// BillExporter appends one row per submitted bill.
type BillExporter interface {
	ExportBill(ctx context.Context, b core.Bill) (rowRef string, err error)
}

// Header is the column order every exporter writes.
var Header = []string{"ID", "Email", "Type", "Name", "Date", "Amount", "VAT", "Pct", "Commentary", "File", "Status"}

// Row flattens b in Header order.
func Row(b core.Bill) []any {
	return []any{
		b.ID, b.Email, b.Type, b.Name, b.Date, b.Amount, string(b.VAT), int(b.Pct), b.Commentary,
		core.Deref(b.FileURL), string(b.Status),
	}
}
