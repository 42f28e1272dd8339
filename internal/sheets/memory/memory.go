package memory

import (
	"context"
	"fmt"
	"sync"

	"billed/internal/core"
	ports "billed/internal/sheets"
)

var _ ports.BillExporter = (*Exporter)(nil)

// Exporter keeps exported rows in memory. It stands in for Google Sheets
// when no spreadsheet is configured.
type Exporter struct {
	mu   sync.Mutex
	rows [][]any
	ids  map[string]int
}

func New() *Exporter {
	return &Exporter{ids: make(map[string]int)}
}

// ExportBill appends a row, or rewrites the row already holding b.ID.
func (e *Exporter) ExportBill(_ context.Context, b core.Bill) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i, ok := e.ids[b.ID]; ok && b.ID != "" {
		e.rows[i] = ports.Row(b)
		return fmt.Sprintf("mem:%d", i+1), nil
	}
	e.rows = append(e.rows, ports.Row(b))
	e.ids[b.ID] = len(e.rows) - 1
	return fmt.Sprintf("mem:%d", len(e.rows)), nil
}

func (e *Exporter) Rows() [][]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]any, len(e.rows))
	copy(out, e.rows)
	return out
}
