// Package worker exports submitted bills to the bookkeeping spreadsheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"billed/internal/amqp"
	"billed/internal/log"
	"billed/internal/metrics"
	"billed/internal/sheets"
	"billed/internal/storage"
)

// BillGetter is the slice of storage.Repository the worker reads from.
type BillGetter interface {
	GetBill(ctx context.Context, id string) (storage.Record, error)
}

type ExportWorker struct {
	bills    BillGetter
	exporter sheets.BillExporter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewExportWorker(bills BillGetter, exporter sheets.BillExporter, m *metrics.Metrics, logger *slog.Logger) *ExportWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &ExportWorker{
		bills:    bills,
		exporter: exporter,
		metrics:  m,
		logger:   log.Component(logger, log.ComponentWorker),
	}
}

// HandleBillSubmitted loads the bill named by msg and exports it. Bills
// that no longer exist or are still drafts are acknowledged without export.
func (w *ExportWorker) HandleBillSubmitted(ctx context.Context, msg *amqp.BillSubmittedMessage) error {
	logger := w.logger.With(log.FieldBillID, msg.ID)

	rec, err := w.bills.GetBill(ctx, msg.ID)
	if errors.Is(err, storage.ErrNotFound) {
		logger.WarnContext(ctx, "Bill vanished before export, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get bill from storage: %w", err)
	}
	if rec.Draft {
		logger.DebugContext(ctx, "Bill is still a draft, skipping export")
		return nil
	}

	ref, err := w.exporter.ExportBill(ctx, rec.Bill)
	w.metrics.ObserveExport(err)
	if err != nil {
		return fmt.Errorf("export bill: %w", err)
	}

	logger.InfoContext(ctx, "Bill exported", "row_ref", ref, "status", rec.Status)
	return nil
}
