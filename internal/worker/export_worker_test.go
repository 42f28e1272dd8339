package worker

import (
	"context"
	"errors"
	"testing"

	"billed/internal/amqp"
	"billed/internal/core"
	"billed/internal/sheets/memory"
	"billed/internal/storage"
)

type failingExporter struct{}

func (failingExporter) ExportBill(context.Context, core.Bill) (string, error) {
	return "", errors.New("quota exceeded")
}

func seed(t *testing.T, repo *storage.MemoryRepository, rec storage.Record) string {
	t.Helper()
	created, err := repo.CreateBill(context.Background(), rec)
	if err != nil {
		t.Fatalf("CreateBill: %v", err)
	}
	return created.ID
}

func TestHandleBillSubmitted_Exports(t *testing.T) {
	repo := storage.NewMemoryRepository()
	exporter := memory.New()
	w := NewExportWorker(repo, exporter, nil, nil)

	id := seed(t, repo, storage.Record{Bill: core.Bill{Email: "a@test.tld", Name: "train", Amount: 10}})
	if err := w.HandleBillSubmitted(context.Background(), &amqp.BillSubmittedMessage{ID: id}); err != nil {
		t.Fatalf("HandleBillSubmitted: %v", err)
	}

	rows := exporter.Rows()
	if len(rows) != 1 || rows[0][0] != id {
		t.Errorf("rows = %v", rows)
	}
}

func TestHandleBillSubmitted_SkipsDraftsAndMissing(t *testing.T) {
	repo := storage.NewMemoryRepository()
	exporter := memory.New()
	w := NewExportWorker(repo, exporter, nil, nil)
	ctx := context.Background()

	draft := seed(t, repo, storage.Record{Bill: core.Bill{Email: "a@test.tld"}, Draft: true})
	for _, id := range []string{draft, "missing"} {
		if err := w.HandleBillSubmitted(ctx, &amqp.BillSubmittedMessage{ID: id}); err != nil {
			t.Errorf("HandleBillSubmitted(%s) = %v, want nil", id, err)
		}
	}
	if rows := exporter.Rows(); len(rows) != 0 {
		t.Errorf("nothing should be exported, got %v", rows)
	}
}

func TestHandleBillSubmitted_ExportErrorRequeues(t *testing.T) {
	repo := storage.NewMemoryRepository()
	w := NewExportWorker(repo, failingExporter{}, nil, nil)

	id := seed(t, repo, storage.Record{Bill: core.Bill{Email: "a@test.tld"}})
	if err := w.HandleBillSubmitted(context.Background(), &amqp.BillSubmittedMessage{ID: id}); err == nil {
		t.Fatal("expected the export error to be returned")
	}
}
