package backend

import (
	"context"
	"path/filepath"
	"testing"

	"billed/internal/config"
	"billed/internal/log"
	"billed/internal/sheets/memory"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected an error for a nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Error("expected an error for an unknown backend")
	}

	cfg, err := FromAppConfig(&config.Config{
		DataBackend:  "postgres",
		DatabaseURL:  "postgres://localhost/billed",
		SQLiteDBPath: "ignored.db",
	})
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Type != PostgresBackend || cfg.DatabaseURL != "postgres://localhost/billed" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"postgres without url", Config{Type: PostgresBackend}, true},
		{"unknown", Config{Type: "sheets"}, true},
		{"spreadsheet without credentials", Config{Type: MemoryBackend, SpreadsheetID: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateBackend(t *testing.T) {
	f := NewFactory(log.Discard())
	ctx := context.Background()

	for _, cfg := range []Config{
		{Type: MemoryBackend},
		{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "billed.db")},
	} {
		t.Run(cfg.Type.String(), func(t *testing.T) {
			res, err := f.CreateBackend(ctx, cfg)
			if err != nil {
				t.Fatalf("CreateBackend: %v", err)
			}
			defer res.Cleanup()
			if _, err := res.Repository.ListBills(ctx, "a@test.tld", false); err != nil {
				t.Errorf("ListBills: %v", err)
			}
		})
	}
}

func TestCreateExporter_DefaultsToMemory(t *testing.T) {
	exp, err := NewFactory(log.Discard()).CreateExporter(context.Background(), Config{Type: MemoryBackend})
	if err != nil {
		t.Fatalf("CreateExporter: %v", err)
	}
	if _, ok := exp.(*memory.Exporter); !ok {
		t.Errorf("exporter = %T, want *memory.Exporter", exp)
	}
}
