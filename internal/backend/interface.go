package backend

import (
	"context"

	"billed/internal/sheets"
	"billed/internal/storage"
)

// CleanupFunc releases the resources behind a backend.
type CleanupFunc func() error

// Result holds the repository and its cleanup function.
type Result struct {
	Repository storage.Repository
	Cleanup    CleanupFunc
}

// Factory creates the persistence and export backends chosen by configuration.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Result, error)
	CreateExporter(ctx context.Context, config Config) (sheets.BillExporter, error)
}

type Config struct {
	Type BackendType

	SQLiteDBPath string
	DatabaseURL  string

	// Empty SpreadsheetID selects the in-memory exporter.
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON []byte
}

type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend:
		return true
	default:
		return false
	}
}
