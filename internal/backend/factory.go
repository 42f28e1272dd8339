package backend

import (
	"context"
	"fmt"
	"log/slog"

	"billed/internal/log"
	"billed/internal/sheets"
	gsheet "billed/internal/sheets/google"
	"billed/internal/sheets/memory"
	"billed/internal/storage"
)

type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: log.Component(logger, log.ComponentBackend)}
}

func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		repo storage.Repository
		err  error
	)
	switch config.Type {
	case SQLiteBackend:
		repo, err = storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	case PostgresBackend:
		repo, err = storage.NewPostgresRepository(ctx, config.DatabaseURL, f.logger)
	case MemoryBackend:
		repo = storage.NewMemoryRepository()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s repository: %w", config.Type, err)
	}

	f.logger.Info("Initialized data backend", "type", config.Type)
	return &Result{Repository: repo, Cleanup: repo.Close}, nil
}

func (f *DefaultFactory) CreateExporter(ctx context.Context, config Config) (sheets.BillExporter, error) {
	if config.SpreadsheetID == "" {
		f.logger.Info("No spreadsheet configured, exporting to memory")
		return memory.New(), nil
	}
	cli, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   config.SpreadsheetID,
		SheetName:       config.SheetName,
		CredentialsJSON: config.CredentialsJSON,
	}, log.Component(f.logger, log.ComponentSheets))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	return cli, nil
}
