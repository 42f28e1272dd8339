package backend

import (
	"errors"
	"fmt"

	"billed/internal/config"
)

// FromAppConfig converts the application config to backend config. Sheets
// credentials are only read when a spreadsheet is configured.
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, errors.New("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	cfg := Config{
		Type:          backendType,
		SQLiteDBPath:  appConfig.SQLiteDBPath,
		DatabaseURL:   appConfig.DatabaseURL,
		SpreadsheetID: appConfig.GoogleSpreadsheetID,
		SheetName:     appConfig.GoogleSheetName,
	}
	if appConfig.SheetsEnabled() {
		creds, err := appConfig.ServiceAccountJSON()
		if err != nil {
			return Config{}, fmt.Errorf("load service account credentials: %w", err)
		}
		cfg.CredentialsJSON = creds
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return errors.New("SQLite database path is required for sqlite backend")
		}
	case PostgresBackend:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required for postgres backend")
		}
	case MemoryBackend:
	}

	if c.SpreadsheetID != "" && len(c.CredentialsJSON) == 0 {
		return errors.New("service account credentials are required when a spreadsheet is configured")
	}
	return nil
}

func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, SQLiteBackend, PostgresBackend}
}
