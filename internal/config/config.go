package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
)

// Backends accepted by DATA_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	// Web front
	Port          string        `env:"PORT" envDefault:"8080"`
	APIBaseURL    string        `env:"API_BASE_URL" envDefault:"http://localhost:5678"`
	DraftTTL      time.Duration `env:"DRAFT_TTL" envDefault:"30m"`
	SecureCookies bool          `env:"SECURE_COOKIES" envDefault:"false"`

	// Bill store API
	APIPort        string `env:"API_PORT" envDefault:"5678"`
	PublicBaseURL  string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:5678"`
	AttachmentsDir string `env:"ATTACHMENTS_DIR" envDefault:"./data/attachments"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	SeedUsers      string `env:"SEED_USERS"`

	// Auth
	JWTSecret string        `env:"JWT_SECRET"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"billed"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	// Storage
	DataBackend  string `env:"DATA_BACKEND" envDefault:"sqlite"`
	SQLiteDBPath string `env:"SQLITE_DB_PATH" envDefault:"./data/billed.db"`
	DatabaseURL  string `env:"DATABASE_URL"`

	// Export worker
	WorkerPort string `env:"WORKER_PORT" envDefault:"9090"`

	// AMQP
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"billed"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"bill_exports"`

	// Google Sheets export
	GoogleSpreadsheetID      string `env:"GOOGLE_SPREADSHEET_ID"`
	GoogleSheetName          string `env:"GOOGLE_SHEET_NAME" envDefault:"Bills"`
	GoogleServiceAccountJSON string `env:"GOOGLE_SERVICE_ACCOUNT_JSON"`
	GoogleServiceAccountFile string `env:"GOOGLE_SERVICE_ACCOUNT_FILE"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// SheetsEnabled reports whether the worker should export to Google Sheets.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate checks the settings shared by every binary. Problems are
// collected and returned together.
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, validatePort("PORT", c.Port)...)
	errs = append(errs, validatePort("API_PORT", c.APIPort)...)
	errs = append(errs, validatePort("WORKER_PORT", c.WorkerPort)...)
	errs = append(errs, validateHTTPURL("API_BASE_URL", c.APIBaseURL)...)
	errs = append(errs, validateHTTPURL("PUBLIC_BASE_URL", c.PublicBaseURL)...)

	backends := []string{BackendMemory, BackendSQLite, BackendPostgres}
	if !slices.Contains(backends, c.DataBackend) {
		errs = append(errs, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, backends))
	}
	switch c.DataBackend {
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errs = append(errs, "SQLite database path cannot be empty when using sqlite backend")
		} else if err := ensureDir(filepath.Dir(c.SQLiteDBPath)); err != nil {
			errs = append(errs, fmt.Sprintf("cannot create SQLite database directory: %v", err))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when using postgres backend")
		}
	}

	if c.MaxUploadBytes < 1 {
		errs = append(errs, fmt.Sprintf("invalid max upload size %d: must be positive", c.MaxUploadBytes))
	}
	if c.JWTTTL < time.Minute {
		errs = append(errs, fmt.Sprintf("invalid JWT TTL %v: must be at least 1 minute", c.JWTTTL))
	}
	if c.DraftTTL < time.Minute {
		errs = append(errs, fmt.Sprintf("invalid draft TTL %v: must be at least 1 minute", c.DraftTTL))
	}

	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SheetsEnabled() {
		if c.GoogleSheetName == "" {
			errs = append(errs, "Google Sheet name is required when a spreadsheet is configured")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errs = append(errs, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for sheets export")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errs = append(errs, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// ValidateAPI adds the checks only the bill store API needs.
func (c *Config) ValidateAPI() error {
	var errs []string
	if err := c.Validate(); err != nil {
		errs = append(errs, strings.TrimPrefix(err.Error(), "configuration validation failed:\n- "))
	}
	if len(c.JWTSecret) < 16 {
		errs = append(errs, "JWT_SECRET must be at least 16 characters")
	}
	if c.AttachmentsDir == "" {
		errs = append(errs, "ATTACHMENTS_DIR cannot be empty")
	} else if err := ensureDir(c.AttachmentsDir); err != nil {
		errs = append(errs, fmt.Sprintf("cannot create attachments directory: %v", err))
	}
	if _, err := ParseSeedUsers(c.SeedUsers); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// ServiceAccountJSON returns the inline credentials or the content of the
// credentials file.
func (c *Config) ServiceAccountJSON() ([]byte, error) {
	if c.GoogleServiceAccountJSON != "" {
		return []byte(c.GoogleServiceAccountJSON), nil
	}
	if c.GoogleServiceAccountFile == "" {
		return nil, fmt.Errorf("no Google service account configured")
	}
	b, err := os.ReadFile(c.GoogleServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return b, nil
}

// SeedUser is one SEED_USERS entry.
type SeedUser struct {
	Email    string
	Password string
	Type     string
}

// ParseSeedUsers parses "email:password:Type" entries separated by commas.
func ParseSeedUsers(s string) ([]SeedUser, error) {
	var users []SeedUser
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid SEED_USERS entry %q: want email:password:Type", entry)
		}
		if parts[2] != "Employee" && parts[2] != "Admin" {
			return nil, fmt.Errorf("invalid SEED_USERS type %q: must be Employee or Admin", parts[2])
		}
		users = append(users, SeedUser{Email: parts[0], Password: parts[1], Type: parts[2]})
	}
	return users, nil
}

func validatePort(name, port string) []string {
	p, err := strconv.Atoi(port)
	if err != nil {
		return []string{fmt.Sprintf("invalid %s '%s': must be a number", name, port)}
	}
	if p < 1 || p > 65535 {
		return []string{fmt.Sprintf("invalid %s %d: must be between 1 and 65535", name, p)}
	}
	return nil
}

func validateHTTPURL(name, raw string) []string {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []string{fmt.Sprintf("invalid %s '%s': must be an http(s) URL", name, raw)}
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}
