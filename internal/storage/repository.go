package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"billed/internal/core"
	"billed/internal/log"
)

const billColumns = `id, email, type, name, amount, date, vat, pct, commentary,
	file_url, file_name, status, comment_admin, draft, created_at, updated_at`

var _ Repository = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLiteRepository(dbPath string, logger *slog.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("SQLite repository ready", "path", dbPath, "schema_version", version)
	return &SQLiteRepository{db: db, logger: logger, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) CreateBill(ctx context.Context, rec Record) (Record, error) {
	rec = prepareInsert(rec, r.now())
	_, err := r.db.ExecContext(ctx, `INSERT INTO bills (`+billColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Email, rec.Type, rec.Name, rec.Amount, rec.Date, string(rec.VAT), int(rec.Pct), rec.Commentary,
		nullable(rec.FileURL), nullable(rec.FileName), string(rec.Status), rec.CommentAdmin,
		rec.Draft, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, ErrAlreadyExists
		}
		return Record{}, fmt.Errorf("insert bill: %w", err)
	}

	r.logger.DebugContext(ctx, "Bill saved to SQLite", log.FieldBillID, rec.ID, "draft", rec.Draft)
	return rec, nil
}

func (r *SQLiteRepository) UpdateBill(ctx context.Context, rec Record) (Record, error) {
	rec.UpdatedAt = r.now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE bills SET
		email = ?, type = ?, name = ?, amount = ?, date = ?, vat = ?, pct = ?, commentary = ?,
		file_url = ?, file_name = ?, status = ?, comment_admin = ?, draft = ?, updated_at = ?
		WHERE id = ?`,
		rec.Email, rec.Type, rec.Name, rec.Amount, rec.Date, string(rec.VAT), int(rec.Pct), rec.Commentary,
		nullable(rec.FileURL), nullable(rec.FileName), string(rec.Status), rec.CommentAdmin,
		rec.Draft, formatTime(rec.UpdatedAt), rec.ID)
	if err != nil {
		return Record{}, fmt.Errorf("update bill %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, fmt.Errorf("update bill %s: %w", rec.ID, err)
	}
	if n == 0 {
		return Record{}, ErrNotFound
	}
	return r.GetBill(ctx, rec.ID)
}

func (r *SQLiteRepository) GetBill(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+billColumns+` FROM bills WHERE id = ?`, id)
	rec, err := scanSQLiteBill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get bill %s: %w", id, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) ListBills(ctx context.Context, owner string, all bool) ([]core.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE draft = 0`
	var args []any
	if !all {
		query += ` AND email = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()

	bills := []core.Bill{}
	for rows.Next() {
		rec, err := scanSQLiteBill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}
		bills = append(bills, rec.Bill)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	return bills, nil
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, type, password_hash) VALUES (?, ?, ?)`,
		u.Email, string(u.Type), u.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	var typ string
	err := r.db.QueryRowContext(ctx,
		`SELECT email, type, password_hash FROM users WHERE email = ?`, email).
		Scan(&u.Email, &typ, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}
	u.Type = core.UserType(typ)
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteBill(row rowScanner) (Record, error) {
	var (
		rec               Record
		fileURL, fileName sql.NullString
		status, vat       string
		pct               int
		created, updated  string
	)
	err := row.Scan(&rec.ID, &rec.Email, &rec.Type, &rec.Name, &rec.Amount, &rec.Date, &vat,
		&pct, &rec.Commentary, &fileURL, &fileName, &status, &rec.CommentAdmin, &rec.Draft,
		&created, &updated)
	if err != nil {
		return Record{}, err
	}
	if fileURL.Valid {
		rec.FileURL = &fileURL.String
	}
	if fileName.Valid {
		rec.FileName = &fileName.String
	}
	rec.Status = core.Status(status)
	rec.VAT, rec.Pct = core.VAT(vat), core.Pct(pct)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
