package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"billed/internal/core"
	"billed/internal/log"
)

var _ Repository = (*PostgresRepository)(nil)

// PostgresRepository keeps bills in Postgres. The schema is applied with
// idempotent DDL when the repository opens.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

func NewPostgresRepository(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresRepository, error) {
	if logger == nil {
		logger = log.Discard()
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	r := &PostgresRepository{pool: pool, logger: logger, now: time.Now}
	if err := r.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Postgres repository ready", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return r, nil
}

func (r *PostgresRepository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

func (r *PostgresRepository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			email TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS bills (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			amount DOUBLE PRECISION NOT NULL DEFAULT 0,
			date TEXT NOT NULL DEFAULT '',
			vat TEXT NOT NULL DEFAULT '',
			pct INTEGER NOT NULL DEFAULT 0,
			commentary TEXT NOT NULL DEFAULT '',
			file_url TEXT,
			file_name TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			comment_admin TEXT NOT NULL DEFAULT '',
			draft BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`ALTER TABLE bills ADD COLUMN IF NOT EXISTS comment_admin TEXT NOT NULL DEFAULT '';`,
		`CREATE INDEX IF NOT EXISTS bills_email_idx ON bills (email);`,
		`CREATE INDEX IF NOT EXISTS bills_draft_idx ON bills (draft);`,
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) CreateBill(ctx context.Context, rec Record) (Record, error) {
	rec = prepareInsert(rec, r.now())
	_, err := r.pool.Exec(ctx, `INSERT INTO bills (`+billColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.ID, rec.Email, rec.Type, rec.Name, rec.Amount, rec.Date, string(rec.VAT), int(rec.Pct), rec.Commentary,
		rec.FileURL, rec.FileName, string(rec.Status), rec.CommentAdmin, rec.Draft,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return Record{}, ErrAlreadyExists
		}
		return Record{}, fmt.Errorf("insert bill: %w", err)
	}
	r.logger.DebugContext(ctx, "Bill saved to Postgres", log.FieldBillID, rec.ID, "draft", rec.Draft)
	return rec, nil
}

func (r *PostgresRepository) UpdateBill(ctx context.Context, rec Record) (Record, error) {
	rec.UpdatedAt = r.now().UTC()
	row := r.pool.QueryRow(ctx, `UPDATE bills SET
		email = $1, type = $2, name = $3, amount = $4, date = $5, vat = $6, pct = $7, commentary = $8,
		file_url = $9, file_name = $10, status = $11, comment_admin = $12, draft = $13, updated_at = $14
		WHERE id = $15
		RETURNING `+billColumns,
		rec.Email, rec.Type, rec.Name, rec.Amount, rec.Date, string(rec.VAT), int(rec.Pct), rec.Commentary,
		rec.FileURL, rec.FileName, string(rec.Status), rec.CommentAdmin, rec.Draft, rec.UpdatedAt, rec.ID)
	updated, err := scanPgBill(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("update bill %s: %w", rec.ID, err)
	}
	return updated, nil
}

func (r *PostgresRepository) GetBill(ctx context.Context, id string) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1`, id)
	rec, err := scanPgBill(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get bill %s: %w", id, err)
	}
	return rec, nil
}

func (r *PostgresRepository) ListBills(ctx context.Context, owner string, all bool) ([]core.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE NOT draft`
	var args []any
	if !all {
		query += ` AND email = $1`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()

	bills := []core.Bill{}
	for rows.Next() {
		rec, err := scanPgBill(rows)
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

func (r *PostgresRepository) CreateUser(ctx context.Context, u User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (email, type, password_hash) VALUES ($1, $2, $3)`,
		u.Email, string(u.Type), u.PasswordHash)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	var typ string
	err := r.pool.QueryRow(ctx,
		`SELECT email, type, password_hash FROM users WHERE email = $1`, email).
		Scan(&u.Email, &typ, &u.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}
	u.Type = core.UserType(typ)
	return u, nil
}

func scanPgBill(row pgx.Row) (Record, error) {
	var rec Record
	var status, vat string
	var pct int
	err := row.Scan(&rec.ID, &rec.Email, &rec.Type, &rec.Name, &rec.Amount, &rec.Date, &vat,
		&pct, &rec.Commentary, &rec.FileURL, &rec.FileName, &status, &rec.CommentAdmin, &rec.Draft,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Status = core.Status(status)
	rec.VAT, rec.Pct = core.VAT(vat), core.Pct(pct)
	return rec, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
