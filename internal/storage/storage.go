// Package storage persists bills and users for the bill store API.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"billed/internal/core"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type (
	// Record is a stored bill. Draft rows come from an attachment upload
	// that has not been submitted yet and never show up in listings.
	Record struct {
		core.Bill
		Draft     bool
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	User struct {
		core.User
		PasswordHash string
	}

	Repository interface {
		// CreateBill inserts rec, assigning an id when rec.ID is empty.
		CreateBill(ctx context.Context, rec Record) (Record, error)
		UpdateBill(ctx context.Context, rec Record) (Record, error)
		GetBill(ctx context.Context, id string) (Record, error)
		// ListBills returns the submitted bills of owner, or of everyone when all is set.
		ListBills(ctx context.Context, owner string, all bool) ([]core.Bill, error)
		CreateUser(ctx context.Context, u User) error
		FindUserByEmail(ctx context.Context, email string) (User, error)
		Close() error
	}
)

// prepareInsert fills the id and timestamps of a record about to be inserted.
func prepareInsert(rec Record, now time.Time) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = core.StatusPending
	}
	rec.CreatedAt = now.UTC()
	rec.UpdatedAt = rec.CreatedAt
	return rec
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
