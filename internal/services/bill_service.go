// Package services holds the bill store rules shared by the API handlers:
// ownership, review permissions and submission announcements.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"billed/internal/auth"
	"billed/internal/core"
	"billed/internal/log"
	"billed/internal/storage"
)

// Publisher announces submitted bills to downstream consumers.
type Publisher interface {
	PublishBillSubmitted(ctx context.Context, b core.Bill) error
}

// BillService orchestrates bill operations across the repository and AMQP.
type BillService struct {
	repo      storage.Repository
	publisher Publisher
	logger    *slog.Logger
}

// NewBillService wires repo and an optional publisher.
func NewBillService(repo storage.Repository, publisher Publisher, logger *slog.Logger) *BillService {
	if logger == nil {
		logger = log.Discard()
	}
	return &BillService{repo: repo, publisher: publisher, logger: log.Component(logger, log.ComponentStorage)}
}

// Authenticate returns the user owning email when password matches.
// Unknown users and wrong passwords both yield auth.ErrInvalidCredentials.
func (s *BillService) Authenticate(ctx context.Context, email, password string) (core.User, error) {
	u, err := s.repo.FindUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return core.User{}, auth.ErrInvalidCredentials
	}
	if err != nil {
		return core.User{}, fmt.Errorf("find user: %w", err)
	}
	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		return core.User{}, err
	}
	return u.User, nil
}

// List returns the submitted bills u may see: their own, or all for admins.
func (s *BillService) List(ctx context.Context, u core.User) ([]core.Bill, error) {
	return s.repo.ListBills(ctx, u.Email, u.Type == core.UserAdmin)
}

// CreateDraft records an uploaded attachment as a draft bill owned by u.
// Drafts are not announced.
func (s *BillService) CreateDraft(ctx context.Context, u core.User, fileURL, fileName string) (storage.Record, error) {
	rec, err := s.repo.CreateBill(ctx, storage.Record{
		Bill: core.Bill{
			Email:    u.Email,
			FileURL:  core.StringPtr(fileURL),
			FileName: core.StringPtr(fileName),
			Status:   core.StatusPending,
		},
		Draft: true,
	})
	if err != nil {
		return storage.Record{}, fmt.Errorf("create draft: %w", err)
	}
	return rec, nil
}

// Create stores in as a new submitted bill owned by u.
func (s *BillService) Create(ctx context.Context, u core.User, in core.Bill) (core.Bill, error) {
	rec := storage.Record{Bill: in}
	rec.ID = ""
	rec.Email = u.Email
	rec.Status, rec.CommentAdmin = reviewFields(u, in, core.StatusPending, "")

	created, err := s.repo.CreateBill(ctx, rec)
	if err != nil {
		return core.Bill{}, fmt.Errorf("create bill: %w", err)
	}
	s.publish(ctx, created.Bill)
	return created.Bill, nil
}

// Submit overwrites bill id with in and reports whether it was a draft.
// The stored id, owner and attachment win over in, and only admins change
// the review fields. Bills of other users are reported as
// storage.ErrNotFound unless u is an admin.
func (s *BillService) Submit(ctx context.Context, u core.User, id string, in core.Bill) (core.Bill, bool, error) {
	prev, err := s.repo.GetBill(ctx, id)
	if err != nil {
		return core.Bill{}, false, err
	}
	if prev.Email != u.Email && u.Type != core.UserAdmin {
		return core.Bill{}, false, storage.ErrNotFound
	}

	next := storage.Record{Bill: in, CreatedAt: prev.CreatedAt}
	next.ID = prev.ID
	next.Email = prev.Email
	if prev.FileURL != nil {
		next.FileURL, next.FileName = prev.FileURL, prev.FileName
	}
	next.Status, next.CommentAdmin = reviewFields(u, in, prev.Status, prev.CommentAdmin)

	updated, err := s.repo.UpdateBill(ctx, next)
	if err != nil {
		return core.Bill{}, false, fmt.Errorf("update bill: %w", err)
	}
	s.publish(ctx, updated.Bill)
	return updated.Bill, prev.Draft, nil
}

// Ready probes the repository with a cheap lookup.
func (s *BillService) Ready(ctx context.Context) error {
	_, err := s.repo.FindUserByEmail(ctx, "readyz@billed.invalid")
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// reviewFields returns the status and admin comment a write by u may set.
func reviewFields(u core.User, in core.Bill, status core.Status, comment string) (core.Status, string) {
	if u.Type == core.UserAdmin {
		if in.Status.Valid() {
			status = in.Status
		}
		if in.CommentAdmin != "" {
			comment = in.CommentAdmin
		}
	}
	if status == "" {
		status = core.StatusPending
	}
	return status, comment
}

// publish announces b. Failures are logged: the bill is already stored.
func (s *BillService) publish(ctx context.Context, b core.Bill) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP client not available, skipping bill announcement", log.FieldBillID, b.ID)
		return
	}
	if err := s.publisher.PublishBillSubmitted(ctx, b); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish bill submitted message",
			log.FieldBillID, b.ID, log.FieldError, err)
	}
}

// Close closes the repository and the publisher when it is closable.
func (s *BillService) Close() error {
	var errs []error
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}
	return errors.Join(errs...)
}
