// Package newbill implements the bill creation form: the attachment upload
// that fires as soon as a file is picked, and the submit that persists the
// bill referencing it.
package newbill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"billed/internal/core"
	"billed/internal/log"
	"billed/internal/metrics"
	"billed/internal/session"
	"billed/internal/store"
)

// Form field names, as posted by the bill form.
const (
	FieldType       = "expense-type"
	FieldName       = "expense-name"
	FieldAmount     = "amount"
	FieldDate       = "datepicker"
	FieldVAT        = "vat"
	FieldPct        = "pct"
	FieldCommentary = "commentary"
)

var (
	ErrUnknownField     = errors.New("unknown form field")
	ErrSubmitInProgress = errors.New("submit already in progress")
)

// Store is the part of the bill store the form talks to.
type Store interface {
	store.AttachmentCreator
	store.BillUpdater
}

// Navigator requests a route change once the bill is stored.
type Navigator func(ctx context.Context, path string)

type Config struct {
	Store    Store
	Session  session.Identity
	Navigate Navigator
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// FormState holds the raw field values as typed by the user.
type FormState struct {
	Type       string
	Name       string
	Amount     string
	Date       string
	VAT        string
	Pct        string
	Commentary string
}

// State is the externally visible step of the creation flow.
type State string

const (
	StateEmpty         State = "empty"
	StateFileSelected  State = "file-selected"
	StateFileUploaded  State = "file-uploaded"
	StateUploadFailed  State = "upload-failed"
	StateSubmitting    State = "submitting"
	StateNavigatedAway State = "navigated-away"
)

// Form is one bill being written. It is safe for concurrent use: the
// upload completes on its own goroutine while fields keep changing.
type Form struct {
	store    Store
	identity session.Identity
	navigate Navigator
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu         sync.Mutex
	fields     FormState
	upload     Upload
	generation uint64
	settled    chan struct{}
	submitting bool
	navigated  bool
}

func New(cfg Config) *Form {
	return &Form{
		store:    cfg.Store,
		identity: cfg.Session,
		navigate: cfg.Navigate,
		logger:   log.Component(cfg.Logger, log.ComponentNewBill),
		metrics:  cfg.Metrics,
	}
}

// Owner is the email of the session the form was opened with.
func (f *Form) Owner() string {
	return f.identity.Email
}

// SetField records one field change.
func (f *Form) SetField(name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch name {
	case FieldType:
		f.fields.Type = value
	case FieldName:
		f.fields.Name = value
	case FieldAmount:
		f.fields.Amount = value
	case FieldDate:
		f.fields.Date = value
	case FieldVAT:
		f.fields.VAT = value
	case FieldPct:
		f.fields.Pct = value
	case FieldCommentary:
		f.fields.Commentary = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return nil
}

// Fields returns a copy of the current field values.
func (f *Form) Fields() FormState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fields
}

// State reports where the form is in the creation flow.
func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.navigated:
		return StateNavigatedAway
	case f.submitting:
		return StateSubmitting
	}
	switch f.upload.Phase {
	case PhaseInFlight:
		return StateFileSelected
	case PhaseUploaded:
		return StateFileUploaded
	case PhaseFailed:
		return StateUploadFailed
	}
	return StateEmpty
}

// FileNameFromInput returns the last path segment of a file input value,
// e.g. `C:\fakepath\image.png` -> `image.png`.
func FileNameFromInput(value string) string {
	if i := strings.LastIndexAny(value, `\/`); i >= 0 {
		return value[i+1:]
	}
	return value
}

// HandleSubmit stores the bill and navigates to the bill list.
//
// A submit racing an in-flight upload waits for it to settle, bounded by
// ctx. Amounts that do not coerce to a number are rejected before the store
// is called. On any failure the form stays editable with its values intact.
func (f *Form) HandleSubmit(ctx context.Context) (core.Bill, error) {
	if err := f.lockSettled(ctx); err != nil {
		return core.Bill{}, err
	}
	if f.submitting {
		f.mu.Unlock()
		return core.Bill{}, fmt.Errorf("%w: %w", core.ErrSubmitFailed, ErrSubmitInProgress)
	}
	f.submitting = true
	fields, upload := f.fields, f.upload
	f.mu.Unlock()

	stored, err := f.submit(ctx, fields, upload)

	f.mu.Lock()
	f.submitting = false
	if err == nil {
		f.navigated = true
	}
	f.mu.Unlock()

	f.metrics.ObserveSubmit(err)
	if err != nil {
		f.logger.ErrorContext(ctx, "Bill submit failed",
			log.NewFields().WithBill(upload.Key, f.identity.Email).WithError(err).Args()...)
		return core.Bill{}, err
	}

	f.logger.InfoContext(ctx, "Bill submitted", log.NewFields().WithBill(stored.ID, stored.Email).Args()...)
	if f.navigate != nil {
		f.navigate(ctx, core.RouteBills)
	}
	return stored, nil
}

func (f *Form) submit(ctx context.Context, fields FormState, upload Upload) (core.Bill, error) {
	bill, err := f.assemble(fields, upload)
	if err != nil {
		return core.Bill{}, fmt.Errorf("%w: %w", core.ErrSubmitFailed, err)
	}
	data, err := bill.Marshal()
	if err != nil {
		return core.Bill{}, fmt.Errorf("%w: encode bill: %w", core.ErrSubmitFailed, err)
	}

	selector := ""
	if upload.Phase == PhaseUploaded {
		selector = upload.Key
	}
	stored, err := f.store.Update(ctx, store.UpdateRequest{Data: data, Selector: selector})
	if err != nil {
		return core.Bill{}, fmt.Errorf("%w: %w", core.ErrSubmitFailed, err)
	}
	return stored, nil
}

// assemble builds the record sent to the store. Attachment fields are nil
// unless the upload completed.
func (f *Form) assemble(fields FormState, upload Upload) (core.Bill, error) {
	amount, err := core.ParseAmount(fields.Amount)
	if err != nil {
		return core.Bill{}, err
	}
	b := core.Bill{
		Email:      f.identity.Email,
		Type:       fields.Type,
		Name:       fields.Name,
		Amount:     amount,
		Date:       fields.Date,
		VAT:        core.VAT(fields.VAT),
		Pct:        core.Pct(core.ParsePct(fields.Pct)),
		Commentary: fields.Commentary,
		Status:     core.StatusPending,
	}
	if upload.Phase == PhaseUploaded {
		b.FileURL = core.StringPtr(upload.FileURL)
		b.FileName = core.StringPtr(upload.FileName)
	}
	return b, nil
}
