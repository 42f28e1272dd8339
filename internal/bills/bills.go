// Package bills builds the employee's bill table from the remote store.
package bills

import (
	"context"
	"fmt"
	"log/slog"

	"billed/internal/core"
	"billed/internal/log"
	"billed/internal/metrics"
	"billed/internal/store"
)

// Navigator requests a route change.
type Navigator func(ctx context.Context, path string)

// Preview is what the eye icon opens: the attachment shown at half the
// modal width.
type Preview struct {
	FileURL string
	Width   int
}

// Lister turns stored bills into display rows.
type Lister struct {
	store    store.BillLister
	logger   *slog.Logger
	metrics  *metrics.Metrics
	navigate Navigator
}

type Option func(*Lister)

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Lister) { l.metrics = m }
}

func WithNavigator(n Navigator) Option {
	return func(l *Lister) { l.navigate = n }
}

func New(s store.BillLister, logger *slog.Logger, opts ...Option) *Lister {
	l := &Lister{
		store:  s,
		logger: log.Component(logger, log.ComponentBills),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FetchBills lists the bills once and returns one view per record, in store
// order. A record whose date or status cannot be formatted is kept with its
// raw values. Store errors wrap core.ErrListFailed.
func (l *Lister) FetchBills(ctx context.Context) ([]core.BillView, error) {
	records, err := l.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrListFailed, err)
	}

	views := make([]core.BillView, 0, len(records))
	malformed := 0
	for _, b := range records {
		v, err := core.NewView(b)
		if err != nil {
			malformed++
			l.logger.WarnContext(ctx, "Bill shown unformatted",
				log.FieldBillID, b.ID,
				log.FieldError, err.Error(),
			)
			v = core.RawView(b)
		}
		views = append(views, v)
	}
	l.metrics.ObserveListed(len(views), malformed)
	l.logger.DebugContext(ctx, "Bills fetched", log.FieldCount, len(views))
	return views, nil
}

// HandleClickIconEye returns the preview of the attachment at fileURL for a
// modal modalWidth pixels wide.
func (l *Lister) HandleClickIconEye(fileURL string, modalWidth int) Preview {
	return Preview{FileURL: fileURL, Width: modalWidth / 2}
}

// HandleClickNewBill navigates to the bill creation form.
func (l *Lister) HandleClickNewBill(ctx context.Context) {
	if l.navigate != nil {
		l.navigate(ctx, core.RouteNewBill)
	}
}
