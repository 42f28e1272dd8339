package newbill

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"billed/internal/cache"
	"billed/internal/log"
)

// Drafts keeps in-progress forms between requests. A draft belongs to the
// session email it was opened with and expires after a period of inactivity.
type Drafts struct {
	forms *cache.LRUCache[*Form]
}

// NewDrafts keeps up to maxSize drafts, each for ttl after its last use.
// Drafts dropped by expiry or capacity are logged, with their upload phase.
func NewDrafts(maxSize int, ttl time.Duration, logger *slog.Logger) *Drafts {
	if logger == nil {
		logger = log.Discard()
	}
	logger = log.Component(logger, log.ComponentNewBill)
	forms := cache.NewLRUCache[*Form](maxSize, ttl)
	forms.OnEvict(func(id string, f *Form) {
		logger.Debug("Draft dropped",
			log.FieldDraftID, id, log.FieldEmail, f.Owner(), log.FieldPhase, f.Upload().Phase.String())
	})
	return &Drafts{forms: forms}
}

// Open creates a form for cfg and returns its draft id.
func (d *Drafts) Open(cfg Config) (string, *Form) {
	id := uuid.NewString()
	f := New(cfg)
	d.forms.Set(id, f)
	return id, f
}

// Get returns draft id if it is owned by email. Each hit extends
// the draft's lifetime.
func (d *Drafts) Get(id, email string) (*Form, bool) {
	f, ok := d.forms.Get(id)
	if !ok || f.Owner() != email {
		return nil, false
	}
	d.forms.Touch(id)
	return f, true
}

// Close forgets a draft, typically after a successful submit.
func (d *Drafts) Close(id string) {
	d.forms.Delete(id)
}

func (d *Drafts) Len() int {
	return d.forms.Size()
}

// CleanExpired lets a cache.Manager sweep idle drafts.
func (d *Drafts) CleanExpired() int {
	return d.forms.CleanExpired()
}
