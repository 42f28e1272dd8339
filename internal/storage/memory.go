package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"billed/internal/core"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is a process-local Repository for tests and demos.
type MemoryRepository struct {
	mu    sync.Mutex
	bills map[string]Record
	users map[string]User
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		bills: make(map[string]Record),
		users: make(map[string]User),
		now:   time.Now,
	}
}

func (m *MemoryRepository) Close() error { return nil }

func (m *MemoryRepository) CreateBill(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec = prepareInsert(rec, m.now())
	if _, ok := m.bills[rec.ID]; ok {
		return Record{}, ErrAlreadyExists
	}
	m.bills[rec.ID] = cloneRecord(rec)
	return rec, nil
}

func (m *MemoryRepository) UpdateBill(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.bills[rec.ID]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.CreatedAt = prev.CreatedAt
	rec.UpdatedAt = m.now().UTC()
	m.bills[rec.ID] = cloneRecord(rec)
	return rec, nil
}

func (m *MemoryRepository) GetBill(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.bills[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *MemoryRepository) ListBills(_ context.Context, owner string, all bool) ([]core.Bill, error) {
	m.mu.Lock()
	recs := make([]Record, 0, len(m.bills))
	for _, rec := range m.bills {
		if rec.Draft || (!all && rec.Email != owner) {
			continue
		}
		recs = append(recs, cloneRecord(rec))
	}
	m.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	bills := make([]core.Bill, len(recs))
	for i, rec := range recs {
		bills[i] = rec.Bill
	}
	return bills, nil
}

func (m *MemoryRepository) CreateUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Email]; ok {
		return ErrAlreadyExists
	}
	m.users[u.Email] = u
	return nil
}

func (m *MemoryRepository) FindUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// cloneRecord detaches the attachment pointers from the stored copy.
func cloneRecord(rec Record) Record {
	if rec.FileURL != nil {
		rec.FileURL = core.StringPtr(*rec.FileURL)
	}
	if rec.FileName != nil {
		rec.FileName = core.StringPtr(*rec.FileName)
	}
	return rec
}
