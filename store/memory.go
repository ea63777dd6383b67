package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-node operation.
type MemoryStore struct {
	mu      sync.RWMutex
	bills   map[string]*BillRecord
	members map[string]*Member
	history []*HistoryEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bills:   make(map[string]*BillRecord),
		members: make(map[string]*Member),
	}
}

func (s *MemoryStore) GetBill(_ context.Context, billID string) (*BillRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.bills[billID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListBills(_ context.Context, filter Filter, max int) ([]*BillRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.bills))
	for id := range s.bills {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*BillRecord
	for _, id := range ids {
		rec := s.bills[id]
		if len(filter) > 0 {
			doc, err := toDoc(rec)
			if err != nil {
				return nil, err
			}
			if !matchesFilter(doc, filter) {
				continue
			}
		}
		cp := *rec
		out = append(out, &cp)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateBill(_ context.Context, rec *BillRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bills[rec.BillID]; exists {
		return fmt.Errorf("bill %s already exists", rec.BillID)
	}
	cp := *rec
	if cp.LastUpdated.IsZero() {
		cp.LastUpdated = time.Now()
	}
	s.bills[rec.BillID] = &cp
	return nil
}

func (s *MemoryStore) UpdateBill(_ context.Context, billID string, fields map[string]any) (*BillRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.bills[billID]
	if !ok {
		return nil, ErrNotFound
	}
	updated, err := applyFields(rec, fields)
	if err != nil {
		return nil, err
	}
	updated.LastUpdated = time.Now()
	s.bills[billID] = updated
	cp := *updated
	return &cp, nil
}

func (s *MemoryStore) DeleteBill(_ context.Context, billID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bills[billID]; !ok {
		return ErrNotFound
	}
	delete(s.bills, billID)
	return nil
}

func (s *MemoryStore) GetMember(_ context.Context, memberID string) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[memberID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMembers(_ context.Context, filter Filter, max int) ([]*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*Member
	for _, id := range ids {
		m := s.members[id]
		if len(filter) > 0 {
			doc, err := toDoc(m)
			if err != nil {
				return nil, err
			}
			if !matchesFilter(doc, filter) {
				continue
			}
		}
		cp := *m
		out = append(out, &cp)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertMember(_ context.Context, m *Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	cp.UpdatedAt = time.Now()
	s.members[m.MemberID] = &cp
	return nil
}

func (s *MemoryStore) AppendHistory(_ context.Context, ev *HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	if cp.EventID == "" {
		cp.EventID = uuid.NewString()
	}
	if cp.RecordedAt.IsZero() {
		cp.RecordedAt = time.Now()
	}
	s.history = append(s.history, &cp)
	return nil
}

func (s *MemoryStore) ListHistory(_ context.Context, billID string, limit int) ([]*HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*HistoryEvent
	// Newest first
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].BillID != billID {
			continue
		}
		cp := *s.history[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
