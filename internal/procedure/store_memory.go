package procedure

import (
	"context"
	"sort"
	"sync"

	"phivault/pkg/domain"
	"phivault/pkg/platform/sentinel"
)

// MemoryStore is an in-memory procedure store for tests and single-process
// use. Version checks run under the store lock, so concurrent stale writers
// observe the same conflict semantics as the SQL store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[domain.ProcedureID]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[domain.ProcedureID]*Record)}
}

func (s *MemoryStore) Create(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return sentinel.ErrDuplicate
	}
	clone := cloneRecord(record)
	s.records[record.ID] = clone
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id domain.ProcedureID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRecord(record), nil
}

func (s *MemoryStore) Update(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[record.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Version != record.Version {
		return sentinel.ErrConflict
	}
	record.Version++
	s.records[record.ID] = cloneRecord(record)
	return nil
}

func (s *MemoryStore) ListByVault(ctx context.Context, vaultID domain.VaultID) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for _, record := range s.records {
		if record.VaultID == vaultID {
			out = append(out, cloneRecord(record))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneRecord(record *Record) *Record {
	clone := *record
	clone.EntityMap = append([]Entity(nil), record.EntityMap...)
	clone.CodingResults = append([]byte(nil), record.CodingResults...)
	return &clone
}
