package audit

import (
	"context"
	"sync"

	"phivault/pkg/domain"
)

// MemoryStore is an in-memory ledger for tests and single-process use.
// Sequence numbers are assigned under the same lock as the append so insertion
// order is preserved even with concurrent writers.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	seq     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	entry.Sequence = s.seq
	if entry.ID.IsNil() {
		entry.ID = domain.NewEntryID()
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *MemoryStore) ListByVault(ctx context.Context, vaultID domain.VaultID) ([]Entry, error) {
	return s.filter(func(e Entry) bool {
		return e.VaultID != nil && *e.VaultID == vaultID
	}), nil
}

func (s *MemoryStore) ListByProcedure(ctx context.Context, procedureID domain.ProcedureID) ([]Entry, error) {
	return s.filter(func(e Entry) bool {
		return e.ProcedureID != nil && *e.ProcedureID == procedureID
	}), nil
}

func (s *MemoryStore) ListByActor(ctx context.Context, actorID string) ([]Entry, error) {
	return s.filter(func(e Entry) bool { return e.ActorID == actorID }), nil
}

func (s *MemoryStore) ListByAction(ctx context.Context, action Action) ([]Entry, error) {
	return s.filter(func(e Entry) bool { return e.Action == action }), nil
}

// filter returns matching entries in sequence order. Entries are stored in
// append order, which is sequence order by construction.
func (s *MemoryStore) filter(match func(Entry) bool) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, e := range s.entries {
		if match(e) {
			out = append(out, e)
		}
	}
	return out
}
