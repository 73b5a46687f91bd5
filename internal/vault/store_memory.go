package vault

import (
	"context"
	"sync"
	"time"

	"phivault/pkg/domain"
	"phivault/pkg/platform/sentinel"
)

// MemoryStore is an in-memory vault store for tests and single-process use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[domain.VaultID]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[domain.VaultID]*Record)}
}

func (s *MemoryStore) Create(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return sentinel.ErrDuplicate
	}
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

// CreateUnique checks for a live record with the same payload hash and
// inserts under the same lock, so concurrent stores of identical content
// cannot both succeed.
func (s *MemoryStore) CreateUnique(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.PayloadHash == record.PayloadHash && !existing.IsDeleted {
			return sentinel.ErrDuplicate
		}
	}
	if _, exists := s.records[record.ID]; exists {
		return sentinel.ErrDuplicate
	}
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id domain.VaultID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *MemoryStore) FindByHash(ctx context.Context, payloadHash string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, record := range s.records {
		if record.PayloadHash == payloadHash && !record.IsDeleted {
			clone := *record
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) MarkDeleted(ctx context.Context, id domain.VaultID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if record.IsDeleted {
		return nil
	}
	record.IsDeleted = true
	record.DeletedAt = &at
	return nil
}

// Corrupt overwrites stored ciphertext in place. Test hook for simulating
// at-rest tampering; not part of the Store interface.
func (s *MemoryStore) Corrupt(id domain.VaultID, ciphertext []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[id]; ok {
		record.EncryptedPayload = ciphertext
	}
}
