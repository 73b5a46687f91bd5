package feedback

import (
	"context"
	"sync"

	"phivault/internal/procedure"
	"phivault/pkg/domain"
	"phivault/pkg/platform/sentinel"
)

// MemoryStore is an in-memory feedback store for tests and single-process
// use.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[domain.ProcedureID]*Feedback
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[domain.ProcedureID]*Feedback)}
}

func (s *MemoryStore) Save(ctx context.Context, fb *Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fb.ID.IsNil() {
		fb.ID = domain.NewFeedbackID()
	}
	if existing, ok := s.rows[fb.ProcedureID]; ok {
		fb.ID = existing.ID
		fb.CreatedAt = existing.CreatedAt
	}
	s.rows[fb.ProcedureID] = cloneFeedback(fb)
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id domain.FeedbackID) (*Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, fb := range s.rows {
		if fb.ID == id {
			return cloneFeedback(fb), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) FindByProcedure(ctx context.Context, procedureID domain.ProcedureID) (*Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fb, ok := s.rows[procedureID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneFeedback(fb), nil
}

func cloneFeedback(fb *Feedback) *Feedback {
	clone := *fb
	clone.Detected = append([]procedure.Entity(nil), fb.Detected...)
	clone.Confirmed = append([]procedure.Entity(nil), fb.Confirmed...)
	return &clone
}
