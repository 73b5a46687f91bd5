package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"phivault/pkg/domain"
	dErrors "phivault/pkg/domain-errors"
	"phivault/pkg/platform/tx"
)

type LedgerSuite struct {
	suite.Suite
	store  *MemoryStore
	ledger *Ledger
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.ledger = NewLedger(s.store, slog.New(slog.DiscardHandler))
}

func (s *LedgerSuite) TestRecordValidation() {
	ctx := context.Background()

	s.Run("unknown action rejected", func() {
		_, err := s.ledger.Record(ctx, Entry{Action: "phi_shredded", ActorID: "a"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("missing actor rejected", func() {
		_, err := s.ledger.Record(ctx, Entry{Action: ActionPHICreated})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("timestamp defaults when unset", func() {
		vaultID := domain.NewVaultID()
		id, err := s.ledger.Record(ctx, Entry{
			Action:  ActionPHICreated,
			ActorID: "a",
			VaultID: &vaultID,
		})
		s.Require().NoError(err)
		s.False(id.IsNil())

		entries, err := s.ledger.ListByVault(ctx, vaultID)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.False(entries[0].Timestamp.IsZero())
	})
}

func (s *LedgerSuite) TestSequenceMonotonicUnderConcurrency() {
	ctx := context.Background()
	vaultID := domain.NewVaultID()
	const writers = 50

	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ledger.Record(ctx, Entry{
				Action:  ActionPHIAccessed,
				ActorID: "a",
				VaultID: &vaultID,
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	entries, err := s.ledger.ListByVault(ctx, vaultID)
	s.Require().NoError(err)
	s.Require().Len(entries, writers)
	for i := 1; i < len(entries); i++ {
		s.Greater(entries[i].Sequence, entries[i-1].Sequence,
			"sequence must be strictly increasing in query order")
	}
}

func (s *LedgerSuite) TestListFilters() {
	ctx := context.Background()
	vaultID := domain.NewVaultID()
	procedureID := domain.NewProcedureID()

	_, err := s.ledger.Record(ctx, Entry{Action: ActionPHICreated, ActorID: "alice", VaultID: &vaultID})
	s.Require().NoError(err)
	_, err = s.ledger.Record(ctx, Entry{Action: ActionReviewStarted, ActorID: "bob", ProcedureID: &procedureID})
	s.Require().NoError(err)
	_, err = s.ledger.Record(ctx, Entry{Action: ActionPHIDecrypted, ActorID: "alice", VaultID: &vaultID})
	s.Require().NoError(err)

	byVault, err := s.ledger.ListByVault(ctx, vaultID)
	s.Require().NoError(err)
	s.Len(byVault, 2)

	byProcedure, err := s.ledger.ListByProcedure(ctx, procedureID)
	s.Require().NoError(err)
	s.Len(byProcedure, 1)

	byActor, err := s.ledger.ListByActor(ctx, "alice")
	s.Require().NoError(err)
	s.Len(byActor, 2)

	byAction, err := s.ledger.ListByAction(ctx, ActionPHIDecrypted)
	s.Require().NoError(err)
	s.Len(byAction, 1)
}

// captureFanOut records published entries, optionally failing.
type captureFanOut struct {
	mu      sync.Mutex
	entries []Entry
	fail    bool
}

func (f *captureFanOut) Publish(ctx context.Context, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unreachable")
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (s *LedgerSuite) TestFanOut() {
	ctx := context.Background()
	vaultID := domain.NewVaultID()

	s.Run("only compliance entries fan out", func() {
		fanout := &captureFanOut{}
		ledger := NewLedger(s.store, slog.New(slog.DiscardHandler), WithFanOut(fanout))

		_, err := ledger.Record(ctx, Entry{Action: ActionPHICreated, ActorID: "a", VaultID: &vaultID})
		s.Require().NoError(err)
		_, err = ledger.Record(ctx, Entry{Action: ActionReviewStarted, ActorID: "a"})
		s.Require().NoError(err)

		s.Require().Len(fanout.entries, 1)
		s.Equal(ActionPHICreated, fanout.entries[0].Action)
	})

	s.Run("fan-out waits for the transaction to commit", func() {
		fanout := &captureFanOut{}
		ledger := NewLedger(s.store, slog.New(slog.DiscardHandler), WithFanOut(fanout))

		hookCtx, hooks := tx.WithCommitHooks(ctx)
		_, err := ledger.Record(hookCtx, Entry{Action: ActionPHIDecrypted, ActorID: "a", VaultID: &vaultID})
		s.Require().NoError(err)
		s.Empty(fanout.entries, "entry must not reach the broker before commit")

		hooks.Run(ctx)
		s.Require().Len(fanout.entries, 1)
		s.Equal(ActionPHIDecrypted, fanout.entries[0].Action)
	})

	s.Run("rolled-back entries never publish", func() {
		fanout := &captureFanOut{}
		ledger := NewLedger(s.store, slog.New(slog.DiscardHandler), WithFanOut(fanout))

		hookCtx, _ := tx.WithCommitHooks(ctx)
		_, err := ledger.Record(hookCtx, Entry{Action: ActionReidentified, ActorID: "a", VaultID: &vaultID})
		s.Require().NoError(err)

		// The runner discards hooks when the transaction fails; the entry
		// stays off the broker.
		s.Empty(fanout.entries)
	})

	s.Run("fan-out failure does not fail the append", func() {
		fanout := &captureFanOut{fail: true}
		ledger := NewLedger(s.store, slog.New(slog.DiscardHandler), WithFanOut(fanout))

		_, err := ledger.Record(ctx, Entry{Action: ActionReidentified, ActorID: "a", VaultID: &vaultID})
		s.NoError(err)
	})
}

func TestActionCategories(t *testing.T) {
	compliance := []Action{ActionPHICreated, ActionPHIDecrypted, ActionReidentified, ActionFeedbackApplied}
	for _, action := range compliance {
		if action.Category() != CategoryCompliance {
			t.Errorf("%s: expected compliance category, got %s", action, action.Category())
		}
	}
	if ActionPHIAccessed.Category() != CategorySecurity {
		t.Errorf("phi_accessed should be security")
	}
	if ActionLLMCalled.Category() != CategoryOperations {
		t.Errorf("llm_called should be operations")
	}
	if Action("bogus").Valid() {
		t.Errorf("unknown action must not validate")
	}
}
