//go:build integration

package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"phivault/pkg/domain"
	"phivault/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "audit_log")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newEntry(action Action, actorID string) *Entry {
	return &Entry{
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		Action:    action,
		ActorID:   actorID,
	}
}

func (s *PostgresStoreSuite) TestAppendAssignsSequence() {
	ctx := context.Background()

	first := s.newEntry(ActionPHICreated, "actor-1")
	second := s.newEntry(ActionPHIDecrypted, "actor-1")
	s.Require().NoError(s.store.Append(ctx, first))
	s.Require().NoError(s.store.Append(ctx, second))

	s.False(first.ID.IsNil())
	s.Greater(second.Sequence, first.Sequence)
}

func (s *PostgresStoreSuite) TestAppendPreservesFields() {
	ctx := context.Background()
	vaultID := domain.NewVaultID()
	procedureID := domain.NewProcedureID()

	entry := s.newEntry(ActionEntityConfirmed, "reviewer-1")
	entry.VaultID = &vaultID
	entry.ProcedureID = &procedureID
	entry.Detail = "span confirmed"
	entry.Metadata = map[string]string{"span": "0:8", "entity_type": "PERSON"}
	entry.RequestID = "req-42"
	s.Require().NoError(s.store.Append(ctx, entry))

	entries, err := s.store.ListByProcedure(ctx, procedureID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)

	got := entries[0]
	s.Equal(ActionEntityConfirmed, got.Action)
	s.Equal("reviewer-1", got.ActorID)
	s.Require().NotNil(got.VaultID)
	s.Equal(vaultID, *got.VaultID)
	s.Equal("span confirmed", got.Detail)
	s.Equal("0:8", got.Metadata["span"])
	s.Equal("req-42", got.RequestID)
	s.WithinDuration(entry.Timestamp, got.Timestamp, time.Millisecond)
}

func (s *PostgresStoreSuite) TestListFilters() {
	ctx := context.Background()
	vaultID := domain.NewVaultID()
	otherVault := domain.NewVaultID()

	tagged := s.newEntry(ActionPHIAccessed, "actor-1")
	tagged.VaultID = &vaultID
	s.Require().NoError(s.store.Append(ctx, tagged))

	other := s.newEntry(ActionPHIAccessed, "actor-2")
	other.VaultID = &otherVault
	s.Require().NoError(s.store.Append(ctx, other))

	untagged := s.newEntry(ActionReviewStarted, "actor-1")
	s.Require().NoError(s.store.Append(ctx, untagged))

	byVault, err := s.store.ListByVault(ctx, vaultID)
	s.Require().NoError(err)
	s.Require().Len(byVault, 1)
	s.Equal("actor-1", byVault[0].ActorID)

	byActor, err := s.store.ListByActor(ctx, "actor-1")
	s.Require().NoError(err)
	s.Len(byActor, 2)

	byAction, err := s.store.ListByAction(ctx, ActionReviewStarted)
	s.Require().NoError(err)
	s.Require().Len(byAction, 1)
	s.Nil(byAction[0].VaultID)
}

func (s *PostgresStoreSuite) TestSequenceMonotonicUnderConcurrency() {
	ctx := context.Background()
	vaultID := domain.NewVaultID()

	const writers = 20
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			entry := s.newEntry(ActionPHIAccessed, "actor-1")
			entry.VaultID = &vaultID
			s.Require().NoError(s.store.Append(ctx, entry))
		}()
	}
	wg.Wait()

	entries, err := s.store.ListByVault(ctx, vaultID)
	s.Require().NoError(err)
	s.Require().Len(entries, writers)
	for i := 1; i < len(entries); i++ {
		s.Greater(entries[i].Sequence, entries[i-1].Sequence)
	}
}
