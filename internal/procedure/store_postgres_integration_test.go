//go:build integration

package procedure

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"phivault/internal/vault"
	"phivault/pkg/domain"
	"phivault/pkg/platform/sentinel"
	"phivault/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *PostgresStore
	vaults   *vault.PostgresStore
	vaultID  domain.VaultID
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
	s.vaults = vault.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	// Truncate in dependency order
	err := s.postgres.TruncateTables(ctx, "scrubbing_feedback", "audit_log", "procedure_data", "phi_vault")
	s.Require().NoError(err)

	// Records reference a vault row; seed one per test.
	s.vaultID = domain.NewVaultID()
	err = s.vaults.Create(ctx, &vault.Record{
		ID:                  s.vaultID,
		EncryptedPayload:    []byte("ciphertext"),
		PayloadHash:         "hash-1",
		EncryptionAlgorithm: vault.AlgorithmAESGCM,
		KeyVersion:          1,
		CreatedBy:           "submitter-1",
		CreatedAt:           time.Now().UTC(),
	})
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newRecord() *Record {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Record{
		ID:               domain.NewProcedureID(),
		VaultID:          s.vaultID,
		ScrubbedText:     "[PERSON] presented with chest pain",
		OriginalTextHash: "hash-1",
		EntityMap: []Entity{
			{Start: 0, End: 8, EntityType: "PERSON", Confidence: 0.97, Text: "Jane Doe"},
		},
		Status:      StatusPendingReview,
		SubmitterID: "submitter-1",
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s *PostgresStoreSuite) TestCreateAndFindByID() {
	ctx := context.Background()
	record := s.newRecord()

	s.Require().NoError(s.store.Create(ctx, record))

	found, err := s.store.FindByID(ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(record.ID, found.ID)
	s.Equal(record.VaultID, found.VaultID)
	s.Equal(record.ScrubbedText, found.ScrubbedText)
	s.Equal(record.EntityMap, found.EntityMap)
	s.Equal(StatusPendingReview, found.Status)
	s.Equal(1, found.Version)
	s.Empty(found.FailureDetail)
	s.Nil(found.CompletedAt)
}

func (s *PostgresStoreSuite) TestFindByIDNotFound() {
	_, err := s.store.FindByID(context.Background(), domain.NewProcedureID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdateBumpsVersion() {
	ctx := context.Background()
	record := s.newRecord()
	s.Require().NoError(s.store.Create(ctx, record))

	record.Status = StatusPHIConfirmed
	record.ReviewerID = "reviewer-1"
	record.UpdatedAt = time.Now().UTC()
	s.Require().NoError(s.store.Update(ctx, record))
	s.Equal(2, record.Version)

	found, err := s.store.FindByID(ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(StatusPHIConfirmed, found.Status)
	s.Equal("reviewer-1", found.ReviewerID)
	s.Equal(2, found.Version)
}

func (s *PostgresStoreSuite) TestUpdateStaleVersionConflicts() {
	ctx := context.Background()
	record := s.newRecord()
	s.Require().NoError(s.store.Create(ctx, record))

	first := *record
	first.Status = StatusPHIConfirmed
	s.Require().NoError(s.store.Update(ctx, &first))

	stale := *record
	stale.Status = StatusFailed
	err := s.store.Update(ctx, &stale)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	found, err := s.store.FindByID(ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(StatusPHIConfirmed, found.Status)
}

func (s *PostgresStoreSuite) TestUpdateMissingRecord() {
	record := s.newRecord()
	err := s.store.Update(context.Background(), record)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestCodingResultsRoundtrip() {
	ctx := context.Background()
	record := s.newRecord()
	s.Require().NoError(s.store.Create(ctx, record))

	completedAt := time.Now().UTC().Truncate(time.Microsecond)
	record.Status = StatusCompleted
	record.CodingResults = json.RawMessage(`[{"cui":"C0008031","score":1}]`)
	record.CompletedAt = &completedAt
	s.Require().NoError(s.store.Update(ctx, record))

	found, err := s.store.FindByID(ctx, record.ID)
	s.Require().NoError(err)
	s.JSONEq(`[{"cui":"C0008031","score":1}]`, string(found.CodingResults))
	s.Require().NotNil(found.CompletedAt)
	s.WithinDuration(completedAt, *found.CompletedAt, time.Millisecond)
}

func (s *PostgresStoreSuite) TestListByVault() {
	ctx := context.Background()
	first := s.newRecord()
	second := s.newRecord()
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	s.Require().NoError(s.store.Create(ctx, first))
	s.Require().NoError(s.store.Create(ctx, second))

	records, err := s.store.ListByVault(ctx, s.vaultID)
	s.Require().NoError(err)
	s.Len(records, 2)

	records, err = s.store.ListByVault(ctx, domain.NewVaultID())
	s.Require().NoError(err)
	s.Empty(records)
}
