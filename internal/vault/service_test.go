package vault

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"phivault/internal/audit"
	"phivault/pkg/domain"
	dErrors "phivault/pkg/domain-errors"
	"phivault/pkg/platform/tx"
	"phivault/pkg/requestcontext"
)

type VaultServiceSuite struct {
	suite.Suite
	store      *MemoryStore
	auditStore *audit.MemoryStore
	ledger     *audit.Ledger
	service    *Service
}

func TestVaultServiceSuite(t *testing.T) {
	suite.Run(t, new(VaultServiceSuite))
}

func (s *VaultServiceSuite) SetupTest() {
	logger := slog.New(slog.DiscardHandler)
	s.store = NewMemoryStore()
	s.auditStore = audit.NewMemoryStore()
	s.ledger = audit.NewLedger(s.auditStore, logger)

	keyring, err := NewKeyring([]byte(strings.Repeat("k", 32)), 1)
	s.Require().NoError(err)

	s.service = NewService(s.store, s.ledger, keyring, tx.Passthrough{}, logger)
}

func (s *VaultServiceSuite) complianceCtx() context.Context {
	return requestcontext.WithActor(context.Background(), domain.Actor{
		ID:   "officer-1",
		Role: domain.RoleCompliance,
	})
}

func (s *VaultServiceSuite) submitterCtx() context.Context {
	return requestcontext.WithActor(context.Background(), domain.Actor{
		ID:   "submitter-1",
		Role: domain.RoleSubmitter,
	})
}

func (s *VaultServiceSuite) TestStoreAndDecryptRoundtrip() {
	ctx := s.complianceCtx()
	const note = "Patient Jane Doe presented with chest pain."

	record, err := s.service.Store(ctx, note)
	s.Require().NoError(err)
	s.NotEmpty(record.EncryptedPayload)
	s.NotEqual(note, string(record.EncryptedPayload))
	s.Equal(HashPayload([]byte(note)), record.PayloadHash)
	s.Equal(AlgorithmAESGCM, record.EncryptionAlgorithm)

	plaintext, err := s.service.Decrypt(ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(note, plaintext)

	entries, err := s.ledger.ListByVault(ctx, record.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(audit.ActionPHICreated, entries[0].Action)
	s.Equal(audit.ActionPHIDecrypted, entries[1].Action)
	s.Equal("officer-1", entries[1].ActorID)
}

func (s *VaultServiceSuite) TestStore() {
	s.Run("empty payload rejected", func() {
		_, err := s.service.Store(s.complianceCtx(), "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("anonymous caller denied", func() {
		_, err := s.service.Store(context.Background(), "note")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("submitter may store", func() {
		record, err := s.service.Store(s.submitterCtx(), "a submitter note")
		s.NoError(err)
		s.Equal("submitter-1", record.CreatedBy)
	})
}

func (s *VaultServiceSuite) TestDedup() {
	logger := slog.New(slog.DiscardHandler)
	keyring, err := NewKeyring([]byte(strings.Repeat("k", 32)), 1)
	s.Require().NoError(err)
	service := NewService(s.store, s.ledger, keyring, tx.Passthrough{}, logger, WithDedup(true))

	ctx := s.complianceCtx()
	first, err := service.Store(ctx, "identical note")
	s.Require().NoError(err)

	_, err = service.Store(ctx, "identical note")
	s.True(dErrors.HasCode(err, dErrors.CodeIntegrity))

	// Deleting the original frees the hash for re-storage.
	s.Require().NoError(service.SoftDelete(ctx, first.ID))
	_, err = service.Store(ctx, "identical note")
	s.NoError(err)
}

func (s *VaultServiceSuite) TestDedupConcurrentStores() {
	logger := slog.New(slog.DiscardHandler)
	keyring, err := NewKeyring([]byte(strings.Repeat("k", 32)), 1)
	s.Require().NoError(err)
	service := NewService(s.store, s.ledger, keyring, tx.Passthrough{}, logger, WithDedup(true))

	ctx := s.complianceCtx()
	const writers = 8
	var wg sync.WaitGroup
	var stored, rejected atomic.Int32
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Store(ctx, "same note from every writer")
			switch {
			case err == nil:
				stored.Add(1)
			case dErrors.HasCode(err, dErrors.CodeIntegrity):
				rejected.Add(1)
			default:
				s.Fail("unexpected store error", err.Error())
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), stored.Load(), "exactly one writer may own the content")
	s.Equal(int32(writers-1), rejected.Load())
}

func (s *VaultServiceSuite) TestDecrypt() {
	ctx := s.complianceCtx()
	record, err := s.service.Store(ctx, "decrypt target")
	s.Require().NoError(err)

	s.Run("missing record and denied access look identical in message", func() {
		_, notFoundErr := s.service.Decrypt(ctx, domain.NewVaultID())
		s.True(dErrors.HasCode(notFoundErr, dErrors.CodeNotFound))

		_, deniedErr := s.service.Decrypt(s.submitterCtx(), record.ID)
		s.True(dErrors.HasCode(deniedErr, dErrors.CodeUnauthorized))
		s.NotContains(deniedErr.Error(), record.ID.String())
	})

	s.Run("submitter cannot decrypt and no audit entry is written", func() {
		before, err := s.ledger.ListByVault(ctx, record.ID)
		s.Require().NoError(err)

		_, err = s.service.Decrypt(s.submitterCtx(), record.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

		after, err := s.ledger.ListByVault(ctx, record.ID)
		s.Require().NoError(err)
		s.Len(after, len(before))
	})

	s.Run("tampered ciphertext fails with integrity violation", func() {
		tampered, err := s.service.Store(ctx, "tamper target")
		s.Require().NoError(err)

		corrupted := append([]byte(nil), tampered.EncryptedPayload...)
		corrupted[len(corrupted)-1] ^= 0xff
		s.store.Corrupt(tampered.ID, corrupted)

		_, err = s.service.Decrypt(ctx, tampered.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeIntegrity))
	})
}

func (s *VaultServiceSuite) TestReidentify() {
	ctx := s.complianceCtx()
	record, err := s.service.Store(ctx, "reidentify target")
	s.Require().NoError(err)

	plaintext, err := s.service.Reidentify(ctx, record.ID)
	s.Require().NoError(err)
	s.Equal("reidentify target", plaintext)

	entries, err := s.ledger.ListByAction(ctx, audit.ActionReidentified)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(record.ID, *entries[0].VaultID)
}

func (s *VaultServiceSuite) TestSoftDelete() {
	ctx := s.complianceCtx()
	record, err := s.service.Store(ctx, "delete target")
	s.Require().NoError(err)

	s.Require().NoError(s.service.SoftDelete(ctx, record.ID))

	s.Run("decrypt after delete reads as not found", func() {
		_, err := s.service.Decrypt(ctx, record.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("describe still shows the tombstone", func() {
		described, err := s.service.Describe(ctx, record.ID)
		s.Require().NoError(err)
		s.True(described.IsDeleted)
		s.NotNil(described.DeletedAt)
		s.Nil(described.EncryptedPayload)
	})

	s.Run("repeated delete is idempotent", func() {
		s.NoError(s.service.SoftDelete(ctx, record.ID))
	})

	s.Run("submitter cannot delete", func() {
		err := s.service.SoftDelete(s.submitterCtx(), record.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *VaultServiceSuite) TestRateLimiter() {
	logger := slog.New(slog.DiscardHandler)
	keyring, err := NewKeyring([]byte(strings.Repeat("k", 32)), 1)
	s.Require().NoError(err)
	service := NewService(s.store, s.ledger, keyring, tx.Passthrough{}, logger,
		WithRateLimiter(NewWindowLimiter(2, time.Minute)))

	ctx := s.complianceCtx()
	record, err := service.Store(ctx, "rate limited note")
	s.Require().NoError(err)

	_, err = service.Decrypt(ctx, record.ID)
	s.Require().NoError(err)
	_, err = service.Decrypt(ctx, record.ID)
	s.Require().NoError(err)
	_, err = service.Decrypt(ctx, record.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}
