package vault

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"phivault/internal/audit"
	"phivault/internal/platform/metrics"
	"phivault/pkg/domain"
	dErrors "phivault/pkg/domain-errors"
	"phivault/pkg/platform/sentinel"
	"phivault/pkg/platform/tx"
	"phivault/pkg/requestcontext"
)

// accessDenied is returned for any authorization failure on the decrypt
// path. It is deliberately generic: a denied caller learns nothing about
// whether the record exists.
var accessDenied = dErrors.New(dErrors.CodeUnauthorized, "access denied")

// Service is the guarded entry point to original sensitive payloads. Every
// path that exposes plaintext appends its audit entry inside the same
// transaction, so a caller can never observe plaintext without a committed
// ledger row.
type Service struct {
	store   Store
	ledger  *audit.Ledger
	keyring *Keyring
	limiter RateLimiter
	txr     tx.Runner
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	dedup   bool
}

// Option configures the Service.
type Option func(*Service)

// WithRateLimiter bounds decrypts per actor.
func WithRateLimiter(limiter RateLimiter) Option {
	return func(s *Service) { s.limiter = limiter }
}

// WithMetrics attaches the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDedup rejects payloads whose hash already exists in a live record.
func WithDedup(enabled bool) Option {
	return func(s *Service) { s.dedup = enabled }
}

func NewService(store Store, ledger *audit.Ledger, keyring *Keyring, txr tx.Runner, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:   store,
		ledger:  ledger,
		keyring: keyring,
		limiter: NopLimiter{},
		txr:     txr,
		logger:  logger,
		tracer:  otel.Tracer("phivault/vault"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Store encrypts and persists one original note, emitting phi_created.
func (s *Service) Store(ctx context.Context, plaintext string) (*Record, error) {
	ctx, span := s.tracer.Start(ctx, "vault.Store")
	defer span.End()

	actor := requestcontext.Actor(ctx)
	if !actor.Can(domain.CapabilitySubmit) {
		return nil, accessDenied
	}
	if plaintext == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "payload must not be empty")
	}

	payloadHash := HashPayload([]byte(plaintext))
	ciphertext, keyVersion, err := s.keyring.Seal([]byte(plaintext))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encrypt payload")
	}

	record := &Record{
		ID:                  domain.NewVaultID(),
		EncryptedPayload:    ciphertext,
		PayloadHash:         payloadHash,
		EncryptionAlgorithm: AlgorithmAESGCM,
		KeyVersion:          keyVersion,
		CreatedBy:           actor.ID,
		CreatedAt:           requestcontext.Now(ctx),
	}

	err = s.txr.RunInTx(ctx, func(ctx context.Context) error {
		// With dedup on, the store's check-and-insert is the guard; racing
		// stores of identical content lose with ErrDuplicate rather than
		// slipping past a pre-transaction lookup.
		create := s.store.Create
		if s.dedup {
			create = s.store.CreateUnique
		}
		if err := create(ctx, record); err != nil {
			if errors.Is(err, sentinel.ErrDuplicate) {
				if existing, findErr := s.store.FindByHash(ctx, payloadHash); findErr == nil {
					return dErrors.Newf(dErrors.CodeIntegrity,
						"payload already stored as vault record %s", existing.ID)
				}
				return dErrors.New(dErrors.CodeIntegrity, "payload already stored")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist vault record")
		}
		_, err := s.ledger.Record(ctx, audit.Entry{
			Action:   audit.ActionPHICreated,
			ActorID:  actor.ID,
			VaultID:  &record.ID,
			Metadata: clientMetadata(ctx, actor),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.VaultRecordsStored.Inc()
	}
	return record, nil
}

// Decrypt recovers the original plaintext for an audited, capability-checked
// caller. Exactly one phi_decrypted entry commits with the read.
func (s *Service) Decrypt(ctx context.Context, id domain.VaultID) (string, error) {
	return s.open(ctx, id, audit.ActionPHIDecrypted, domain.CapabilityDecrypt)
}

// Reidentify is the audited act of re-linking a scrubbed record to its
// original PHI. Same mechanics as Decrypt under a stricter capability and
// its own audit action.
func (s *Service) Reidentify(ctx context.Context, id domain.VaultID) (string, error) {
	return s.open(ctx, id, audit.ActionReidentified, domain.CapabilityReidentify)
}

func (s *Service) open(ctx context.Context, id domain.VaultID, action audit.Action, cap domain.Capability) (string, error) {
	ctx, span := s.tracer.Start(ctx, "vault.open")
	defer span.End()

	actor := requestcontext.Actor(ctx)
	if !actor.Can(cap) {
		if s.metrics != nil {
			s.metrics.DecryptDenied.Inc()
		}
		return "", accessDenied
	}
	if err := s.limiter.Allow(ctx, actor.ID); err != nil {
		return "", err
	}

	var plaintext string
	err := s.txr.RunInTx(ctx, func(ctx context.Context) error {
		record, err := s.store.FindByID(ctx, id)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "vault record not found")
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load vault record")
		}
		if record.IsDeleted {
			return dErrors.New(dErrors.CodeNotFound, "vault record not found")
		}

		// Audit before plaintext leaves the transaction scope. A failure
		// here aborts the decrypt entirely.
		if _, err := s.ledger.Record(ctx, audit.Entry{
			Action:   action,
			ActorID:  actor.ID,
			VaultID:  &id,
			Metadata: clientMetadata(ctx, actor),
		}); err != nil {
			return err
		}

		raw, err := s.keyring.Open(record.EncryptedPayload, record.KeyVersion)
		if err != nil {
			return err
		}
		if HashPayload(raw) != record.PayloadHash {
			return dErrors.New(dErrors.CodeIntegrity, "decrypted payload hash mismatch")
		}
		plaintext = string(raw)
		return nil
	})

	if s.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = string(dErrors.CodeOf(err))
		}
		s.metrics.VaultDecrypts.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		return "", err
	}
	return plaintext, nil
}

// Describe returns record metadata without ciphertext or plaintext. The
// lifecycle service uses it for the hash cross-check and read-path
// soft-delete checks.
func (s *Service) Describe(ctx context.Context, id domain.VaultID) (*Record, error) {
	record, err := s.store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "vault record not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load vault record")
	}
	record.EncryptedPayload = nil
	return record, nil
}

// SoftDelete marks the record deleted without destroying ciphertext,
// supporting recovery and compliance holds. Dependent procedure records are
// invalidated at their read paths via the flag, not by cascading writes.
func (s *Service) SoftDelete(ctx context.Context, id domain.VaultID) error {
	actor := requestcontext.Actor(ctx)
	if !actor.Can(domain.CapabilityDecrypt) {
		return accessDenied
	}

	return s.txr.RunInTx(ctx, func(ctx context.Context) error {
		err := s.store.MarkDeleted(ctx, id, requestcontext.Now(ctx))
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "vault record not found")
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "soft delete vault record")
		}
		_, err = s.ledger.Record(ctx, audit.Entry{
			Action:   audit.ActionPHIAccessed,
			ActorID:  actor.ID,
			VaultID:  &id,
			Detail:   "soft_delete",
			Metadata: clientMetadata(ctx, actor),
		})
		return err
	})
}

// clientMetadata captures transport-supplied client context for the ledger.
func clientMetadata(ctx context.Context, actor domain.Actor) map[string]string {
	md := make(map[string]string)
	if actor.IP != "" {
		md["ip"] = actor.IP
	}
	if ua := requestcontext.UserAgent(ctx); ua != "" {
		md["user_agent"] = ua
	}
	if len(md) == 0 {
		return nil
	}
	return md
}
