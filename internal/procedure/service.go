package procedure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"phivault/internal/audit"
	"phivault/internal/platform/metrics"
	"phivault/internal/vault"
	"phivault/pkg/domain"
	dErrors "phivault/pkg/domain-errors"
	"phivault/pkg/platform/sentinel"
	"phivault/pkg/platform/tx"
	"phivault/pkg/requestcontext"
)

// VaultReader is the slice of the vault service the lifecycle needs: record
// metadata for the hash cross-check and the soft-delete read-path check.
// It never sees ciphertext or plaintext.
type VaultReader interface {
	Describe(ctx context.Context, id domain.VaultID) (*vault.Record, error)
}

// InferenceFunc invokes the external coding/extraction model for a record.
// The service wraps the call with a timeout; implementations must honor ctx.
type InferenceFunc func(ctx context.Context, record *Record) (json.RawMessage, error)

// Service drives the procedure record lifecycle. Transitions and their audit
// entries commit atomically; concurrent transitions on one record serialize
// through the store's version check and surface as retryable conflicts.
type Service struct {
	store            Store
	vault            VaultReader
	ledger           *audit.Ledger
	txr              tx.Runner
	logger           *slog.Logger
	metrics          *metrics.Metrics
	inferenceTimeout time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics attaches the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithInferenceTimeout bounds external model calls during processing.
func WithInferenceTimeout(timeout time.Duration) Option {
	return func(s *Service) { s.inferenceTimeout = timeout }
}

func NewService(store Store, vaultReader VaultReader, ledger *audit.Ledger, txr tx.Runner, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:            store,
		vault:            vaultReader,
		ledger:           ledger,
		txr:              txr,
		logger:           logger,
		inferenceTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// CreateInput carries the scrubbing pipeline's output for a new record.
type CreateInput struct {
	VaultID          domain.VaultID
	ScrubbedText     string
	OriginalTextHash string
	EntityMap        []Entity
}

// Create registers the scrubbed derivative of a vault record. The supplied
// hash must match the owning vault record's payload hash; a mismatch means
// the scrub ran against different text than what was stored.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Record, error) {
	actor := requestcontext.Actor(ctx)
	if !actor.Can(domain.CapabilitySubmit) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "access denied")
	}

	owner, err := s.vault.Describe(ctx, in.VaultID)
	if err != nil {
		return nil, err
	}
	if owner.IsDeleted {
		return nil, dErrors.New(dErrors.CodeNotFound, "vault record not found")
	}
	if in.OriginalTextHash != owner.PayloadHash {
		return nil, dErrors.New(dErrors.CodeIntegrity,
			"original text hash does not match owning vault record")
	}

	now := requestcontext.Now(ctx)
	record := &Record{
		ID:               domain.NewProcedureID(),
		VaultID:          in.VaultID,
		ScrubbedText:     in.ScrubbedText,
		OriginalTextHash: in.OriginalTextHash,
		EntityMap:        append([]Entity(nil), in.EntityMap...),
		Status:           StatusPendingReview,
		SubmitterID:      actor.ID,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.txr.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist procedure record")
		}
		_, err := s.ledger.Record(ctx, audit.Entry{
			Action:      audit.ActionPHIAccessed,
			ActorID:     actor.ID,
			VaultID:     &record.VaultID,
			ProcedureID: &record.ID,
			Detail:      "procedure record created",
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Get loads a record, applying the cascade-invalidation rule: a record whose
// owning vault entry was soft-deleted reads as not found.
func (s *Service) Get(ctx context.Context, id domain.ProcedureID) (*Record, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	owner, err := s.vault.Describe(ctx, record.VaultID)
	if err != nil {
		return nil, err
	}
	if owner.IsDeleted {
		return nil, dErrors.New(dErrors.CodeNotFound, "procedure record not found")
	}
	return record, nil
}

// StartReview assigns the reviewer and opens the human review pass.
// The record stays pending_review; the audit trail marks the start.
func (s *Service) StartReview(ctx context.Context, id domain.ProcedureID) (*Record, error) {
	actor, err := requireReviewer(ctx)
	if err != nil {
		return nil, err
	}
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusPendingReview {
		return nil, dErrors.Newf(dErrors.CodeInvalidTransition,
			"cannot start review in status %s", record.Status)
	}

	record.ReviewerID = actor.ID
	err = s.update(ctx, record, audit.Entry{
		Action:      audit.ActionReviewStarted,
		ActorID:     actor.ID,
		VaultID:     &record.VaultID,
		ProcedureID: &record.ID,
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ConfirmEntity marks the entity at index as reviewer-confirmed PHI.
func (s *Service) ConfirmEntity(ctx context.Context, id domain.ProcedureID, index int) (*Record, error) {
	return s.editEntity(ctx, id, index, true, audit.ActionEntityConfirmed)
}

// UnflagEntity marks the entity at index as not PHI. The span is kept with
// Confirmed=false so detector output survives for feedback scoring.
func (s *Service) UnflagEntity(ctx context.Context, id domain.ProcedureID, index int) (*Record, error) {
	return s.editEntity(ctx, id, index, false, audit.ActionEntityUnflagged)
}

func (s *Service) editEntity(ctx context.Context, id domain.ProcedureID, index int, confirmed bool, action audit.Action) (*Record, error) {
	actor, err := requireReviewer(ctx)
	if err != nil {
		return nil, err
	}
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusPendingReview {
		return nil, dErrors.Newf(dErrors.CodeInvalidTransition,
			"cannot edit entities in status %s", record.Status)
	}
	if index < 0 || index >= len(record.EntityMap) {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "entity index %d out of range", index)
	}

	record.EntityMap[index].Confirmed = confirmed
	entity := record.EntityMap[index]
	err = s.update(ctx, record, audit.Entry{
		Action:      action,
		ActorID:     actor.ID,
		VaultID:     &record.VaultID,
		ProcedureID: &record.ID,
		Metadata: map[string]string{
			"span":        fmt.Sprintf("%d:%d", entity.Start, entity.End),
			"entity_type": entity.EntityType,
		},
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// AddEntity records a PHI span the detector missed. Added spans are
// confirmed by definition: a reviewer asserted them.
func (s *Service) AddEntity(ctx context.Context, id domain.ProcedureID, entity Entity) (*Record, error) {
	actor, err := requireReviewer(ctx)
	if err != nil {
		return nil, err
	}
	if entity.Start < 0 || entity.End <= entity.Start {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "entity span is invalid")
	}
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusPendingReview {
		return nil, dErrors.Newf(dErrors.CodeInvalidTransition,
			"cannot edit entities in status %s", record.Status)
	}

	entity.Confirmed = true
	record.EntityMap = append(record.EntityMap, entity)
	err = s.update(ctx, record, audit.Entry{
		Action:      audit.ActionEntityAdded,
		ActorID:     actor.ID,
		VaultID:     &record.VaultID,
		ProcedureID: &record.ID,
		Metadata: map[string]string{
			"span":        fmt.Sprintf("%d:%d", entity.Start, entity.End),
			"entity_type": entity.EntityType,
		},
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ConfirmPHI transitions pending_review -> phi_confirmed. The guard requires
// prior entity_confirmed ledger entries for this record, or an explicit
// reviewer sign-off that no further PHI spans are present. Confirmed spans
// still visible in the scrubbed text block the transition.
func (s *Service) ConfirmPHI(ctx context.Context, id domain.ProcedureID, signOff bool) (*Record, error) {
	actor, err := requireReviewer(ctx)
	if err != nil {
		return nil, err
	}
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !signOff {
		entries, err := s.ledger.ListByProcedure(ctx, id)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load audit history")
		}
		confirmed := false
		for _, entry := range entries {
			if entry.Action == audit.ActionEntityConfirmed {
				confirmed = true
				break
			}
		}
		if !confirmed {
			return nil, dErrors.New(dErrors.CodeInvalidInput,
				"confirmation requires confirmed entities or an explicit reviewer sign-off")
		}
	}

	if leaked := UnscrubbedSpans(record.ScrubbedText, record.EntityMap); len(leaked) > 0 {
		return nil, dErrors.Newf(dErrors.CodeIntegrity,
			"scrubbed text still contains %d confirmed PHI span(s)", len(leaked))
	}

	var entries []audit.Entry
	if signOff {
		entries = append(entries, audit.Entry{
			Action:      audit.ActionEntityConfirmed,
			ActorID:     actor.ID,
			VaultID:     &record.VaultID,
			ProcedureID: &record.ID,
			Detail:      "reviewer sign-off: no further PHI spans",
		})
	}
	if err := s.transition(ctx, record, StatusPHIConfirmed, entries...); err != nil {
		return nil, err
	}
	return record, nil
}

// Process runs automated coding/extraction: phi_confirmed -> processing,
// one llm_called entry per external call, then completed or failed. The
// inference call is bounded by the configured timeout; on timeout the record
// fails with the timeout captured in its failure detail, and the llm_called
// entry committed with the processing transition remains.
func (s *Service) Process(ctx context.Context, id domain.ProcedureID, infer InferenceFunc) (*Record, error) {
	actor := requestcontext.Actor(ctx)
	if actor.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "access denied")
	}
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.transition(ctx, record, StatusProcessing, audit.Entry{
		Action:      audit.ActionLLMCalled,
		ActorID:     actor.ID,
		VaultID:     &record.VaultID,
		ProcedureID: &record.ID,
		Detail:      "coding inference attempt",
	})
	if err != nil {
		return nil, err
	}

	inferCtx, cancel := context.WithTimeout(ctx, s.inferenceTimeout)
	defer cancel()

	results, inferErr := infer(inferCtx, record)
	if inferErr != nil {
		detail := inferErr.Error()
		code := dErrors.CodeInternal
		if errors.Is(inferErr, context.DeadlineExceeded) {
			detail = fmt.Sprintf("inference timed out after %s", s.inferenceTimeout)
			code = dErrors.CodeTimeout
		}
		record.FailureDetail = detail
		if err := s.transition(ctx, record, StatusFailed); err != nil {
			// The record could not be marked failed, but the inference error
			// is still the root cause; surface both.
			return nil, errors.Join(err, dErrors.Wrap(inferErr, code, "coding inference failed"))
		}
		return record, dErrors.Wrap(inferErr, code, "coding inference failed")
	}

	record.CodingResults = results
	now := requestcontext.Now(ctx)
	record.CompletedAt = &now
	if err := s.transition(ctx, record, StatusCompleted); err != nil {
		return nil, err
	}
	return record, nil
}

// Fail marks a processing record failed for an unrecoverable downstream
// error, capturing the cause.
func (s *Service) Fail(ctx context.Context, id domain.ProcedureID, cause string) (*Record, error) {
	actor := requestcontext.Actor(ctx)
	if actor.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "access denied")
	}
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	record.FailureDetail = cause
	if err := s.transition(ctx, record, StatusFailed); err != nil {
		return nil, err
	}
	return record, nil
}

// CloseReview transitions completed -> phi_reviewed: a human reviewer
// explicitly closes the loop on the final scrub/coding output. Feedback
// submission is a separate step (see internal/feedback).
func (s *Service) CloseReview(ctx context.Context, id domain.ProcedureID) (*Record, error) {
	actor, err := requireReviewer(ctx)
	if err != nil {
		return nil, err
	}
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	record.ReviewerID = actor.ID
	err = s.transition(ctx, record, StatusPHIReviewed, audit.Entry{
		Action:      audit.ActionReviewCompleted,
		ActorID:     actor.ID,
		VaultID:     &record.VaultID,
		ProcedureID: &record.ID,
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Resubmit creates a fresh pending_review record for a failed one, against
// the same vault record. Failed records are terminal; state is never reset
// in place, preserving the audit history of the failed attempt.
func (s *Service) Resubmit(ctx context.Context, id domain.ProcedureID) (*Record, error) {
	actor := requestcontext.Actor(ctx)
	if !actor.Can(domain.CapabilitySubmit) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "access denied")
	}
	failed, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if failed.Status != StatusFailed {
		return nil, dErrors.Newf(dErrors.CodeInvalidTransition,
			"only failed records can be resubmitted, status is %s", failed.Status)
	}

	now := requestcontext.Now(ctx)
	record := &Record{
		ID:               domain.NewProcedureID(),
		VaultID:          failed.VaultID,
		ScrubbedText:     failed.ScrubbedText,
		OriginalTextHash: failed.OriginalTextHash,
		EntityMap:        append([]Entity(nil), failed.EntityMap...),
		Status:           StatusPendingReview,
		SubmitterID:      actor.ID,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.txr.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist procedure record")
		}
		_, err := s.ledger.Record(ctx, audit.Entry{
			Action:      audit.ActionPHIAccessed,
			ActorID:     actor.ID,
			VaultID:     &record.VaultID,
			ProcedureID: &record.ID,
			Detail:      "resubmitted from " + id.String(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) load(ctx context.Context, id domain.ProcedureID) (*Record, error) {
	record, err := s.store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "procedure record not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load procedure record")
	}
	return record, nil
}

// transition applies a status change plus audit entries atomically through
// the version-checked update. A stale version surfaces as a retryable
// conflict; exactly one of two concurrent attempts wins.
func (s *Service) transition(ctx context.Context, record *Record, to Status, entries ...audit.Entry) error {
	if !CanTransition(record.Status, to) {
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"cannot transition from %s to %s", record.Status, to)
	}
	record.Status = to
	record.UpdatedAt = requestcontext.Now(ctx)

	err := s.txr.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Update(ctx, record); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				if s.metrics != nil {
					s.metrics.TransitionConflicts.Inc()
				}
				return dErrors.Wrap(err, dErrors.CodeConflict,
					"record was modified concurrently, retry")
			}
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "procedure record not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "update procedure record")
		}
		for _, entry := range entries {
			if _, err := s.ledger.Record(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(to)).Inc()
	}
	return nil
}

// update applies a non-transition mutation plus audit entries atomically.
func (s *Service) update(ctx context.Context, record *Record, entries ...audit.Entry) error {
	record.UpdatedAt = requestcontext.Now(ctx)
	return s.txr.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Update(ctx, record); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeConflict,
					"record was modified concurrently, retry")
			}
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "procedure record not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "update procedure record")
		}
		for _, entry := range entries {
			if _, err := s.ledger.Record(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func requireReviewer(ctx context.Context) (domain.Actor, error) {
	actor := requestcontext.Actor(ctx)
	if !actor.Can(domain.CapabilityReview) {
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "access denied")
	}
	return actor, nil
}
