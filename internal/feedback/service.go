package feedback

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"phivault/internal/audit"
	"phivault/internal/platform/metrics"
	"phivault/internal/procedure"
	"phivault/pkg/domain"
	dErrors "phivault/pkg/domain-errors"
	"phivault/pkg/platform/sentinel"
	"phivault/pkg/platform/tx"
	"phivault/pkg/requestcontext"
)

// Records is the slice of the lifecycle service the scorer needs.
type Records interface {
	Get(ctx context.Context, id domain.ProcedureID) (*procedure.Record, error)
}

// Service scores reviewer verdicts against detector output and persists the
// result, one row per procedure record. Persisting feedback is itself an
// audited action.
type Service struct {
	store   Store
	records Records
	ledger  *audit.Ledger
	txr     tx.Runner
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics attaches the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store Store, records Records, ledger *audit.Ledger, txr tx.Runner, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:   store,
		records: records,
		ledger:  ledger,
		txr:     txr,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Submit scores the record's entity map and persists the verdict.
// Resubmitting for the same record overwrites the prior verdict in place;
// each submission appends its own audit entry, so the correction history
// survives in the ledger even though the row does not accumulate versions.
func (s *Service) Submit(ctx context.Context, procedureID domain.ProcedureID, notes string) (*Feedback, error) {
	actor := requestcontext.Actor(ctx)
	if !actor.Can(domain.CapabilityReview) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "access denied")
	}

	record, err := s.records.Get(ctx, procedureID)
	if err != nil {
		return nil, err
	}
	if record.Status != procedure.StatusCompleted && record.Status != procedure.StatusPHIReviewed {
		return nil, dErrors.Newf(dErrors.CodeInvalidTransition,
			"feedback requires a completed record, status is %s", record.Status)
	}

	detected, confirmed, err := s.partition(ctx, record)
	if err != nil {
		return nil, err
	}
	scores := Score(detected, confirmed)

	now := requestcontext.Now(ctx)
	fb := &Feedback{
		ID:          domain.NewFeedbackID(),
		ProcedureID: procedureID,
		ReviewerID:  actor.ID,
		Detected:    detected,
		Confirmed:   confirmed,
		Scores:      scores,
		Notes:       notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.txr.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Save(ctx, fb); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist feedback")
		}
		_, err := s.ledger.Record(ctx, audit.Entry{
			Action:      audit.ActionFeedbackApplied,
			ActorID:     actor.ID,
			VaultID:     &record.VaultID,
			ProcedureID: &procedureID,
			Metadata: map[string]string{
				"true_positives":  strconv.Itoa(scores.TruePositives),
				"false_positives": strconv.Itoa(scores.FalsePositives),
				"false_negatives": strconv.Itoa(scores.FalseNegatives),
				"f1":              strconv.FormatFloat(scores.F1, 'f', 4, 64),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.FeedbackF1.Observe(scores.F1)
	}
	s.logger.InfoContext(ctx, "scrubbing feedback applied",
		"procedure_id", procedureID.String(),
		"precision", scores.Precision,
		"recall", scores.Recall,
		"f1", scores.F1,
	)
	return fb, nil
}

// Get returns the stored verdict for a record.
func (s *Service) Get(ctx context.Context, procedureID domain.ProcedureID) (*Feedback, error) {
	fb, err := s.store.FindByProcedure(ctx, procedureID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "feedback not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load feedback")
	}
	return fb, nil
}

// partition splits the record's entity map into detector output and
// reviewer ground truth. Reviewer-added spans are identified through their
// entity_added ledger entries: they belong to the ground truth but not to
// the detector's output, so each one costs the detector a false negative.
func (s *Service) partition(ctx context.Context, record *procedure.Record) (detected, confirmed []procedure.Entity, err error) {
	entries, err := s.ledger.ListByProcedure(ctx, record.ID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "load audit history")
	}
	added := make(map[string]bool)
	for _, entry := range entries {
		if entry.Action != audit.ActionEntityAdded {
			continue
		}
		added[entry.Metadata["span"]+":"+entry.Metadata["entity_type"]] = true
	}

	for _, entity := range record.EntityMap {
		key := spanKey(entity)
		if !added[key] {
			detected = append(detected, entity)
		}
		if entity.Confirmed {
			confirmed = append(confirmed, entity)
		}
	}
	return detected, confirmed, nil
}
