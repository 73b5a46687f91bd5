package audit

import (
	"context"
	"log/slog"

	"phivault/internal/platform/metrics"
	"phivault/pkg/domain"
	dErrors "phivault/pkg/domain-errors"
	"phivault/pkg/platform/tx"
	"phivault/pkg/requestcontext"
)

// FanOut receives committed compliance entries for downstream delivery
// (broker topic, SIEM). Delivery failures are logged, never propagated:
// the ledger row is the source of truth and has already committed.
type FanOut interface {
	Publish(ctx context.Context, entry Entry) error
}

// Ledger is the append-only audit service. Every component that reads,
// decrypts, or transitions a record appends here first; the contract is
// enforced by running the append inside the caller's transaction.
type Ledger struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	fanout  FanOut
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithFanOut attaches a publisher for compliance-category entries.
func WithFanOut(fanout FanOut) Option {
	return func(l *Ledger) { l.fanout = fanout }
}

// WithMetrics attaches the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func NewLedger(store Store, logger *slog.Logger, opts ...Option) *Ledger {
	ledger := &Ledger{store: store, logger: logger}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger
}

// Record validates and appends one entry, returning its assigned id.
// Timestamp and RequestID default from the request context when unset.
func (l *Ledger) Record(ctx context.Context, entry Entry) (domain.EntryID, error) {
	if !entry.Action.Valid() {
		return domain.EntryID{}, dErrors.Newf(dErrors.CodeInvalidInput, "unknown audit action %q", entry.Action)
	}
	if entry.ActorID == "" {
		return domain.EntryID{}, dErrors.New(dErrors.CodeInvalidInput, "audit entry requires an actor")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}

	if err := l.store.Append(ctx, &entry); err != nil {
		return domain.EntryID{}, dErrors.Wrap(err, dErrors.CodeInternal, "append audit entry")
	}
	if l.metrics != nil {
		l.metrics.AuditEntriesAppended.WithLabelValues(string(entry.Action)).Inc()
	}

	if l.fanout != nil && entry.Action.Category() == CategoryCompliance {
		committed := entry
		publish := func(ctx context.Context) {
			if err := l.fanout.Publish(ctx, committed); err != nil {
				l.logger.WarnContext(ctx, "audit fan-out failed",
					"action", committed.Action,
					"entry_id", committed.ID.String(),
					"error", err,
				)
			}
		}
		// A pending transaction defers the publish until commit; an entry
		// whose transaction rolls back must never reach the broker.
		if !tx.AfterCommit(ctx, publish) {
			publish(ctx)
		}
	}
	return entry.ID, nil
}

func (l *Ledger) ListByVault(ctx context.Context, vaultID domain.VaultID) ([]Entry, error) {
	return l.store.ListByVault(ctx, vaultID)
}

func (l *Ledger) ListByProcedure(ctx context.Context, procedureID domain.ProcedureID) ([]Entry, error) {
	return l.store.ListByProcedure(ctx, procedureID)
}

func (l *Ledger) ListByActor(ctx context.Context, actorID string) ([]Entry, error) {
	return l.store.ListByActor(ctx, actorID)
}

func (l *Ledger) ListByAction(ctx context.Context, action Action) ([]Entry, error) {
	return l.store.ListByAction(ctx, action)
}
