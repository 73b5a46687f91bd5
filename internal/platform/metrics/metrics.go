package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	VaultRecordsStored prometheus.Counter
	VaultDecrypts      *prometheus.CounterVec
	DecryptDenied      prometheus.Counter

	AuditEntriesAppended *prometheus.CounterVec

	Transitions         *prometheus.CounterVec
	TransitionConflicts prometheus.Counter

	LinkerLookups   *prometheus.CounterVec
	LinkerCacheHits *prometheus.CounterVec

	FeedbackF1 prometheus.Histogram

	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		VaultRecordsStored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "phi_vault_records_stored_total",
			Help: "Total number of vault records created",
		}),
		VaultDecrypts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "phi_vault_decrypts_total",
			Help: "Total number of vault decrypt operations by outcome",
		}, []string{"outcome"}),
		DecryptDenied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "phi_vault_decrypts_denied_total",
			Help: "Total number of decrypt attempts denied for missing capability",
		}),
		AuditEntriesAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "phi_vault_audit_entries_total",
			Help: "Total number of audit ledger entries by action",
		}, []string{"action"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "phi_vault_procedure_transitions_total",
			Help: "Total number of procedure status transitions by target status",
		}, []string{"to"}),
		TransitionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "phi_vault_procedure_transition_conflicts_total",
			Help: "Total number of optimistic version conflicts on transitions",
		}),
		LinkerLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "phi_vault_linker_lookups_total",
			Help: "Total number of concept linker span lookups by strategy",
		}, []string{"strategy"}),
		LinkerCacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "phi_vault_linker_cache_hits_total",
			Help: "Total number of concept linker cache hits by cache level",
		}, []string{"level"}),
		FeedbackF1: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "phi_vault_feedback_f1",
			Help:    "Distribution of F1 scores across submitted scrubbing feedback",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phi_vault_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}
