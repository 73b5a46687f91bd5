package linker

import (
	"context"
	"log/slog"

	"phivault/internal/platform/metrics"
)

// Span is a text region to link, typically a confirmed clinical entity from
// a procedure record's entity map. Offsets are byte offsets into the
// scrubbed document.
type Span struct {
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Text       string `json:"text"`
	EntityType string `json:"entity_type"`
}

// Concept is one candidate knowledge-base concept for a span, ordered by
// descending score within a span's result list.
type Concept struct {
	CUI           string   `json:"cui"`
	PreferredName string   `json:"preferred_name"`
	SemanticTypes []string `json:"semantic_types,omitempty"`
	Score         float64  `json:"score"`
	MatchedText   string   `json:"matched_text,omitempty"`
}

// Linker maps entity spans to knowledge-base concepts. Implementations are
// best-effort: linking failures never block the pipeline, a span that cannot
// be linked yields an empty candidate list.
type Linker interface {
	// Available reports whether the strategy can currently serve lookups.
	Available() bool
	// LinkSpans returns one candidate list per input span, index-aligned.
	// The error return is reserved for context cancellation; backend
	// failures degrade to empty candidate lists.
	LinkSpans(ctx context.Context, doc string, spans []Span) ([][]Concept, error)
}

// Service fronts the configured strategies in preference order: the
// contextual linker when its backend is up, the term index otherwise.
// When nothing is available every span degrades to an empty list.
type Service struct {
	strategies []Linker
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics attaches the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService builds the fronting service. Strategies are tried in the
// order given; nil entries are skipped so callers can pass optional
// strategies unconditionally.
func NewService(logger *slog.Logger, strategies []Linker, opts ...Option) *Service {
	svc := &Service{logger: logger}
	for _, strategy := range strategies {
		if strategy != nil {
			svc.strategies = append(svc.strategies, strategy)
		}
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Available reports whether any strategy can serve lookups.
func (s *Service) Available() bool {
	for _, strategy := range s.strategies {
		if strategy.Available() {
			return true
		}
	}
	return false
}

// LinkSpans delegates to the first available strategy. Identical inputs
// produce identical outputs for a given knowledge-base state; results carry
// no randomness.
func (s *Service) LinkSpans(ctx context.Context, doc string, spans []Span) ([][]Concept, error) {
	if len(spans) == 0 {
		return nil, nil
	}
	for _, strategy := range s.strategies {
		if !strategy.Available() {
			continue
		}
		results, err := strategy.LinkSpans(ctx, doc, spans)
		if err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.LinkerLookups.WithLabelValues(strategyName(strategy)).Inc()
		}
		return results, nil
	}

	s.logger.WarnContext(ctx, "no concept linker available, returning empty candidates",
		"spans", len(spans))
	if s.metrics != nil {
		s.metrics.LinkerLookups.WithLabelValues("none").Inc()
	}
	return emptyResults(len(spans)), nil
}

func strategyName(l Linker) string {
	switch l.(type) {
	case *Contextual:
		return "contextual"
	case *Index:
		return "index"
	default:
		return "custom"
	}
}

func emptyResults(n int) [][]Concept {
	results := make([][]Concept, n)
	for i := range results {
		results[i] = []Concept{}
	}
	return results
}
