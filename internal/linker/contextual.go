package linker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"phivault/internal/platform/metrics"
)

// Annotator is the backend of the contextual strategy: an external model
// service that disambiguates spans against their surrounding document.
type Annotator interface {
	// Annotate returns one candidate list per span, index-aligned.
	Annotate(ctx context.Context, doc string, spans []Span) ([][]Concept, error)
	// Ping probes backend health.
	Ping(ctx context.Context) error
}

const (
	// annotateBatchSize bounds spans per backend call so a large entity map
	// fans out over several smaller requests.
	annotateBatchSize = 16
	// annotateConcurrency bounds in-flight backend calls per document.
	annotateConcurrency = 4
	// unavailableCooldown is how long the strategy reports unavailable after
	// a backend failure before it probes again.
	unavailableCooldown = 30 * time.Second
)

// Contextual links spans using the document context around them. It is the
// higher-quality strategy and the flakier one: the backend is remote, so
// results cache aggressively and failures trip a cooldown during which the
// fronting service falls through to the term index.
type Contextual struct {
	annotator Annotator
	cache     *cache
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	downUntil time.Time
}

// ContextualOption configures the strategy.
type ContextualOption func(*Contextual)

// WithContextualCacheSize bounds the result cache.
func WithContextualCacheSize(n int) ContextualOption {
	return func(c *Contextual) { c.cache = newCache(n) }
}

// WithContextualMetrics attaches the metrics collector.
func WithContextualMetrics(m *metrics.Metrics) ContextualOption {
	return func(c *Contextual) { c.metrics = m }
}

func NewContextual(annotator Annotator, logger *slog.Logger, opts ...ContextualOption) *Contextual {
	c := &Contextual{
		annotator: annotator,
		cache:     newCache(0),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Available reports whether the backend is believed healthy. A failed call
// marks the strategy down for a cooldown window.
func (c *Contextual) Available() bool {
	if c.annotator == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().After(c.downUntil)
}

// LinkSpans resolves each span from the per-span cache first and annotates
// only misses, in bounded-concurrency batches. Backend errors degrade the
// failed batch to empty candidate lists and trip the availability cooldown;
// only context cancellation propagates.
func (c *Contextual) LinkSpans(ctx context.Context, doc string, spans []Span) ([][]Concept, error) {
	if len(spans) == 0 {
		return nil, nil
	}

	fp := docFingerprint(doc)
	results := make([][]Concept, len(spans))
	var missIdx []int
	for i, span := range spans {
		if cached, ok := c.cache.get(spanKey(fp, span)); ok {
			if c.metrics != nil {
				c.metrics.LinkerCacheHits.WithLabelValues("span").Inc()
			}
			results[i] = cached[0]
			continue
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return results, nil
	}

	misses := make([]Span, len(missIdx))
	for j, i := range missIdx {
		misses[j] = spans[i]
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(annotateConcurrency)
	for start := 0; start < len(misses); start += annotateBatchSize {
		end := min(start+annotateBatchSize, len(misses))
		group.Go(func() error {
			batch, err := c.annotator.Annotate(groupCtx, doc, misses[start:end])
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				c.markDown()
				c.logger.WarnContext(groupCtx, "contextual annotation failed, degrading batch",
					"spans", end-start, "error", err)
				for _, i := range missIdx[start:end] {
					results[i] = []Concept{}
				}
				return nil
			}
			// Only the backend's own answers are cached; degraded batches
			// stay uncached so empty candidates do not outlive the cooldown.
			for j, candidates := range batch {
				if candidates == nil {
					candidates = []Concept{}
				}
				results[missIdx[start+j]] = candidates
				c.cache.put(spanKey(fp, misses[start+j]), [][]Concept{candidates})
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	for i, candidates := range results {
		if candidates == nil {
			results[i] = []Concept{}
		}
	}
	return results, nil
}

func (c *Contextual) markDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downUntil = time.Now().Add(unavailableCooldown)
}

// docFingerprint identifies the document a cached span resolution belongs
// to. Any edit produces a new fingerprint, so stale results are unreachable.
func docFingerprint(doc string) string {
	sum := sha256.Sum256([]byte(doc))
	return hex.EncodeToString(sum[:])
}

// spanKey caches resolutions per (document, span), so later queries reuse
// spans already resolved against the same document regardless of which span
// set they arrive in.
func spanKey(fp string, span Span) string {
	return fmt.Sprintf("%s|%d:%d:%s", fp, span.Start, span.End, span.EntityType)
}
