package linker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"
)

// fakeAnnotator serves canned concepts, optionally failing.
type fakeAnnotator struct {
	calls atomic.Int32
	fail  bool

	mu   sync.Mutex
	seen []Span
}

func (f *fakeAnnotator) Annotate(ctx context.Context, doc string, spans []Span) ([][]Concept, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, spans...)
	f.mu.Unlock()
	if f.fail {
		return nil, errors.New("annotator 503")
	}
	results := make([][]Concept, len(spans))
	for i, span := range spans {
		results[i] = []Concept{{CUI: "C1", PreferredName: span.Text, Score: 0.9, MatchedText: span.Text}}
	}
	return results, nil
}

func (f *fakeAnnotator) Ping(ctx context.Context) error {
	if f.fail {
		return errors.New("annotator 503")
	}
	return nil
}

type ContextualSuite struct {
	suite.Suite
	annotator *fakeAnnotator
	linker    *Contextual
}

func TestContextualSuite(t *testing.T) {
	suite.Run(t, new(ContextualSuite))
}

func (s *ContextualSuite) SetupTest() {
	s.annotator = &fakeAnnotator{}
	s.linker = NewContextual(s.annotator, slog.New(slog.DiscardHandler),
		WithContextualCacheSize(8))
}

func (s *ContextualSuite) TestLinkSpans() {
	ctx := context.Background()
	doc := "Patient presented with chest pain."
	spans := []Span{{Start: 23, End: 33, Text: "chest pain", EntityType: "SYMPTOM"}}

	results, err := s.linker.LinkSpans(ctx, doc, spans)
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Require().Len(results[0], 1)
	s.Equal("C1", results[0][0].CUI)
}

func (s *ContextualSuite) TestDocumentCache() {
	ctx := context.Background()
	doc := "Patient presented with chest pain."
	spans := []Span{{Start: 23, End: 33, Text: "chest pain", EntityType: "SYMPTOM"}}

	_, err := s.linker.LinkSpans(ctx, doc, spans)
	s.Require().NoError(err)
	_, err = s.linker.LinkSpans(ctx, doc, spans)
	s.Require().NoError(err)
	s.Equal(int32(1), s.annotator.calls.Load(), "second identical lookup must hit the cache")

	// A changed document misses the cache.
	_, err = s.linker.LinkSpans(ctx, doc+" Now worse.", spans)
	s.Require().NoError(err)
	s.Equal(int32(2), s.annotator.calls.Load())
}

func (s *ContextualSuite) TestSpanCacheReuseAcrossQueries() {
	ctx := context.Background()
	doc := "Patient presented with chest pain and dyspnea."
	pain := Span{Start: 23, End: 33, Text: "chest pain", EntityType: "SYMPTOM"}
	dyspnea := Span{Start: 38, End: 45, Text: "dyspnea", EntityType: "SYMPTOM"}

	_, err := s.linker.LinkSpans(ctx, doc, []Span{pain})
	s.Require().NoError(err)

	// A superset query against the same document resolves the overlapping
	// span from cache and annotates only the new one.
	results, err := s.linker.LinkSpans(ctx, doc, []Span{pain, dyspnea})
	s.Require().NoError(err)
	s.Require().Len(results, 2)
	s.NotEmpty(results[0])
	s.NotEmpty(results[1])

	s.annotator.mu.Lock()
	defer s.annotator.mu.Unlock()
	painTrips := 0
	for _, span := range s.annotator.seen {
		if span == pain {
			painTrips++
		}
	}
	s.Equal(1, painTrips, "resolved span must not be re-annotated")
	s.Equal([]Span{pain, dyspnea}, append([]Span(nil), s.annotator.seen...))
}

func (s *ContextualSuite) TestBackendFailureDegrades() {
	ctx := context.Background()
	s.annotator.fail = true

	results, err := s.linker.LinkSpans(ctx, "doc", []Span{{Text: "chest pain"}})
	s.Require().NoError(err, "backend failure must not surface as an error")
	s.Require().Len(results, 1)
	s.Empty(results[0])

	s.False(s.linker.Available(), "failure trips the cooldown")

	// A recovered backend serves the same lookup; the degraded result was
	// not cached.
	s.annotator.fail = false
	results, err = s.linker.LinkSpans(ctx, "doc", []Span{{Text: "chest pain"}})
	s.Require().NoError(err)
	s.NotEmpty(results[0])
}

func (s *ContextualSuite) TestBatchFanOut() {
	ctx := context.Background()
	spans := make([]Span, annotateBatchSize*3)
	for i := range spans {
		spans[i] = Span{Start: i, End: i + 1, Text: "chest pain"}
	}

	results, err := s.linker.LinkSpans(ctx, "doc", spans)
	s.Require().NoError(err)
	s.Len(results, len(spans))
	s.Equal(int32(3), s.annotator.calls.Load())
	for _, candidates := range results {
		s.NotEmpty(candidates)
	}
}
