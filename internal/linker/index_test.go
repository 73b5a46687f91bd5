package linker

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"
)

type IndexSuite struct {
	suite.Suite
	index *Index
}

func TestIndexSuite(t *testing.T) {
	suite.Run(t, new(IndexSuite))
}

func (s *IndexSuite) SetupTest() {
	s.index = NewIndex([]indexTerm{
		{Term: "myocardial infarction", CUI: "C0027051", PreferredName: "Myocardial Infarction", SemanticTypes: []string{"T047"}},
		{Term: "acute myocardial infarction", CUI: "C0155626", PreferredName: "Acute Myocardial Infarction", SemanticTypes: []string{"T047"}},
		{Term: "infarction", CUI: "C0021308", PreferredName: "Infarction", SemanticTypes: []string{"T046"}},
		{Term: "aspirin", CUI: "C0004057", PreferredName: "Aspirin", SemanticTypes: []string{"T121"}},
	}, 16)
}

func (s *IndexSuite) TestAvailable() {
	s.True(s.index.Available())
	s.False(NewIndex(nil, 16).Available())
}

func (s *IndexSuite) TestLinkSpans() {
	ctx := context.Background()

	s.Run("exact full-phrase match scores 1.0 and ranks first", func() {
		results, err := s.index.LinkSpans(ctx, "", []Span{
			{Text: "acute myocardial infarction", EntityType: "CONDITION"},
		})
		s.Require().NoError(err)
		s.Require().Len(results, 1)
		s.Require().NotEmpty(results[0])
		s.Equal("C0155626", results[0][0].CUI)
		s.InEpsilon(1.0, results[0][0].Score, 1e-9)
	})

	s.Run("shorter grams score below full coverage", func() {
		results, err := s.index.LinkSpans(ctx, "", []Span{
			{Text: "acute myocardial infarction", EntityType: "CONDITION"},
		})
		s.Require().NoError(err)
		for _, concept := range results[0][1:] {
			s.Less(concept.Score, 1.0)
		}
	})

	s.Run("candidates dedupe by concept id", func() {
		results, err := s.index.LinkSpans(ctx, "", []Span{
			{Text: "myocardial infarction infarction", EntityType: "CONDITION"},
		})
		s.Require().NoError(err)
		seen := map[string]bool{}
		for _, concept := range results[0] {
			s.False(seen[concept.CUI], "duplicate CUI %s", concept.CUI)
			seen[concept.CUI] = true
		}
	})

	s.Run("unknown spans degrade to empty lists", func() {
		results, err := s.index.LinkSpans(ctx, "", []Span{
			{Text: "flibbertigibbet", EntityType: "CONDITION"},
		})
		s.Require().NoError(err)
		s.Empty(results[0])
	})

	s.Run("identical inputs produce identical outputs", func() {
		spans := []Span{{Text: "myocardial infarction", EntityType: "CONDITION"}}
		first, err := s.index.LinkSpans(ctx, "", spans)
		s.Require().NoError(err)
		second, err := s.index.LinkSpans(ctx, "", spans)
		s.Require().NoError(err)
		s.Equal(first, second)
	})
}

func (s *IndexSuite) TestSemanticTypeFilter() {
	ctx := context.Background()
	terms := []indexTerm{
		{Term: "aspirin", CUI: "C0004057", PreferredName: "Aspirin", SemanticTypes: []string{"T121"}},
		{Term: "aspirin", CUI: "C9999999", PreferredName: "Aspirin (brand)", SemanticTypes: []string{"T999"}},
		{Term: "infarction", CUI: "C0021308", PreferredName: "Infarction", SemanticTypes: []string{"T046"}},
	}
	filtered := NewIndex(terms, 16, WithAllowedSemanticTypes([]string{"T047", "T121"}))

	s.Run("disallowed types never surface", func() {
		results, err := filtered.LinkSpans(ctx, "", []Span{{Text: "aspirin", EntityType: "MEDICATION"}})
		s.Require().NoError(err)
		s.Require().Len(results[0], 1)
		s.Equal("C0004057", results[0][0].CUI)
	})

	s.Run("spans with only disallowed candidates degrade to empty", func() {
		results, err := filtered.LinkSpans(ctx, "", []Span{{Text: "infarction", EntityType: "CONDITION"}})
		s.Require().NoError(err)
		s.Empty(results[0])
	})

	s.Run("empty allowed set leaves the index unfiltered", func() {
		unfiltered := NewIndex(terms, 16, WithAllowedSemanticTypes(nil))
		results, err := unfiltered.LinkSpans(ctx, "", []Span{{Text: "aspirin", EntityType: "MEDICATION"}})
		s.Require().NoError(err)
		s.Len(results[0], 2)
	})
}

func (s *IndexSuite) TestServiceFallback() {
	logger := slog.New(slog.DiscardHandler)
	ctx := context.Background()

	s.Run("no strategies degrades every span to empty", func() {
		service := NewService(logger, nil)
		s.False(service.Available())

		results, err := service.LinkSpans(ctx, "doc", []Span{{Text: "aspirin"}, {Text: "ibuprofen"}})
		s.Require().NoError(err)
		s.Require().Len(results, 2)
		s.Empty(results[0])
		s.Empty(results[1])
	})

	s.Run("index serves when contextual is down", func() {
		down := NewContextual(nil, logger)
		service := NewService(logger, []Linker{down, s.index})
		s.True(service.Available())

		results, err := service.LinkSpans(ctx, "doc", []Span{{Text: "aspirin"}})
		s.Require().NoError(err)
		s.Require().NotEmpty(results[0])
		s.Equal("C0004057", results[0][0].CUI)
	})
}

func TestCacheEviction(t *testing.T) {
	c := newCache(2)
	c.put("a", [][]Concept{{}})
	c.put("b", [][]Concept{{}})
	c.put("c", [][]Concept{{}})

	if _, ok := c.get("a"); ok {
		t.Fatal("oldest entry should have evicted")
	}
	if _, ok := c.get("c"); !ok {
		t.Fatal("newest entry missing")
	}
	if c.len() != 2 {
		t.Fatalf("expected len 2, got %d", c.len())
	}
}
