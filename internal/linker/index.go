package linker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

const (
	// maxGram is the longest token n-gram probed against the term index.
	maxGram = 4
	// maxCandidates caps candidates returned per span.
	maxCandidates = 5
)

// indexTerm is one line of the knowledge-base dump the index loads from.
type indexTerm struct {
	Term          string   `json:"term"`
	CUI           string   `json:"cui"`
	PreferredName string   `json:"preferred_name"`
	SemanticTypes []string `json:"semantic_types,omitempty"`
}

// Index links spans by lexical lookup against an in-memory term index.
// It needs no network and no document context, which makes it the always-on
// fallback: lower precision than the contextual strategy, never unavailable
// once loaded.
type Index struct {
	terms   map[string][]indexTerm
	cache   *cache
	allowed map[string]bool
}

// IndexOption configures the strategy.
type IndexOption func(*Index)

// WithAllowedSemanticTypes restricts candidates to concepts carrying at
// least one of the given semantic types. An empty list leaves the index
// unfiltered.
func WithAllowedSemanticTypes(types []string) IndexOption {
	return func(idx *Index) {
		if len(types) == 0 {
			return
		}
		idx.allowed = make(map[string]bool, len(types))
		for _, t := range types {
			idx.allowed[t] = true
		}
	}
}

// NewIndexFromFile loads a newline-delimited JSON term dump.
func NewIndexFromFile(path string, cacheSize int, opts ...IndexOption) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open term index: %w", err)
	}
	defer f.Close()

	idx := &Index{
		terms: make(map[string][]indexTerm),
		cache: newCache(cacheSize),
	}
	for _, opt := range opts {
		opt(idx)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var term indexTerm
		if err := json.Unmarshal([]byte(raw), &term); err != nil {
			return nil, fmt.Errorf("term index line %d: %w", line, err)
		}
		idx.add(term)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read term index: %w", err)
	}
	return idx, nil
}

// NewIndex builds an index from in-memory terms. Used in tests and for
// small embedded vocabularies.
func NewIndex(terms []indexTerm, cacheSize int, opts ...IndexOption) *Index {
	idx := &Index{
		terms: make(map[string][]indexTerm),
		cache: newCache(cacheSize),
	}
	for _, opt := range opts {
		opt(idx)
	}
	for _, term := range terms {
		idx.add(term)
	}
	return idx
}

func (idx *Index) add(term indexTerm) {
	key := normalizeTerm(term.Term)
	if key == "" || term.CUI == "" {
		return
	}
	idx.terms[key] = append(idx.terms[key], term)
}

// Available is always true once the index is loaded.
func (idx *Index) Available() bool {
	return len(idx.terms) > 0
}

// LinkSpans resolves each span independently by n-gram lookup, longest
// grams first. The document is ignored: this strategy has no notion of
// context, only surface forms.
func (idx *Index) LinkSpans(ctx context.Context, _ string, spans []Span) ([][]Concept, error) {
	results := make([][]Concept, len(spans))
	for i, span := range spans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := normalizeTerm(span.Text)
		if cached, ok := idx.cache.get(key); ok {
			results[i] = cached[0]
			continue
		}
		candidates := idx.lookup(span.Text)
		idx.cache.put(key, [][]Concept{candidates})
		results[i] = candidates
	}
	return results, nil
}

// lookup scores every term-index hit among the span's token n-grams.
// Score is gram coverage of the span, so an exact full-phrase match is 1.0
// and single-token hits inside a long span score low. Hits outside the
// allowed semantic-type set are dropped before scoring. Candidates dedupe
// by CUI keeping the best score.
func (idx *Index) lookup(text string) []Concept {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return []Concept{}
	}

	best := make(map[string]Concept)
	limit := min(maxGram, len(tokens))
	for n := limit; n >= 1; n-- {
		for start := 0; start+n <= len(tokens); start++ {
			gram := strings.Join(tokens[start:start+n], " ")
			hits, ok := idx.terms[gram]
			if !ok {
				continue
			}
			score := float64(n) / float64(len(tokens))
			if score > 1.0 {
				score = 1.0
			}
			for _, hit := range hits {
				if !idx.typeAllowed(hit.SemanticTypes) {
					continue
				}
				existing, seen := best[hit.CUI]
				if seen && existing.Score >= score {
					continue
				}
				best[hit.CUI] = Concept{
					CUI:           hit.CUI,
					PreferredName: hit.PreferredName,
					SemanticTypes: hit.SemanticTypes,
					Score:         score,
					MatchedText:   gram,
				}
			}
		}
	}

	candidates := make([]Concept, 0, len(best))
	for _, concept := range best {
		candidates = append(candidates, concept)
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].Score != candidates[b].Score {
			return candidates[a].Score > candidates[b].Score
		}
		return candidates[a].CUI < candidates[b].CUI
	})
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return candidates
}

func (idx *Index) typeAllowed(types []string) bool {
	if idx.allowed == nil {
		return true
	}
	for _, t := range types {
		if idx.allowed[t] {
			return true
		}
	}
	return false
}

func normalizeTerm(s string) string {
	return strings.Join(tokenize(s), " ")
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(strings.TrimSpace(s)))
}
