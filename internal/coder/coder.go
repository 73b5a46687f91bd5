// Package coder produces coding results for confirmed procedure records by
// linking their confirmed entity spans to knowledge-base concepts.
package coder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"phivault/internal/linker"
	"phivault/internal/procedure"
)

// Linker is the concept linking capability the coder consumes.
type Linker interface {
	LinkSpans(ctx context.Context, doc string, spans []linker.Span) ([][]linker.Concept, error)
}

// Coder turns a record's confirmed entity map into structured coding
// results. Only confirmed spans are coded: unflagged detector output is
// noise by the reviewer's own verdict.
type Coder struct {
	linker Linker
	logger *slog.Logger
}

func New(linkerSvc Linker, logger *slog.Logger) *Coder {
	return &Coder{linker: linkerSvc, logger: logger}
}

type codedEntity struct {
	Entity     procedure.Entity `json:"entity"`
	Candidates []linker.Concept `json:"candidates"`
}

// Infer implements procedure.InferenceFunc.
func (c *Coder) Infer(ctx context.Context, record *procedure.Record) (json.RawMessage, error) {
	var spans []linker.Span
	var confirmed []procedure.Entity
	for _, entity := range record.EntityMap {
		if !entity.Confirmed {
			continue
		}
		confirmed = append(confirmed, entity)
		spans = append(spans, linker.Span{
			Start:      entity.Start,
			End:        entity.End,
			Text:       entity.Text,
			EntityType: entity.EntityType,
		})
	}

	results, err := c.linker.LinkSpans(ctx, record.ScrubbedText, spans)
	if err != nil {
		return nil, fmt.Errorf("link confirmed spans: %w", err)
	}

	coded := make([]codedEntity, len(confirmed))
	for i, entity := range confirmed {
		candidates := []linker.Concept{}
		if i < len(results) && results[i] != nil {
			candidates = results[i]
		}
		coded[i] = codedEntity{Entity: entity, Candidates: candidates}
	}

	out, err := json.Marshal(coded)
	if err != nil {
		return nil, fmt.Errorf("marshal coding results: %w", err)
	}
	c.logger.DebugContext(ctx, "coded record",
		"procedure_id", record.ID.String(),
		"confirmed_spans", len(confirmed),
	)
	return out, nil
}
