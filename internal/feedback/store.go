package feedback

import (
	"context"

	"phivault/pkg/domain"
)

// Store persists one feedback row per procedure record.
//
// Implementations return sentinel.ErrNotFound when no row exists for the
// given key.
type Store interface {
	// Save inserts the row, or overwrites the existing row for the same
	// procedure record, bumping UpdatedAt. The original ID and CreatedAt
	// are preserved on overwrite.
	Save(ctx context.Context, fb *Feedback) error
	FindByID(ctx context.Context, id domain.FeedbackID) (*Feedback, error)
	FindByProcedure(ctx context.Context, procedureID domain.ProcedureID) (*Feedback, error)
}
