package procedure

import (
	"context"

	"phivault/pkg/domain"
)

// Store persists procedure records.
type Store interface {
	Create(ctx context.Context, record *Record) error

	// FindByID returns sentinel.ErrNotFound when no record exists.
	FindByID(ctx context.Context, id domain.ProcedureID) (*Record, error)

	// Update writes the record back guarded by its Version: the write only
	// succeeds when the stored version equals record.Version, and the stored
	// version is incremented. On success record.Version reflects the new
	// value. A stale version returns sentinel.ErrConflict.
	Update(ctx context.Context, record *Record) error

	ListByVault(ctx context.Context, vaultID domain.VaultID) ([]*Record, error)
}
