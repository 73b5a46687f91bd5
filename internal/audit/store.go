package audit

import (
	"context"

	"phivault/pkg/domain"
)

// Store persists ledger entries. The interface is append-only on purpose:
// no update or delete exists at any layer, even for administrative
// correction. All listings return entries in sequence order.
type Store interface {
	// Append assigns the entry's ID and Sequence and persists it. When a SQL
	// transaction is present in ctx the write joins it, so a caller's state
	// change and its audit entry commit or roll back together.
	Append(ctx context.Context, entry *Entry) error

	ListByVault(ctx context.Context, vaultID domain.VaultID) ([]Entry, error)
	ListByProcedure(ctx context.Context, procedureID domain.ProcedureID) ([]Entry, error)
	ListByActor(ctx context.Context, actorID string) ([]Entry, error)
	ListByAction(ctx context.Context, action Action) ([]Entry, error)
}
