package vault

import (
	"context"
	"time"

	"phivault/pkg/domain"
)

// Store persists vault records. Ciphertext is write-once: the only mutation
// any implementation exposes is the soft-delete flag.
type Store interface {
	Create(ctx context.Context, record *Record) error

	// CreateUnique inserts the record only if no live record carries the
	// same payload hash, atomically with respect to concurrent callers.
	// Returns sentinel.ErrDuplicate when one does. Soft-deleted records do
	// not block re-storage.
	CreateUnique(ctx context.Context, record *Record) error

	// FindByID returns the record regardless of its IsDeleted flag; callers
	// decide how a soft-deleted record surfaces. Returns sentinel.ErrNotFound
	// when no row exists.
	FindByID(ctx context.Context, id domain.VaultID) (*Record, error)

	// FindByHash supports the deduplication check. Returns
	// sentinel.ErrNotFound when no live record carries the hash.
	FindByHash(ctx context.Context, payloadHash string) (*Record, error)

	// MarkDeleted sets the soft-delete flag. Idempotent on already-deleted
	// records; returns sentinel.ErrNotFound when no row exists.
	MarkDeleted(ctx context.Context, id domain.VaultID, at time.Time) error
}
