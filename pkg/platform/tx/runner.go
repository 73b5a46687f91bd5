package tx

import "context"

// Runner provides a transactional boundary for operations that must commit a
// state change and its audit entry atomically. SQL-backed deployments wrap a
// database transaction (see cmd/server); in-memory stores use Passthrough,
// where the coarse store locks provide the serialization.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Passthrough runs fn without a transaction.
type Passthrough struct{}

func (Passthrough) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
