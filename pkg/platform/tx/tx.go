package tx

import (
	"context"
	"database/sql"
	"sync"
)

type ctxKey struct{}

var txKey = ctxKey{}

type hooksKey struct{}

// WithTx stores a SQL transaction in context for downstream store usage.
// Vault decrypts and lifecycle transitions run their audit append and state
// write inside the same transaction through this mechanism.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// CommitHooks collects callbacks deferred until the surrounding transaction
// commits. Runner implementations install a collector before running fn and
// drain it only on successful commit, so a hook never observes a state
// change that later rolled back.
type CommitHooks struct {
	mu  sync.Mutex
	fns []func(context.Context)
}

func (h *CommitHooks) add(fn func(context.Context)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

// Run executes the collected hooks in registration order.
func (h *CommitHooks) Run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}

// WithCommitHooks installs a hook collector on the context.
func WithCommitHooks(ctx context.Context) (context.Context, *CommitHooks) {
	hooks := &CommitHooks{}
	return context.WithValue(ctx, hooksKey{}, hooks), hooks
}

// AfterCommit defers fn until the surrounding transaction commits. Returns
// false when no collector is installed, meaning no transaction is pending
// and the caller should run fn itself.
func AfterCommit(ctx context.Context, fn func(context.Context)) bool {
	hooks, ok := ctx.Value(hooksKey{}).(*CommitHooks)
	if !ok {
		return false
	}
	hooks.add(fn)
	return true
}
