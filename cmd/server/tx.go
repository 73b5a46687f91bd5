package main

import (
	"context"
	"database/sql"
	"time"

	dErrors "phivault/pkg/domain-errors"
	txcontext "phivault/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// postgresTx implements tx.Runner over database/sql. The transaction travels
// in the context so every store touched inside fn joins the same tx.
type postgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newPostgresTx(db *sql.DB) *postgresTx {
	return &postgresTx{db: db}
}

func (t *postgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	hookCtx, hooks := txcontext.WithCommitHooks(ctx)
	if err := fn(txcontext.WithTx(hookCtx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	hooks.Run(ctx)
	return nil
}
