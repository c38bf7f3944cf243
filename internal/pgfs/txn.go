package pgfs

import (
	"context"
	"errors"
	"fmt"
)

// storeRunner executes fn against a Store bound to one request's backing
// transaction. Production mounts use poolRunner, which pairs a Store with a
// real *sql.Tx acquired from the connection pool; tests instead run
// directly against an internal/pgfake.Store with no pooling or rollback
// semantics of its own, since the fake doesn't attempt to reproduce
// Postgres transaction isolation (see internal/pgfake's doc comment).
type storeRunner interface {
	run(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// poolRunner implements the acquire/BEGIN/operate/COMMIT-or-ROLLBACK/release
// skeleton every VFS handler shares, replacing the original's
// BEGIN_TRANSACTION/END_TRANSACTION/ROLLBACK macros with a plain function.
type poolRunner struct {
	pool      *connPool
	blockSize int
	logger    Logger
}

func (r *poolRunner) run(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	db, slot, err := r.pool.acquire(ctx)
	if err != nil {
		return fmt.Errorf("pgfs: acquire connection: %w", err)
	}
	defer r.pool.release(slot)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgfs: begin transaction: %w", err)
	}

	store := newPgStore(tx, r.blockSize)
	if err := fn(ctx, store); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Errorf("rollback after error %v failed: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgfs: commit transaction: %w", err)
	}
	return nil
}

// withTxn runs fn through fs.runner and applies the LOG_ERR/LOG_CRIT
// logging split spec.md §6 requires: invariant violations are CRIT, any
// other non-precondition error is ERR, and ordinary precondition failures
// (ENOENT, ENOTEMPTY, ...) are never logged as server errors.
func (fs *Filesystem) withTxn(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	err := fs.runner.run(ctx, fn)
	if err != nil {
		switch {
		case errors.Is(err, ErrInconsistent):
			fs.logger.Critf("invariant violation: %v", err)
		case !isExpectedHandlerError(err):
			fs.logger.Errorf("%v", err)
		}
	}
	return err
}

// readOnlyTxn is withTxn for handlers that never mutate; kept distinct so
// the read path never accidentally depends on commit ordering of a write
// it didn't perform. Still runs inside a transaction for snapshot
// consistency across multiple statements (e.g. read_buf's meta read plus
// block scan).
func (fs *Filesystem) readOnlyTxn(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	return fs.withTxn(ctx, fn)
}
