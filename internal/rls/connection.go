package rls

import (
	"context"
	"database/sql"
	"sort"

	"phicore/internal/pkgerr"
)

// ApplyToConnection sets tx's session variables for the duration of the
// transaction via set_config(name, value, true) — the "true" marks the
// setting local to the transaction, so it never leaks to the pooled
// connection after commit or rollback.
func ApplyToConnection(ctx context.Context, tx *sql.Tx, rlsCtx Context) error {
	vars := rlsCtx.sessionVariables()

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := tx.ExecContext(ctx, `SELECT set_config($1, $2, true)`, name, vars[name]); err != nil {
			return pkgerr.Wrap(pkgerr.StorageError, "apply rls session variable "+name, err)
		}
	}
	return nil
}

// Operation is the unit of work ExecuteWithContext runs inside a
// RLS-scoped transaction.
type Operation func(ctx context.Context, tx *sql.Tx) error

// ExecuteWithContext implements spec.md §4.7's execute_with_context: it
// acquires a connection and transaction, applies rlsCtx, runs op, commits
// on success and rolls back otherwise. The connection is always released.
func ExecuteWithContext(ctx context.Context, db *sql.DB, rlsCtx Context, op Operation) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "begin rls transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
		if err != nil {
			err = pkgerr.Wrap(pkgerr.StorageError, "commit rls transaction", err)
		}
	}()

	if err = ApplyToConnection(ctx, tx, rlsCtx); err != nil {
		return err
	}
	err = op(ctx, tx)
	return err
}
