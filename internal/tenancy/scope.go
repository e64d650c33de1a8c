package tenancy

import (
	"context"
	"database/sql"
	"fmt"
)

// Scope executes a block of storage operations bound to one tenant's
// isolated dataset (spec §4.D). It pins a single *sql.Conn for the
// duration of the block and sets a transaction-local parameter that every
// per-tenant table's row-level-security policy consults
// (current_setting('app.tenant_id')), so a query that forgets its own
// tenant filter still cannot see another tenant's rows.
//
// Modeled on internal/gvisor/database_state.go's savepoint trio
// (CreateSavepoint/RollbackToSavepoint/CommitSavepoint), generalized from
// an ad-hoc savepoint to a tenant-scoped transaction that is always
// released, including on panic.
type Scope struct {
	db *sql.DB
}

// NewScope wraps a *sql.DB for tenant-scoped execution.
func NewScope(db *sql.DB) *Scope {
	return &Scope{db: db}
}

type scopeTxKey struct{}

// WithTenant runs fn with all database statements issued through ctx's
// *sql.Tx (retrievable via TxFromContext) scoped to tenantID. Re-entrant
// calls for the same tenant within an already-active scope reuse the live
// transaction and are a no-op with respect to isolation setup, satisfying
// spec §4.D's re-entrance rule.
func (s *Scope) WithTenant(ctx context.Context, tenantID string, fn func(ctx context.Context) error) (err error) {
	if tx, ok := ctx.Value(scopeTxKey{}).(*activeScope); ok && tx.tenantID == tenantID {
		return fn(ctx)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("tenancy: acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tenancy: begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenantID); err != nil {
		return fmt.Errorf("tenancy: set scope: %w", err)
	}

	scoped := &activeScope{tenantID: tenantID, tx: tx}
	scopedCtx := context.WithValue(ctx, scopeTxKey{}, scoped)

	if err := fn(scopedCtx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tenancy: commit scope: %w", err)
	}
	committed = true
	return nil
}

// activeScope carries the live transaction for a tenant scope through
// context, so nested WithTenant calls and handler code can recover it.
type activeScope struct {
	tenantID string
	tx       *sql.Tx
}

// TxFromContext returns the active tenant-scoped transaction, if any.
// Handlers use this instead of holding their own *sql.DB reference, so
// every write they issue runs inside the caller's scope.
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	scoped, ok := ctx.Value(scopeTxKey{}).(*activeScope)
	if !ok {
		return nil, false
	}
	return scoped.tx, true
}

// TenantFromContext returns the tenant ID bound to the active scope.
func TenantFromContext(ctx context.Context) (string, bool) {
	scoped, ok := ctx.Value(scopeTxKey{}).(*activeScope)
	if !ok {
		return "", false
	}
	return scoped.tenantID, true
}
