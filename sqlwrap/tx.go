package sqlwrap

import (
	"context"
	"database/sql"
)

// Tx is a transaction whose statements are profiled.
type Tx struct {
	*sql.Tx

	inst instrumenter
}

// ExecContext executes a statement inside the transaction.
func (tx *Tx) ExecContext(
	ctx context.Context,
	query string,
	args ...any,
) (sql.Result, error) {
	return tx.inst.exec(ctx, query, args, func() (sql.Result, error) {
		return tx.Tx.ExecContext(ctx, query, args...)
	})
}

// QueryContext executes a query inside the transaction.
func (tx *Tx) QueryContext(
	ctx context.Context,
	query string,
	args ...any,
) (*Rows, error) {
	return tx.inst.query(ctx, query, args, func() (*sql.Rows, error) {
		return tx.Tx.QueryContext(ctx, query, args...)
	})
}

// QueryRowContext executes a single row query inside the transaction.
func (tx *Tx) QueryRowContext(
	ctx context.Context,
	query string,
	args ...any,
) *sql.Row {
	return tx.inst.queryRow(ctx, query, args, func() *sql.Row {
		return tx.Tx.QueryRowContext(ctx, query, args...)
	})
}

// PrepareContext creates a prepared statement bound to the transaction.
func (tx *Tx) PrepareContext(ctx context.Context, query string) (*Stmt, error) {
	stmt, err := tx.Tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &Stmt{Stmt: stmt, text: query, inst: tx.inst}, nil
}

// StmtContext returns a transaction-specific version of a prepared statement.
func (tx *Tx) StmtContext(ctx context.Context, stmt *Stmt) *Stmt {
	return &Stmt{
		Stmt: tx.Tx.StmtContext(ctx, stmt.Stmt),
		text: stmt.text,
		inst: tx.inst,
	}
}
