package sqlwrap

import (
	"context"
	"database/sql"
)

// Stmt is a prepared statement whose executions are profiled.
type Stmt struct {
	*sql.Stmt

	text string
	inst instrumenter
}

// ExecContext executes the statement.
func (s *Stmt) ExecContext(ctx context.Context, args ...any) (sql.Result, error) {
	return s.inst.exec(ctx, s.text, args, func() (sql.Result, error) {
		return s.Stmt.ExecContext(ctx, args...)
	})
}

// QueryContext executes the statement as a query whose rows are streamed.
func (s *Stmt) QueryContext(ctx context.Context, args ...any) (*Rows, error) {
	return s.inst.query(ctx, s.text, args, func() (*sql.Rows, error) {
		return s.Stmt.QueryContext(ctx, args...)
	})
}

// QueryRowContext executes the statement as a single row query.
func (s *Stmt) QueryRowContext(ctx context.Context, args ...any) *sql.Row {
	return s.inst.queryRow(ctx, s.text, args, func() *sql.Row {
		return s.Stmt.QueryRowContext(ctx, args...)
	})
}
