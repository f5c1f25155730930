package sqlwrap

import (
	"context"
	"database/sql"
	"fmt"
)

// DB is a database handle whose statements are profiled.
type DB struct {
	*sql.DB

	inst instrumenter
}

// Wrap instruments an open database handle.
func Wrap(db *sql.DB, opts ...Option) *DB {
	return &DB{
		DB:   db,
		inst: newInstrumenter(opts),
	}
}

// Open opens a database and instruments it.
func Open(driverName, dataSourceName string, opts ...Option) (*DB, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driverName, err)
	}

	return Wrap(db, opts...), nil
}

// ExecContext executes a statement that returns no rows.
func (db *DB) ExecContext(
	ctx context.Context,
	query string,
	args ...any,
) (sql.Result, error) {
	return db.inst.exec(ctx, query, args, func() (sql.Result, error) {
		return db.DB.ExecContext(ctx, query, args...)
	})
}

// Exec executes a statement without a profiling session.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	return db.ExecContext(context.Background(), query, args...)
}

// QueryContext executes a query whose rows are streamed.
func (db *DB) QueryContext(
	ctx context.Context,
	query string,
	args ...any,
) (*Rows, error) {
	return db.inst.query(ctx, query, args, func() (*sql.Rows, error) {
		return db.DB.QueryContext(ctx, query, args...)
	})
}

// Query executes a query without a profiling session.
func (db *DB) Query(query string, args ...any) (*Rows, error) {
	return db.QueryContext(context.Background(), query, args...)
}

// QueryRowContext executes a query that returns at most one row.
func (db *DB) QueryRowContext(
	ctx context.Context,
	query string,
	args ...any,
) *sql.Row {
	return db.inst.queryRow(ctx, query, args, func() *sql.Row {
		return db.DB.QueryRowContext(ctx, query, args...)
	})
}

// QueryRow executes a single row query without a profiling session.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	return db.QueryRowContext(context.Background(), query, args...)
}

// PrepareContext creates a prepared statement. The preparation itself is not
// profiled, the executions of the statement are.
func (db *DB) PrepareContext(ctx context.Context, query string) (*Stmt, error) {
	stmt, err := db.DB.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &Stmt{Stmt: stmt, text: query, inst: db.inst}, nil
}

// Prepare creates a prepared statement.
func (db *DB) Prepare(query string) (*Stmt, error) {
	return db.PrepareContext(context.Background(), query)
}

// BeginTx starts a transaction.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}

	return &Tx{Tx: tx, inst: db.inst}, nil
}

// Begin starts a transaction.
func (db *DB) Begin() (*Tx, error) {
	return db.BeginTx(context.Background(), nil)
}
