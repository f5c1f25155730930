package sqlwrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sarchlab/sqlprof/sqltracking"
)

// X is an sqlx database handle whose statements are profiled.
type X struct {
	*sqlx.DB

	inst instrumenter
}

// WrapX instruments an sqlx handle.
func WrapX(db *sqlx.DB, opts ...Option) *X {
	return &X{
		DB:   db,
		inst: newInstrumenter(opts),
	}
}

// OpenX opens a database through sqlx and instruments it.
func OpenX(driverName, dataSourceName string, opts ...Option) (*X, error) {
	db, err := sqlx.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driverName, err)
	}

	return WrapX(db, opts...), nil
}

// RowsX is an sqlx result set whose consumption is timed, like Rows.
type RowsX struct {
	*sqlx.Rows

	tracker sqltracking.Tracker
	handle  sqltracking.Handle
}

// Next prepares the next row for reading.
func (r *RowsX) Next() bool {
	if r.Rows.Next() {
		return true
	}

	r.consumed()

	return false
}

// Close closes the rows.
func (r *RowsX) Close() error {
	err := r.Rows.Close()
	r.consumed()

	return err
}

func (r *RowsX) consumed() {
	r.tracker.CompleteStream(r.handle)
}

// ExecContext executes a statement that returns no rows.
func (x *X) ExecContext(
	ctx context.Context,
	query string,
	args ...any,
) (sql.Result, error) {
	return x.inst.exec(ctx, query, args, func() (sql.Result, error) {
		return x.DB.ExecContext(ctx, query, args...)
	})
}

// NamedExecContext executes a statement with named parameters taken from arg.
func (x *X) NamedExecContext(
	ctx context.Context,
	query string,
	arg any,
) (sql.Result, error) {
	return x.inst.exec(ctx, query, []any{arg}, func() (sql.Result, error) {
		return x.DB.NamedExecContext(ctx, query, arg)
	})
}

// GetContext scans a single row into dest.
func (x *X) GetContext(
	ctx context.Context,
	dest any,
	query string,
	args ...any,
) error {
	t, cmd := x.inst.begin(ctx, sqltracking.KindScalarFetch, query, args)
	err := x.DB.GetContext(ctx, dest, query, args...)
	x.inst.complete(t, cmd, sqltracking.KindScalarFetch, sqltracking.Handle{})

	return err
}

// QueryxContext executes a query whose rows are streamed.
func (x *X) QueryxContext(
	ctx context.Context,
	query string,
	args ...any,
) (*RowsX, error) {
	t, cmd := x.inst.begin(ctx, sqltracking.KindStreamingRead, query, args)

	rows, err := x.DB.QueryxContext(ctx, query, args...)
	if err != nil {
		x.inst.complete(t, cmd, sqltracking.KindStreamingRead, sqltracking.Handle{})
		return nil, err
	}

	r := &RowsX{Rows: rows, tracker: t, handle: cmd.stream()}
	x.inst.complete(t, cmd, sqltracking.KindStreamingRead, r.handle)

	return r, nil
}

// SelectContext scans all the rows of a query into dest, which must point to
// a slice of structs. The time spent scanning is recorded as consumption.
func (x *X) SelectContext(
	ctx context.Context,
	dest any,
	query string,
	args ...any,
) error {
	rows, err := x.QueryxContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	return sqlx.StructScan(rows, dest)
}
