// Package sqlwrap instruments database/sql and sqlx handles. Every call that
// carries a context with an SQL tracker is timed and reported to the
// profiling session of that context.
package sqlwrap

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/sarchlab/sqlprof/sqltracking"
)

// Option configures a wrapped handle.
type Option func(i *instrumenter)

// WithLogger sets the logger that reports tracking failures.
func WithLogger(logger *zap.Logger) Option {
	return func(i *instrumenter) {
		i.logger = logger
	}
}

// command identifies a single execution. Statements can run concurrently on
// the same handle, so each execution gets its own handle.
type command struct {
	handle sqltracking.Handle
	query  string
}

type instrumenter struct {
	logger *zap.Logger
}

func newInstrumenter(opts []Option) instrumenter {
	i := instrumenter{logger: zap.NewNop()}

	for _, opt := range opts {
		if opt != nil {
			opt(&i)
		}
	}

	return i
}

func (i instrumenter) begin(
	ctx context.Context,
	kind sqltracking.Kind,
	query string,
	args []any,
) (sqltracking.Tracker, *command) {
	t := sqltracking.FromContext(ctx)
	if !sqltracking.Enabled(t) {
		return t, nil
	}

	cmd := &command{handle: sqltracking.NewHandle(), query: query}
	t.BeginOperation(cmd.handle, kind, sqltracking.WithCommand(query, args...))

	return t, cmd
}

// stream issues the handle of the cursor that cmd returns. Untracked commands
// get the zero handle.
func (cmd *command) stream() sqltracking.Handle {
	if cmd == nil {
		return sqltracking.Handle{}
	}

	return sqltracking.NewHandle()
}

func (i instrumenter) complete(
	t sqltracking.Tracker,
	cmd *command,
	kind sqltracking.Kind,
	stream sqltracking.Handle,
) {
	if cmd == nil {
		return
	}

	err := t.CompleteOperation(cmd.handle, kind, stream)
	if err != nil {
		i.logger.Warn("sql profiling failed",
			zap.String("query", cmd.query),
			zap.Error(err))
	}
}

func (i instrumenter) exec(
	ctx context.Context,
	query string,
	args []any,
	run func() (sql.Result, error),
) (sql.Result, error) {
	t, cmd := i.begin(ctx, sqltracking.KindMutation, query, args)
	res, err := run()
	i.complete(t, cmd, sqltracking.KindMutation, sqltracking.Handle{})

	return res, err
}

func (i instrumenter) queryRow(
	ctx context.Context,
	query string,
	args []any,
	run func() *sql.Row,
) *sql.Row {
	t, cmd := i.begin(ctx, sqltracking.KindScalarFetch, query, args)
	row := run()
	i.complete(t, cmd, sqltracking.KindScalarFetch, sqltracking.Handle{})

	return row
}

func (i instrumenter) query(
	ctx context.Context,
	query string,
	args []any,
	run func() (*sql.Rows, error),
) (*Rows, error) {
	t, cmd := i.begin(ctx, sqltracking.KindStreamingRead, query, args)

	rows, err := run()
	if err != nil {
		i.complete(t, cmd, sqltracking.KindStreamingRead, sqltracking.Handle{})
		return nil, err
	}

	r := &Rows{Rows: rows, tracker: t, handle: cmd.stream()}
	i.complete(t, cmd, sqltracking.KindStreamingRead, r.handle)

	return r, nil
}
