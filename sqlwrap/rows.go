package sqlwrap

import (
	"database/sql"

	"github.com/sarchlab/sqlprof/sqltracking"
)

// Rows is a result set whose consumption is timed. Consumption ends when
// Next reports that there are no more rows or when the rows are closed,
// whichever happens first.
type Rows struct {
	*sql.Rows

	tracker sqltracking.Tracker
	handle  sqltracking.Handle
}

// Next prepares the next row for reading.
func (r *Rows) Next() bool {
	if r.Rows.Next() {
		return true
	}

	r.consumed()

	return false
}

// Close closes the rows.
func (r *Rows) Close() error {
	err := r.Rows.Close()
	r.consumed()

	return err
}

func (r *Rows) consumed() {
	r.tracker.CompleteStream(r.handle)
}
