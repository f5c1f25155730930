package profiling

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/xid"

	"github.com/sarchlab/sqlprof/sqltracking"
)

// An SQLTiming is a database operation that took place while a Timing was
// running.
type SQLTiming struct {
	ID            string           `json:"id"`
	ExecuteType   sqltracking.Kind `json:"executeType"`
	CommandString string           `json:"commandString"`
	Parameters    []string         `json:"parameters,omitempty"`

	StartMilliseconds    float64 `json:"startMilliseconds"`
	DurationMilliseconds float64 `json:"durationMilliseconds"`

	// FirstFetchDurationMilliseconds is the time until the statement
	// completed, for operations whose results were streamed afterwards.
	FirstFetchDurationMilliseconds float64 `json:"firstFetchDurationMilliseconds,omitempty"`
	Streamed                       bool    `json:"streamed,omitempty"`

	ParentTimingID string `json:"parentTimingId"`
}

func newSQLTiming(rec sqltracking.Record, sessionStart time.Time, parent *Timing) *SQLTiming {
	s := &SQLTiming{
		ID:                   xid.New().String(),
		ExecuteType:          rec.Kind,
		CommandString:        rec.Command,
		Parameters:           formatParameters(rec.Parameters),
		StartMilliseconds:    milliseconds(rec.Start.Sub(sessionStart)),
		DurationMilliseconds: milliseconds(rec.TotalDuration()),
		ParentTimingID:       parent.ID,
	}

	if rec.IsStreaming() {
		s.Streamed = true
		s.FirstFetchDurationMilliseconds = milliseconds(rec.StatementDuration())
	}

	return s
}

func formatParameters(params []any) []string {
	if len(params) == 0 {
		return nil
	}

	out := make([]string, len(params))
	for i, p := range params {
		out[i] = fmt.Sprint(p)
	}

	return out
}

func milliseconds(d time.Duration) float64 {
	return round(float64(d) / float64(time.Millisecond))
}

func duration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// round keeps one decimal place, which is the precision shown to users.
func round(ms float64) float64 {
	return math.Round(ms*10) / 10
}
