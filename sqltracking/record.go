package sqltracking

import "time"

// Node is the session node that was active when an operation started. The
// tracker never looks into it.
type Node any

// A Record accumulates the timestamps of a single operation.
//
// StatementDone is zero until the statement has been executed.
// ConsumptionDone is only set for operations whose results were streamed.
type Record struct {
	Kind       Kind
	Node       Node
	Command    string
	Parameters []any

	Start           time.Time
	StatementDone   time.Time
	ConsumptionDone time.Time
}

// BeginOption describes an operation when it starts.
type BeginOption func(r *Record)

// WithCommand attaches the command text and its parameters to the record.
func WithCommand(command string, params ...any) BeginOption {
	return func(r *Record) {
		r.Command = command
		r.Parameters = params
	}
}

// IsStreaming returns true if the results of the operation were consumed
// after the statement completed.
func (r Record) IsStreaming() bool {
	return !r.ConsumptionDone.IsZero()
}

// StatementDuration is the time between the start of the operation and the
// completion of the statement.
func (r Record) StatementDuration() time.Duration {
	return r.StatementDone.Sub(r.Start)
}

// ConsumptionDuration is the time spent consuming streamed results. The
// second return value is false if the results were not streamed.
func (r Record) ConsumptionDuration() (time.Duration, bool) {
	if !r.IsStreaming() {
		return 0, false
	}

	return r.ConsumptionDone.Sub(r.StatementDone), true
}

// TotalDuration covers the whole operation, including result consumption.
func (r Record) TotalDuration() time.Duration {
	if r.IsStreaming() {
		return r.ConsumptionDone.Sub(r.Start)
	}

	return r.StatementDuration()
}
