// Package sqltracking correlates the start of database operations with their
// completion.
//
// An operation is started with BeginOperation and completed with
// CompleteOperation. When the results of an operation are streamed through a
// cursor, CompleteOperation hands the record over to the cursor's handle and
// the record is only finalized by CompleteStream, once the cursor has been
// exhausted or closed. Finalized records are submitted to the Session the
// tracker works for.
package sqltracking

import (
	"context"
	"errors"
)

// ErrProtocolViolation is returned when an operation is completed without
// having been started.
var ErrProtocolViolation = errors.New("operation completed without a matching begin")

// A Session owns the records produced by a tracker.
type Session interface {
	// CurrentNode returns the node that new operations belong to.
	CurrentNode() Node

	// Submit accepts a finalized record. Each record is submitted once.
	Submit(rec Record)
}

// A Tracker correlates begin and completion signals of operations.
type Tracker interface {
	// BeginOperation starts tracking an operation. An unfinished operation
	// with the same handle and kind is discarded.
	BeginOperation(h Handle, kind Kind, opts ...BeginOption)

	// CompleteOperation marks the statement of an operation as executed. If
	// stream is not zero, the record waits for CompleteStream(stream).
	// Otherwise, it is submitted right away. Completing an operation that
	// has not begun fails with ErrProtocolViolation.
	CompleteOperation(h Handle, kind Kind, stream Handle) error

	// CompleteStream marks the results behind the stream as consumed and
	// submits the record. Unknown streams are ignored.
	CompleteStream(stream Handle)
}

// Disabled is a Tracker that does nothing.
var Disabled Tracker = disabledTracker{}

type disabledTracker struct{}

func (disabledTracker) BeginOperation(Handle, Kind, ...BeginOption) {}

func (disabledTracker) CompleteOperation(Handle, Kind, Handle) error {
	return nil
}

func (disabledTracker) CompleteStream(Handle) {}

// Enabled returns false for trackers that record nothing. Instrumentation can
// use it to skip preparing the arguments of a call.
func Enabled(t Tracker) bool {
	if t == nil {
		return false
	}

	_, disabled := t.(disabledTracker)

	return !disabled
}

type trackerKey struct{}

// NewContext returns a copy of ctx that carries the tracker.
func NewContext(ctx context.Context, t Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// FromContext returns the tracker carried by ctx, or Disabled if there is
// none.
func FromContext(ctx context.Context) Tracker {
	if ctx == nil {
		return Disabled
	}

	t, ok := ctx.Value(trackerKey{}).(Tracker)
	if !ok || t == nil {
		return Disabled
	}

	return t
}
