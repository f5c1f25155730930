package sqltracking

import "sync/atomic"

var lastHandle atomic.Uint64

// A Handle identifies a command or an open result cursor. Callers issue one
// with NewHandle when the object is created and keep it next to the object.
// Handles are plain numbers, so tracking never keeps anything alive and
// works the same for every kind of value.
//
// Handles are comparable. The zero Handle refers to no object.
type Handle struct {
	id uint64
}

// NewHandle issues a Handle that is different from every other Handle issued
// by the process.
func NewHandle() Handle {
	return Handle{id: lastHandle.Add(1)}
}

// IsZero returns true if the handle does not refer to any object.
func (h Handle) IsZero() bool {
	return h.id == 0
}

// A Key correlates the start of an operation with its completion. The same
// command can be executed under different kinds, so the kind is part of the
// key.
type Key struct {
	Handle Handle
	Kind   Kind
}
