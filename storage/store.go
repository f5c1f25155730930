// Package storage keeps finished profiling sessions until they are viewed.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/sarchlab/sqlprof/profiling"
)

// ErrNotFound is returned when no session is stored under the requested id.
var ErrNotFound = errors.New("session not found")

// Store saves profiling sessions and remembers which of them each user has
// not looked at yet.
type Store interface {
	// Save stores a session, replacing any session with the same id. A new
	// session starts out unviewed.
	Save(ctx context.Context, p *profiling.Profiler) error

	// Load returns the session with the given id.
	Load(ctx context.Context, id uuid.UUID) (*profiling.Profiler, error)

	// UnviewedIDs lists the sessions of user that have not been viewed,
	// oldest first.
	UnviewedIDs(ctx context.Context, user string) ([]uuid.UUID, error)

	// SetViewed marks a session of user as viewed.
	SetViewed(ctx context.Context, user string, id uuid.UUID) error

	// Close releases the resources held by the store.
	Close() error
}

var errNilSession = errors.New("cannot save a nil session")
