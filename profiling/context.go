package profiling

import (
	"context"

	"github.com/sarchlab/sqlprof/sqltracking"
)

type profilerKey struct{}

// NewContext returns a copy of ctx that carries the session and its SQL
// tracker.
func NewContext(ctx context.Context, p *Profiler) context.Context {
	ctx = context.WithValue(ctx, profilerKey{}, p)
	return sqltracking.NewContext(ctx, p.SQL())
}

// FromContext returns the session carried by ctx, or nil.
func FromContext(ctx context.Context) *Profiler {
	p, _ := ctx.Value(profilerKey{}).(*Profiler)
	return p
}
