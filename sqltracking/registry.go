package sqltracking

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Stats is a snapshot of the state of a Registry.
type Stats struct {
	InFlightOperations int
	InFlightStreams    int
	Submitted          uint64
	Discarded          uint64
	Evicted            uint64
}

// Option configures a Registry.
type Option func(r *Registry)

// WithClock sets the clock that timestamps the records.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithLogger sets the logger that reports discarded and evicted records.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMaxInFlightAge makes the registry drop records that have been open for
// longer than age. Records are only dropped when a new operation begins, and
// the registry looks for them at most every age/2, so a record can outlive
// age by up to half of it. Zero keeps unfinished records forever.
func WithMaxInFlightAge(age time.Duration) Option {
	return func(r *Registry) {
		r.maxInFlightAge = age
	}
}

var _ Tracker = (*Registry)(nil)

// Registry is the Tracker of a single profiling session. It is safe for
// concurrent use.
type Registry struct {
	session        Session
	clock          clockwork.Clock
	logger         *zap.Logger
	maxInFlightAge time.Duration

	mu                sync.Mutex
	inProgress        map[Key]*Record
	inProgressStreams map[Handle]*Record
	submitted         uint64
	discarded         uint64
	evicted           uint64
	lastSweep         time.Time
}

// NewRegistry creates a Registry that submits finalized records to session.
func NewRegistry(session Session, opts ...Option) *Registry {
	if session == nil {
		panic("session must not be nil")
	}

	r := &Registry{
		session:           session,
		clock:             clockwork.NewRealClock(),
		logger:            zap.NewNop(),
		inProgress:        make(map[Key]*Record),
		inProgressStreams: make(map[Handle]*Record),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// BeginOperation opens a record for the operation, stamped with the current
// time and the current node of the session.
func (r *Registry) BeginOperation(h Handle, kind Kind, opts ...BeginOption) {
	rec := &Record{
		Kind:  kind,
		Node:  r.session.CurrentNode(),
		Start: r.clock.Now(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(rec)
		}
	}

	key := Key{Handle: h, Kind: kind}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictAbandoned(rec.Start)

	if _, found := r.inProgress[key]; found {
		r.discarded++
		r.logger.Debug("discarding unfinished operation",
			zap.Stringer("kind", kind))
	}

	r.inProgress[key] = rec
}

// CompleteOperation stamps the completion of the statement.
func (r *Registry) CompleteOperation(h Handle, kind Kind, stream Handle) error {
	now := r.clock.Now()
	key := Key{Handle: h, Kind: kind}

	r.mu.Lock()

	rec, found := r.inProgress[key]
	if !found {
		r.mu.Unlock()
		return fmt.Errorf("%w: no %s operation in flight for the handle",
			ErrProtocolViolation, kind)
	}

	delete(r.inProgress, key)
	rec.StatementDone = now

	if !stream.IsZero() {
		if _, found := r.inProgressStreams[stream]; found {
			r.discarded++
			r.logger.Debug("discarding unconsumed stream",
				zap.Stringer("kind", kind))
		}

		r.inProgressStreams[stream] = rec
		r.mu.Unlock()

		return nil
	}

	sealed := r.seal(rec)
	r.mu.Unlock()

	r.session.Submit(sealed)

	return nil
}

// CompleteStream stamps the end of result consumption. Streams that are not
// tracked, including streams that have already been completed, are ignored.
func (r *Registry) CompleteStream(stream Handle) {
	now := r.clock.Now()

	r.mu.Lock()

	rec, found := r.inProgressStreams[stream]
	if !found {
		r.mu.Unlock()
		return
	}

	delete(r.inProgressStreams, stream)
	rec.ConsumptionDone = now

	sealed := r.seal(rec)
	r.mu.Unlock()

	r.session.Submit(sealed)
}

// Stats returns the current state of the registry.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		InFlightOperations: len(r.inProgress),
		InFlightStreams:    len(r.inProgressStreams),
		Submitted:          r.submitted,
		Discarded:          r.discarded,
		Evicted:            r.evicted,
	}
}

// seal must be called with the lock held. The returned copy no longer shares
// anything mutable with the registry.
func (r *Registry) seal(rec *Record) Record {
	r.submitted++
	return *rec
}

func (r *Registry) evictAbandoned(now time.Time) {
	if r.maxInFlightAge <= 0 || now.Sub(r.lastSweep) < r.maxInFlightAge/2 {
		return
	}

	r.lastSweep = now

	for key, rec := range r.inProgress {
		if now.Sub(rec.Start) > r.maxInFlightAge {
			delete(r.inProgress, key)
			r.evicted++
			r.logger.Warn("evicting abandoned operation",
				zap.Stringer("kind", key.Kind),
				zap.Duration("age", now.Sub(rec.Start)))
		}
	}

	for stream, rec := range r.inProgressStreams {
		if now.Sub(rec.Start) > r.maxInFlightAge {
			delete(r.inProgressStreams, stream)
			r.evicted++
			r.logger.Warn("evicting abandoned stream",
				zap.Stringer("kind", rec.Kind),
				zap.Duration("age", now.Sub(rec.Start)))
		}
	}
}
