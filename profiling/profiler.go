// Package profiling provides profiling sessions. A session records a tree of
// timed steps and the database operations that ran inside each step.
package profiling

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sarchlab/sqlprof/sqltracking"
)

// An Observer is notified about every database operation recorded by a
// session. Observers must not call back into the session.
type Observer interface {
	Observe(p *Profiler, s SQLTiming)
}

// Option configures a Profiler.
type Option func(p *Profiler)

// WithClock sets the clock of the session and of its SQL tracker.
func WithClock(clock clockwork.Clock) Option {
	return func(p *Profiler) {
		p.clock = clock
	}
}

// WithUser sets the user the session belongs to.
func WithUser(user string) Option {
	return func(p *Profiler) {
		p.User = user
	}
}

// WithMachineName overrides the host name recorded with the session.
func WithMachineName(name string) Option {
	return func(p *Profiler) {
		p.MachineName = name
	}
}

// WithObserver registers an observer of the database operations.
func WithObserver(o Observer) Option {
	return func(p *Profiler) {
		p.observers = append(p.observers, o)
	}
}

// WithLogger sets the logger of the session and of its SQL tracker.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Profiler) {
		p.logger = logger
	}
}

// WithTrackerOptions passes options to the SQL tracker of the session.
func WithTrackerOptions(opts ...sqltracking.Option) Option {
	return func(p *Profiler) {
		p.trackerOpts = append(p.trackerOpts, opts...)
	}
}

// A Profiler is a profiling session. All its methods are safe for concurrent
// use. A nil Profiler is valid and records nothing.
type Profiler struct {
	ID                   uuid.UUID `json:"id"`
	Name                 string    `json:"name"`
	Started              time.Time `json:"started"`
	MachineName          string    `json:"machineName"`
	User                 string    `json:"user"`
	DurationMilliseconds float64   `json:"durationMilliseconds"`
	Root                 *Timing   `json:"root"`

	mu          sync.Mutex
	clock       clockwork.Clock
	logger      *zap.Logger
	head        *Timing
	tracker     *sqltracking.Registry
	trackerOpts []sqltracking.Option
	observers   []Observer
	stopped     bool
}

var _ sqltracking.Session = (*Profiler)(nil)

// Start begins a new profiling session named after the unit of work it
// profiles.
func Start(name string, opts ...Option) *Profiler {
	p := &Profiler{
		ID:     uuid.New(),
		Name:   name,
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
	}

	p.MachineName, _ = os.Hostname()

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	p.Started = p.clock.Now()
	p.Root = newTiming(p, nil, name, p.Started)
	p.head = p.Root

	trackerOpts := append([]sqltracking.Option{
		sqltracking.WithClock(p.clock),
		sqltracking.WithLogger(p.logger),
	}, p.trackerOpts...)
	p.tracker = sqltracking.NewRegistry(p, trackerOpts...)

	return p
}

// Step starts a timing nested in the current one. Call Stop on the returned
// timing when the step is done.
func (p *Profiler) Step(name string) *Timing {
	if p == nil {
		return nil
	}

	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}

	t := newTiming(p, p.head, name, now)
	p.head = t

	return t
}

// Head returns the timing that new steps and operations are nested in.
func (p *Profiler) Head() *Timing {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.head
}

// CurrentNode returns the current head timing.
func (p *Profiler) CurrentNode() sqltracking.Node {
	return p.Head()
}

// SQL returns the tracker that times the database operations of the session.
func (p *Profiler) SQL() sqltracking.Tracker {
	if p == nil || p.tracker == nil {
		return sqltracking.Disabled
	}

	return p.tracker
}

// SQLStats returns the state of the SQL tracker of the session.
func (p *Profiler) SQLStats() sqltracking.Stats {
	if p == nil || p.tracker == nil {
		return sqltracking.Stats{}
	}

	return p.tracker.Stats()
}

// Submit adds a finalized operation to the timing that was current when the
// operation began. Operations from a foreign node are added to the root.
func (p *Profiler) Submit(rec sqltracking.Record) {
	if p == nil {
		return
	}

	node, ok := rec.Node.(*Timing)
	if !ok || node == nil || node.profiler != p {
		node = p.Root
	}

	s := newSQLTiming(rec, p.Started, node)

	p.mu.Lock()
	node.SQLTimings = append(node.SQLTimings, s)
	observers := p.observers
	p.mu.Unlock()

	for _, o := range observers {
		o.Observe(p, *s)
	}
}

// Stop ends the session and every timing that is still running.
func (p *Profiler) Stop() *Profiler {
	if p == nil {
		return nil
	}

	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return p
	}

	for n := p.head; n != nil; n = n.parent {
		n.stopAt(now)
	}

	p.head = p.Root
	p.stopped = true
	p.DurationMilliseconds = p.Root.DurationMilliseconds

	stats := p.SQLStats()
	if stats.InFlightOperations > 0 || stats.InFlightStreams > 0 {
		p.logger.Debug("session stopped with unfinished operations",
			zap.Stringer("id", p.ID),
			zap.Int("operations", stats.InFlightOperations),
			zap.Int("streams", stats.InFlightStreams))
	}

	return p
}

// IsStopped returns true once Stop has been called.
func (p *Profiler) IsStopped() bool {
	if p == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stopped
}

// Timings lists all the timings of the session, parents before children.
func (p *Profiler) Timings() []*Timing {
	var timings []*Timing

	p.walk(func(t *Timing) {
		timings = append(timings, t)
	})

	return timings
}

// HasSQLTimings returns true if any database operation was recorded.
func (p *Profiler) HasSQLTimings() bool {
	found := false

	p.walk(func(t *Timing) {
		found = found || t.HasSQLTimings()
	})

	return found
}

// SQLDurationMilliseconds is the time spent in database operations during
// the whole session.
func (p *Profiler) SQLDurationMilliseconds() float64 {
	d := 0.0

	p.walk(func(t *Timing) {
		d += t.SQLDurationMilliseconds()
	})

	return round(d)
}

func (p *Profiler) walk(f func(t *Timing)) {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.Root.walk(f)
}

// IsTrivial returns true if the whole session took no longer than the
// threshold.
func (p *Profiler) IsTrivial(thresholdMilliseconds float64) bool {
	if p == nil {
		return true
	}

	return p.DurationMilliseconds <= thresholdMilliseconds
}
