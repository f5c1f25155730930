package profiling

import (
	"time"

	"github.com/rs/xid"
)

// A Timing is a node in the call tree of a profiling session.
type Timing struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Depth                int          `json:"depth"`
	StartMilliseconds    float64      `json:"startMilliseconds"`
	DurationMilliseconds float64      `json:"durationMilliseconds"`
	Children             []*Timing    `json:"children,omitempty"`
	SQLTimings           []*SQLTiming `json:"sqlTimings,omitempty"`

	parent   *Timing
	profiler *Profiler
	started  time.Time
	stopped  bool
}

func newTiming(p *Profiler, parent *Timing, name string, now time.Time) *Timing {
	t := &Timing{
		ID:                xid.New().String(),
		Name:              name,
		StartMilliseconds: milliseconds(now.Sub(p.Started)),
		parent:            parent,
		profiler:          p,
		started:           now,
	}

	if parent != nil {
		t.Depth = parent.Depth + 1
		parent.Children = append(parent.Children, t)
	}

	return t
}

// Parent returns the timing that t is nested in. The root has no parent.
func (t *Timing) Parent() *Timing {
	if t == nil {
		return nil
	}

	return t.parent
}

// IsRoot returns true if t is the root of the call tree.
func (t *Timing) IsRoot() bool {
	return t != nil && t.parent == nil
}

// Stop completes the timing. Timings that were started inside t and are
// still running are stopped as well. Stopping a nil or already stopped timing
// does nothing.
func (t *Timing) Stop() {
	if t == nil || t.profiler == nil {
		return
	}

	p := t.profiler
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if t.stopped {
		return
	}

	if t.isAncestorOf(p.head) {
		for n := p.head; n != t; n = n.parent {
			n.stopAt(now)
		}

		p.head = t.parent
		if p.head == nil {
			p.head = p.Root
		}
	}

	t.stopAt(now)
}

func (t *Timing) stopAt(now time.Time) {
	if t.stopped {
		return
	}

	t.DurationMilliseconds = milliseconds(now.Sub(t.started))
	t.stopped = true
}

func (t *Timing) isAncestorOf(n *Timing) bool {
	for ; n != nil; n = n.parent {
		if n == t {
			return true
		}
	}

	return false
}

// HasChildren returns true if other timings are nested in t.
func (t *Timing) HasChildren() bool {
	return len(t.Children) > 0
}

// HasSQLTimings returns true if database operations were recorded in t.
func (t *Timing) HasSQLTimings() bool {
	return len(t.SQLTimings) > 0
}

// DurationWithoutChildrenMilliseconds is the time spent in t itself.
func (t *Timing) DurationWithoutChildrenMilliseconds() float64 {
	d := t.DurationMilliseconds
	for _, c := range t.Children {
		d -= c.DurationMilliseconds
	}

	return round(d)
}

// SQLDurationMilliseconds is the time spent in the database operations of t,
// not counting nested timings.
func (t *Timing) SQLDurationMilliseconds() float64 {
	d := 0.0
	for _, s := range t.SQLTimings {
		d += s.DurationMilliseconds
	}

	return round(d)
}

// IsTrivial returns true if the timing took no longer than the threshold.
func (t *Timing) IsTrivial(thresholdMilliseconds float64) bool {
	return t.DurationMilliseconds <= thresholdMilliseconds
}

func (t *Timing) walk(f func(t *Timing)) {
	f(t)

	for _, c := range t.Children {
		c.walk(f)
	}
}

func (t *Timing) relink(p *Profiler, parent *Timing) {
	t.profiler = p
	t.parent = parent
	t.stopped = true
	t.started = p.Started.Add(duration(t.StartMilliseconds))

	for _, s := range t.SQLTimings {
		s.ParentTimingID = t.ID
	}

	for _, c := range t.Children {
		c.relink(p, t)
	}
}
