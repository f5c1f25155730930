package profiling

import (
	"encoding/json"
	"errors"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ToJSON encodes a session, including its whole call tree.
func ToJSON(p *Profiler) ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return json.Marshal(p)
}

// FromJSON decodes a session encoded by ToJSON. The decoded session is
// stopped and does not track database operations anymore.
func FromJSON(data []byte) (*Profiler, error) {
	p := &Profiler{}

	err := json.Unmarshal(data, p)
	if err != nil {
		return nil, err
	}

	if p.Root == nil {
		return nil, errors.New("session has no root timing")
	}

	p.clock = clockwork.NewRealClock()
	p.logger = zap.NewNop()
	p.stopped = true
	p.head = p.Root
	p.Root.relink(p, nil)

	return p, nil
}
