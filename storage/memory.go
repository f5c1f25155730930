package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/sarchlab/sqlprof/profiling"
)

type memoryEntry struct {
	profiler *profiling.Profiler
	viewed   bool
}

// MemoryStore keeps sessions in memory. Sessions are lost when the process
// exits.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*memoryEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[uuid.UUID]*memoryEntry),
	}
}

// Save stores a session.
func (s *MemoryStore) Save(_ context.Context, p *profiling.Profiler) error {
	if p == nil {
		return errNilSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, found := s.entries[p.ID]; found {
		e.profiler = p
		return nil
	}

	s.entries[p.ID] = &memoryEntry{profiler: p}

	return nil
}

// Load returns a stored session.
func (s *MemoryStore) Load(
	_ context.Context,
	id uuid.UUID,
) (*profiling.Profiler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.entries[id]
	if !found {
		return nil, fmt.Errorf("loading session %s: %w", id, ErrNotFound)
	}

	return e.profiler, nil
}

// UnviewedIDs lists the unviewed sessions of user, oldest first.
func (s *MemoryStore) UnviewedIDs(
	_ context.Context,
	user string,
) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unviewed []*profiling.Profiler
	for _, e := range s.entries {
		if !e.viewed && e.profiler.User == user {
			unviewed = append(unviewed, e.profiler)
		}
	}

	slices.SortFunc(unviewed, func(a, b *profiling.Profiler) int {
		return a.Started.Compare(b.Started)
	})

	ids := make([]uuid.UUID, 0, len(unviewed))
	for _, p := range unviewed {
		ids = append(ids, p.ID)
	}

	return ids, nil
}

// SetViewed marks a session as viewed.
func (s *MemoryStore) SetViewed(
	_ context.Context,
	user string,
	id uuid.UUID,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.entries[id]
	if !found || e.profiler.User != user {
		return fmt.Errorf("marking session %s viewed: %w", id, ErrNotFound)
	}

	e.viewed = true

	return nil
}

// Close does nothing.
func (s *MemoryStore) Close() error {
	return nil
}
