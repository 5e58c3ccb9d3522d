// internal/presence/memory.go
package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. Order is preserved by an append-only slice
// that is compacted on delete.
type MemoryStore struct {
	mu      sync.Mutex
	order   []string
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
	}
}

func (s *MemoryStore) Put(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.entries {
		if id != e.ConnID && existing.Participant.SameIdentity(e.Participant) {
			s.deleteUnsafe(id)
		}
	}
	// re-admission counts as a fresh arrival
	s.deleteUnsafe(e.ConnID)
	s.entries[e.ConnID] = e
	s.order = append(s.order, e.ConnID)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteUnsafe(connID)
	return nil
}

func (s *MemoryStore) Take(_ context.Context, a, b string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ea, okA := s.entries[a]
	eb, okB := s.entries[b]
	if !okA || !okB || !ea.Live(now) || !eb.Live(now) {
		return false, nil
	}
	s.deleteUnsafe(a)
	s.deleteUnsafe(b)
	return true, nil
}

// deleteUnsafe assumes s.mu is held.
func (s *MemoryStore) deleteUnsafe(connID string) {
	if _, ok := s.entries[connID]; !ok {
		return
	}
	delete(s.entries, connID)
	for i, id := range s.order {
		if id == connID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
