package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	count int
	reset time.Time
}

// MemoryStore is an in-process CounterStore. Entries are keyed by
// (window, subject, window start); a janitor loop sweeps expired windows.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) key(subject string, w Window) string {
	return fmt.Sprintf("%s:%s:%d", w.Name, subject, w.Start(s.now()).Unix())
}

func (s *MemoryStore) Peek(_ context.Context, subject string, w Window) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := w.Start(s.now()).Add(w.Period)
	if e, ok := s.entries[s.key(subject, w)]; ok {
		return e.count, e.reset, nil
	}
	return 0, reset, nil
}

func (s *MemoryStore) Increment(_ context.Context, subject string, w Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.key(subject, w)
	if e, ok := s.entries[k]; ok {
		e.count++
		return nil
	}
	s.entries[k] = &memoryEntry{
		count: 1,
		reset: w.Start(s.now()).Add(w.Period),
	}
	return nil
}

// cleanupLoop removes elapsed windows every few minutes.
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(3 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		now := s.now()
		for k, e := range s.entries {
			if now.After(e.reset) {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}
