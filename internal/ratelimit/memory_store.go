package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

type entry struct {
	start    time.Time
	count    int
	lastSeen time.Time
}

// MemoryStore keeps window counters in a map. At MaxKeys entries the least
// recently seen keys are evicted to make room.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	maxKeys int
}

func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &MemoryStore{
		entries: make(map[string]*entry),
		maxKeys: maxKeys,
	}
}

func (s *MemoryStore) Take(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		if len(s.entries) >= s.maxKeys {
			s.evictOldest(now, window)
		}
		e = &entry{start: now}
		s.entries[key] = e
	} else if !now.Before(e.start.Add(window)) {
		e.start = now
		e.count = 0
	}
	e.lastSeen = now

	if e.count >= limit {
		return Window{Start: e.start, Count: e.count, Allowed: false}, nil
	}
	e.count++
	return Window{Start: e.start, Count: e.count, Allowed: true}, nil
}

// Sweep evicts keys not seen for idle and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time, idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, e := range s.entries {
		if now.Sub(e.lastSeen) >= idle {
			delete(s.entries, key)
			evicted++
		}
	}
	return evicted
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictOldest must be called with s.mu held. Entries whose window has ended
// go first; if that frees nothing, the oldest tenth by lastSeen is dropped.
func (s *MemoryStore) evictOldest(now time.Time, window time.Duration) {
	for key, e := range s.entries {
		if !now.Before(e.start.Add(window)) {
			delete(s.entries, key)
		}
	}
	if len(s.entries) < s.maxKeys {
		return
	}

	type keySeen struct {
		key  string
		seen time.Time
	}
	all := make([]keySeen, 0, len(s.entries))
	for k, e := range s.entries {
		all = append(all, keySeen{k, e.lastSeen})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seen.Before(all[j].seen) })

	drop := len(all) - s.maxKeys*9/10
	if drop < 1 {
		drop = 1
	}
	for _, ks := range all[:drop] {
		delete(s.entries, ks.key)
	}
}
