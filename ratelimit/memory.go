package ratelimit

import (
	"context"
	"hash/maphash"
	"sync"
	"time"
)

const (
	shardCount = 32
	// pruneEvery is the number of Check calls on a shard between sweeps of
	// elapsed windows.
	pruneEvery = 512
)

type shard struct {
	mu       sync.Mutex
	counters map[string]*Counter
	ops      int
}

// Memory is a process-local Limiter. Identifiers are spread over a fixed
// number of shards, each with its own mutex, so unrelated identifiers never
// contend on one lock.
type Memory struct {
	seed   maphash.Seed
	shards [shardCount]shard
	now    func() time.Time
}

// NewMemory returns an empty limiter. A nil now uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	m := &Memory{seed: maphash.MakeSeed(), now: now}
	for i := range m.shards {
		m.shards[i].counters = make(map[string]*Counter)
	}
	return m
}

func (m *Memory) shardFor(id string) *shard {
	return &m.shards[maphash.String(m.seed, id)%shardCount]
}

// Check implements Limiter.
func (m *Memory) Check(_ context.Context, id string, max int, window time.Duration) (bool, error) {
	if err := validate(max, window); err != nil {
		return false, err
	}

	now := m.now()
	s := m.shardFor(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops++
	if s.ops >= pruneEvery {
		s.ops = 0
		s.prune(now)
	}

	c, ok := s.counters[id]
	if !ok || now.After(c.WindowResetAt) {
		s.counters[id] = &Counter{Count: 1, WindowResetAt: now.Add(window)}
		return true, nil
	}
	if c.Count >= max {
		return false, nil
	}
	c.Count++
	return true, nil
}

// Reset implements Limiter.
func (m *Memory) Reset(_ context.Context, id string) error {
	s := m.shardFor(id)
	s.mu.Lock()
	delete(s.counters, id)
	s.mu.Unlock()
	return nil
}

// Remaining implements Limiter.
func (m *Memory) Remaining(_ context.Context, id string, max int) (int, error) {
	now := m.now()
	s := m.shardFor(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[id]
	if !ok || now.After(c.WindowResetAt) {
		return max, nil
	}
	return remaining(max, c.Count), nil
}

// Snapshot returns a copy of the counter for id, if a window is open.
func (m *Memory) Snapshot(id string) (Counter, bool) {
	now := m.now()
	s := m.shardFor(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[id]
	if !ok || now.After(c.WindowResetAt) {
		return Counter{}, false
	}
	return *c, true
}

// Len returns the number of tracked identifiers, including elapsed windows
// not yet pruned.
func (m *Memory) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.counters)
		s.mu.Unlock()
	}
	return n
}

func (s *shard) prune(now time.Time) {
	for id, c := range s.counters {
		if now.After(c.WindowResetAt) {
			delete(s.counters, id)
		}
	}
}
