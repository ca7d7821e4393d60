package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = 5 * time.Minute

type window struct {
	count   int
	resetAt time.Time
}

// Memory is an in-process Limiter. Counts are not shared between replicas.
type Memory struct {
	mu      sync.Mutex
	entries map[string]window
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemory starts a limiter with a background sweeper that drops expired
// windows. Call Close to stop it.
func NewMemory() *Memory {
	m := newMemory(time.Now)
	go m.sweepLoop()
	return m
}

func newMemory(now func() time.Time) *Memory {
	return &Memory{
		entries: make(map[string]window),
		now:     now,
		stop:    make(chan struct{}),
	}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, period time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if period <= 0 {
		period = time.Minute
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.entries[key]
	if !ok || !now.Before(w.resetAt) {
		w = window{count: 1, resetAt: now.Add(period)}
		m.entries[key] = w
		return Decision{Allowed: true, Count: w.count, ResetAt: w.resetAt}
	}
	if w.count >= limit {
		return Decision{Allowed: false, Count: w.count, ResetAt: w.resetAt}
	}
	w.count++
	m.entries[key] = w
	return Decision{Allowed: true, Count: w.count, ResetAt: w.resetAt}
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep(m.now())
		case <-m.stop:
			return
		}
	}
}

func (m *Memory) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, w := range m.entries {
		if !now.Before(w.resetAt) {
			delete(m.entries, key)
		}
	}
}

func (m *Memory) Close() error {
	m.once.Do(func() {
		close(m.stop)
	})
	return nil
}
