package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts hits per key over fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

var ErrCapacity = errors.New("rate limiter capacity exceeded")

type window struct {
	hits int
	ends time.Time
}

// Memory is a single-process fixed-window limiter.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*window
	maxKeys int
}

func NewMemory(maxKeys int, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &Memory{now: now, windows: make(map[string]*window), maxKeys: maxKeys}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, span time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || now.After(w.ends) {
		if !ok && len(m.windows) >= m.maxKeys {
			m.evictExpired(now)
			if len(m.windows) >= m.maxKeys {
				return Decision{}, ErrCapacity
			}
		}
		w = &window{ends: now.Add(span)}
		m.windows[key] = w
	}
	if w.hits >= limit {
		return Decision{Limit: limit, ResetAt: w.ends}, nil
	}
	w.hits++
	return Decision{Allowed: true, Limit: limit, Remaining: limit - w.hits, ResetAt: w.ends}, nil
}

func (m *Memory) evictExpired(now time.Time) {
	for key, w := range m.windows {
		if now.After(w.ends) {
			delete(m.windows, key)
		}
	}
}
