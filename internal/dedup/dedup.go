// Package dedup records which correlation keys have already produced a call
// record, so repeated channel-created events for the same call are ignored.
package dedup

import (
	"sync"
	"time"
)

// Set is a set of processed keys whose members may expire.
type Set interface {
	MarkProcessed(key string) error
	IsProcessed(key string) (bool, error)
	Close() error
}

// Memory is an in-process Set. Expired keys are removed lazily on access and
// by an occasional full sweep.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry, zero when the key never expires
	window  time.Duration
	now     func() time.Time
	writes  int
}

// sweepEvery is how many writes pass between full sweeps.
const sweepEvery = 256

// MemoryOption configures a Memory set.
type MemoryOption func(*Memory)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates a Memory set. A window of 0 keeps keys forever.
func NewMemory(window time.Duration, opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]time.Time),
		window:  window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) MarkProcessed(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var expiry time.Time
	if m.window > 0 {
		expiry = now.Add(m.window)
	}
	m.entries[key] = expiry

	m.writes++
	if m.writes%sweepEvery == 0 {
		m.sweepLocked(now)
	}
	return nil
}

func (m *Memory) IsProcessed(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if !expiry.IsZero() && !m.now().Before(expiry) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}

// Len returns the number of entries held, including expired ones not yet swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep drops every expired entry.
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.now())
}

func (m *Memory) sweepLocked(now time.Time) {
	for k, expiry := range m.entries {
		if !expiry.IsZero() && !now.Before(expiry) {
			delete(m.entries, k)
		}
	}
}

func (m *Memory) Close() error { return nil }
