package limiter

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count      int
	lockUntil  time.Time
	retainedTo time.Time
}

// MemoryStore is the in-process backend: a map guarded by a mutex with an
// explicit TTL sweep. Suitable for single-instance deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) Fail(_ context.Context, key string, p Policy) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e := m.entries[key]
	if e == nil || !e.retainedTo.After(now) {
		e = &memoryEntry{}
		m.entries[key] = e
	}

	if !e.lockUntil.IsZero() && !e.lockUntil.After(now) {
		// Earlier block expired: fresh window.
		e.count = 1
		e.lockUntil = time.Time{}
	} else {
		e.count++
		if e.count >= p.Threshold && !e.lockUntil.After(now) {
			e.lockUntil = now.Add(p.Block)
		}
	}
	e.retainedTo = now.Add(p.retention())

	return Status{Count: e.count, BlockedUntil: e.lockUntil}, nil
}

func (m *MemoryStore) Status(_ context.Context, key string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e := m.entries[key]
	if e == nil || !e.retainedTo.After(now) {
		return Status{}, nil
	}
	return Status{Count: e.count, BlockedUntil: e.lockUntil}, nil
}

func (m *MemoryStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Sweep drops entries whose retention has passed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, e := range m.entries {
		if !e.retainedTo.After(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweep runs Sweep on a ticker until ctx is done.
func (m *MemoryStore) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}
