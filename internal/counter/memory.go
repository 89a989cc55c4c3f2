package counter

import (
	"context"
	"sync"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
)

type memoryEntry struct {
	windowStart time.Time
	count       int64
	expiresAt   time.Time
}

// MemoryStore keeps counters in a process-local map guarded by one mutex.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     now,
	}
}

func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, admission.StoreUnavailable("counter", err)
	}
	if window <= 0 {
		return Record{}, admission.ErrInvalidPolicy
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || now.Sub(e.windowStart) >= window {
		e = &memoryEntry{windowStart: now}
		s.entries[key] = e
	}
	e.count++
	e.expiresAt = now.Add(window)

	return Record{Key: key, Count: e.count, WindowStart: e.windowStart}, nil
}

func (s *MemoryStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*memoryEntry)
	return nil
}

// Sweep evicts counters whose TTL passed before now and returns how many went.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of live and not yet swept counters.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
