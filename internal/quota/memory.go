package quota

import (
	"context"
	"sync"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
)

type dayKey struct {
	userID string
	date   string
}

type MemoryStore struct {
	mu     sync.Mutex
	counts map[dayKey]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[dayKey]int64)}
}

func (s *MemoryStore) Get(ctx context.Context, userID, date string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, admission.StoreUnavailable("quota", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[dayKey{userID, date}], nil
}

func (s *MemoryStore) Increment(ctx context.Context, userID, date string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, admission.StoreUnavailable("quota", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := dayKey{userID, date}
	s.counts[k]++
	return s.counts[k], nil
}

func (s *MemoryStore) IncrementIfBelow(ctx context.Context, userID, date string, limit int64) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, admission.StoreUnavailable("quota", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := dayKey{userID, date}
	if s.counts[k] >= limit {
		return s.counts[k], false, nil
	}
	s.counts[k]++
	return s.counts[k], true, nil
}

func (s *MemoryStore) ClearAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[dayKey]int64)
	return nil
}

// DeleteBefore drops every record dated strictly before date and returns how many were removed.
func (s *MemoryStore) DeleteBefore(_ context.Context, date string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for k := range s.counts {
		if k.date < date {
			delete(s.counts, k)
			removed++
		}
	}
	return removed, nil
}
