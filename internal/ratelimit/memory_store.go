package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// MemoryStore keeps one rate.Limiter per key in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time

	idleTTL     time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewMemoryStore creates a store that forgets keys idle for five minutes.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanup(5 * time.Minute)
}

// NewMemoryStoreWithCleanup creates a store with a custom idle TTL. A non-positive TTL
// disables cleanup.
func NewMemoryStoreWithCleanup(idleTTL time.Duration) *MemoryStore {
	return newMemoryStore(idleTTL, time.Now)
}

func newMemoryStore(idleTTL time.Duration, now func() time.Time) *MemoryStore {
	s := &MemoryStore{
		buckets:     make(map[string]*bucket),
		now:         now,
		idleTTL:     idleTTL,
		stopCleanup: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key string, limit rate.Limit, burst int) (bool, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	b, ok := s.buckets[key]
	if !ok || b.lim.Limit() != limit || b.lim.Burst() != burst {
		b = &bucket{lim: rate.NewLimiter(limit, burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	allowed := b.lim.AllowN(now, 1)
	return allowed, b.lim.TokensAt(now), nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.buckets, key)
	s.mu.Unlock()
	return nil
}

// Close stops background cleanup.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	return nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func (s *MemoryStore) cleanupLoop() {
	if s.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(s.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.idleTTL)
	for key, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, key)
		}
	}
}
