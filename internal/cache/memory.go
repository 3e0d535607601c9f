package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hive-corporation/threatscope/internal/core/domain"
)

// MemoryStore is an in-process Store for single-node deployments and tests.
// Expired entries are dropped lazily on read and swept periodically so the
// map does not grow without bound under churning keys.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	stop     chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	report    *domain.ThreatReport
	expiresAt time.Time
}

// NewMemoryStore creates a memory store. A positive sweepInterval starts a
// background goroutine that evicts expired entries; zero disables sweeping.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweep(sweepInterval)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (*domain.ThreatReport, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || !time.Now().Before(e.expiresAt) {
		return nil, ErrCacheMiss
	}
	return e.report, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, report *domain.ThreatReport, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[key] = memoryEntry{report: report, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Len reports the number of live entries, excluding any not yet swept.
func (s *MemoryStore) Len() int {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, e := range s.entries {
				if !now.Before(e.expiresAt) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}
