package interpret

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryStore struct {
	items    map[string]Record
	mu       sync.RWMutex
	ttl      time.Duration
	gcEvery  time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore builds a process-local store with periodic expiry sweeps.
func NewMemoryStore(cfg StoreConfig) Store {
	gc := cfg.GCInterval
	if gc <= 0 {
		gc = 10 * time.Minute
	}
	s := &memoryStore{
		items:   make(map[string]Record),
		ttl:     cfg.TTL,
		gcEvery: gc,
		stop:    make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

func (s *memoryStore) gcLoop() {
	ticker := time.NewTicker(s.gcEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.CleanupExpired(context.Background())
		case <-s.stop:
			return
		}
	}
}

func (s *memoryStore) Get(_ context.Context, digest string) (Record, error) {
	s.mu.RLock()
	rec, ok := s.items[digest]
	s.mu.RUnlock()
	if !ok || rec.expired(time.Now()) {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *memoryStore) Put(_ context.Context, rec Record) error {
	if rec.Digest == "" {
		return fmt.Errorf("digest required")
	}
	stampExpiry(&rec, s.ttl, time.Now())
	s.mu.Lock()
	s.items[rec.Digest] = rec
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Remove(_ context.Context, digest string) error {
	s.mu.Lock()
	delete(s.items, digest)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) CleanupExpired(_ context.Context) error {
	now := time.Now()
	s.mu.Lock()
	for digest, rec := range s.items {
		if rec.expired(now) {
			delete(s.items, digest)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Stats(_ context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"type":        DriverMemory,
		"total":       len(s.items),
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *memoryStore) Close(_ context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
