package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rsinha488/ecommerce-gateway/internal/config"
	"github.com/rsinha488/ecommerce-gateway/internal/observability"
)

// cleanupInterval is how often expired entries are swept.
const cleanupInterval = 1 * time.Minute

// memoryStore is an in-process LRU store with TTL expiry.
type memoryStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	logger     observability.Logger
	hits       int64
	misses     int64
	stopCh     chan struct{}
	closeOnce  sync.Once
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func newMemoryStore(cfg *config.CacheConfig, logger observability.Logger) (*memoryStore, error) {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = config.DefaultCacheMaxEntries
	}

	s := &memoryStore{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}

	go s.cleanupLoop()

	return s, nil
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*memoryEntry)
	if entry.expired(time.Now()) {
		s.removeElement(elem)
		s.misses++
		return nil, ErrCacheMiss
	}

	s.order.MoveToFront(elem)
	s.hits++

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = stored
		entry.expiresAt = expiresAt
		s.order.MoveToFront(elem)
		return nil
	}

	elem := s.order.PushFront(&memoryEntry{
		key:       key,
		value:     stored,
		expiresAt: expiresAt,
	})
	s.entries[key] = elem

	for len(s.entries) > s.maxEntries {
		s.evictOldest()
	}

	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.removeElement(elem)
	}
	return nil
}

func (s *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if elem.Value.(*memoryEntry).expired(time.Now()) {
		s.removeElement(elem)
		return false, nil
	}
	return true, nil
}

func (s *memoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	return nil
}

// Stats returns hit/miss counts and the current entry count.
func (s *memoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Hits:   s.hits,
		Misses: s.misses,
		Size:   int64(len(s.entries)),
	}
}

// evictOldest drops the least recently used entry. Caller holds the lock.
func (s *memoryStore) evictOldest() {
	elem := s.order.Back()
	if elem != nil {
		s.removeElement(elem)
	}
}

// removeElement drops an entry. Caller holds the lock.
func (s *memoryStore) removeElement(elem *list.Element) {
	s.order.Remove(elem)
	delete(s.entries, elem.Value.(*memoryEntry).key)
}

// cleanupLoop sweeps expired entries until Close.
func (s *memoryStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes all expired entries.
func (s *memoryStore) cleanup() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var next *list.Element
	for elem := s.order.Back(); elem != nil; elem = next {
		next = elem.Prev()
		if elem.Value.(*memoryEntry).expired(now) {
			s.removeElement(elem)
		}
	}
}
