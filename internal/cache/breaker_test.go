package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsinha488/ecommerce-gateway/internal/observability"
)

// flakyStore fails every call while broken is set.
type flakyStore struct {
	broken atomic.Bool
	gets   atomic.Int64
	data   map[string][]byte
}

var errBackendDown = errors.New("backend down")

func newFlakyStore() *flakyStore {
	return &flakyStore{data: make(map[string][]byte)}
}

func (s *flakyStore) Get(_ context.Context, key string) ([]byte, error) {
	s.gets.Add(1)
	if s.broken.Load() {
		return nil, errBackendDown
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (s *flakyStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if s.broken.Load() {
		return errBackendDown
	}
	s.data[key] = value
	return nil
}

func (s *flakyStore) Delete(_ context.Context, key string) error {
	if s.broken.Load() {
		return errBackendDown
	}
	delete(s.data, key)
	return nil
}

func (s *flakyStore) Exists(_ context.Context, key string) (bool, error) {
	if s.broken.Load() {
		return false, errBackendDown
	}
	_, ok := s.data[key]
	return ok, nil
}

func (s *flakyStore) Close() error { return nil }

func TestBreakerStore_PassesThroughWhenHealthy(t *testing.T) {
	inner := newFlakyStore()
	s := newBreakerStore(inner, observability.NopLogger())
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", []byte("v1"), time.Minute))

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	_, err = s.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestBreakerStore_MissesDoNotTrip(t *testing.T) {
	inner := newFlakyStore()
	s := newBreakerStore(inner, observability.NopLogger())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := s.Get(ctx, "absent")
		assert.ErrorIs(t, err, ErrCacheMiss)
	}

	// the breaker is still closed, real calls still reach the store
	require.NoError(t, s.Set(ctx, "k1", []byte("v1"), time.Minute))
	_, err := s.Get(ctx, "k1")
	assert.NoError(t, err)
}

func TestBreakerStore_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := newFlakyStore()
	s := newBreakerStore(inner, observability.NopLogger())
	ctx := context.Background()

	inner.broken.Store(true)
	for i := 0; i < 5; i++ {
		_, err := s.Get(ctx, "k1")
		assert.ErrorIs(t, err, errBackendDown)
	}

	before := inner.gets.Load()

	// open breaker: reads degrade to misses without touching the store
	_, err := s.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, before, inner.gets.Load())

	// writes are silently dropped
	assert.NoError(t, s.Set(ctx, "k1", []byte("v1"), time.Minute))
	assert.NoError(t, s.Delete(ctx, "k1"))

	exists, err := s.Exists(ctx, "k1")
	assert.NoError(t, err)
	assert.False(t, exists)
}
