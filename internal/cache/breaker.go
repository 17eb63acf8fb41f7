package cache

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rsinha488/ecommerce-gateway/internal/observability"
)

// breakerStore guards a remote store with a circuit breaker. When the
// store keeps failing, reads degrade to misses and writes are dropped
// until the backend recovers, so a broken Redis never blocks serving.
type breakerStore struct {
	store  Store
	cb     *gobreaker.CircuitBreaker
	logger observability.Logger
}

func newBreakerStore(store Store, logger observability.Logger) *breakerStore {
	settings := gobreaker.Settings{
		Name:        "cache-store",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("cache circuit breaker state changed",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// Misses are normal operation, not backend failures.
			return err == nil || errors.Is(err, ErrCacheMiss)
		},
	}

	return &breakerStore{
		store:  store,
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

func (s *breakerStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.cb.Execute(func() (interface{}, error) {
		return s.store.Get(ctx, key)
	})
	if err != nil {
		if isBreakerOpen(err) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return value.([]byte), nil
}

func (s *breakerStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.store.Set(ctx, key, value, ttl)
	})
	if isBreakerOpen(err) {
		// Dropped writes are recoverable; the entry is rebuilt on
		// the next miss.
		return nil
	}
	return err
}

func (s *breakerStore) Delete(ctx context.Context, key string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.store.Delete(ctx, key)
	})
	if isBreakerOpen(err) {
		return nil
	}
	return err
}

func (s *breakerStore) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := s.cb.Execute(func() (interface{}, error) {
		return s.store.Exists(ctx, key)
	})
	if err != nil {
		if isBreakerOpen(err) {
			return false, nil
		}
		return false, err
	}
	return exists.(bool), nil
}

func (s *breakerStore) Close() error {
	return s.store.Close()
}

func isBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}
