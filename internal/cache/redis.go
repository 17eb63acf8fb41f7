package cache

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rsinha488/ecommerce-gateway/internal/config"
	"github.com/rsinha488/ecommerce-gateway/internal/observability"
)

const cacheTracerName = "ecommerce-gateway/cache"

// defaultKeyPrefix namespaces gateway entries in a shared Redis.
const defaultKeyPrefix = "gw:cache:"

// redisStore stores cache entries in Redis.
type redisStore struct {
	client    *redis.Client
	keyPrefix string
	ttlJitter float64
	logger    observability.Logger
}

func newRedisStore(cfg *config.CacheConfig, logger observability.Logger) (*redisStore, error) {
	redisCfg := cfg.Redis
	if redisCfg == nil || redisCfg.URL == "" {
		return nil, ErrInvalidConfig
	}

	opts, err := redis.ParseURL(redisCfg.URL)
	if err != nil {
		return nil, err
	}

	if redisCfg.PoolSize > 0 {
		opts.PoolSize = redisCfg.PoolSize
	}
	if d := redisCfg.ConnectTimeout.Duration(); d > 0 {
		opts.DialTimeout = d
	}
	if d := redisCfg.ReadTimeout.Duration(); d > 0 {
		opts.ReadTimeout = d
	}
	if d := redisCfg.WriteTimeout.Duration(); d > 0 {
		opts.WriteTimeout = d
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	prefix := redisCfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	logger.Info("connected to redis cache",
		observability.String("addr", opts.Addr),
		observability.String("key_prefix", prefix),
	)

	return &redisStore{
		client:    client,
		keyPrefix: prefix,
		ttlJitter: redisCfg.TTLJitter,
		logger:    logger,
	}, nil
}

func (s *redisStore) resolveKey(key string) string {
	return s.keyPrefix + key
}

// applyTTLJitter spreads expirations so a burst of writes does not
// expire as one thundering herd. A factor of 0.1 varies the TTL ±10%.
func applyTTLJitter(ttl time.Duration, factor float64) time.Duration {
	if factor <= 0 || ttl <= 0 {
		return ttl
	}
	if factor > 1.0 {
		factor = 1.0
	}
	jitter := time.Duration(float64(ttl) * factor * (2*rand.Float64() - 1))
	result := ttl + jitter
	if result <= 0 {
		return ttl
	}
	return result
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cache.key", key)),
	)
	defer span.End()

	value, err := s.client.Get(ctx, s.resolveKey(key)).Bytes()
	if err == nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return value, nil
	}
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	}

	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	return nil, err
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Set",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cache.key", key)),
	)
	defer span.End()

	err := s.client.Set(ctx, s.resolveKey(key), value, applyTTLJitter(ttl, s.ttlJitter)).Err()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	return err
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.resolveKey(key)).Err()
}

func (s *redisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.resolveKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
