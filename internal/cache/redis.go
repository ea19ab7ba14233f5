package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by GetJSON when the key is absent.
var ErrMiss = errors.New("cache: miss")

// Redis is a shared cache for tenant configuration, used when multiple engine
// instances run against the same tenant set so config invalidation is seen by
// all of them.
type Redis struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	metrics   *redisMetrics
}

type redisMetrics struct {
	hits   prometheus.Counter
	misses prometheus.Counter
	errors prometheus.Counter
}

// RedisConfig holds the connection settings for the shared cache.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// NewRedis connects and verifies the Redis cache.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &Redis{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       ttl,
		metrics:   newRedisMetrics(),
	}, nil
}

func newRedisMetrics() *redisMetrics {
	return &redisMetrics{
		hits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tickline_config_cache_hits_total",
			Help: "Shared config cache hits",
		}),
		misses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tickline_config_cache_misses_total",
			Help: "Shared config cache misses",
		}),
		errors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tickline_config_cache_errors_total",
			Help: "Shared config cache errors",
		}),
	}
}

func (r *Redis) key(k string) string {
	if r.keyPrefix == "" {
		return k
	}
	return r.keyPrefix + ":" + k
}

// GetJSON unmarshals the cached value into v, returning ErrMiss when absent.
func (r *Redis) GetJSON(ctx context.Context, key string, v any) error {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.metrics.misses.Inc()
		return ErrMiss
	}
	if err != nil {
		r.metrics.errors.Inc()
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	r.metrics.hits.Inc()
	return json.Unmarshal(data, v)
}

// SetJSON stores v under the configured TTL.
func (r *Redis) SetJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(key), data, r.ttl).Err(); err != nil {
		r.metrics.errors.Inc()
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key; used by configuration invalidation hooks.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		r.metrics.errors.Inc()
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// Close releases the client connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
