// Package cache provides a Redis-backed document cache for repeated
// lookups. Two-phase sources resolve the same detail key many times when
// listings overlap (several species sharing a compound, re-runs after a
// partial failure), and the upstream databases change rarely, so a short
// TTL saves a large share of round trips without risking stale chemistry.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// Prometheus metrics for cache operations.
var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chemharvest_cache_hits_total",
		Help: "Total document cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chemharvest_cache_misses_total",
		Help: "Total document cache misses",
	})

	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chemharvest_cache_errors_total",
		Help: "Total cache operation errors by operation",
	}, []string{"operation"})
)

// ErrMiss indicates the requested key was not found.
var ErrMiss = errors.New("cache miss")

// Entry is one cached server document.
type Entry struct {
	Body       []byte    `json:"body"`
	StatusCode int       `json:"status_code"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Key derives the cache key for a request: the URL plus the submitted
// payload, hashed so form bodies of any size produce a bounded key.
func Key(url string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write(payload)
	return "chemharvest:doc:" + hex.EncodeToString(h.Sum(nil))
}

// Store caches documents in Redis with a fixed TTL.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStore creates a document store. The TTL bounds reuse of any document.
func NewStore(redisClient *redis.Client, ttl time.Duration) (*Store, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive, got %v", ttl)
	}
	return &Store{redis: redisClient, ttl: ttl}, nil
}

// Get retrieves the entry for key, or ErrMiss.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			cacheMisses.Inc()
			return nil, ErrMiss
		}
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}

	cacheHits.Inc()
	return &entry, nil
}

// Set stores an entry under key for the store's TTL.
func (s *Store) Set(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("encode cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes an entry.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
