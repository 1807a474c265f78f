package cache

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is a byte-level TTL store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RistrettoStore wraps a ristretto cache as an in-process L1 store.
type RistrettoStore struct {
	c *ristretto.Cache[string, []byte]
}

// NewRistrettoStore creates a ristretto-backed store. maxCostBytes bounds the
// total size of cached values.
func NewRistrettoStore(maxCostBytes int64) (*RistrettoStore, error) {
	if maxCostBytes <= 0 {
		maxCostBytes = 64 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:            maxCostBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoStore{c: c}, nil
}

func (s *RistrettoStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := s.c.Get(key)
	return val, found, nil
}

// Set stores value and waits for the write buffer so the entry is visible on return.
func (s *RistrettoStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.c.SetWithTTL(key, value, int64(len(value)), ttl)
	s.c.Wait()
	return nil
}

func (s *RistrettoStore) Delete(_ context.Context, key string) error {
	s.c.Del(key)
	return nil
}

// Close releases ristretto's background goroutines.
func (s *RistrettoStore) Close() {
	s.c.Close()
}

// RedisStore is the shared L2 store.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store; keys are namespaced with prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "planner:exec_cache:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.prefix+key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+key).Err()
}

// TieredStore checks L1 then L2. L2 hits are backfilled into L1 for l1TTL.
// L2 failures are logged and treated as misses so a redis outage degrades to L1 only.
type TieredStore struct {
	l1     Store
	l2     Store
	l1TTL  time.Duration
	logger *zap.Logger
}

func NewTieredStore(l1, l2 Store, l1TTL time.Duration, logger *zap.Logger) *TieredStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &TieredStore{l1: l1, l2: l2, l1TTL: l1TTL, logger: logger}
}

func (s *TieredStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if val, ok, _ := s.l1.Get(ctx, key); ok {
		return val, true, nil
	}
	val, ok, err := s.l2.Get(ctx, key)
	if err != nil {
		s.logger.Warn("l2 cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	_ = s.l1.Set(ctx, key, val, s.l1TTL)
	return val, true, nil
}

// Set writes L2 first, then L1 with min(ttl, l1TTL).
func (s *TieredStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.l2.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warn("l2 cache set failed", zap.String("key", key), zap.Error(err))
	}
	l1TTL := s.l1TTL
	if ttl > 0 && ttl < l1TTL {
		l1TTL = ttl
	}
	return s.l1.Set(ctx, key, value, l1TTL)
}

func (s *TieredStore) Delete(ctx context.Context, key string) error {
	_ = s.l1.Delete(ctx, key)
	return s.l2.Delete(ctx, key)
}
