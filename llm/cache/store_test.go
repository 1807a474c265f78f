package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newTestRistretto(t *testing.T) *RistrettoStore {
	t.Helper()
	s, err := NewRistrettoStore(1 << 20)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestRedisStore_GetSetDelete(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, "")
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("planner:exec_cache:k"))

	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	mr.FastForward(2 * time.Minute)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, s.Delete(ctx, "k"))
	assert.False(t, mr.Exists("planner:exec_cache:k"))
}

func TestRistrettoStore_GetSetDelete(t *testing.T) {
	s := newTestRistretto(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestTieredStore_BackfillsL1(t *testing.T) {
	_, rdb := newTestRedis(t)
	l1 := newTestRistretto(t)
	l2 := NewRedisStore(rdb, "test:")
	s := NewTieredStore(l1, l2, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, l2.Set(ctx, "k", []byte("from-l2"), time.Hour))

	_, ok, _ := l1.Get(ctx, "k")
	require.False(t, ok)

	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("from-l2"), val)

	val, ok, _ = l1.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, []byte("from-l2"), val)
}

func TestTieredStore_SetWritesBothAndDeleteClears(t *testing.T) {
	_, rdb := newTestRedis(t)
	l1 := newTestRistretto(t)
	l2 := NewRedisStore(rdb, "test:")
	s := NewTieredStore(l1, l2, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Hour))
	_, ok, _ := l1.Get(ctx, "k")
	assert.True(t, ok)
	_, ok, _ = l2.Get(ctx, "k")
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, _ = l1.Get(ctx, "k")
	assert.False(t, ok)
	_, ok, _ = l2.Get(ctx, "k")
	assert.False(t, ok)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}
func (failingStore) Delete(context.Context, string) error { return nil }

func TestTieredStore_L2OutageDegradesToL1(t *testing.T) {
	l1 := newTestRistretto(t)
	s := NewTieredStore(l1, failingStore{}, time.Minute, nil)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Hour))
	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)
}
