package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T, interval time.Duration) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = interval

	m, err := NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, m
}

func TestNewManager_Connects(t *testing.T) {
	_, m := setupTestRedis(t, 0)
	require.NotNil(t, m.Client())
	require.NoError(t, m.Ping(context.Background()))
	assert.True(t, m.Healthy())

	ctx := context.Background()
	require.NoError(t, m.Client().Set(ctx, "k", "v", time.Minute).Err())
	v, err := m.Client().Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.NotZero(t, m.GetStats().TotalConns)
}

func TestNewManager_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.MaxRetries = 0
	_, err := NewManager(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestManager_HealthCheckTracksOutage(t *testing.T) {
	mr, m := setupTestRedis(t, 10*time.Millisecond)

	mr.Close()
	require.Eventually(t, func() bool { return !m.Healthy() }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, mr.Restart())
	require.Eventually(t, m.Healthy, 2*time.Second, 5*time.Millisecond)
}

func TestManager_Close(t *testing.T) {
	_, m := setupTestRedis(t, 10*time.Millisecond)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Ping(context.Background()), ErrClosed)
	assert.False(t, m.Healthy())
}
