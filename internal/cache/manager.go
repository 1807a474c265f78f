package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/internal/tlsutil"
)

// ErrClosed 管理器已关闭
var ErrClosed = errors.New("cache manager is closed")

// Config Redis 连接配置
type Config struct {
	Addr                string        `yaml:"addr" json:"addr"`
	Password            string        `yaml:"password" json:"password"`
	DB                  int           `yaml:"db" json:"db"`
	MaxRetries          int           `yaml:"max_retries" json:"max_retries"`
	PoolSize            int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConns        int           `yaml:"min_idle_conns" json:"min_idle_conns"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
	TLS                 bool          `yaml:"tls" json:"tls"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Manager 持有 Redis 客户端并周期性检查连接，执行缓存的 L2 层通过 Client 构建
type Manager struct {
	client  *redis.Client
	config  Config
	logger  *zap.Logger
	healthy bool
	mu      sync.RWMutex
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewManager 连接 Redis，Ping 失败时返回错误
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	}
	if config.TLS {
		opts.TLSConfig = tlsutil.RedisTLSConfig(config.Addr)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		client:  client,
		config:  config,
		logger:  logger.With(zap.String("component", "redis")),
		healthy: true,
		stop:    make(chan struct{}),
	}
	if config.HealthCheckInterval > 0 {
		m.wg.Add(1)
		go m.healthCheckLoop()
	}

	m.logger.Info("redis connected",
		zap.String("addr", config.Addr),
		zap.Int("db", config.DB),
		zap.Int("pool_size", config.PoolSize),
	)
	return m, nil
}

// Client 底层客户端
func (m *Manager) Client() *redis.Client { return m.client }

// Ping 检查连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return m.client.Ping(ctx).Err()
}

// Healthy 最近一次健康检查的结果
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy && !m.closed
}

// Stats 连接池统计
type Stats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

// GetStats 返回连接池统计
func (m *Manager) GetStats() Stats {
	ps := m.client.PoolStats()
	return Stats{
		Hits:       ps.Hits,
		Misses:     ps.Misses,
		Timeouts:   ps.Timeouts,
		TotalConns: ps.TotalConns,
		IdleConns:  ps.IdleConns,
		StaleConns: ps.StaleConns,
	}
}

// Close 停止健康检查并关闭连接
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("closing redis connection")
	return m.client.Close()
}

func (m *Manager) healthCheckLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := m.client.Ping(ctx).Err()
		cancel()

		m.mu.Lock()
		changed := m.healthy != (err == nil)
		m.healthy = err == nil
		m.mu.Unlock()

		switch {
		case err != nil && changed:
			m.logger.Error("redis health check failed", zap.Error(err))
		case err == nil && changed:
			m.logger.Info("redis connection recovered")
		default:
			m.logger.Debug("redis health check", zap.Bool("healthy", err == nil))
		}
	}
}
