package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
		Redis:        DefaultRedisConfig(),
		Database:     DefaultDatabaseConfig(),
		Cache:        DefaultCacheConfig(),
		LLM:          DefaultLLMConfig(),
		RateLimit:    DefaultRateLimitConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Retrieval:    DefaultRetrievalConfig(),
		NATS:         DefaultNATSConfig(),
	}
}

// DefaultServerConfig 返回默认服务配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		AgentsFile:      "agents.yaml",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agent-planner",
		SampleRate:   0.1,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:             false,
		Addr:                "localhost:6379",
		PoolSize:            10,
		MinIdleConns:        2,
		KeyPrefix:           "planner:exec:",
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultDatabaseConfig 默认使用本地 SQLite 文件
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "planner",
		Name:            "planner.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:    true,
		DefaultTTL: time.Hour,
		L1MaxBytes: 64 << 20,
		L1TTL:      5 * time.Minute,
	}
}

// DefaultLLMConfig 返回默认模型调用配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		DefaultProvider: "openai",
		Timeout:         2 * time.Minute,
		MaxRetries:      3,
		InitialBackoff:  time.Second,
		MaxBackoff:      30 * time.Second,
	}
}

// DefaultRateLimitConfig 默认不限流
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{}
}

// DefaultOrchestratorConfig 返回默认编排配置
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Mode:              "parallel",
		MaxParallel:       4,
		DefaultTimeout:    5 * time.Minute,
		DefaultMaxRetries: 1,
		RunRetention:      time.Hour,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Enabled:         true,
		VectorWeight:    0.7,
		KeywordWeight:   0.3,
		MaxContextChars: 4000,
		EmbeddingModel:  "text-embedding-3-small",
	}
}

// DefaultNATSConfig 返回默认 NATS 配置
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Enabled:       false,
		URL:           "nats://localhost:4222",
		Name:          "agent-planner",
		SubjectPrefix: "planner.bus",
		MaxReconnects: 60,
		ReconnectWait: 2 * time.Second,
	}
}
