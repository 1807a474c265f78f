package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config 服务完整配置
type Config struct {
	Server       ServerConfig       `yaml:"server" env:"SERVER"`
	Log          LogConfig          `yaml:"log" env:"LOG"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" env:"TELEMETRY"`
	Redis        RedisConfig        `yaml:"redis" env:"REDIS"`
	Database     DatabaseConfig     `yaml:"database" env:"DATABASE"`
	Cache        CacheConfig        `yaml:"cache" env:"CACHE"`
	LLM          LLMConfig          `yaml:"llm" env:"LLM"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit" env:"RATE_LIMIT"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`
	Retrieval    RetrievalConfig    `yaml:"retrieval" env:"RETRIEVAL"`
	NATS         NATSConfig         `yaml:"nats" env:"NATS"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端 IP 的请求速率，0 表示不限制
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// AgentsFile 智能体与工作区定义（YAML/JSON）
	AgentsFile  string `yaml:"agents_file" env:"AGENTS_FILE"`
	WatchAgents bool   `yaml:"watch_agents" env:"WATCH_AGENTS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// RedisConfig Redis 配置，启用后作为执行缓存的 L2 层
type RedisConfig struct {
	Enabled             bool          `yaml:"enabled" env:"ENABLED"`
	Addr                string        `yaml:"addr" env:"ADDR"`
	Password            string        `yaml:"password" env:"PASSWORD"`
	DB                  int           `yaml:"db" env:"DB"`
	PoolSize            int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns        int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix           string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	TLS                 bool          `yaml:"tls" env:"TLS"`
}

// DatabaseConfig 执行历史与定价表所在的数据库
type DatabaseConfig struct {
	// postgres, mysql, sqlite
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// AutoMigrate 启动时执行迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// CacheConfig 执行缓存配置
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" env:"ENABLED"`
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	// L1 进程内缓存容量（字节）
	L1MaxBytes int64         `yaml:"l1_max_bytes" env:"L1_MAX_BYTES"`
	L1TTL      time.Duration `yaml:"l1_ttl" env:"L1_TTL"`
}

// ProviderConfig 单个 Provider 的连接配置
type ProviderConfig struct {
	APIKey   string   `yaml:"api_key" env:"API_KEY"`
	BaseURL  string   `yaml:"base_url" env:"BASE_URL"`
	Model    string   `yaml:"model" env:"MODEL"`
	Prefixes []string `yaml:"prefixes" env:"PREFIXES"`
}

// Configured API Key 非空时注册该 Provider
func (p ProviderConfig) Configured() bool { return strings.TrimSpace(p.APIKey) != "" }

// PricingOverride 覆盖或补充内置定价
type PricingOverride struct {
	Model                 string  `yaml:"model"`
	InputCostPer1MTokens  float64 `yaml:"input_cost_per_1m_tokens"`
	OutputCostPer1MTokens float64 `yaml:"output_cost_per_1m_tokens"`
	Currency              string  `yaml:"currency"`
}

// LLMConfig 模型调用配置
type LLMConfig struct {
	DefaultProvider string         `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
	Timeout         time.Duration  `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries      int            `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialBackoff  time.Duration  `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	MaxBackoff      time.Duration  `yaml:"max_backoff" env:"MAX_BACKOFF"`
	OpenAI          ProviderConfig `yaml:"openai" env:"OPENAI"`
	Anthropic       ProviderConfig `yaml:"anthropic" env:"ANTHROPIC"`
	Gemini          ProviderConfig `yaml:"gemini" env:"GEMINI"`
	// Pricing 只能来自 YAML
	Pricing []PricingOverride `yaml:"pricing" env:"-"`
}

// RateLimitConfig 智能体未声明限流时使用的默认值
type RateLimitConfig struct {
	RequestsPerMinute   int `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
	RequestsPerHour     int `yaml:"requests_per_hour" env:"REQUESTS_PER_HOUR"`
	RequestsPerDay      int `yaml:"requests_per_day" env:"REQUESTS_PER_DAY"`
	MaxConcurrent       int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	MaxTokensPerRequest int `yaml:"max_tokens_per_request" env:"MAX_TOKENS_PER_REQUEST"`
}

// OrchestratorConfig 任务编排配置
type OrchestratorConfig struct {
	// sequential, parallel
	Mode              string        `yaml:"mode" env:"MODE"`
	MaxParallel       int           `yaml:"max_parallel" env:"MAX_PARALLEL"`
	DefaultTimeout    time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	DefaultMaxRetries int           `yaml:"default_max_retries" env:"DEFAULT_MAX_RETRIES"`
	BroadcastResults  bool          `yaml:"broadcast_results" env:"BROADCAST_RESULTS"`
	RunRetention      time.Duration `yaml:"run_retention" env:"RUN_RETENTION"`
}

// RetrievalConfig 混合检索配置
type RetrievalConfig struct {
	Enabled         bool    `yaml:"enabled" env:"ENABLED"`
	VectorWeight    float64 `yaml:"vector_weight" env:"VECTOR_WEIGHT"`
	KeywordWeight   float64 `yaml:"keyword_weight" env:"KEYWORD_WEIGHT"`
	MaxContextChars int     `yaml:"max_context_chars" env:"MAX_CONTEXT_CHARS"`
	// ChunksFile 启动时载入的分块（JSON 数组）
	ChunksFile     string `yaml:"chunks_file" env:"CHUNKS_FILE"`
	EmbeddingModel string `yaml:"embedding_model" env:"EMBEDDING_MODEL"`
}

// NATSConfig 消息总线镜像
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled" env:"ENABLED"`
	URL           string        `yaml:"url" env:"URL"`
	Name          string        `yaml:"name" env:"NAME"`
	SubjectPrefix string        `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
	MaxReconnects int           `yaml:"max_reconnects" env:"MAX_RECONNECTS"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" env:"RECONNECT_WAIT"`
}

// Validate 校验配置，汇总全部错误
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort))
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("server.metrics_port %d out of range", c.Server.MetricsPort))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, errors.New("server.rate_limit_rps must not be negative"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, errors.New("telemetry.sample_rate must be within [0, 1]"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}

	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}

	if c.Cache.Enabled && c.Cache.DefaultTTL <= 0 {
		errs = append(errs, errors.New("cache.default_ttl must be positive"))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("llm.max_retries must not be negative"))
	}
	for i, p := range c.LLM.Pricing {
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("llm.pricing[%d].model is required", i))
		}
		if p.InputCostPer1MTokens < 0 || p.OutputCostPer1MTokens < 0 {
			errs = append(errs, fmt.Errorf("llm.pricing[%d]: costs must not be negative", i))
		}
	}

	switch c.Orchestrator.Mode {
	case "sequential", "parallel":
	default:
		errs = append(errs, fmt.Errorf("orchestrator.mode %q is not sequential or parallel", c.Orchestrator.Mode))
	}
	if c.Orchestrator.MaxParallel <= 0 {
		errs = append(errs, errors.New("orchestrator.max_parallel must be positive"))
	}
	if c.Orchestrator.DefaultMaxRetries < 0 {
		errs = append(errs, errors.New("orchestrator.default_max_retries must not be negative"))
	}

	if c.Retrieval.VectorWeight < 0 || c.Retrieval.KeywordWeight < 0 {
		errs = append(errs, errors.New("retrieval weights must not be negative"))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
