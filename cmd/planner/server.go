package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/agent"
	"github.com/serkansepil/agent-planner-sub001/agent/collaboration"
	"github.com/serkansepil/agent-planner-sub001/config"
	icache "github.com/serkansepil/agent-planner-sub001/internal/cache"
	"github.com/serkansepil/agent-planner-sub001/internal/database"
	"github.com/serkansepil/agent-planner-sub001/internal/metrics"
	"github.com/serkansepil/agent-planner-sub001/internal/migration"
	"github.com/serkansepil/agent-planner-sub001/internal/server"
	"github.com/serkansepil/agent-planner-sub001/internal/telemetry"
	"github.com/serkansepil/agent-planner-sub001/llm"
	"github.com/serkansepil/agent-planner-sub001/llm/budget"
	"github.com/serkansepil/agent-planner-sub001/llm/cache"
	"github.com/serkansepil/agent-planner-sub001/llm/dispatch"
	"github.com/serkansepil/agent-planner-sub001/llm/history"
	"github.com/serkansepil/agent-planner-sub001/llm/providers"
	"github.com/serkansepil/agent-planner-sub001/llm/providers/anthropic"
	"github.com/serkansepil/agent-planner-sub001/llm/providers/gemini"
	"github.com/serkansepil/agent-planner-sub001/llm/providers/openai"
	"github.com/serkansepil/agent-planner-sub001/llm/retry"
	"github.com/serkansepil/agent-planner-sub001/llm/tokenizer"
	"github.com/serkansepil/agent-planner-sub001/rag"
	"github.com/serkansepil/agent-planner-sub001/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API and metrics servers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, err := newLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := NewServer(cfg, logger)
		if err := srv.Start(ctx); err != nil {
			srv.Shutdown()
			return err
		}
		return srv.Run(ctx)
	},
}

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 持有全部组件及其生命周期
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	pool      *database.PoolManager
	redis     *icache.Manager
	nc        *nats.Conn
	watcher   *config.FileWatcher

	registry     *prometheus.Registry
	collector    *metrics.Collector
	directory    *agent.MemoryDirectory
	accountant   *budget.Accountant
	history      *history.Store
	engine       *rag.Engine
	runner       *agent.Runner
	orchestrator *workflow.Orchestrator

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 按依赖顺序初始化组件，任一步失败即返回
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting planner",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
	)

	tp, err := telemetry.Init(ctx, s.cfg.Telemetry, s.logger, telemetry.WithVersion(Version))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	s.telemetry = tp

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("planner", s.registry, s.logger)

	if err := s.initDatabase(ctx); err != nil {
		return err
	}
	dispatcher, err := s.initDispatcher(ctx)
	if err != nil {
		return err
	}
	if err := s.initRetrieval(ctx); err != nil {
		return err
	}
	if err := s.initAgents(ctx, dispatcher); err != nil {
		return err
	}
	if err := s.initOrchestrator(); err != nil {
		return err
	}

	health := s.initHealth()
	s.httpManager = server.NewManager(s.routes(ctx, health), server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if s.cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
		s.metricsManager = server.NewManager(mux, server.Config{
			Name:            "metrics",
			Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		}, s.logger)
	}
	return nil
}

// Run 阻塞到收到信号或服务器出错，然后释放全部资源
func (s *Server) Run(ctx context.Context) error {
	managers := []*server.Manager{s.httpManager}
	if s.metricsManager != nil {
		managers = append(managers, s.metricsManager)
	}
	err := server.Run(ctx, s.logger, managers...)
	s.Shutdown()
	return err
}

// initDatabase 打开数据库、执行迁移并载入持久化定价
func (s *Server) initDatabase(ctx context.Context) error {
	dbCfg := s.cfg.Database
	if dbCfg.AutoMigrate && dbCfg.Driver != "sqlite" {
		m, err := migration.NewMigratorFromConfig(dbCfg, s.logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		if err := applyMigrations(ctx, m, s.logger); err != nil {
			return err
		}
	}

	db, err := database.Open(dbCfg.Driver, dbCfg.DSN(), s.logger)
	if err != nil {
		return err
	}
	pool, err := database.NewPoolManager(db, database.PoolConfig{
		MaxIdleConns:        dbCfg.MaxIdleConns,
		MaxOpenConns:        dbCfg.MaxOpenConns,
		ConnMaxLifetime:     dbCfg.ConnMaxLifetime,
		ConnMaxIdleTime:     5 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}, s.logger, database.WithStatsReporter(dbCfg.Driver, s.collector))
	if err != nil {
		return fmt.Errorf("create pool manager: %w", err)
	}
	s.pool = pool

	pricing := budget.NewPricingTable(budget.DefaultFallbackPricing(), budget.DefaultModelPricing()...)
	for _, o := range s.cfg.LLM.Pricing {
		pricing.Set(budget.ModelPricing{
			Model:                 o.Model,
			InputCostPer1MTokens:  o.InputCostPer1MTokens,
			OutputCostPer1MTokens: o.OutputCostPer1MTokens,
			Currency:              o.Currency,
		})
	}

	// 历史记录只用到定价，用单独的 Accountant 打破 history ↔ accountant 的循环
	s.history = history.NewStore(db, budget.NewAccountant(pricing, nil, s.logger), s.logger)
	if dbCfg.AutoMigrate && dbCfg.Driver == "sqlite" {
		if err := s.history.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate executions: %w", err)
		}
		if err := db.AutoMigrate(&budget.PricingRecord{}); err != nil {
			return fmt.Errorf("migrate model_pricing: %w", err)
		}
	}

	n, err := budget.NewPricingStore(db).LoadInto(ctx, pricing)
	if err != nil {
		s.logger.Warn("failed to load persisted pricing, using built-in table", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("loaded persisted pricing", zap.Int("rows", n))
	}

	s.accountant = budget.NewAccountant(pricing, s.history, s.logger)
	return nil
}

// initDispatcher 注册 Provider、构建执行缓存并创建 Dispatcher
func (s *Server) initDispatcher(ctx context.Context) (*dispatch.Dispatcher, error) {
	llmCfg := s.cfg.LLM
	registry := llm.NewProviderRegistry()
	if llmCfg.OpenAI.Configured() {
		registry.Register(openai.New(providerConfig(llmCfg.OpenAI, llmCfg.Timeout), s.logger), llmCfg.OpenAI.Prefixes...)
	}
	if llmCfg.Anthropic.Configured() {
		registry.Register(anthropic.NewClaudeProvider(providerConfig(llmCfg.Anthropic, llmCfg.Timeout), s.logger), llmCfg.Anthropic.Prefixes...)
	}
	if llmCfg.Gemini.Configured() {
		registry.Register(gemini.NewGeminiProvider(providerConfig(llmCfg.Gemini, llmCfg.Timeout), s.logger), llmCfg.Gemini.Prefixes...)
	}
	if registry.Len() == 0 {
		s.logger.Warn("no LLM provider configured, executions will fail until one is added")
	}
	if llmCfg.DefaultProvider != "" && registry.Len() > 0 {
		if err := registry.SetDefault(llmCfg.DefaultProvider); err != nil {
			return nil, fmt.Errorf("default provider: %w", err)
		}
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = llmCfg.MaxRetries
	if llmCfg.InitialBackoff > 0 {
		policy.InitialDelay = llmCfg.InitialBackoff
	}
	if llmCfg.MaxBackoff > 0 {
		policy.MaxDelay = llmCfg.MaxBackoff
	}

	opts := []dispatch.Option{
		dispatch.WithRecorder(s.history),
		dispatch.WithTokenCounter(tokenizer.NewCounter(s.logger)),
		dispatch.WithObserver(s.collector),
		dispatch.WithRetryPolicy(policy),
	}
	execCache, err := s.initCache(ctx)
	if err != nil {
		return nil, err
	}
	if execCache != nil {
		opts = append(opts, dispatch.WithCache(execCache))
	}

	return dispatch.New(registry, s.accountant, budget.NewRateLimiter(s.logger), s.logger, opts...), nil
}

// initCache L1 使用 ristretto，启用 Redis 时叠加 L2
func (s *Server) initCache(ctx context.Context) (*cache.ExecutionCache, error) {
	cacheCfg := s.cfg.Cache
	if !cacheCfg.Enabled {
		return nil, nil
	}
	l1, err := cache.NewRistrettoStore(cacheCfg.L1MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("create l1 cache: %w", err)
	}
	var store cache.Store = l1

	if s.cfg.Redis.Enabled {
		rc := s.cfg.Redis
		mgr, err := icache.NewManager(icache.Config{
			Addr:                rc.Addr,
			Password:            rc.Password,
			DB:                  rc.DB,
			MaxRetries:          3,
			PoolSize:            rc.PoolSize,
			MinIdleConns:        rc.MinIdleConns,
			HealthCheckInterval: rc.HealthCheckInterval,
			TLS:                 rc.TLS,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.redis = mgr
		if err := mgr.Ping(ctx); err != nil {
			s.logger.Warn("redis not reachable yet, l2 cache will degrade", zap.Error(err))
		}
		store = cache.NewTieredStore(l1, cache.NewRedisStore(mgr.Client(), rc.KeyPrefix), cacheCfg.L1TTL, s.logger)
	}
	return cache.NewExecutionCache(store, cacheCfg.DefaultTTL, s.logger), nil
}

// initRetrieval 载入知识分块；仅当 OpenAI 已配置时启用向量检索
func (s *Server) initRetrieval(ctx context.Context) error {
	rc := s.cfg.Retrieval
	if !rc.Enabled {
		return nil
	}
	store := rag.NewMemoryChunkStore(s.logger)
	if rc.ChunksFile != "" {
		n, err := store.LoadFile(ctx, rc.ChunksFile)
		if err != nil {
			return fmt.Errorf("load chunks: %w", err)
		}
		s.logger.Info("knowledge chunks loaded", zap.Int("chunks", n), zap.String("file", rc.ChunksFile))
	}

	var embedder rag.Embedder
	if s.cfg.LLM.OpenAI.Configured() {
		ecfg := providerConfig(s.cfg.LLM.OpenAI, s.cfg.LLM.Timeout)
		ecfg.Model = rc.EmbeddingModel
		embedder = openai.NewEmbedder(ecfg, s.logger)
	} else {
		s.logger.Info("no embedding provider configured, retrieval limited to keyword search")
	}
	s.engine = rag.NewEngine(store, embedder, s.logger,
		rag.WithObserver(s.collector),
		rag.WithDefaultWeights(rc.VectorWeight, rc.KeywordWeight),
	)
	return nil
}

// initAgents 载入智能体目录，按需监听文件变化热替换
func (s *Server) initAgents(ctx context.Context, dispatcher *dispatch.Dispatcher) error {
	path := s.cfg.Server.AgentsFile
	if path == "" {
		s.directory = agent.NewMemoryDirectory(s.logger)
		s.logger.Warn("no agents file configured, directory is empty")
	} else {
		dir, err := s.loadDirectory(path)
		if err != nil {
			return err
		}
		s.directory = dir
	}

	var opts []agent.RunnerOption
	if s.engine != nil {
		opts = append(opts, agent.WithRetriever(s.engine, s.cfg.Retrieval.MaxContextChars))
	}
	s.runner = agent.NewRunner(s.directory, dispatcher, s.logger, opts...)

	if path == "" || !s.cfg.Server.WatchAgents {
		return nil
	}
	w, err := config.NewFileWatcher([]string{path}, config.WithWatcherLogger(s.logger))
	if err != nil {
		return fmt.Errorf("watch agents file: %w", err)
	}
	w.OnChange(func(ev config.FileEvent) {
		if ev.Op == config.FileOpRemove {
			s.logger.Warn("agents file removed, keeping current directory", zap.String("path", ev.Path))
			return
		}
		dir, err := s.loadDirectory(path)
		if err != nil {
			s.logger.Error("agents reload failed, keeping current directory", zap.Error(err))
			return
		}
		s.directory.Replace(dir)
		s.logger.Info("agents reloaded", zap.String("path", path))
	})
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start agents watcher: %w", err)
	}
	s.watcher = w
	return nil
}

func (s *Server) loadDirectory(path string) (*agent.MemoryDirectory, error) {
	rl := s.cfg.RateLimit
	return agent.LoadDirectoryFile(path, s.logger, agent.WithDefaultRateLimits(budget.RateLimits{
		RequestsPerMinute:   rl.RequestsPerMinute,
		RequestsPerHour:     rl.RequestsPerHour,
		RequestsPerDay:      rl.RequestsPerDay,
		MaxConcurrent:       rl.MaxConcurrent,
		MaxTokensPerRequest: rl.MaxTokensPerRequest,
	}))
}

// initOrchestrator 创建编排器，启用 NATS 时镜像总线消息
func (s *Server) initOrchestrator() error {
	oc := s.cfg.Orchestrator
	opts := []workflow.Option{workflow.WithObserver(s.collector)}

	if s.cfg.NATS.Enabled {
		nc, err := collaboration.ConnectNATS(collaboration.NATSConfig{
			URL:           s.cfg.NATS.URL,
			Name:          s.cfg.NATS.Name,
			SubjectPrefix: s.cfg.NATS.SubjectPrefix,
			MaxReconnects: s.cfg.NATS.MaxReconnects,
			ReconnectWait: s.cfg.NATS.ReconnectWait,
		}, s.logger)
		if err != nil {
			return err
		}
		s.nc = nc
		opts = append(opts, workflow.WithBusOptions(collaboration.WithMirror(nc, s.cfg.NATS.SubjectPrefix)))
	}

	s.orchestrator = workflow.New(s.directory, s.runner, workflow.Config{
		Mode:              workflow.Mode(oc.Mode),
		MaxParallel:       oc.MaxParallel,
		DefaultTimeout:    oc.DefaultTimeout,
		DefaultMaxRetries: oc.DefaultMaxRetries,
		BroadcastResults:  oc.BroadcastResults,
		RunRetention:      oc.RunRetention,
	}, s.logger, opts...)
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 逆序释放资源，可在部分初始化后调用
func (s *Server) Shutdown() {
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.orchestrator != nil {
		errs = append(errs, s.orchestrator.Shutdown(ctx))
	}
	if s.nc != nil {
		errs = append(errs, s.nc.Drain())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.pool != nil {
		errs = append(errs, s.pool.Close())
	}
	if s.telemetry != nil {
		errs = append(errs, s.telemetry.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("shutdown completed with errors", zap.Error(err))
		return
	}
	s.logger.Info("shutdown complete")
}

// applyMigrations 执行全部迁移后关闭迁移器；关闭失败只记录日志
func applyMigrations(ctx context.Context, m interface {
	Up(ctx context.Context) error
	Close() error
}, logger *zap.Logger) error {
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("failed to close migrator", zap.Error(err))
		}
	}()
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func providerConfig(pc config.ProviderConfig, timeout time.Duration) providers.Config {
	return providers.Config{
		APIKey:   pc.APIKey,
		BaseURL:  pc.BaseURL,
		Model:    pc.Model,
		Timeout:  timeout,
		Prefixes: pc.Prefixes,
	}
}
