package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/agent"
	"github.com/serkansepil/agent-planner-sub001/api/handlers"
	"github.com/serkansepil/agent-planner-sub001/types"
)

// routerDeps 路由依赖；Searcher 为 nil 时不挂载检索接口
type routerDeps struct {
	Executor  handlers.AgentExecutor
	Runs      handlers.RunService
	History   handlers.HistoryReader
	Searcher  handlers.Searcher
	Directory agent.Directory
	Budget    handlers.BudgetReporter
	Health    *handlers.HealthHandler
	Recorder  HTTPRecorder

	RateLimitRPS   float64
	RateLimitBurst int
}

// newRouter 组装中间件与 /v1 路由
func newRouter(ctx context.Context, deps routerDeps, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recovery(logger))
	r.Use(RequestLogger(logger))
	if deps.Recorder != nil {
		r.Use(Metrics(deps.Recorder))
	}
	r.Use(Tracing)
	r.Use(SecurityHeaders)

	if deps.Health != nil {
		r.Get("/healthz", deps.Health.HandleHealthz)
		r.Get("/ready", deps.Health.HandleReady)
		r.Get("/version", deps.Health.HandleVersion(BuildTime, GitCommit))
	}

	execute := handlers.NewExecuteHandler(deps.Executor, logger)
	runs := handlers.NewRunHandler(deps.Runs, logger)
	executions := handlers.NewExecutionHandler(deps.History, logger)
	budget := handlers.NewBudgetHandler(deps.Directory, deps.Budget, logger)

	r.Route("/v1", func(r chi.Router) {
		r.Use(RateLimiter(ctx, deps.RateLimitRPS, deps.RateLimitBurst))

		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Post("/execute", execute.HandleExecute)
			r.Get("/budget", budget.HandleGet)
		})

		r.Post("/workspaces/{workspaceID}/runs", runs.HandleCreate)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runs.HandleList)
			r.Get("/{runID}", runs.HandleGet)
			r.Get("/{runID}/events", runs.HandleEvents)
			r.Post("/{runID}/cancel", runs.HandleCancel)
		})

		r.Route("/executions", func(r chi.Router) {
			r.Get("/", executions.HandleList)
			r.Get("/stats", executions.HandleStats)
			r.Get("/{executionID}", executions.HandleGet)
		})

		if deps.Searcher != nil {
			r.Post("/search", handlers.NewSearchHandler(deps.Searcher, logger).HandleSearch)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteError(w, r, types.NewNotFoundError("route not found"), logger)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteError(w, r, types.NewError(types.ErrValidation, "method not allowed").WithHTTPStatus(http.StatusMethodNotAllowed), logger)
	})
	return r
}

// initHealth 数据库为关键依赖，Redis 与 NATS 异常时仅降级
func (s *Server) initHealth() *handlers.HealthHandler {
	h := handlers.NewHealthHandler(Version, s.logger)
	if s.pool != nil {
		h.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping), true)
	}
	if s.redis != nil {
		h.RegisterCheck(handlers.NewPingCheck("redis", s.redis.Ping), false)
	}
	if s.nc != nil {
		nc := s.nc
		h.RegisterCheck(handlers.NewPingCheck("nats", func(ctx context.Context) error {
			return nc.FlushWithContext(ctx)
		}), false)
	}
	return h
}

func (s *Server) routes(ctx context.Context, health *handlers.HealthHandler) http.Handler {
	deps := routerDeps{
		Executor:       s.runner,
		Runs:           s.orchestrator,
		History:        s.history,
		Directory:      s.directory,
		Budget:         s.accountant,
		Health:         health,
		Recorder:       s.collector,
		RateLimitRPS:   s.cfg.Server.RateLimitRPS,
		RateLimitBurst: s.cfg.Server.RateLimitBurst,
	}
	if s.engine != nil {
		deps.Searcher = s.engine
	}
	return newRouter(ctx, deps, s.logger)
}
