package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// readyTimeout 单轮就绪检查的总时限
const readyTimeout = 5 * time.Second

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy, degraded, unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status   string `json:"status"` // pass, fail
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

type registeredCheck struct {
	check    HealthCheck
	critical bool
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger  *zap.Logger
	version string

	mu     sync.RWMutex
	checks []registeredCheck
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(version string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{logger: logger.With(zap.String("handler", "health")), version: version}
}

// RegisterCheck 注册检查。critical 检查失败时返回 503，其余只标记 degraded。
func (h *HealthHandler) RegisterCheck(check HealthCheck, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, registeredCheck{check: check, critical: critical})
}

// HandleHealthz 存活探针，只说明进程在运行
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: "healthy", Timestamp: time.Now(), Version: h.version})
}

// HandleReady 就绪探针，并发执行所有已注册检查
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	h.mu.RLock()
	checks := append([]registeredCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, rc := range checks {
		g.Go(func() error {
			start := time.Now()
			err := rc.check.Check(gctx)
			res := CheckResult{Status: "pass", Critical: rc.critical, Latency: time.Since(start).String()}
			if err != nil {
				res.Status = "fail"
				res.Message = err.Error()
				h.logger.Warn("health check failed",
					zap.String("check", rc.check.Name()),
					zap.Bool("critical", rc.critical),
					zap.Error(err),
				)
			}
			results[i] = res
			// 不返回错误，避免一个失败取消其他检查
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	code := http.StatusOK
	for i, rc := range checks {
		res := results[i]
		status.Checks[rc.check.Name()] = res
		if res.Status == "pass" {
			continue
		}
		if rc.critical {
			status.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		} else if status.Status == "healthy" {
			status.Status = "degraded"
		}
	}
	WriteJSON(w, code, status)
}

// HandleVersion 版本信息
func (h *HealthHandler) HandleVersion(buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, map[string]string{
			"version":    h.version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置检查
// =============================================================================

// PingCheck 以 ping 函数实现的检查，适用于数据库、Redis 与 NATS
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
