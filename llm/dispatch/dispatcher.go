package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/serkansepil/agent-planner-sub001/internal/ctxkeys"
	"github.com/serkansepil/agent-planner-sub001/llm"
	"github.com/serkansepil/agent-planner-sub001/llm/budget"
	"github.com/serkansepil/agent-planner-sub001/llm/cache"
	"github.com/serkansepil/agent-planner-sub001/llm/history"
	"github.com/serkansepil/agent-planner-sub001/llm/retry"
	"github.com/serkansepil/agent-planner-sub001/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/serkansepil/agent-planner-sub001/llm/dispatch"

// TokenCounter 在 Provider 未返回用量时估算 token，由 tokenizer.Counter 实现。
type TokenCounter interface {
	CountMessages(model string, messages []llm.Message) int
	CountText(model, text string) int
}

// Recorder 持久化执行结果，由 history.Store 实现。
type Recorder interface {
	Record(ctx context.Context, rec *history.ExecutionRecord) error
}

// SpendRecorder 接收实际花费，由 budget.MemorySpendTracker 实现。
type SpendRecorder interface {
	Add(agentID string, cost float64, at time.Time)
}

// Observer 接收执行指标，由 internal/metrics.Collector 实现。
type Observer interface {
	RecordExecution(provider, model, status string, cached bool, duration time.Duration, inputTokens, outputTokens int, cost float64)
	RecordCacheLookup(hit bool)
}

// Option 配置 Dispatcher
type Option func(*Dispatcher)

// WithCache 启用执行缓存
func WithCache(c *cache.ExecutionCache) Option { return func(d *Dispatcher) { d.cache = c } }

// WithRecorder 启用历史记录
func WithRecorder(r Recorder) Option { return func(d *Dispatcher) { d.recorder = r } }

// WithSpendRecorder 成功的非缓存执行会将成本上报给 s
func WithSpendRecorder(s SpendRecorder) Option { return func(d *Dispatcher) { d.spend = s } }

// WithTokenCounter 启用 token 估算
func WithTokenCounter(c TokenCounter) Option { return func(d *Dispatcher) { d.counter = c } }

// WithObserver 启用指标上报
func WithObserver(o Observer) Option { return func(d *Dispatcher) { d.observer = o } }

// WithRetryPolicy 设置默认重试策略
func WithRetryPolicy(p retry.Policy) Option { return func(d *Dispatcher) { d.policy = p } }

// Dispatcher 执行调度器。
type Dispatcher struct {
	registry   *llm.ProviderRegistry
	accountant *budget.Accountant
	limiter    *budget.RateLimiter

	cache    *cache.ExecutionCache
	recorder Recorder
	spend    SpendRecorder
	counter  TokenCounter
	observer Observer
	policy   retry.Policy

	tracer trace.Tracer
	logger *zap.Logger
	now    func() time.Time
}

// New 创建调度器。registry、accountant、limiter 必填。
func New(registry *llm.ProviderRegistry, accountant *budget.Accountant, limiter *budget.RateLimiter, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		registry:   registry,
		accountant: accountant,
		limiter:    limiter,
		policy:     retry.DefaultPolicy(),
		tracer:     otel.Tracer(instrumentationName),
		logger:     logger.With(zap.String("component", "dispatcher")),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Accountant 暴露计费器，供预算报告使用。
func (d *Dispatcher) Accountant() *budget.Accountant { return d.accountant }

func (d *Dispatcher) backoffFor(req *Request) *retry.Backoff {
	p := d.policy
	if req.MaxRetries != nil {
		p.MaxRetries = *req.MaxRetries
	}
	return retry.NewBackoff(p, d.logger)
}

func (d *Dispatcher) resolve(req *Request) (llm.Provider, error) {
	if req.Provider != "" {
		p, ok := d.registry.Get(req.Provider)
		if !ok {
			return nil, types.NewValidationError(fmt.Sprintf("unknown provider %q", req.Provider))
		}
		return p, nil
	}
	return d.registry.Resolve(req.Model)
}

func (d *Dispatcher) estimateInput(req *Request) int {
	if d.counter == nil {
		return 0
	}
	return d.counter.CountMessages(req.Model, req.Messages)
}

// admit 检查预算并预留速率容量。estimatedTokens 同时用于单请求 token 上限。
func (d *Dispatcher) admit(ctx context.Context, req *Request, estimatedInput int) error {
	est := d.accountant.CalculateCost(req.Model, estimatedInput, req.MaxTokens, req.CustomPricing)
	return d.accountant.CheckBudget(ctx, req.AgentID, req.Budget, est.TotalCost)
}

func (d *Dispatcher) reserve(req *Request, estimatedInput int) (*budget.Reservation, error) {
	return d.limiter.Reserve(req.AgentID, req.RateLimits, estimatedInput+req.MaxTokens)
}

// Execute 执行一次非流式请求。
func (d *Dispatcher) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}
	start := d.now()
	key := req.CacheKey()

	ctx, span := d.tracer.Start(ctx, "dispatch.execute", trace.WithAttributes(
		attribute.String("agent.id", req.AgentID),
		attribute.String("llm.model", req.Model),
		attribute.String("execution.id", req.ExecutionID),
	))
	defer span.End()

	var (
		res     *Result
		retries int
		err     error
	)
	if req.EnableCache && d.cache != nil {
		// 调用方提前返回时 flight 仍在运行，重试次数需原子传递
		var leaderRetries atomic.Int32
		var (
			entry  *cache.Entry
			cached bool
		)
		entry, cached, err = d.cache.Do(ctx, key, cache.Options{Bypass: req.BypassCache, TTL: req.CacheTTL},
			func(ctx context.Context) (*cache.Entry, error) {
				r, n, err := d.call(ctx, req)
				leaderRetries.Store(int32(n))
				if err != nil {
					return nil, err
				}
				return entryFromResult(r), nil
			})
		retries = int(leaderRetries.Load())
		if err == nil {
			res = resultFromEntry(entry)
			res.Cached = cached
		}
		if d.observer != nil && !req.BypassCache {
			d.observer.RecordCacheLookup(cached)
		}
	} else {
		res, retries, err = d.call(ctx, req)
	}

	latency := d.now().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.finishFailed(ctx, req, key, retries, latency, err)
		if te, ok := types.AsError(err); ok && te.ExecutionID == "" {
			// 共享错误可能被多个等待者持有，复制后再标记
			cp := *te
			err = cp.WithExecution(req.ExecutionID)
		}
		return nil, err
	}

	res.ExecutionID = req.ExecutionID
	res.CacheKey = key
	res.RetryCount = retries
	res.LatencyMs = latency.Milliseconds()
	span.SetAttributes(
		attribute.Bool("cache.hit", res.Cached),
		attribute.Int("llm.tokens.total", res.TotalTokens),
		attribute.Float64("llm.cost", res.Cost.TotalCost),
	)
	d.finishSucceeded(ctx, req, res, latency)
	return res, nil
}

// call 执行准入、解析与带重试的 Provider 调用，返回未缓存的结果。
func (d *Dispatcher) call(ctx context.Context, req *Request) (*Result, int, error) {
	estimated := d.estimateInput(req)
	if err := d.admit(ctx, req, estimated); err != nil {
		return nil, 0, err
	}
	provider, err := d.resolve(req)
	if err != nil {
		return nil, 0, err
	}

	resp, retries, err := retry.Do(ctx, d.backoffFor(req), func(ctx context.Context, attempt int) (*llm.Response, error) {
		reservation, err := d.reserve(req, estimated)
		if err != nil {
			return nil, err
		}
		callCtx := ctx
		if req.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
			defer cancel()
		}
		resp, err := provider.Execute(callCtx, req.Messages, req.options())
		if err != nil {
			if ctx.Err() != nil {
				reservation.Cancel()
			} else {
				reservation.Release()
			}
			d.logger.Debug("provider attempt failed",
				zap.String("provider", provider.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil, err
		}
		reservation.Release()
		return resp, nil
	})
	if err != nil {
		return nil, retries, err
	}
	return d.price(req, provider.Name(), resp.Content, resp.FinishReason, resp.Usage), retries, nil
}

// price 构造结果；Provider 未上报用量时回退到估算。
func (d *Dispatcher) price(req *Request, provider, content, finishReason string, usage llm.Usage) *Result {
	if usage.InputTokens == 0 && d.counter != nil {
		usage.InputTokens = d.counter.CountMessages(req.Model, req.Messages)
	}
	if usage.OutputTokens == 0 && d.counter != nil && content != "" {
		usage.OutputTokens = d.counter.CountText(req.Model, content)
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	cost := d.accountant.CalculateCost(req.Model, usage.InputTokens, usage.OutputTokens, req.CustomPricing)
	return &Result{
		Provider:     provider,
		Model:        req.Model,
		Content:      content,
		FinishReason: finishReason,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.TotalTokens,
		Cost:         cost,
	}
}

func (d *Dispatcher) finishSucceeded(ctx context.Context, req *Request, res *Result, latency time.Duration) {
	if !res.Cached && d.spend != nil {
		d.spend.Add(req.AgentID, res.Cost.TotalCost, d.now())
	}
	if d.observer != nil {
		d.observer.RecordExecution(res.Provider, res.Model, string(history.StatusSuccess), res.Cached,
			latency, res.InputTokens, res.OutputTokens, res.Cost.TotalCost)
	}
	d.record(ctx, &history.ExecutionRecord{
		ID:           req.ExecutionID,
		AgentID:      req.AgentID,
		WorkspaceID:  req.WorkspaceID,
		SessionID:    req.SessionID,
		RunID:        req.RunID,
		TaskID:       req.TaskID,
		Provider:     res.Provider,
		Model:        res.Model,
		Status:       history.StatusSuccess,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		TotalTokens:  res.TotalTokens,
		Cost:         res.Cost.TotalCost,
		Currency:     res.Cost.Currency,
		LatencyMs:    res.LatencyMs,
		Cached:       res.Cached,
		CacheKey:     res.CacheKey,
		RetryCount:   res.RetryCount,
	})
	d.logger.With(ctxkeys.LogFields(ctx)...).Info("execution completed",
		zap.String("execution_id", req.ExecutionID),
		zap.String("agent_id", req.AgentID),
		zap.String("provider", res.Provider),
		zap.String("model", res.Model),
		zap.Bool("cached", res.Cached),
		zap.Int("retries", res.RetryCount),
		zap.Int("total_tokens", res.TotalTokens),
		zap.Float64("cost", res.Cost.TotalCost),
		zap.Duration("latency", latency))
}

func (d *Dispatcher) finishFailed(ctx context.Context, req *Request, key string, retries int, latency time.Duration, err error) {
	providerName := req.Provider
	if te, ok := types.AsError(err); ok && te.Provider != "" {
		providerName = te.Provider
	}
	if d.observer != nil {
		d.observer.RecordExecution(providerName, req.Model, string(history.StatusFailed), false, latency, 0, 0, 0)
	}
	d.record(ctx, &history.ExecutionRecord{
		ID:           req.ExecutionID,
		AgentID:      req.AgentID,
		WorkspaceID:  req.WorkspaceID,
		SessionID:    req.SessionID,
		RunID:        req.RunID,
		TaskID:       req.TaskID,
		Provider:     providerName,
		Model:        req.Model,
		Status:       history.StatusFailed,
		LatencyMs:    latency.Milliseconds(),
		CacheKey:     key,
		RetryCount:   retries,
		ErrorCode:    errorCode(err),
		ErrorMessage: err.Error(),
	})
	d.logger.With(ctxkeys.LogFields(ctx)...).Warn("execution failed",
		zap.String("execution_id", req.ExecutionID),
		zap.String("agent_id", req.AgentID),
		zap.String("model", req.Model),
		zap.Int("retries", retries),
		zap.Error(err))
}

func (d *Dispatcher) record(ctx context.Context, rec *history.ExecutionRecord) {
	if d.recorder == nil {
		return
	}
	// 调用方取消不应丢失执行记录
	if err := d.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Warn("failed to persist execution", zap.String("execution_id", rec.ID), zap.Error(err))
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return string(types.ErrTaskCancelled)
	case errors.Is(err, context.DeadlineExceeded):
		return string(types.ErrTaskTimeout)
	}
	if code := types.GetErrorCode(err); code != "" {
		return string(code)
	}
	return string(types.ErrInternal)
}
