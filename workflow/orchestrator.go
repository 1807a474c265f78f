package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/agent"
	"github.com/serkansepil/agent-planner-sub001/agent/collaboration"
	agentcontext "github.com/serkansepil/agent-planner-sub001/agent/context"
	"github.com/serkansepil/agent-planner-sub001/internal/ctxkeys"
	"github.com/serkansepil/agent-planner-sub001/llm/dispatch"
	"github.com/serkansepil/agent-planner-sub001/types"
)

// Mode 执行模式
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// Config 编排器配置
type Config struct {
	Mode              Mode          `json:"mode" yaml:"mode"`
	MaxParallel       int           `json:"max_parallel" yaml:"max_parallel"`
	DefaultTimeout    time.Duration `json:"default_timeout" yaml:"default_timeout"`
	DefaultMaxRetries int           `json:"default_max_retries" yaml:"default_max_retries"`
	// BroadcastResults 任务完成后由执行者向其他智能体广播结果
	BroadcastResults bool `json:"broadcast_results" yaml:"broadcast_results"`
	// RunRetention 运行结束后保留多久以供查询；0 表示一直保留
	RunRetention time.Duration `json:"run_retention" yaml:"run_retention"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Mode:              ModeParallel,
		MaxParallel:       4,
		DefaultTimeout:    5 * time.Minute,
		DefaultMaxRetries: 1,
		RunRetention:      time.Hour,
	}
}

// AgentExecutor 以智能体身份执行提示词，*agent.Runner 满足该接口
type AgentExecutor interface {
	ExecuteAgent(ctx context.Context, a *agent.Agent, in agent.ExecuteInput) (*dispatch.Result, error)
}

// Observer 接收编排指标
type Observer interface {
	RecordTaskTransition(from, to string)
	RecordRun(status string, duration time.Duration)
}

// Option 编排器选项
type Option func(*Orchestrator)

// WithObserver 设置指标观察者
func WithObserver(obs Observer) Option { return func(o *Orchestrator) { o.observer = obs } }

// WithContextManager 使用外部的执行上下文管理器
func WithContextManager(m *agentcontext.Manager) Option {
	return func(o *Orchestrator) { o.contexts = m }
}

// WithBusOptions 每次运行创建消息总线时附加的选项（例如 NATS 镜像）
func WithBusOptions(opts ...collaboration.BusOption) Option {
	return func(o *Orchestrator) { o.busOpts = append(o.busOpts, opts...) }
}

// Orchestrator 多智能体任务编排器
type Orchestrator struct {
	directory agent.Directory
	executor  AgentExecutor
	contexts  *agentcontext.Manager
	busOpts   []collaboration.BusOption
	cfg       Config
	observer  Observer
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time

	runs sync.Map // runID -> *Run
}

// New 创建编排器
func New(directory agent.Directory, executor AgentExecutor, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = def.MaxParallel
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.DefaultMaxRetries < 0 {
		cfg.DefaultMaxRetries = 0
	}
	o := &Orchestrator{
		directory: directory,
		executor:  executor,
		cfg:       cfg,
		tracer:    otel.Tracer("github.com/serkansepil/agent-planner-sub001/workflow"),
		logger:    logger.With(zap.String("component", "orchestrator")),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.contexts == nil {
		o.contexts = agentcontext.NewManager(logger)
	}
	return o
}

// RunOptions 单次运行的选项
type RunOptions struct {
	Mode        Mode              `json:"mode,omitempty"`
	MaxParallel int               `json:"max_parallel,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	Globals     map[string]any    `json:"global_variables,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Submit 校验任务图并启动运行。校验失败时不会有任何任务开始执行。
func (o *Orchestrator) Submit(ctx context.Context, workspaceID string, specs []TaskSpec, opts RunOptions) (*Run, error) {
	if workspaceID == "" {
		return nil, types.NewValidationError("workspace id is required")
	}
	mode := opts.Mode
	if mode == "" {
		mode = o.cfg.Mode
	}
	limit := 1
	switch mode {
	case ModeSequential:
	case ModeParallel:
		limit = opts.MaxParallel
		if limit <= 0 {
			limit = o.cfg.MaxParallel
		}
	default:
		return nil, types.NewValidationError(fmt.Sprintf("unknown execution mode %q", mode))
	}

	tasks, err := buildGraph(specs, graphDefaults{timeout: o.cfg.DefaultTimeout, maxRetries: o.cfg.DefaultMaxRetries})
	if err != nil {
		return nil, err
	}
	agents, err := o.directory.WorkspaceAgents(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	asg := newAssigner(agents)
	for _, t := range tasks {
		if t.taskType == TaskTypeRequest && !asg.has(t.targetID) {
			return nil, types.NewValidationError(fmt.Sprintf("task %q: target agent %s is not part of workspace %s", t.id, t.targetID, workspaceID))
		}
	}

	runID := uuid.New().String()
	runCtx, cancel := context.WithCancel(ctxkeys.WithRunID(context.WithoutCancel(ctx), runID))
	store := o.contexts.Create(runID, workspaceID, agentcontext.Options{SessionID: opts.SessionID})
	for k, v := range opts.Globals {
		store.Globals().Set(k, v)
	}
	for k, v := range opts.Metadata {
		store.Metadata().Set(k, v)
	}
	for _, t := range tasks {
		if len(t.input) > 0 {
			store.Set(agentcontext.TaskInputKey(t.id), decodeInput(t.input))
		}
	}

	r := &Run{
		ID:          runID,
		WorkspaceID: workspaceID,
		SessionID:   opts.SessionID,
		Mode:        mode,
		MaxParallel: limit,
		CreatedAt:   o.now(),
		status:      RunRunning,
		tasks:       tasks,
		index:       make(map[string]*task, len(tasks)),
		assigner:    asg,
		store:       store,
		bus:         collaboration.NewBus(o.logger, o.busOpts...),
		events:      newEventHub(),
		results:     make(chan attemptResult, len(tasks)),
		done:        make(chan struct{}),
		cancel:      cancel,
		o:           o,
		logger:      o.logger.With(zap.String("run_id", runID), zap.String("workspace_id", workspaceID)),
	}
	for _, t := range tasks {
		r.index[t.id] = t
	}
	if err := r.startResponders(runCtx, agents); err != nil {
		cancel()
		_ = r.bus.Close()
		o.contexts.Release(runID)
		return nil, err
	}

	o.runs.Store(runID, r)
	o.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.String("workspace_id", workspaceID),
		zap.String("mode", string(mode)),
		zap.Int("max_parallel", limit),
		zap.Int("tasks", len(tasks)),
		zap.Int("agents", len(agents)),
	)
	go r.loop(runCtx)
	return r, nil
}

// Get 查询运行
func (o *Orchestrator) Get(runID string) (*Run, error) {
	v, ok := o.runs.Load(runID)
	if !ok {
		return nil, types.NewNotFoundError(fmt.Sprintf("run %s not found", runID))
	}
	return v.(*Run), nil
}

// Cancel 取消运行
func (o *Orchestrator) Cancel(runID string) error {
	r, err := o.Get(runID)
	if err != nil {
		return err
	}
	r.Cancel()
	return nil
}

// List 所有保留中的运行，按创建时间倒序
func (o *Orchestrator) List() []RunSummary {
	var out []RunSummary
	o.runs.Range(func(_, v any) bool {
		out = append(out, v.(*Run).Summary())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Shutdown 取消所有运行并等待结束
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	var runs []*Run
	o.runs.Range(func(_, v any) bool {
		runs = append(runs, v.(*Run))
		return true
	})
	for _, r := range runs {
		r.Cancel()
	}
	for _, r := range runs {
		if err := r.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) forget(r *Run) {
	if o.cfg.RunRetention <= 0 {
		return
	}
	time.AfterFunc(o.cfg.RunRetention, func() { o.runs.Delete(r.ID) })
}

// decodeInput 合法 JSON 解码为通用值，否则按字符串保存
func decodeInput(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
