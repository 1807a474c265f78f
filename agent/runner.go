package agent

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/llm"
	"github.com/serkansepil/agent-planner-sub001/llm/dispatch"
	"github.com/serkansepil/agent-planner-sub001/rag"
	"github.com/serkansepil/agent-planner-sub001/types"
)

// Executor 执行调度器的能力子集，*dispatch.Dispatcher 满足该接口
type Executor interface {
	Execute(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error)
	ExecuteStream(ctx context.Context, req *dispatch.Request) (<-chan dispatch.StreamEvent, error)
}

// Retriever 知识检索，*rag.Engine 满足该接口
type Retriever interface {
	Search(ctx context.Context, req rag.SearchRequest) (*rag.SearchResponse, error)
}

// ExecuteInput 一次智能体执行的调用参数
type ExecuteInput struct {
	Prompt    string `json:"prompt"`
	Context   string `json:"context,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// EnableCache 为 nil 时沿用智能体设置
	EnableCache *bool             `json:"enable_cache,omitempty"`
	BypassCache bool              `json:"bypass_cache,omitempty"`
	CacheTTL    time.Duration     `json:"-"`
	Timeout     time.Duration     `json:"-"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	WorkspaceID string `json:"-"`
	RunID       string `json:"-"`
	TaskID      string `json:"-"`
}

// RunnerOption Runner 选项
type RunnerOption func(*Runner)

// WithRetriever 启用检索增强；maxContextChars <= 0 表示不限长度
func WithRetriever(r Retriever, maxContextChars int) RunnerOption {
	return func(rn *Runner) {
		rn.retriever = r
		rn.maxContextChars = maxContextChars
	}
}

// Runner 以智能体身份执行提示词
type Runner struct {
	directory       Directory
	executor        Executor
	retriever       Retriever
	maxContextChars int
	logger          *zap.Logger
}

// NewRunner 创建 Runner
func NewRunner(directory Directory, executor Executor, logger *zap.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		directory: directory,
		executor:  executor,
		logger:    logger.With(zap.String("component", "agent_runner")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute 按 ID 查找智能体并执行
func (r *Runner) Execute(ctx context.Context, agentID string, in ExecuteInput) (*dispatch.Result, error) {
	a, err := r.lookup(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return r.ExecuteAgent(ctx, a, in)
}

// ExecuteAgent 以给定智能体执行
func (r *Runner) ExecuteAgent(ctx context.Context, a *Agent, in ExecuteInput) (*dispatch.Result, error) {
	req, err := r.BuildRequest(ctx, a, in)
	if err != nil {
		return nil, err
	}
	return r.executor.Execute(ctx, req)
}

// ExecuteStream 按 ID 查找智能体并流式执行
func (r *Runner) ExecuteStream(ctx context.Context, agentID string, in ExecuteInput) (<-chan dispatch.StreamEvent, error) {
	a, err := r.lookup(ctx, agentID)
	if err != nil {
		return nil, err
	}
	req, err := r.BuildRequest(ctx, a, in)
	if err != nil {
		return nil, err
	}
	return r.executor.ExecuteStream(ctx, req)
}

func (r *Runner) lookup(ctx context.Context, agentID string) (*Agent, error) {
	if r.directory == nil {
		return nil, types.NewError(types.ErrInternal, "agent directory not configured")
	}
	return r.directory.GetAgent(ctx, agentID)
}

// BuildRequest 组装消息与执行策略
func (r *Runner) BuildRequest(ctx context.Context, a *Agent, in ExecuteInput) (*dispatch.Request, error) {
	if a == nil {
		return nil, types.NewValidationError("agent is nil")
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, types.NewValidationError("prompt is required")
	}

	messages := make([]llm.Message, 0, 4)
	if s := strings.TrimSpace(a.SystemPrompt); s != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: s})
	}
	if knowledge := r.retrieve(ctx, a, prompt); knowledge != "" {
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: "Relevant knowledge:\n" + knowledge,
		})
	}
	if c := strings.TrimSpace(in.Context); c != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: "Context:\n" + c})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	enableCache := a.EnableCache
	if in.EnableCache != nil {
		enableCache = *in.EnableCache
	}
	ttl := a.CacheTTL
	if in.CacheTTL > 0 {
		ttl = in.CacheTTL
	}
	timeout := a.Timeout
	if in.Timeout > 0 {
		timeout = in.Timeout
	}
	workspaceID := in.WorkspaceID
	if workspaceID == "" {
		workspaceID = a.WorkspaceID
	}

	return &dispatch.Request{
		AgentID:       a.ID,
		WorkspaceID:   workspaceID,
		SessionID:     in.SessionID,
		RunID:         in.RunID,
		TaskID:        in.TaskID,
		Provider:      a.Provider,
		Model:         a.Model,
		Messages:      messages,
		Temperature:   a.Temperature,
		TopP:          a.TopP,
		MaxTokens:     a.MaxTokens,
		Timeout:       timeout,
		EnableCache:   enableCache,
		BypassCache:   in.BypassCache,
		CacheTTL:      ttl,
		MaxRetries:    a.MaxRetries,
		CustomPricing: a.CustomPricing,
		Budget:        a.Budget,
		RateLimits:    a.RateLimits,
		Metadata:      in.Metadata,
	}, nil
}

// retrieve 检索失败时降级为无知识上下文
func (r *Runner) retrieve(ctx context.Context, a *Agent, query string) string {
	if r.retriever == nil || !a.Retrieval.Enabled {
		return ""
	}
	resp, err := r.retriever.Search(ctx, rag.SearchRequest{
		Query:               query,
		SearchType:          a.Retrieval.SearchType,
		TopK:                a.Retrieval.TopK,
		SimilarityThreshold: a.Retrieval.SimilarityThreshold,
		Filters:             rag.Filters{DocumentIDs: a.Retrieval.DocumentIDs},
	})
	if err != nil {
		r.logger.Warn("knowledge retrieval failed, continuing without context",
			zap.String("agent_id", a.ID),
			zap.Error(err),
		)
		return ""
	}
	return rag.BuildContext(resp.Results, r.maxContextChars)
}
