package dispatch

import (
	"strings"
	"time"

	"github.com/serkansepil/agent-planner-sub001/llm"
	"github.com/serkansepil/agent-planner-sub001/llm/budget"
	"github.com/serkansepil/agent-planner-sub001/llm/cache"
	"github.com/serkansepil/agent-planner-sub001/types"
)

// Request 一次执行请求。
type Request struct {
	ExecutionID string `json:"execution_id,omitempty"`
	AgentID     string `json:"agent_id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	TaskID      string `json:"task_id,omitempty"`

	// Provider 为空时按 Model 经注册表解析。
	Provider    string        `json:"provider,omitempty"`
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Timeout     time.Duration `json:"-"`

	EnableCache bool          `json:"enable_cache"`
	BypassCache bool          `json:"bypass_cache,omitempty"`
	CacheTTL    time.Duration `json:"-"`

	// MaxRetries 为 nil 时使用调度器默认策略。
	MaxRetries    *int                 `json:"max_retries,omitempty"`
	CustomPricing *budget.ModelPricing `json:"custom_pricing,omitempty"`
	Budget        budget.Budget        `json:"budget"`
	RateLimits    budget.RateLimits    `json:"rate_limits"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate 检查必填字段。
func (r *Request) Validate() error {
	if r == nil {
		return types.NewValidationError("request is nil")
	}
	if strings.TrimSpace(r.AgentID) == "" {
		return types.NewValidationError("agent id is required")
	}
	if strings.TrimSpace(r.Model) == "" {
		return types.NewValidationError("model is required")
	}
	if len(r.Messages) == 0 {
		return types.NewValidationError("at least one message is required")
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return types.NewValidationError("max retries must not be negative")
	}
	return nil
}

// CacheKey 返回请求指纹。
func (r *Request) CacheKey() string {
	return cache.Fingerprint(cache.KeyInput{
		AgentID:     r.AgentID,
		Model:       r.Model,
		Messages:    r.Messages,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		MaxTokens:   r.MaxTokens,
		Stop:        r.Stop,
	})
}

func (r *Request) options() llm.Options {
	return llm.Options{
		Model:       r.Model,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		MaxTokens:   r.MaxTokens,
		Stop:        r.Stop,
		Timeout:     r.Timeout,
	}
}

// Result 执行的权威结果。
type Result struct {
	ExecutionID  string      `json:"execution_id"`
	Provider     string      `json:"provider"`
	Model        string      `json:"model"`
	Content      string      `json:"content"`
	FinishReason string      `json:"finish_reason,omitempty"`
	InputTokens  int         `json:"input_tokens"`
	OutputTokens int         `json:"output_tokens"`
	TotalTokens  int         `json:"total_tokens"`
	Cost         budget.Cost `json:"cost"`
	LatencyMs    int64       `json:"latency_ms"`
	Cached       bool        `json:"cached"`
	CacheKey     string      `json:"cache_key,omitempty"`
	RetryCount   int         `json:"retry_count"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// StreamEvent 流式事件。最后一个事件 Done 为 true 并携带 Result，或携带 Err。
type StreamEvent struct {
	Content string  `json:"content,omitempty"`
	Done    bool    `json:"done"`
	Result  *Result `json:"result,omitempty"`
	Err     error   `json:"-"`
}

func entryFromResult(res *Result) *cache.Entry {
	return &cache.Entry{
		Provider:     res.Provider,
		Model:        res.Model,
		Content:      res.Content,
		FinishReason: res.FinishReason,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		TotalTokens:  res.TotalTokens,
		Cost:         res.Cost,
	}
}

func resultFromEntry(e *cache.Entry) *Result {
	return &Result{
		Provider:     e.Provider,
		Model:        e.Model,
		Content:      e.Content,
		FinishReason: e.FinishReason,
		InputTokens:  e.InputTokens,
		OutputTokens: e.OutputTokens,
		TotalTokens:  e.TotalTokens,
		Cost:         e.Cost,
	}
}
