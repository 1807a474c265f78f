package api

import (
	"strings"
	"time"

	"github.com/serkansepil/agent-planner-sub001/agent"
	"github.com/serkansepil/agent-planner-sub001/types"
	"github.com/serkansepil/agent-planner-sub001/workflow"
)

// MaxCacheTTLSeconds 单次执行可请求的最长缓存时间
const MaxCacheTTLSeconds = 7 * 24 * 3600

// ExecuteRequest POST /v1/agents/{agentID}/execute 请求体
type ExecuteRequest struct {
	Prompt    string `json:"prompt"`
	Context   string `json:"context,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Streaming bool   `json:"streaming"`
	// EnableCache 为空时沿用智能体设置
	EnableCache *bool `json:"enable_cache,omitempty"`
	BypassCache bool  `json:"bypass_cache,omitempty"`
	// CacheTTL 秒
	CacheTTL int               `json:"cache_ttl,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate 校验请求
func (r *ExecuteRequest) Validate() *types.Error {
	if strings.TrimSpace(r.Prompt) == "" {
		return types.NewValidationError("prompt is required")
	}
	if r.CacheTTL < 0 || r.CacheTTL > MaxCacheTTLSeconds {
		return types.NewValidationError("cache_ttl must be within [0, 604800] seconds")
	}
	return nil
}

// Input 转换为 Runner 的调用参数
func (r *ExecuteRequest) Input() agent.ExecuteInput {
	return agent.ExecuteInput{
		Prompt:      r.Prompt,
		Context:     r.Context,
		SessionID:   r.SessionID,
		EnableCache: r.EnableCache,
		BypassCache: r.BypassCache,
		CacheTTL:    time.Duration(r.CacheTTL) * time.Second,
		Metadata:    r.Metadata,
	}
}

// StreamChunk SSE 事件负载
type StreamChunk struct {
	Content     string  `json:"content"`
	Done        bool    `json:"done"`
	ExecutionID string  `json:"execution_id,omitempty"`
	TotalTokens int     `json:"total_tokens,omitempty"`
	Cost        float64 `json:"cost,omitempty"`
	Cached      bool    `json:"cached,omitempty"`
}

// CreateRunRequest POST /v1/workspaces/{workspaceID}/runs 请求体
type CreateRunRequest struct {
	workflow.RunOptions
	Tasks []workflow.TaskSpec `json:"tasks"`
}

// Validate 校验请求；任务图本身由编排器校验
func (r *CreateRunRequest) Validate() *types.Error {
	if len(r.Tasks) == 0 {
		return types.NewValidationError("at least one task is required")
	}
	if r.MaxParallel < 0 {
		return types.NewValidationError("max_parallel must not be negative")
	}
	return nil
}

// CreateRunResponse 提交运行后的响应
type CreateRunResponse struct {
	RunID  string             `json:"run_id"`
	Status workflow.RunStatus `json:"status"`
	Tasks  int                `json:"tasks"`
}

// ListResponse 分页列表
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}
