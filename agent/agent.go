package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/serkansepil/agent-planner-sub001/llm/budget"
	"github.com/serkansepil/agent-planner-sub001/rag"
	"github.com/serkansepil/agent-planner-sub001/types"
)

// RetrievalConfig 智能体的知识检索设置
type RetrievalConfig struct {
	Enabled             bool           `json:"enabled" yaml:"enabled"`
	SearchType          rag.SearchType `json:"search_type,omitempty" yaml:"search_type,omitempty"`
	TopK                int            `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	SimilarityThreshold float64        `json:"similarity_threshold,omitempty" yaml:"similarity_threshold,omitempty"`
	DocumentIDs         []string       `json:"document_ids,omitempty" yaml:"document_ids,omitempty"`
}

// Agent 智能体描述
type Agent struct {
	ID           string   `json:"id" yaml:"id"`
	WorkspaceID  string   `json:"workspace_id,omitempty" yaml:"workspace_id,omitempty"`
	Name         string   `json:"name" yaml:"name"`
	Role         string   `json:"role,omitempty" yaml:"role,omitempty"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`

	Provider     string  `json:"provider,omitempty" yaml:"provider,omitempty"` // 为空时按模型前缀解析
	Model        string  `json:"model" yaml:"model"`
	SystemPrompt string  `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Temperature  float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP         float32 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	EnableCache bool          `json:"enable_cache" yaml:"enable_cache"`
	CacheTTL    time.Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries  *int          `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	Budget        budget.Budget        `json:"budget" yaml:"budget"`
	RateLimits    budget.RateLimits    `json:"rate_limits" yaml:"rate_limits"`
	CustomPricing *budget.ModelPricing `json:"custom_pricing,omitempty" yaml:"custom_pricing,omitempty"`
	Retrieval     RetrievalConfig      `json:"retrieval" yaml:"retrieval"`

	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Validate 校验必填字段
func (a *Agent) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return types.NewValidationError("agent id is required")
	}
	if strings.TrimSpace(a.Model) == "" {
		return types.NewValidationError(fmt.Sprintf("agent %s: model is required", a.ID))
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return types.NewValidationError(fmt.Sprintf("agent %s: temperature must be within [0, 2]", a.ID))
	}
	if a.MaxTokens < 0 {
		return types.NewValidationError(fmt.Sprintf("agent %s: max_tokens must not be negative", a.ID))
	}
	return nil
}

// HasCapabilities 能力集合是否覆盖 required（大小写不敏感）
func (a *Agent) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[strings.ToLower(strings.TrimSpace(r))]; !ok {
			return false
		}
	}
	return true
}

// Clone 深拷贝
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Capabilities = append([]string(nil), a.Capabilities...)
	cp.Retrieval.DocumentIDs = append([]string(nil), a.Retrieval.DocumentIDs...)
	if a.MaxRetries != nil {
		n := *a.MaxRetries
		cp.MaxRetries = &n
	}
	if a.CustomPricing != nil {
		p := *a.CustomPricing
		cp.CustomPricing = &p
	}
	if a.Metadata != nil {
		cp.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Workspace 工作区；AgentIDs 的顺序即声明顺序
type Workspace struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	AgentIDs    []string `json:"agents" yaml:"agents"`
}
