package history

import (
	"time"
)

// Status 执行状态
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// ExecutionRecord 一次执行的权威结果（每个请求一条，重试计入 RetryCount）。
type ExecutionRecord struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	AgentID      string    `gorm:"size:64;index" json:"agent_id"`
	WorkspaceID  string    `gorm:"size:64;index" json:"workspace_id,omitempty"`
	SessionID    string    `gorm:"size:64;index" json:"session_id,omitempty"`
	RunID        string    `gorm:"size:64" json:"run_id,omitempty"`
	TaskID       string    `gorm:"size:64" json:"task_id,omitempty"`
	Provider     string    `gorm:"size:32;index" json:"provider"`
	Model        string    `gorm:"size:128;index" json:"model"`
	Status       Status    `gorm:"size:16;index" json:"status"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	Cost         float64   `json:"cost"`
	Currency     string    `gorm:"size:8" json:"currency"`
	LatencyMs    int64     `json:"latency_ms"`
	Cached       bool      `gorm:"index" json:"cached"`
	CacheKey     string    `gorm:"size:64" json:"cache_key,omitempty"`
	RetryCount   int       `json:"retry_count"`
	ErrorCode    string    `gorm:"size:32" json:"error_code,omitempty"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (ExecutionRecord) TableName() string {
	return "executions"
}

// Filter 列表与统计的筛选条件。零值字段不参与筛选。
type Filter struct {
	AgentID   string
	Status    Status
	Provider  string
	Model     string
	SessionID string
	Cached    *bool
	From      time.Time
	To        time.Time

	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

var sortColumns = map[string]string{
	"createdAt":    "created_at",
	"created_at":   "created_at",
	"latencyMs":    "latency_ms",
	"latency_ms":   "latency_ms",
	"cost":         "cost",
	"totalTokens":  "total_tokens",
	"total_tokens": "total_tokens",
	"model":        "model",
	"provider":     "provider",
}

// Normalize 填充分页默认值并限制 limit 上限，未知排序字段回退到 created_at desc。
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "created_at"
	}
	f.SortBy = col
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
	return f
}

// Page 分页结果
type Page struct {
	Items      []ExecutionRecord `json:"items"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	TotalPages int               `json:"total_pages"`
}

// ModelStats 按模型汇总
type ModelStats struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Executions  int64   `json:"executions"`
	TotalTokens int64   `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
}

// Stats 执行统计
type Stats struct {
	TotalExecutions  int64        `json:"total_executions"`
	Successful       int64        `json:"successful"`
	Failed           int64        `json:"failed"`
	SuccessRate      float64      `json:"success_rate"`
	AvgLatencyMs     float64      `json:"avg_latency_ms"`
	TotalTokens      int64        `json:"total_tokens"`
	TotalCost        float64      `json:"total_cost"`
	CachedExecutions int64        `json:"cached_executions"`
	CacheHitRate     float64      `json:"cache_hit_rate"`
	CacheSavings     float64      `json:"cache_savings"`
	ByModel          []ModelStats `json:"by_model"`
}
