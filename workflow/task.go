package workflow

import (
	"encoding/json"
	"time"

	"github.com/serkansepil/agent-planner-sub001/types"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskQueued     TaskStatus = "queued"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal 是否终态
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskType 任务类型
type TaskType string

const (
	// TaskTypePrompt 以分配到的智能体执行提示词
	TaskTypePrompt TaskType = "prompt"
	// TaskTypeRequest 经消息总线请求另一个智能体并等待响应
	TaskTypeRequest TaskType = "request"
)

// TaskSpec 提交任务图时的单个任务
type TaskSpec struct {
	// ID 为空时使用 Name 作为标识
	ID                   string          `json:"id,omitempty"`
	Name                 string          `json:"name"`
	Description          string          `json:"description,omitempty"`
	Type                 TaskType        `json:"type,omitempty"`
	RequiredCapabilities []string        `json:"required_capabilities,omitempty"`
	PreferredRole        string          `json:"preferred_role,omitempty"`
	Priority             string          `json:"priority,omitempty"`
	Input                json.RawMessage `json:"input,omitempty"`
	Dependencies         []string        `json:"dependencies,omitempty"`
	Timeout              Duration        `json:"timeout,omitempty"`
	MaxRetries           *int            `json:"max_retries,omitempty"`
	FallbackAgentID      string          `json:"fallback_agent_id,omitempty"`
	// TargetAgentID request 任务的接收方
	TargetAgentID string `json:"target_agent_id,omitempty"`
}

// Duration 支持 "30s" 字符串或纳秒整数的 JSON 时长
type Duration time.Duration

// UnmarshalJSON 解析时长
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON 输出字符串形式
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// task 运行内的任务记录，只由调度循环修改
type task struct {
	seq          int
	id           string
	name         string
	description  string
	taskType     TaskType
	capabilities []string
	role         string
	priority     types.Priority
	input        json.RawMessage
	dependencies []string
	timeout      time.Duration
	maxRetries   int
	fallbackID   string
	targetID     string

	status       TaskStatus
	retryCount   int
	agentID      string
	forcedAgent  string
	fallbackUsed bool
	remaining    int // 尚未完成的依赖数
	dependents   []*task

	result TaskResult
}

// TaskAssignment 一次任务分配
type TaskAssignment struct {
	TaskID            string         `json:"task_id"`
	AgentID           string         `json:"agent_id"`
	AssignedAt        time.Time      `json:"assigned_at"`
	Priority          types.Priority `json:"priority"`
	EstimatedDuration time.Duration  `json:"estimated_duration"`
}

// TaskResult 任务的对外结果
type TaskResult struct {
	TaskID       string          `json:"task_id"`
	Name         string          `json:"name"`
	Type         TaskType        `json:"type"`
	Status       TaskStatus      `json:"status"`
	Priority     types.Priority  `json:"priority"`
	AgentID      string          `json:"agent_id,omitempty"`
	Output       string          `json:"output,omitempty"`
	ErrorCode    types.ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Retryable    bool            `json:"retryable,omitempty"`
	RetryCount   int             `json:"retry_count"`
	Attempts     int             `json:"attempts"`

	ExecutionID  string  `json:"execution_id,omitempty"`
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	Cost         float64 `json:"cost,omitempty"`
	Cached       bool    `json:"cached,omitempty"`

	Assignments []TaskAssignment `json:"assignments,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// TaskEvent 任务状态迁移
type TaskEvent struct {
	RunID      string          `json:"run_id"`
	TaskID     string          `json:"task_id"`
	From       TaskStatus      `json:"from"`
	To         TaskStatus      `json:"to"`
	AgentID    string          `json:"agent_id,omitempty"`
	RetryCount int             `json:"retry_count"`
	// Attempt 事件所属的尝试序号，从 1 开始；尚未派发时为 0
	Attempt    int             `json:"attempt,omitempty"`
	ErrorCode  types.ErrorCode `json:"error_code,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
