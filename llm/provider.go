package llm

import (
	"context"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options 采样参数。零值表示使用 Provider 默认值。
type Options struct {
	Model       string        `json:"model"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Timeout     time.Duration `json:"-"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type Response struct {
	ID           string `json:"id,omitempty"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// StreamChunk 是流式输出的增量片段。Done 或 Err 出现后通道随即关闭。
type StreamChunk struct {
	Content      string `json:"content,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Done         bool   `json:"done"`
	Usage        *Usage `json:"usage,omitempty"` // 最终 chunk 可带 usage
	Err          error  `json:"-"`
}

// Provider 定义了统一的模型适配接口。
// 传输层失败统一返回 *types.Error（PROVIDER_ERROR），Retryable 标记是否可重试。
type Provider interface {
	// Execute 发起同步请求，返回完整响应
	Execute(ctx context.Context, messages []Message, opts Options) (*Response, error)

	// ExecuteStream 发起流式请求。ctx 取消后生产者停止并关闭通道。
	ExecuteStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error)

	// SupportsModel 按前缀判断是否支持该模型
	SupportsModel(model string) bool

	// Name 返回 Provider 的唯一标识
	Name() string
}

// SystemPrompt 合并所有 system 消息，返回合并文本与剩余消息。
// 供不接受 system 角色的服务商（Anthropic、Gemini）使用。
func SystemPrompt(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
