// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持固定响应、流式输出、错误序列与延迟注入场景。
package mocks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/serkansepil/agent-planner-sub001/llm"
)

// --- MockProvider 结构 ---

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	name     string
	prefixes []string

	// 响应配置
	response     string
	streamChunks []string
	err          error
	errSequence  []error

	// Token 使用统计
	inputTokens  int
	outputTokens int

	executeFunc func(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error)
	streamFunc  func(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error)

	// 行为控制
	delay     time.Duration
	failAfter int
	callCount int
	calls     []MockProviderCall
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Messages []llm.Message
	Options  llm.Options
	Stream   bool
	Error    error
}

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider，默认名称 mock、支持 mock- 前缀模型
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name:         "mock",
		prefixes:     []string{"mock-"},
		response:     "Mock response",
		inputTokens:  10,
		outputTokens: 20,
	}
}

// WithName 设置 Provider 名称与支持的模型前缀
func (m *MockProvider) WithName(name string, prefixes ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	if len(prefixes) > 0 {
		m.prefixes = prefixes
	}
	return m
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError 设置每次调用都返回的错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithErrorSequence 前 len(errs) 次调用依次返回 errs（nil 表示该次成功）
func (m *MockProvider) WithErrorSequence(errs ...error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errSequence = errs
	return m
}

// WithStreamChunks 设置流式响应块
func (m *MockProvider) WithStreamChunks(chunks ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamChunks = chunks
	return m
}

// WithTokenUsage 设置 Token 使用量
func (m *MockProvider) WithTokenUsage(input, output int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputTokens = input
	m.outputTokens = output
	return m
}

// WithDelay 设置响应延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter 设置在第 N 次调用后失败
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithExecuteFunc 设置自定义 Execute 函数
func (m *MockProvider) WithExecuteFunc(fn func(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeFunc = fn
	return m
}

// WithStreamFunc 设置自定义 ExecuteStream 函数
func (m *MockProvider) WithStreamFunc(fn func(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamFunc = fn
	return m
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// SupportsModel 按前缀匹配模型
func (m *MockProvider) SupportsModel(model string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// nextError 在持锁状态下决定本次调用是否失败
func (m *MockProvider) nextError() error {
	m.callCount++
	if m.failAfter > 0 && m.callCount > m.failAfter {
		return errors.New("mock provider: configured to fail after N calls")
	}
	if idx := m.callCount - 1; idx < len(m.errSequence) {
		return m.errSequence[idx]
	}
	return m.err
}

func (m *MockProvider) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute 生成响应
func (m *MockProvider) Execute(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error) {
	m.mu.Lock()
	err := m.nextError()
	fn := m.executeFunc
	delay := m.delay
	call := MockProviderCall{Messages: messages, Options: opts, Error: err}
	m.calls = append(m.calls, call)
	resp := &llm.Response{
		ID:           "mock-response-id",
		Provider:     m.name,
		Model:        opts.Model,
		Content:      m.response,
		FinishReason: "stop",
		Usage: llm.Usage{
			InputTokens:  m.inputTokens,
			OutputTokens: m.outputTokens,
			TotalTokens:  m.inputTokens + m.outputTokens,
		},
	}
	m.mu.Unlock()

	if err := m.wait(ctx, delay); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, messages, opts)
	}
	return resp, nil
}

// ExecuteStream 流式生成响应
func (m *MockProvider) ExecuteStream(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	err := m.nextError()
	m.calls = append(m.calls, MockProviderCall{Messages: messages, Options: opts, Stream: true, Error: err})
	fn := m.streamFunc
	chunks := append([]string(nil), m.streamChunks...)
	if len(chunks) == 0 {
		chunks = []string{m.response}
	}
	usage := llm.Usage{InputTokens: m.inputTokens, OutputTokens: m.outputTokens, TotalTokens: m.inputTokens + m.outputTokens}
	delay := m.delay
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, messages, opts)
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if m.wait(ctx, delay) != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case ch <- llm.StreamChunk{Content: c}:
			}
		}
		select {
		case <-ctx.Done():
		case ch <- llm.StreamChunk{Done: true, FinishReason: "stop", Usage: &usage}:
		}
	}()
	return ch, nil
}

// --- 断言辅助 ---

// CallCount 返回调用次数
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Calls 返回调用记录副本
func (m *MockProvider) Calls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockProviderCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// LastCall 返回最后一次调用
func (m *MockProvider) LastCall() (MockProviderCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return MockProviderCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// Reset 清空调用记录
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.calls = nil
}

var _ llm.Provider = (*MockProvider)(nil)
