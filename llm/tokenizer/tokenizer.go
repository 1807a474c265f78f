package tokenizer

import (
	"strings"
	"sync"

	"github.com/serkansepil/agent-planner-sub001/llm"
	"go.uber.org/zap"
)

// Tokenizer 是统一的 token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []llm.Message) (int, error)

	// Name 返回分词器的名称.
	Name() string
}

// Counter 按模型选择分词器并缓存实例。
// tiktoken 编码不可用时（未知模型或编码数据加载失败）回退到估算器。
type Counter struct {
	mu        sync.RWMutex
	byModel   map[string]Tokenizer
	estimator *EstimatorTokenizer
	logger    *zap.Logger
}

// NewCounter 创建 Counter。
func NewCounter(logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counter{
		byModel:   make(map[string]Tokenizer),
		estimator: NewEstimatorTokenizer(),
		logger:    logger.With(zap.String("component", "tokenizer")),
	}
}

func (c *Counter) tokenizerFor(model string) Tokenizer {
	c.mu.RLock()
	t, ok := c.byModel[model]
	c.mu.RUnlock()
	if ok {
		return t
	}

	t = c.estimator
	if isOpenAIFamily(model) {
		t = NewTiktokenTokenizer(model)
	}
	c.mu.Lock()
	c.byModel[model] = t
	c.mu.Unlock()
	return t
}

// CountMessages 估算请求的输入 token 数，从不返回错误。
func (c *Counter) CountMessages(model string, messages []llm.Message) int {
	t := c.tokenizerFor(model)
	n, err := t.CountMessages(messages)
	if err == nil {
		return n
	}
	c.logger.Debug("tokenizer unavailable, using estimator",
		zap.String("model", model), zap.String("tokenizer", t.Name()), zap.Error(err))
	c.mu.Lock()
	c.byModel[model] = c.estimator
	c.mu.Unlock()
	n, _ = c.estimator.CountMessages(messages)
	return n
}

// CountText 估算单段文本的 token 数。
func (c *Counter) CountText(model, text string) int {
	return c.CountMessages(model, []llm.Message{{Role: llm.RoleUser, Content: text}}) - messageOverhead - replyOverhead
}

func isOpenAIFamily(model string) bool {
	for _, p := range []string{"gpt-", "o1", "o3", "o4", "text-embedding-"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
