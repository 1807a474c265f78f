package tokenizer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/serkansepil/agent-planner-sub001/llm"
)

const (
	messageOverhead = 4 // <|start|>role\n content<|end|>\n
	replyOverhead   = 3
)

// TiktokenTokenizer 为 OpenAI 系列模型封装 tiktoken。
type TiktokenTokenizer struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// modelEncodings 将模型前缀映射到 tiktoken 编码。
var modelEncodings = map[string]string{
	"gpt-4o":          "o200k_base",
	"o1":              "o200k_base",
	"o3":              "o200k_base",
	"o4":              "o200k_base",
	"gpt-4":           "cl100k_base",
	"gpt-3.5-turbo":   "cl100k_base",
	"text-embedding-": "cl100k_base",
}

func encodingFor(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	prefixes := make([]string, 0, len(modelEncodings))
	for p := range modelEncodings {
		prefixes = append(prefixes, p)
	}
	// 最长前缀优先，gpt-4o 不会被 gpt-4 截获
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, p := range prefixes {
		if strings.HasPrefix(model, p) {
			return modelEncodings[p]
		}
	}
	return "cl100k_base"
}

// NewTiktokenTokenizer 为给定模型创建基于 tiktoken 的分词器。
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	return &TiktokenTokenizer{model: model, encoding: encodingFor(model)}
}

// init 延迟加载编码（首次使用时可能需要下载 BPE 数据）。
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []llm.Message) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	total := 0
	for _, msg := range messages {
		total += messageOverhead
		total += len(t.enc.Encode(msg.Content, nil, nil))
		total += len(t.enc.Encode(string(msg.Role), nil, nil))
	}
	return total + replyOverhead, nil
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
