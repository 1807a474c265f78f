package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/serkansepil/agent-planner-sub001/llm"
)

// KeyInput 参与指纹计算的字段。
type KeyInput struct {
	AgentID     string        `json:"agent_id"`
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float32       `json:"temperature"`
	TopP        float32       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
	Stop        []string      `json:"stop,omitempty"`
}

// normalizeContent trims and collapses runs of whitespace.
func normalizeContent(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Fingerprint returns a stable sha256 hex key for in.
func Fingerprint(in KeyInput) string {
	norm := in
	norm.Model = strings.TrimSpace(in.Model)
	norm.Messages = make([]llm.Message, len(in.Messages))
	for i, m := range in.Messages {
		norm.Messages[i] = llm.Message{Role: m.Role, Content: normalizeContent(m.Content)}
	}
	// 结构体字段顺序固定，json 编码即为规范形式
	data, _ := json.Marshal(norm)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
