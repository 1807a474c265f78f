package collaboration

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/serkansepil/agent-planner-sub001/types"
)

// MessageType 消息类型
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeNotification MessageType = "notification"
	MessageTypeBroadcast    MessageType = "broadcast"
)

// PayloadKind 载荷的类型标签
type PayloadKind string

const (
	PayloadText       PayloadKind = "text"
	PayloadJSON       PayloadKind = "json"
	PayloadTaskResult PayloadKind = "task_result"
	PayloadError      PayloadKind = "error"
)

// Payload 带类型标签的消息内容
type Payload struct {
	Kind PayloadKind     `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TextPayload 文本载荷
func TextPayload(s string) Payload {
	data, _ := json.Marshal(s)
	return Payload{Kind: PayloadText, Data: data}
}

// ErrorPayload 错误载荷
func ErrorPayload(err error) Payload {
	data, _ := json.Marshal(err.Error())
	return Payload{Kind: PayloadError, Data: data}
}

// JSONPayload 将任意值编码为载荷
func JSONPayload(kind PayloadKind, v any) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Payload{Kind: kind, Data: data}, nil
}

// Text 返回文本表示；JSON 类载荷返回原始 JSON
func (p Payload) Text() (string, error) {
	switch p.Kind {
	case PayloadText, PayloadError:
		var s string
		if err := json.Unmarshal(p.Data, &s); err != nil {
			return "", fmt.Errorf("decode %s payload: %w", p.Kind, err)
		}
		return s, nil
	case PayloadJSON, PayloadTaskResult:
		return string(p.Data), nil
	default:
		return "", fmt.Errorf("unknown payload kind %q", p.Kind)
	}
}

// Decode 解码到 v
func (p Payload) Decode(v any) error {
	if err := json.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", p.Kind, err)
	}
	return nil
}

// Message Agent 间消息
type Message struct {
	ID               string         `json:"id"`
	FromID           string         `json:"from_agent_id"`
	ToID             string         `json:"to_agent_id,omitempty"` // 空表示广播
	Type             MessageType    `json:"message_type"`
	Content          Payload        `json:"content"`
	Priority         types.Priority `json:"priority"`
	CorrelationID    string         `json:"correlation_id,omitempty"`
	RequiresResponse bool           `json:"requires_response"`
	// Deadline 请求方放弃等待的时间，处理方据此限定处理时长
	Deadline         time.Time      `json:"deadline,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// IsBroadcast 是否广播
func (m *Message) IsBroadcast() bool { return m.ToID == "" }

// NewResponse 构造对 req 的响应
func NewResponse(req *Message, fromID string, content Payload) *Message {
	return &Message{
		FromID:        fromID,
		ToID:          req.FromID,
		Type:          MessageTypeResponse,
		Content:       content,
		Priority:      req.Priority,
		CorrelationID: req.CorrelationID,
	}
}

// validate 按消息类型校验字段
func (m *Message) validate() error {
	switch m.Type {
	case MessageTypeRequest:
		if m.ToID == "" {
			return types.NewValidationError("request message requires to_agent_id")
		}
	case MessageTypeResponse:
		if m.CorrelationID == "" {
			return types.NewValidationError("response message requires correlation_id")
		}
	case MessageTypeNotification:
	case MessageTypeBroadcast:
		if m.ToID != "" {
			return types.NewValidationError("broadcast message must not set to_agent_id")
		}
	default:
		return types.NewValidationError(fmt.Sprintf("unknown message type %q", m.Type))
	}
	return nil
}
