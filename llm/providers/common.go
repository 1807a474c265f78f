package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/serkansepil/agent-planner-sub001/llm"
	"github.com/serkansepil/agent-planner-sub001/types"
)

// Config 所有 Provider 共享的基础配置字段。
type Config struct {
	APIKey   string        `json:"api_key" yaml:"api_key"`
	BaseURL  string        `json:"base_url" yaml:"base_url"`
	Model    string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Prefixes []string      `json:"prefixes,omitempty" yaml:"prefixes,omitempty"` // 声明支持的模型前缀
}

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 PROVIDER_ERROR。
// 429、529 与 5xx 可重试；401、403、400 为终态。
func MapHTTPError(status int, msg string, provider string) *types.Error {
	retryable := false
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest:
		retryable = false
	case http.StatusTooManyRequests, 529:
		retryable = true
	default:
		retryable = status >= 500
	}
	return types.NewError(types.ErrProvider, fmt.Sprintf("%s returned %d: %s", provider, status, msg)).
		WithHTTPStatus(status).
		WithRetryable(retryable).
		WithProvider(provider)
}

// TransportError 包装网络层错误。调用方取消导致的失败不可重试。
func TransportError(ctx context.Context, err error, provider string) *types.Error {
	retryable := ctx.Err() == nil
	return types.NewProviderError(provider, "transport failure", retryable).WithCause(err)
}

// ReadErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		kind := errResp.Error.Type
		if kind == "" {
			kind = errResp.Error.Status
		}
		if kind != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, kind)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// ChooseModel 根据请求和默认值选择模型
func ChooseModel(requested, defaultModel, fallbackModel string) string {
	if requested != "" {
		return requested
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallbackModel
}

// HasAnyPrefix reports whether model starts with one of prefixes.
func HasAnyPrefix(model string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// SafeCloseBody 安全关闭 HTTP 响应体并忽略错误
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}

// Emit 发送 chunk，ctx 取消时放弃并返回 false。
func Emit(ctx context.Context, ch chan<- llm.StreamChunk, chunk llm.StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- chunk:
		return true
	}
}

// SSEEvent is one server-sent event. Event is empty for data-only streams.
type SSEEvent struct {
	Event string
	Data  string
}

// ReadSSE 逐事件读取 SSE 流，直到 fn 返回 stop、流结束或 ctx 取消。
// 返回的 error 为读流错误；ctx 取消时返回 ctx.Err()。
func ReadSSE(ctx context.Context, body io.Reader, fn func(SSEEvent) (stop bool, err error)) error {
	reader := bufio.NewReader(body)
	var event string
	var data strings.Builder
	flush := func() (bool, error) {
		if data.Len() == 0 {
			event = ""
			return false, nil
		}
		ev := SSEEvent{Event: event, Data: data.String()}
		event = ""
		data.Reset()
		return fn(ev)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		switch {
		case trimmed == "":
			if stop, ferr := flush(); stop || ferr != nil {
				return ferr
			}
		case strings.HasPrefix(trimmed, ":"):
			// comment / keep-alive
		case strings.HasPrefix(trimmed, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
		case strings.HasPrefix(trimmed, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		}
		if err == io.EOF {
			_, ferr := flush()
			return ferr
		}
	}
}
