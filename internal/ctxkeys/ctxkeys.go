// Package ctxkeys 定义跨层传递的请求级上下文键。
package ctxkeys

import (
	"context"

	"go.uber.org/zap"
)

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	runIDKey     contextKey = "run_id"
)

// WithRequestID 设置 HTTP 请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取 HTTP 请求 ID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRunID 设置编排运行 ID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID 获取编排运行 ID
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// LogFields 把上下文中存在的 ID 转成 zap 字段
func LogFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id, ok := RequestID(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := RunID(ctx); ok {
		fields = append(fields, zap.String("run_id", id))
	}
	return fields
}
