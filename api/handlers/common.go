package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/internal/ctxkeys"
	"github.com/serkansepil/agent-planner-sub001/types"
)

// MaxRequestBodyBytes 请求体上限
const MaxRequestBodyBytes = 1 << 20

// StatusClientClosedRequest 客户端在响应前断开
const StatusClientClosedRequest = 499

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Retryable   bool   `json:"retryable"`
	Provider    string `json:"provider,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	HTTPStatus  int    `json:"-"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// 头已写出，编码失败时无法再改变响应
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入 200 成功响应
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	WriteStatus(w, r, http.StatusOK, data)
}

// WriteStatus 以指定状态码写入成功响应
func WriteStatus(w http.ResponseWriter, r *http.Request, status int, data any) {
	WriteJSON(w, status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

// WriteError 写入错误响应。非 *types.Error 的错误按上下文错误或内部错误处理。
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	apiErr := toAPIError(err)
	status := apiErr.HTTPStatus
	if status == 0 {
		status = statusFor(apiErr.Code)
	}

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(apiErr.Code)),
			zap.Int("status", status),
			zap.Bool("retryable", apiErr.Retryable),
			zap.Error(err),
		}
		if r != nil {
			fields = append(fields, ctxkeys.LogFields(r.Context())...)
		}
		if status >= http.StatusInternalServerError {
			logger.Error("api error", fields...)
		} else {
			logger.Debug("api error", fields...)
		}
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:        string(apiErr.Code),
			Message:     apiErr.Message,
			Retryable:   apiErr.Retryable,
			Provider:    apiErr.Provider,
			TaskID:      apiErr.TaskID,
			ExecutionID: apiErr.ExecutionID,
			HTTPStatus:  status,
		},
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

func toAPIError(err error) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.ErrTaskTimeout, "request timed out").
			WithCause(err).WithRetryable(true).WithHTTPStatus(http.StatusGatewayTimeout)
	case errors.Is(err, context.Canceled):
		return types.NewError(types.ErrTaskCancelled, "request cancelled").
			WithCause(err).WithHTTPStatus(StatusClientClosedRequest)
	case err == nil:
		return types.NewError(types.ErrInternal, "unknown error")
	default:
		return types.NewError(types.ErrInternal, "internal error").WithCause(err)
	}
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

func statusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrValidation, types.ErrModelNotSupported:
		return http.StatusBadRequest
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrRateLimitExceeded:
		return http.StatusTooManyRequests
	case types.ErrBudgetExceeded:
		return http.StatusPaymentRequired
	case types.ErrNoEligibleAgent:
		return http.StatusUnprocessableEntity
	case types.ErrDependencyFailed:
		return http.StatusFailedDependency
	case types.ErrTaskCancelled:
		return http.StatusConflict
	case types.ErrTaskTimeout:
		return http.StatusGatewayTimeout
	case types.ErrProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	id, _ := ctxkeys.RequestID(r.Context())
	return id
}

// =============================================================================
// 🛡️ 请求解析
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体，未知字段与超长请求体视为校验错误
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return types.NewValidationError("request body is empty")
	}
	body := http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return types.NewValidationError(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)).
				WithHTTPStatus(http.StatusRequestEntityTooLarge)
		}
		return types.NewValidationError("invalid JSON body").WithCause(err)
	}
	return nil
}

// =============================================================================
// 📊 响应包装器
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

// WriteHeader 只记录第一次写入的状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush SSE 需要逐条刷新
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap 供 http.ResponseController 使用
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
