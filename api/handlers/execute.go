package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/agent"
	"github.com/serkansepil/agent-planner-sub001/api"
	"github.com/serkansepil/agent-planner-sub001/llm/dispatch"
	"github.com/serkansepil/agent-planner-sub001/types"
)

// =============================================================================
// 🤖 智能体执行 Handler
// =============================================================================

// AgentExecutor 按智能体 ID 执行提示词，*agent.Runner 满足该接口
type AgentExecutor interface {
	Execute(ctx context.Context, agentID string, in agent.ExecuteInput) (*dispatch.Result, error)
	ExecuteStream(ctx context.Context, agentID string, in agent.ExecuteInput) (<-chan dispatch.StreamEvent, error)
}

// ExecuteHandler 执行接口处理器
type ExecuteHandler struct {
	executor AgentExecutor
	logger   *zap.Logger
}

// NewExecuteHandler 创建执行处理器
func NewExecuteHandler(executor AgentExecutor, logger *zap.Logger) *ExecuteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecuteHandler{executor: executor, logger: logger.With(zap.String("handler", "execute"))}
}

// HandleExecute POST /v1/agents/{agentID}/execute
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var req api.ExecuteRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	if req.Streaming {
		h.stream(w, r, agentID, req.Input())
		return
	}

	res, err := h.executor.Execute(r.Context(), agentID, req.Input())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, res)
}

// stream 以 SSE 推送内容增量，最后一条事件 done=true 并附带执行汇总
func (h *ExecuteHandler) stream(w http.ResponseWriter, r *http.Request, agentID string, in agent.ExecuteInput) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, r, types.NewError(types.ErrInternal, "streaming not supported"), h.logger)
		return
	}

	events, err := h.executor.ExecuteStream(r.Context(), agentID, in)
	if err != nil {
		// 流尚未开始，按普通错误响应返回
		WriteError(w, r, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		if ev.Err != nil {
			h.logger.Warn("stream error", zap.String("agent_id", agentID), zap.Error(ev.Err))
			writeSSEError(w, ev.Err)
			flusher.Flush()
			continue
		}
		chunk := api.StreamChunk{Content: ev.Content, Done: ev.Done}
		if ev.Result != nil {
			chunk.ExecutionID = ev.Result.ExecutionID
			chunk.TotalTokens = ev.Result.TotalTokens
			chunk.Cost = ev.Result.Cost.TotalCost
			chunk.Cached = ev.Result.Cached
		}
		if err := writeSSE(w, "", chunk); err != nil {
			h.logger.Debug("client went away", zap.Error(err))
			return
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := w.Write([]byte("event: " + event + "\n")); err != nil {
			return err
		}
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}

func writeSSEError(w http.ResponseWriter, err error) {
	apiErr := toAPIError(err)
	_ = writeSSE(w, "error", ErrorInfo{
		Code:        string(apiErr.Code),
		Message:     apiErr.Message,
		Retryable:   apiErr.Retryable,
		Provider:    apiErr.Provider,
		ExecutionID: apiErr.ExecutionID,
	})
}
