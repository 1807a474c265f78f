package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/llm/history"
	"github.com/serkansepil/agent-planner-sub001/types"
)

// =============================================================================
// 📜 执行历史 Handler
// =============================================================================

// HistoryReader 执行历史查询，*history.Store 满足该接口
type HistoryReader interface {
	Get(ctx context.Context, id string) (*history.ExecutionRecord, error)
	List(ctx context.Context, f history.Filter) (*history.Page, error)
	Stats(ctx context.Context, f history.Filter) (*history.Stats, error)
}

// ExecutionHandler 执行历史接口处理器
type ExecutionHandler struct {
	store  HistoryReader
	logger *zap.Logger
}

// NewExecutionHandler 创建执行历史处理器
func NewExecutionHandler(store HistoryReader, logger *zap.Logger) *ExecutionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutionHandler{store: store, logger: logger.With(zap.String("handler", "executions"))}
}

// HandleList GET /v1/executions
func (h *ExecutionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	f, err := ParseHistoryFilter(r.URL.Query())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	page, err := h.store.List(r.Context(), f)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, page)
}

// HandleStats GET /v1/executions/stats
func (h *ExecutionHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	f, err := ParseHistoryFilter(r.URL.Query())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	stats, err := h.store.Stats(r.Context(), f)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, stats)
}

// HandleGet GET /v1/executions/{executionID}
func (h *ExecutionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, rec)
}

// ParseHistoryFilter 解析查询参数。时间使用 RFC3339，分页默认值由 history.Filter.Normalize 填充。
func ParseHistoryFilter(q url.Values) (history.Filter, error) {
	f := history.Filter{
		AgentID:   q.Get("agent_id"),
		Status:    history.Status(q.Get("status")),
		Provider:  q.Get("provider"),
		Model:     q.Get("model"),
		SessionID: q.Get("session_id"),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
	switch f.Status {
	case "", history.StatusSuccess, history.StatusFailed:
	default:
		return f, types.NewValidationError(fmt.Sprintf("unknown status %q", f.Status))
	}

	if raw := q.Get("cached"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, types.NewValidationError("cached must be a boolean")
		}
		f.Cached = &v
	}

	var err error
	if f.From, err = parseTime(q, "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q, "to"); err != nil {
		return f, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, types.NewValidationError("to must not be before from")
	}

	if f.Page, err = parseInt(q, "page"); err != nil {
		return f, err
	}
	if f.Limit, err = parseInt(q, "limit"); err != nil {
		return f, err
	}
	return f, nil
}

func parseTime(q url.Values, key string) (time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, types.NewValidationError(key + " must be an RFC3339 timestamp")
	}
	return t, nil
}

func parseInt(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, types.NewValidationError(key + " must be a non-negative integer")
	}
	return v, nil
}
