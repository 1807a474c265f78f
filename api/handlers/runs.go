package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/api"
	"github.com/serkansepil/agent-planner-sub001/types"
	"github.com/serkansepil/agent-planner-sub001/workflow"
)

// maxWait GET /v1/runs/{runID}?wait= 的上限
const maxWait = 5 * time.Minute

// =============================================================================
// 🧭 任务图运行 Handler
// =============================================================================

// RunService 任务编排能力，*workflow.Orchestrator 满足该接口
type RunService interface {
	Submit(ctx context.Context, workspaceID string, specs []workflow.TaskSpec, opts workflow.RunOptions) (*workflow.Run, error)
	Get(runID string) (*workflow.Run, error)
	Cancel(runID string) error
	List() []workflow.RunSummary
}

// RunHandler 运行接口处理器
type RunHandler struct {
	runs   RunService
	logger *zap.Logger
}

// NewRunHandler 创建运行处理器
func NewRunHandler(runs RunService, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{runs: runs, logger: logger.With(zap.String("handler", "runs"))}
}

// HandleCreate POST /v1/workspaces/{workspaceID}/runs
func (h *RunHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	var req api.CreateRunRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	run, err := h.runs.Submit(r.Context(), workspaceID, req.Tasks, req.RunOptions)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.logger.Info("run submitted",
		zap.String("run_id", run.ID),
		zap.String("workspace_id", workspaceID),
		zap.Int("tasks", len(req.Tasks)),
	)
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	WriteStatus(w, r, http.StatusAccepted, api.CreateRunResponse{
		RunID:  run.ID,
		Status: run.Status(),
		Tasks:  len(req.Tasks),
	})
}

// HandleList GET /v1/runs
func (h *RunHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	runs := h.runs.List()
	WriteSuccess(w, r, api.ListResponse[workflow.RunSummary]{Items: runs, Total: len(runs)})
}

// HandleGet GET /v1/runs/{runID}；wait=<duration> 时最多等待运行结束
func (h *RunHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(chi.URLParam(r, "runID"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	if raw := r.URL.Query().Get("wait"); raw != "" {
		wait, err := time.ParseDuration(raw)
		if err != nil || wait < 0 {
			WriteError(w, r, types.NewValidationError("wait must be a non-negative duration such as 30s"), h.logger)
			return
		}
		wait = min(wait, maxWait)
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()
		// 超时只意味着运行仍在进行，返回当前状态
		_ = run.Wait(ctx)
	}
	WriteSuccess(w, r, run.Summary())
}

// HandleCancel POST /v1/runs/{runID}/cancel
func (h *RunHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := h.runs.Cancel(runID); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.logger.Info("run cancel requested", zap.String("run_id", runID))
	WriteStatus(w, r, http.StatusAccepted, map[string]string{"run_id": runID})
}

// HandleEvents GET /v1/runs/{runID}/events，先回放历史事件，运行结束后以 run 事件收尾
func (h *RunHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(chi.URLParam(r, "runID"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, r, types.NewError(types.ErrInternal, "streaming not supported"), h.logger)
		return
	}

	events, stop := run.Subscribe()
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = writeSSE(w, "run", run.Summary())
				flusher.Flush()
				return
			}
			if err := writeSSE(w, "task", ev); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
