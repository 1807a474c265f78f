package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/agent"
	"github.com/serkansepil/agent-planner-sub001/llm/budget"
)

// BudgetReporter 预算查询，*budget.Accountant 满足该接口
type BudgetReporter interface {
	Report(ctx context.Context, agentID string, b budget.Budget) (*budget.BudgetReport, error)
}

// BudgetHandler 预算接口处理器
type BudgetHandler struct {
	directory agent.Directory
	reporter  BudgetReporter
	logger    *zap.Logger
}

// NewBudgetHandler 创建预算处理器
func NewBudgetHandler(directory agent.Directory, reporter BudgetReporter, logger *zap.Logger) *BudgetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BudgetHandler{directory: directory, reporter: reporter, logger: logger.With(zap.String("handler", "budget"))}
}

// HandleGet GET /v1/agents/{agentID}/budget
func (h *BudgetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.directory.GetAgent(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	report, err := h.reporter.Report(r.Context(), a.ID, a.Budget)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, report)
}
