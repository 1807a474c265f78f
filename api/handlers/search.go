package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/serkansepil/agent-planner-sub001/rag"
)

// Searcher 混合检索，*rag.Engine 满足该接口
type Searcher interface {
	Search(ctx context.Context, req rag.SearchRequest) (*rag.SearchResponse, error)
}

// SearchHandler 检索接口处理器
type SearchHandler struct {
	searcher Searcher
	logger   *zap.Logger
}

// NewSearchHandler 创建检索处理器
func NewSearchHandler(searcher Searcher, logger *zap.Logger) *SearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchHandler{searcher: searcher, logger: logger.With(zap.String("handler", "search"))}
}

// HandleSearch POST /v1/search
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req rag.SearchRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	resp, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, resp)
}
