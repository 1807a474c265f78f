package handlers

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serkansepil/agent-planner-sub001/llm/history"
	"github.com/serkansepil/agent-planner-sub001/testutil"
	"github.com/serkansepil/agent-planner-sub001/types"
)

// --- helpers ---

func newExecutionRouter(t *testing.T) (http.Handler, *history.Store) {
	t.Helper()
	store := history.NewStore(testutil.NewTestDB(t), nil, nil)
	require.NoError(t, store.AutoMigrate())

	h := NewExecutionHandler(store, nil)
	r := chi.NewRouter()
	r.Get("/v1/executions", h.HandleList)
	r.Get("/v1/executions/stats", h.HandleStats)
	r.Get("/v1/executions/{executionID}", h.HandleGet)
	return r, store
}

func seedExecutions(t *testing.T, store *history.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recs := []history.ExecutionRecord{
		{ID: "e1", AgentID: "writer", Provider: "openai", Model: "gpt-4o-mini", Status: history.StatusSuccess, TotalTokens: 100, Cost: 0.01, LatencyMs: 300, CreatedAt: base},
		{ID: "e2", AgentID: "writer", Provider: "openai", Model: "gpt-4o-mini", Status: history.StatusSuccess, TotalTokens: 100, Cost: 0, Cached: true, CreatedAt: base.Add(time.Minute)},
		{ID: "e3", AgentID: "reviewer", Provider: "anthropic", Model: "claude-3-5-sonnet", Status: history.StatusFailed, ErrorCode: "PROVIDER_ERROR", CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range recs {
		require.NoError(t, store.Record(ctx, &recs[i]))
	}
}

// --- tests ---

func TestExecutionHandler_ListAndGet(t *testing.T) {
	router, store := newExecutionRouter(t)
	seedExecutions(t, store)

	w := do(t, router, http.MethodGet, "/v1/executions?agent_id=writer&sort_by=created_at&sort_order=asc", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page history.Page
	decodeResponse(t, w, &page)
	assert.EqualValues(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "e1", page.Items[0].ID)
	assert.Equal(t, history.DefaultLimit, page.Limit)

	w = do(t, router, http.MethodGet, "/v1/executions?cached=true", "")
	decodeResponse(t, w, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "e2", page.Items[0].ID)

	w = do(t, router, http.MethodGet, "/v1/executions/e3", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec history.ExecutionRecord
	decodeResponse(t, w, &rec)
	assert.Equal(t, history.StatusFailed, rec.Status)

	w = do(t, router, http.MethodGet, "/v1/executions/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecutionHandler_Stats(t *testing.T) {
	router, store := newExecutionRouter(t)
	seedExecutions(t, store)

	w := do(t, router, http.MethodGet, "/v1/executions/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats history.Stats
	decodeResponse(t, w, &stats)
	assert.EqualValues(t, 3, stats.TotalExecutions)
	assert.EqualValues(t, 1, stats.Failed)
	assert.EqualValues(t, 1, stats.CachedExecutions)
}

func TestParseHistoryFilter(t *testing.T) {
	from := "2026-03-01T00:00:00Z"
	to := "2026-03-02T00:00:00Z"

	f, err := ParseHistoryFilter(url.Values{
		"agent_id": {"writer"},
		"status":   {"failed"},
		"cached":   {"false"},
		"from":     {from},
		"to":       {to},
		"page":     {"2"},
		"limit":    {"500"},
	})
	require.NoError(t, err)
	assert.Equal(t, "writer", f.AgentID)
	assert.Equal(t, history.StatusFailed, f.Status)
	require.NotNil(t, f.Cached)
	assert.False(t, *f.Cached)
	assert.Equal(t, 2, f.Page)
	assert.Equal(t, history.MaxLimit, f.Normalize().Limit)

	bad := []url.Values{
		{"status": {"pending"}},
		{"cached": {"maybe"}},
		{"from": {"yesterday"}},
		{"from": {to}, "to": {from}},
		{"page": {"-1"}},
		{"limit": {"ten"}},
	}
	for _, q := range bad {
		_, err := ParseHistoryFilter(q)
		assert.Equal(t, types.ErrValidation, types.GetErrorCode(err), q.Encode())
	}
}
