package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serkansepil/agent-planner-sub001/agent"
	"github.com/serkansepil/agent-planner-sub001/api/handlers"
	"github.com/serkansepil/agent-planner-sub001/llm/budget"
	"github.com/serkansepil/agent-planner-sub001/llm/dispatch"
	"github.com/serkansepil/agent-planner-sub001/llm/history"
	"github.com/serkansepil/agent-planner-sub001/rag"
	"github.com/serkansepil/agent-planner-sub001/types"
	"github.com/serkansepil/agent-planner-sub001/workflow"
)

// --- mocks ---

type stubExecutor struct{}

func (stubExecutor) Execute(_ context.Context, agentID string, in agent.ExecuteInput) (*dispatch.Result, error) {
	return &dispatch.Result{ExecutionID: "exec-1", Content: agentID + ":" + in.Prompt}, nil
}

func (stubExecutor) ExecuteStream(context.Context, string, agent.ExecuteInput) (<-chan dispatch.StreamEvent, error) {
	ch := make(chan dispatch.StreamEvent, 1)
	ch <- dispatch.StreamEvent{Done: true, Result: &dispatch.Result{ExecutionID: "exec-1"}}
	close(ch)
	return ch, nil
}

func (stubExecutor) ExecuteAgent(_ context.Context, a *agent.Agent, in agent.ExecuteInput) (*dispatch.Result, error) {
	return &dispatch.Result{Content: a.ID + ":" + in.Prompt}, nil
}

type emptyHistory struct{}

func (emptyHistory) Get(_ context.Context, id string) (*history.ExecutionRecord, error) {
	return nil, types.NewNotFoundError("execution " + id + " not found")
}

func (emptyHistory) List(context.Context, history.Filter) (*history.Page, error) {
	return &history.Page{Items: []history.ExecutionRecord{}, Page: 1, Limit: 20}, nil
}

func (emptyHistory) Stats(context.Context, history.Filter) (*history.Stats, error) {
	return &history.Stats{}, nil
}

// --- helpers ---

func newTestRouter(t *testing.T, withSearch bool) http.Handler {
	t.Helper()
	dir := agent.NewMemoryDirectory(nil)
	require.NoError(t, dir.PutAgent(&agent.Agent{ID: "writer", Name: "Writer", Provider: "openai", Model: "gpt-4o-mini"}))

	orch := workflow.New(dir, stubExecutor{}, workflow.DefaultConfig(), nil)
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

	deps := routerDeps{
		Executor:  stubExecutor{},
		Runs:      orch,
		History:   emptyHistory{},
		Directory: dir,
		Budget:    budget.NewAccountant(budget.NewPricingTable(budget.DefaultFallbackPricing()), budget.NewMemorySpendTracker(), nil),
		Health:    handlers.NewHealthHandler("test", nil),
		Recorder:  &fakeRecorder{},
	}
	if withSearch {
		deps.Searcher = rag.NewEngine(rag.NewMemoryChunkStore(nil), nil, nil)
	}
	return newRouter(context.Background(), deps, nil)
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

// --- tests ---

func TestRouter_Endpoints(t *testing.T) {
	h := newTestRouter(t, true)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"healthz", http.MethodGet, "/healthz", "", http.StatusOK},
		{"ready", http.MethodGet, "/ready", "", http.StatusOK},
		{"version", http.MethodGet, "/version", "", http.StatusOK},
		{"execute", http.MethodPost, "/v1/agents/writer/execute", `{"prompt":"hi"}`, http.StatusOK},
		{"budget", http.MethodGet, "/v1/agents/writer/budget", "", http.StatusOK},
		{"budget unknown agent", http.MethodGet, "/v1/agents/ghost/budget", "", http.StatusNotFound},
		{"list runs", http.MethodGet, "/v1/runs", "", http.StatusOK},
		{"unknown run", http.MethodGet, "/v1/runs/missing", "", http.StatusNotFound},
		{"cancel unknown run", http.MethodPost, "/v1/runs/missing/cancel", "", http.StatusNotFound},
		{"list executions", http.MethodGet, "/v1/executions", "", http.StatusOK},
		{"execution stats", http.MethodGet, "/v1/executions/stats", "", http.StatusOK},
		{"unknown execution", http.MethodGet, "/v1/executions/nope", "", http.StatusNotFound},
		{"search", http.MethodPost, "/v1/search", `{"query":"go","search_type":"keyword"}`, http.StatusOK},
		{"unknown route", http.MethodGet, "/v2/anything", "", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/v1/runs", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
			assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		})
	}
}

func TestRouter_SearchDisabled(t *testing.T) {
	h := newTestRouter(t, false)
	w := serve(h, http.MethodPost, "/v1/search", `{"query":"go"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w).Code)
}

func TestRouter_SubmitRun(t *testing.T) {
	dir := agent.NewMemoryDirectory(nil)
	require.NoError(t, dir.PutAgent(&agent.Agent{ID: "writer", WorkspaceID: "ws", Name: "Writer", Model: "gpt-4o-mini"}))
	orch := workflow.New(dir, stubExecutor{}, workflow.DefaultConfig(), nil)
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

	h := newRouter(context.Background(), routerDeps{
		Executor:  stubExecutor{},
		Runs:      orch,
		History:   emptyHistory{},
		Directory: dir,
		Budget:    budget.NewAccountant(budget.NewPricingTable(budget.DefaultFallbackPricing()), nil, nil),
	}, nil)

	w := serve(h, http.MethodPost, "/v1/workspaces/ws/runs", `{"tasks":[{"name":"draft"}]}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	loc := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc, "/v1/runs/"), loc)

	w = serve(h, http.MethodGet, loc+"?wait=5s", "")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"completed"`)
}
