package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/serkansepil/agent-planner-sub001/llm"
	"github.com/serkansepil/agent-planner-sub001/llm/budget"
	"github.com/serkansepil/agent-planner-sub001/llm/cache"
	"github.com/serkansepil/agent-planner-sub001/llm/history"
	"github.com/serkansepil/agent-planner-sub001/llm/retry"
	"github.com/serkansepil/agent-planner-sub001/testutil/mocks"
	"github.com/serkansepil/agent-planner-sub001/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRecorder struct {
	mu      sync.Mutex
	records []history.ExecutionRecord
}

func (r *memoryRecorder) Record(_ context.Context, rec *history.ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

func (r *memoryRecorder) all() []history.ExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]history.ExecutionRecord(nil), r.records...)
}

type fixture struct {
	d        *Dispatcher
	provider *mocks.MockProvider
	limiter  *budget.RateLimiter
	spend    *budget.MemorySpendTracker
	recorder *memoryRecorder
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	provider := mocks.NewMockProvider().WithResponse("hello")
	reg := llm.NewProviderRegistry()
	reg.Register(provider)

	spend := budget.NewMemorySpendTracker()
	limiter := budget.NewRateLimiter(nil)
	recorder := &memoryRecorder{}
	opts := []Option{
		WithRecorder(recorder),
		WithSpendRecorder(spend),
		WithRetryPolicy(retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}),
	}
	if withCache {
		store, err := cache.NewRistrettoStore(1 << 20)
		require.NoError(t, err)
		t.Cleanup(store.Close)
		opts = append(opts, WithCache(cache.NewExecutionCache(store, time.Hour, nil)))
	}
	d := New(reg, budget.NewAccountant(nil, spend, nil), limiter, nil, opts...)
	return &fixture{d: d, provider: provider, limiter: limiter, spend: spend, recorder: recorder}
}

func newRequest() *Request {
	return &Request{
		AgentID:  "agent-1",
		Model:    "mock-large",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "say hello"}},
	}
}

func TestDispatcher_Execute_Success(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.d.Execute(context.Background(), newRequest())
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Content)
	assert.Equal(t, "mock", res.Provider)
	assert.Equal(t, 10, res.InputTokens)
	assert.Equal(t, 20, res.OutputTokens)
	assert.Equal(t, 30, res.TotalTokens)
	// fallback pricing: 1 USD in / 2 USD out per 1M
	assert.Equal(t, 0.00005, res.Cost.TotalCost)
	assert.False(t, res.Cached)
	assert.NotEmpty(t, res.ExecutionID)
	assert.Len(t, res.CacheKey, 64)
	assert.Zero(t, f.limiter.InFlight("agent-1"))

	recs := f.recorder.all()
	require.Len(t, recs, 1)
	assert.Equal(t, history.StatusSuccess, recs[0].Status)
	assert.Equal(t, res.ExecutionID, recs[0].ID)

	spent, _ := f.spend.CurrentSpend(context.Background(), "agent-1", time.Time{})
	assert.Equal(t, 0.00005, spent)
}

func TestDispatcher_Execute_Validation(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.d.Execute(context.Background(), &Request{AgentID: "a", Model: "mock-x"})
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))

	req := newRequest()
	req.Provider = "nope"
	_, err = f.d.Execute(context.Background(), req)
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))
	assert.Zero(t, f.provider.CallCount())
}

func TestDispatcher_Execute_RetriesRetryableErrors(t *testing.T) {
	f := newFixture(t, false)
	f.provider.WithErrorSequence(
		types.NewProviderError("mock", "overloaded", true),
		types.NewProviderError("mock", "overloaded", true),
	)

	res, err := f.d.Execute(context.Background(), newRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, res.RetryCount)
	assert.Equal(t, 3, f.provider.CallCount())
	assert.Zero(t, f.limiter.InFlight("agent-1"))
}

func TestDispatcher_Execute_TerminalErrorNotRetried(t *testing.T) {
	f := newFixture(t, false)
	f.provider.WithError(types.NewProviderError("mock", "invalid api key", false).WithHTTPStatus(401))

	req := newRequest()
	_, err := f.d.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 1, f.provider.CallCount())

	te, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrProvider, te.Code)
	assert.Equal(t, req.ExecutionID, te.ExecutionID)

	recs := f.recorder.all()
	require.Len(t, recs, 1)
	assert.Equal(t, history.StatusFailed, recs[0].Status)
	assert.Equal(t, "PROVIDER_ERROR", recs[0].ErrorCode)
}

func TestDispatcher_Execute_RetriesExhausted(t *testing.T) {
	f := newFixture(t, false)
	f.provider.WithError(types.NewProviderError("mock", "503", true))

	_, err := f.d.Execute(context.Background(), newRequest())
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, 3, f.provider.CallCount())
	assert.Equal(t, 2, f.recorder.all()[0].RetryCount)
}

func TestDispatcher_Execute_PerRequestMaxRetries(t *testing.T) {
	f := newFixture(t, false)
	f.provider.WithError(types.NewProviderError("mock", "503", true))
	zero := 0
	req := newRequest()
	req.MaxRetries = &zero

	_, err := f.d.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 1, f.provider.CallCount())
}

func TestDispatcher_Execute_RateLimited(t *testing.T) {
	f := newFixture(t, false)
	req := newRequest()
	req.RateLimits = budget.RateLimits{RequestsPerMinute: 1}

	_, err := f.d.Execute(context.Background(), req)
	require.NoError(t, err)

	req2 := newRequest()
	req2.RateLimits = req.RateLimits
	_, err = f.d.Execute(context.Background(), req2)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrRateLimitExceeded))
	assert.False(t, types.IsRetryable(err))
	assert.Equal(t, 1, f.provider.CallCount())
}

func TestDispatcher_Execute_BudgetExceeded(t *testing.T) {
	f := newFixture(t, false)
	f.spend.Add("agent-1", 10, time.Now())
	req := newRequest()
	req.Budget = budget.Budget{Limit: 5, Period: budget.PeriodMonthly}

	_, err := f.d.Execute(context.Background(), req)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrBudgetExceeded))
	assert.Zero(t, f.provider.CallCount())
}

func TestDispatcher_Execute_CacheHitNotRebilled(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	req := newRequest()
	req.EnableCache = true
	first, err := f.d.Execute(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	req2 := newRequest()
	req2.EnableCache = true
	req2.Messages = []llm.Message{{Role: llm.RoleUser, Content: "  say   hello "}}
	second, err := f.d.Execute(ctx, req2)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.Cost, second.Cost)
	assert.Equal(t, first.CacheKey, second.CacheKey)
	assert.NotEqual(t, first.ExecutionID, second.ExecutionID)
	assert.Equal(t, 1, f.provider.CallCount())

	spent, _ := f.spend.CurrentSpend(ctx, "agent-1", time.Time{})
	assert.Equal(t, first.Cost.TotalCost, spent)

	recs := f.recorder.all()
	require.Len(t, recs, 2)
	assert.True(t, recs[1].Cached)
}

func TestDispatcher_Execute_BypassCache(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	req := newRequest()
	req.EnableCache = true
	_, err := f.d.Execute(ctx, req)
	require.NoError(t, err)

	f.provider.WithResponse("fresh")
	req2 := newRequest()
	req2.EnableCache = true
	req2.BypassCache = true
	res, err := f.d.Execute(ctx, req2)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, "fresh", res.Content)

	req3 := newRequest()
	req3.EnableCache = true
	res, err = f.d.Execute(ctx, req3)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "fresh", res.Content)
	assert.Equal(t, 2, f.provider.CallCount())
}

func TestDispatcher_Execute_ConcurrentIdenticalRequestsCallOnce(t *testing.T) {
	f := newFixture(t, true)
	f.provider.WithDelay(50 * time.Millisecond)

	const n = 10
	var (
		wg       sync.WaitGroup
		uncached atomic.Int32
		failures atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := newRequest()
			req.EnableCache = true
			res, err := f.d.Execute(context.Background(), req)
			if err != nil {
				failures.Add(1)
				return
			}
			if !res.Cached {
				uncached.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, 1, f.provider.CallCount())
	assert.Equal(t, int32(1), uncached.Load())
}

func TestDispatcher_Execute_ErrorSharedButNotCached(t *testing.T) {
	f := newFixture(t, true)
	f.provider.WithErrorSequence(types.NewProviderError("mock", "bad request", false))

	req := newRequest()
	req.EnableCache = true
	_, err := f.d.Execute(context.Background(), req)
	require.Error(t, err)

	req2 := newRequest()
	req2.EnableCache = true
	res, err := f.d.Execute(context.Background(), req2)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, f.provider.CallCount())
}

func TestDispatcher_Execute_JoinerUnaffectedByLeaderDeadline(t *testing.T) {
	f := newFixture(t, true)
	f.provider.WithDelay(100 * time.Millisecond)

	leaderCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	leaderErr := make(chan error, 1)
	go func() {
		req := newRequest()
		req.EnableCache = true
		_, err := f.d.Execute(leaderCtx, req)
		leaderErr <- err
	}()
	time.Sleep(5 * time.Millisecond)

	req := newRequest()
	req.EnableCache = true
	res, err := f.d.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Content)
	assert.False(t, res.Cached)

	assert.Error(t, <-leaderErr)
	assert.Equal(t, 2, f.provider.CallCount())
	assert.Zero(t, f.limiter.InFlight("agent-1"))
}
