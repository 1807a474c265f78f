package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/serkansepil/agent-planner-sub001/llm/budget"
	"github.com/serkansepil/agent-planner-sub001/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *ExecutionCache {
	t.Helper()
	return NewExecutionCache(newTestRistretto(t), time.Hour, nil)
}

func sampleEntry(content string) *Entry {
	return &Entry{
		Provider:     "openai",
		Model:        "gpt-4o",
		Content:      content,
		InputTokens:  10,
		OutputTokens: 5,
		TotalTokens:  15,
		Cost:         budget.Cost{InputCost: 0.00005, OutputCost: 0.000075, TotalCost: 0.000125, Currency: "USD"},
	}
}

func TestExecutionCache_GetMiss(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestExecutionCache_SetGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", sampleEntry("hi"), 0))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Content)
	assert.Equal(t, 0.000125, got.Cost.TotalCost)
	assert.WithinDuration(t, got.CreatedAt.Add(time.Hour), got.ExpiresAt, time.Millisecond)
}

func TestExecutionCache_CorruptEntryIsMiss(t *testing.T) {
	store := newTestRistretto(t)
	c := NewExecutionCache(store, time.Hour, nil)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", []byte("{not json"), time.Minute))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, ok, _ := store.Get(ctx, "k")
	assert.False(t, ok)
}

func TestExecutionCache_Do_MissThenHit(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	calls := 0
	fn := func(context.Context) (*Entry, error) {
		calls++
		return sampleEntry("answer"), nil
	}

	e, cached, err := c.Do(ctx, "k", Options{}, fn)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "answer", e.Content)

	e, cached, err = c.Do(ctx, "k", Options{}, fn)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "answer", e.Content)
	assert.Equal(t, 1, calls)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
}

func TestExecutionCache_Do_SingleFlight(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (*Entry, error) {
		calls.Add(1)
		<-release
		return sampleEntry("shared"), nil
	}

	const n = 20
	var (
		wg       sync.WaitGroup
		uncached atomic.Int32
		errs     atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, cached, err := c.Do(ctx, "same", Options{}, fn)
			if err != nil || e.Content != "shared" {
				errs.Add(1)
				return
			}
			if !cached {
				uncached.Add(1)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), uncached.Load())
	assert.Zero(t, errs.Load())
}

func TestExecutionCache_Do_ErrorsNotCached(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	boom := types.NewProviderError("openai", "upstream 503", true)

	_, _, err := c.Do(ctx, "k", Options{}, func(context.Context) (*Entry, error) {
		return nil, boom
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrProvider, types.GetErrorCode(err))

	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	e, cached, err := c.Do(ctx, "k", Options{}, func(context.Context) (*Entry, error) {
		return sampleEntry("ok"), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "ok", e.Content)
}

func TestExecutionCache_Do_BypassSkipsLookupButWrites(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", sampleEntry("stale"), 0))

	e, cached, err := c.Do(ctx, "k", Options{Bypass: true}, func(context.Context) (*Entry, error) {
		return sampleEntry("fresh"), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "fresh", e.Content)

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Content)
}

func TestExecutionCache_Do_CustomTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewExecutionCache(NewRedisStore(rdb, "ttl:"), time.Hour, nil)
	ctx := context.Background()

	_, _, err := c.Do(ctx, "k", Options{TTL: 10 * time.Second}, func(context.Context) (*Entry, error) {
		return sampleEntry("short"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, mr.TTL("ttl:k"))

	mr.FastForward(11 * time.Second)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestExecutionCache_Do_CallerContextCancelled(t *testing.T) {
	c := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Do(ctx, "k", Options{}, func(ctx context.Context) (*Entry, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestExecutionCache_Do_JoinerOutlivesCancelledInitiator(t *testing.T) {
	c := newTestCache(t)
	var calls atomic.Int32
	started := make(chan struct{}, 2)
	fn := func(ctx context.Context) (*Entry, error) {
		calls.Add(1)
		started <- struct{}{}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
			return sampleEntry("fresh"), nil
		}
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.Do(leaderCtx, "k", Options{}, fn)
		leaderErr <- err
	}()
	<-started

	type outcome struct {
		entry  *Entry
		cached bool
		err    error
	}
	joined := make(chan outcome, 1)
	go func() {
		e, cached, err := c.Do(context.Background(), "k", Options{}, fn)
		joined <- outcome{e, cached, err}
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	got := <-joined
	require.NoError(t, got.err)
	assert.Equal(t, "fresh", got.entry.Content)
	assert.False(t, got.cached)
	assert.Equal(t, int32(2), calls.Load())
}
