package budget

import (
	"sync"
	"testing"
	"time"

	"github.com/serkansepil/agent-planner-sub001/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(l *RateLimiter, at time.Time) {
	l.now = func() time.Time { return at }
}

func TestRateLimiter_RequestsPerMinute(t *testing.T) {
	l := NewRateLimiter(nil)
	now := time.Now()
	fixedClock(l, now)
	limits := RateLimits{RequestsPerMinute: 2}

	r1, err := l.Reserve("a", limits, 10)
	require.NoError(t, err)
	r1.Release()
	r2, err := l.Reserve("a", limits, 10)
	require.NoError(t, err)
	r2.Release()

	_, err = l.Reserve("a", limits, 10)
	require.Error(t, err)
	assert.Equal(t, types.ErrRateLimitExceeded, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))

	// other agents are unaffected
	_, err = l.Reserve("b", limits, 10)
	require.NoError(t, err)

	// a minute later the bucket has refilled
	fixedClock(l, now.Add(time.Minute))
	_, err = l.Reserve("a", limits, 10)
	require.NoError(t, err)
}

func TestRateLimiter_DayWindowDenialRefundsMinute(t *testing.T) {
	l := NewRateLimiter(nil)
	fixedClock(l, time.Now())
	limits := RateLimits{RequestsPerMinute: 5, RequestsPerDay: 1}

	r, err := l.Reserve("a", limits, 0)
	require.NoError(t, err)
	r.Release()

	minute := l.agents["a"].windows[0].limiter
	before := minute.TokensAt(l.now())
	for i := 0; i < 3; i++ {
		_, err = l.Reserve("a", limits, 0)
		require.Error(t, err)
	}
	// denied attempts must not drain the minute window
	assert.InDelta(t, before, minute.TokensAt(l.now()), 1e-9)
	assert.InDelta(t, 4.0, before, 1e-9)
}

func TestRateLimiter_MaxConcurrent(t *testing.T) {
	l := NewRateLimiter(nil)
	limits := RateLimits{MaxConcurrent: 1}

	r, err := l.Reserve("a", limits, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, l.InFlight("a"))

	_, err = l.Reserve("a", limits, 0)
	require.Error(t, err)

	r.Release()
	r.Release()
	assert.Equal(t, 0, l.InFlight("a"))

	_, err = l.Reserve("a", limits, 0)
	require.NoError(t, err)
}

func TestRateLimiter_MaxTokensPerRequest(t *testing.T) {
	l := NewRateLimiter(nil)
	_, err := l.Reserve("a", RateLimits{MaxTokensPerRequest: 100}, 101)
	require.Error(t, err)
	assert.Equal(t, types.ErrRateLimitExceeded, types.GetErrorCode(err))
	assert.Equal(t, 0, l.InFlight("a"))
}

func TestReservation_CancelRefundsWindow(t *testing.T) {
	l := NewRateLimiter(nil)
	fixedClock(l, time.Now())
	limits := RateLimits{RequestsPerMinute: 1, MaxConcurrent: 1}

	r, err := l.Reserve("a", limits, 0)
	require.NoError(t, err)
	r.Cancel()
	r.Release()
	assert.Equal(t, 0, l.InFlight("a"))

	_, err = l.Reserve("a", limits, 0)
	require.NoError(t, err)
}

func TestRateLimiter_ConcurrentReserve(t *testing.T) {
	l := NewRateLimiter(nil)
	fixedClock(l, time.Now())
	limits := RateLimits{RequestsPerMinute: 10}

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r, err := l.Reserve("a", limits, 0); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
				r.Release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, admitted)
}

func TestRateLimiter_LimitsChangeKeepsInFlight(t *testing.T) {
	l := NewRateLimiter(nil)
	r, err := l.Reserve("a", RateLimits{MaxConcurrent: 2}, 0)
	require.NoError(t, err)

	_, err = l.Reserve("a", RateLimits{MaxConcurrent: 1}, 0)
	require.Error(t, err)
	r.Release()
	assert.Equal(t, 0, l.InFlight("a"))

	_, err = l.Reserve("a", RateLimits{MaxConcurrent: 1}, 0)
	require.NoError(t, err)
}
