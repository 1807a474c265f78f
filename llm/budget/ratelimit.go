package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/serkansepil/agent-planner-sub001/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimits 单个 Agent 的限流配置。零值表示不限制。
type RateLimits struct {
	RequestsPerMinute   int `json:"requests_per_minute" yaml:"requests_per_minute"`
	RequestsPerHour     int `json:"requests_per_hour" yaml:"requests_per_hour"`
	RequestsPerDay      int `json:"requests_per_day" yaml:"requests_per_day"`
	MaxConcurrent       int `json:"max_concurrent" yaml:"max_concurrent"`
	MaxTokensPerRequest int `json:"max_tokens_per_request" yaml:"max_tokens_per_request"`
}

// window 是一个令牌桶：容量为 limit，在 span 内匀速补满。
type window struct {
	name    string
	limit   int
	limiter *rate.Limiter
}

func newWindow(name string, limit int, span time.Duration) *window {
	if limit <= 0 {
		return nil
	}
	return &window{
		name:    name,
		limit:   limit,
		limiter: rate.NewLimiter(rate.Every(span/time.Duration(limit)), limit),
	}
}

type agentLimiter struct {
	limits   RateLimits
	windows  []*window
	inFlight int
}

// RateLimiter 按 Agent 维护请求窗口与并发槽位。
type RateLimiter struct {
	mu     sync.Mutex
	agents map[string]*agentLimiter
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter(logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		agents: make(map[string]*agentLimiter),
		logger: logger.With(zap.String("component", "rate_limiter")),
		now:    time.Now,
	}
}

func (l *RateLimiter) agent(agentID string, limits RateLimits) *agentLimiter {
	a, ok := l.agents[agentID]
	if ok && a.limits == limits {
		return a
	}
	inFlight := 0
	if ok {
		inFlight = a.inFlight
	}
	a = &agentLimiter{limits: limits, inFlight: inFlight}
	for _, w := range []*window{
		newWindow("minute", limits.RequestsPerMinute, time.Minute),
		newWindow("hour", limits.RequestsPerHour, time.Hour),
		newWindow("day", limits.RequestsPerDay, 24*time.Hour),
	} {
		if w != nil {
			a.windows = append(a.windows, w)
		}
	}
	l.agents[agentID] = a
	return a
}

// Reserve admits one request for agentID or returns RATE_LIMIT_EXCEEDED.
// The returned Reservation must be released when the call finishes.
func (l *RateLimiter) Reserve(agentID string, limits RateLimits, estimatedTokens int) (*Reservation, error) {
	if limits.MaxTokensPerRequest > 0 && estimatedTokens > limits.MaxTokensPerRequest {
		return nil, types.NewRateLimitError(fmt.Sprintf(
			"agent %s request needs ~%d tokens, limit is %d per request", agentID, estimatedTokens, limits.MaxTokensPerRequest))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.agent(agentID, limits)
	if limits.MaxConcurrent > 0 && a.inFlight >= limits.MaxConcurrent {
		return nil, types.NewRateLimitError(fmt.Sprintf(
			"agent %s has %d concurrent requests, limit is %d", agentID, a.inFlight, limits.MaxConcurrent))
	}

	now := l.now()
	taken := make([]*rate.Reservation, 0, len(a.windows))
	for _, w := range a.windows {
		r := w.limiter.ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			for _, prev := range taken {
				prev.CancelAt(now)
			}
			l.logger.Debug("rate limit hit",
				zap.String("agent_id", agentID), zap.String("window", w.name), zap.Int("limit", w.limit))
			return nil, types.NewRateLimitError(fmt.Sprintf(
				"agent %s exceeded %d requests per %s", agentID, w.limit, w.name))
		}
		taken = append(taken, r)
	}

	a.inFlight++
	return &Reservation{limiter: l, agentID: agentID, taken: taken, at: now}, nil
}

// release must be called with mu held. Limits may have been swapped since the
// reservation was taken, so the current agent entry is used.
func (l *RateLimiter) release(agentID string) {
	if a, ok := l.agents[agentID]; ok && a.inFlight > 0 {
		a.inFlight--
	}
}

// InFlight returns the number of unreleased reservations for agentID.
func (l *RateLimiter) InFlight(agentID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.agents[agentID]; ok {
		return a.inFlight
	}
	return 0
}

// Reservation 一次准入占用。Release 与 Cancel 幂等，且只有第一次调用生效。
type Reservation struct {
	limiter *RateLimiter
	agentID string
	taken   []*rate.Reservation
	at      time.Time
	once    sync.Once
}

// Release frees the concurrency slot. Window quota stays consumed.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.limiter.mu.Lock()
		r.limiter.release(r.agentID)
		r.limiter.mu.Unlock()
	})
}

// Cancel frees the concurrency slot and refunds window quota.
func (r *Reservation) Cancel() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.limiter.mu.Lock()
		defer r.limiter.mu.Unlock()
		r.limiter.release(r.agentID)
		// 以占用时刻撤销，令牌桶才会退回额度
		for _, t := range r.taken {
			t.CancelAt(r.at)
		}
	})
}
