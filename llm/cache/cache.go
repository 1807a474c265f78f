package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/serkansepil/agent-planner-sub001/llm/budget"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrCacheMiss = errors.New("cache miss")

// Entry 缓存的执行结果。Cost 为原始调用的成本，命中时用于节省统计，不再计费。
type Entry struct {
	Provider     string      `json:"provider"`
	Model        string      `json:"model"`
	Content      string      `json:"content"`
	FinishReason string      `json:"finish_reason,omitempty"`
	InputTokens  int         `json:"input_tokens"`
	OutputTokens int         `json:"output_tokens"`
	TotalTokens  int         `json:"total_tokens"`
	Cost         budget.Cost `json:"cost"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
}

// Options 单次请求的缓存行为。
type Options struct {
	Bypass bool          // 跳过查找，成功后仍写入
	TTL    time.Duration // 为 0 时使用默认 TTL
}

// Stats 命中统计。
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Shared int64 `json:"shared"` // 通过 single-flight 共享结果的调用数
	Writes int64 `json:"writes"`
	Errors int64 `json:"errors"`
}

// ExecutionCache 执行缓存。
type ExecutionCache struct {
	store      Store
	defaultTTL time.Duration
	group      singleflight.Group
	logger     *zap.Logger

	hits, misses, shared, writes, errs atomic.Int64
}

// NewExecutionCache creates the cache over store.
func NewExecutionCache(store Store, defaultTTL time.Duration, logger *zap.Logger) *ExecutionCache {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutionCache{
		store:      store,
		defaultTTL: defaultTTL,
		logger:     logger.With(zap.String("component", "execution_cache")),
	}
}

// DefaultTTL returns the configured TTL.
func (c *ExecutionCache) DefaultTTL() time.Duration { return c.defaultTTL }

// Get returns the entry for key or ErrCacheMiss.
func (c *ExecutionCache) Get(ctx context.Context, key string) (*Entry, error) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, ErrCacheMiss
	}
	if !ok {
		return nil, ErrCacheMiss
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache entry corrupt, dropping", zap.String("key", key), zap.Error(err))
		_ = c.store.Delete(ctx, key)
		return nil, ErrCacheMiss
	}
	return &entry, nil
}

// Set stores entry under key for ttl (default TTL when zero).
func (c *ExecutionCache) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(ttl)
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.errs.Add(1)
		return err
	}
	c.writes.Add(1)
	c.logger.Debug("cache set", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

// Delete removes key.
func (c *ExecutionCache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

type flightResult struct {
	entry     *Entry
	fromStore bool
	// abandoned 表示 fn 因发起者自身 ctx 结束而失败，等待者应重新发起
	abandoned bool
	err       error
}

// Do returns the entry for key, calling fn at most once per key across concurrent callers.
// cached is false only for the caller whose fn actually ran; store hits and callers that
// joined another caller's flight get cached=true. Errors are shared with joiners but never stored.
// When the flight fails because its initiator's ctx ended, joiners whose own ctx is still
// live start a new flight instead of inheriting that cancellation.
func (c *ExecutionCache) Do(ctx context.Context, key string, opts Options, fn func(ctx context.Context) (*Entry, error)) (entry *Entry, cached bool, err error) {
	flightKey := key
	if opts.Bypass {
		// 绕过请求不能加入普通查找的 flight，否则可能拿到旧值
		flightKey = "bypass:" + key
	}

	for {
		ran := false
		ch := c.group.DoChan(flightKey, func() (any, error) {
			ran = true
			if !opts.Bypass {
				if hit, err := c.Get(ctx, key); err == nil {
					return flightResult{entry: hit, fromStore: true}, nil
				}
			}
			fresh, err := fn(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return flightResult{abandoned: true, err: err}, nil
				}
				return nil, err
			}
			if err := c.Set(ctx, key, fresh, opts.TTL); err != nil {
				c.logger.Warn("cache populate failed", zap.String("key", key), zap.Error(err))
			}
			return flightResult{entry: fresh}, nil
		})

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, false, res.Err
			}
			fr := res.Val.(flightResult)
			if fr.abandoned {
				if ran {
					return nil, false, fr.err
				}
				if ctx.Err() != nil {
					return nil, false, ctx.Err()
				}
				c.logger.Debug("shared flight cancelled by its initiator, retrying", zap.String("key", key))
				continue
			}
			switch {
			case fr.fromStore:
				c.hits.Add(1)
				cached = true
			case ran:
				c.misses.Add(1)
			default:
				c.shared.Add(1)
				cached = true
			}
			cp := *fr.entry
			return &cp, cached, nil
		}
	}
}

// Stats returns counters since construction.
func (c *ExecutionCache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Shared: c.shared.Load(),
		Writes: c.writes.Load(),
		Errors: c.errs.Load(),
	}
}
