package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/serkansepil/agent-planner-sub001/types"
	"go.uber.org/zap"
)

// Policy 定义重试策略配置
type Policy struct {
	MaxRetries   int                                               // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration                                     // 初始延迟时间
	MaxDelay     time.Duration                                     // 最大延迟时间
	Multiplier   float64                                           // 延迟时间倍增因子（指数退避）
	Jitter       bool                                              // 是否添加 ±25% 随机抖动
	ShouldRetry  func(err error) bool                              // 为空时使用 types.IsRetryable
	OnRetry      func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultPolicy 返回默认的重试策略，适用于大部分模型 API 调用场景
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Backoff 基于指数退避的重试器
type Backoff struct {
	policy Policy
	logger *zap.Logger
}

// NewBackoff 创建指数退避重试器
func NewBackoff(policy Policy, logger *zap.Logger) *Backoff {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 1 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.MaxDelay < policy.InitialDelay {
		policy.MaxDelay = policy.InitialDelay
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = types.IsRetryable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backoff{policy: policy, logger: logger}
}

// Policy returns the normalized policy.
func (b *Backoff) Policy() Policy { return b.policy }

// Delay 计算第 attempt 次重试前的等待时间（attempt 从 1 开始）
func (b *Backoff) Delay(attempt int) time.Duration {
	// delay = initial * multiplier^(attempt-1)
	delay := float64(b.policy.InitialDelay) * math.Pow(b.policy.Multiplier, float64(attempt-1))
	if delay > float64(b.policy.MaxDelay) {
		delay = float64(b.policy.MaxDelay)
	}
	if b.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}
	if delay < float64(b.policy.InitialDelay) {
		delay = float64(b.policy.InitialDelay)
	}
	return time.Duration(delay)
}

// Do 执行 fn，失败且可重试时按策略退避重试。
// fn 收到当前尝试序号（0 为首次）。返回值中的 retries 为实际发生的重试次数。
// 最终错误原样返回，不做包装，调用方可继续按错误码判断。
func Do[T any](ctx context.Context, b *Backoff, fn func(ctx context.Context, attempt int) (T, error)) (result T, retries int, err error) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := b.Delay(attempt)
			b.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", b.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if b.policy.OnRetry != nil {
				b.policy.OnRetry(attempt, err, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				var zero T
				return zero, attempt - 1, ctx.Err()
			case <-timer.C:
			}
		}

		result, err = fn(ctx, attempt)
		if err == nil {
			if attempt > 0 {
				b.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, attempt, nil
		}
		if !b.policy.ShouldRetry(err) || ctx.Err() != nil {
			return result, attempt, err
		}
		if attempt >= b.policy.MaxRetries {
			b.logger.Warn("retries exhausted",
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			return result, attempt, err
		}
	}
}
