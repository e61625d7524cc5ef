// Package retry provides exponential backoff for model calls.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy 定义重试策略配置
type Policy struct {
	MaxRetries   int           // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration // 初始延迟时间
	MaxDelay     time.Duration // 最大延迟时间
	Multiplier   float64       // 延迟时间倍增因子
	Jitter       bool          // 是否添加 ±25% 随机抖动
	// Retryable filters errors; nil retries every error.
	Retryable func(error) bool
	OnRetry   func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns the policy used for LLM API calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay returns the wait before the given attempt (attempt >= 1).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < float64(p.InitialDelay) {
		delay = float64(p.InitialDelay)
	}
	return time.Duration(delay)
}

// Do runs fn until it succeeds, returns a non-retryable error, the retry
// budget is spent, or ctx is done.
func Do[T any](ctx context.Context, policy Policy, logger *zap.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy = policy.normalized()

	var zero T
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt)
			logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if policy.OnRetry != nil {
				policy.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if policy.Retryable != nil && !policy.Retryable(err) {
			return zero, err
		}
	}

	logger.Warn("retries exhausted",
		zap.Int("attempts", policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return zero, fmt.Errorf("failed after %d retries: %w", policy.MaxRetries, lastErr)
}
