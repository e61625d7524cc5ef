package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/reasonflow/llm/retry"
	"github.com/BaSui01/reasonflow/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const meterName = "github.com/BaSui01/reasonflow/llm"

// ResilienceConfig 弹性模型配置
type ResilienceConfig struct {
	// Timeout bounds a single Complete attempt; 0 disables it.
	Timeout time.Duration
	Retry   retry.Policy
	// RateLimit is the sustained calls-per-second budget; 0 disables limiting.
	RateLimit float64
	Burst     int
}

// DefaultResilienceConfig 返回默认配置
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Timeout: 60 * time.Second,
		Retry:   retry.DefaultPolicy(),
	}
}

// ResilientModel decorates a Model with a per-call timeout, retries and a
// token-bucket rate limit. Reasoning strategies never impose deadlines
// themselves, so this is where a stalled upstream call gets cut off.
type ResilientModel struct {
	inner   Model
	config  ResilienceConfig
	limiter *rate.Limiter
	logger  *zap.Logger

	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// ResilienceOption configures a ResilientModel.
type ResilienceOption func(*ResilientModel)

// WithResilienceLogger sets the logger used for retry diagnostics.
func WithResilienceLogger(logger *zap.Logger) ResilienceOption {
	return func(m *ResilientModel) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMeter overrides the OpenTelemetry meter (defaults to the global provider).
func WithMeter(meter metric.Meter) ResilienceOption {
	return func(m *ResilientModel) { m.initInstruments(meter) }
}

// WithLimiter shares an existing limiter, so several wrappers draw from one
// budget. It takes precedence over RateLimit/Burst.
func WithLimiter(l *rate.Limiter) ResilienceOption {
	return func(m *ResilientModel) { m.limiter = l }
}

// NewResilienceLimiter builds the token bucket described by config, or nil
// when RateLimit is 0.
func NewResilienceLimiter(config ResilienceConfig) *rate.Limiter {
	if config.RateLimit <= 0 {
		return nil
	}
	burst := config.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(config.RateLimit), burst)
}

// NewResilientModel wraps inner.
func NewResilientModel(inner Model, config ResilienceConfig, opts ...ResilienceOption) *ResilientModel {
	m := &ResilientModel{
		inner:   inner,
		config:  config,
		logger:  zap.NewNop(),
		limiter: NewResilienceLimiter(config),
	}
	if m.config.Retry.Retryable == nil {
		m.config.Retry.Retryable = defaultRetryable
	}
	m.initInstruments(otel.GetMeterProvider().Meter(meterName))
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *ResilientModel) initInstruments(meter metric.Meter) {
	// instrument creation only fails on invalid names, which are constant here
	m.calls, _ = meter.Int64Counter("reasonflow.llm.calls",
		metric.WithDescription("Model completion calls by outcome"))
	m.duration, _ = meter.Float64Histogram("reasonflow.llm.call.duration",
		metric.WithDescription("Model completion latency including retries"),
		metric.WithUnit("s"))
}

// Complete implements Model.
func (m *ResilientModel) Complete(ctx context.Context, messages []Message, temperature float32, maxTokens int) (*ChatResponse, error) {
	start := time.Now()
	resp, err := retry.Do(ctx, m.config.Retry, m.logger, func(ctx context.Context) (*ChatResponse, error) {
		return m.attempt(ctx, messages, temperature, maxTokens)
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.calls.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	return resp, err
}

func (m *ResilientModel) attempt(ctx context.Context, messages []Message, temperature float32, maxTokens int) (*ChatResponse, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, types.NewError(types.ErrRateLimited, "rate limiter wait aborted").WithCause(err)
		}
	}

	callCtx := ctx
	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	resp, err := m.inner.Complete(callCtx, messages, temperature, maxTokens)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrUpstreamTimeout,
				fmt.Sprintf("model call exceeded %s", m.config.Timeout)).WithCause(err).WithRetryable(true)
		}
		return nil, err
	}
	return resp, nil
}

// ExtractText implements Model.
func (m *ResilientModel) ExtractText(resp *ChatResponse) string {
	return m.inner.ExtractText(resp)
}

// TokensUsed implements UsageReporter, preferring the wrapped model's own accounting.
func (m *ResilientModel) TokensUsed(resp *ChatResponse) (int, bool) {
	if reporter, ok := m.inner.(UsageReporter); ok {
		return reporter.TokensUsed(resp)
	}
	if resp == nil {
		return 0, false
	}
	return resp.Usage.TotalTokens, true
}

func defaultRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var e *types.Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}
