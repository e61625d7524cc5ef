package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/reasonflow/llm/retry"
	"github.com/BaSui01/reasonflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type funcModel struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int) (*ChatResponse, error)
}

func (m *funcModel) Complete(ctx context.Context, messages []Message, temperature float32, maxTokens int) (*ChatResponse, error) {
	n := int(m.calls.Add(1))
	return m.fn(ctx, n)
}

func (m *funcModel) ExtractText(resp *ChatResponse) string {
	choice, err := FirstChoice(resp)
	if err != nil {
		return ""
	}
	return choice.Message.Content
}

func fastResilience() ResilienceConfig {
	return ResilienceConfig{
		Timeout: 50 * time.Millisecond,
		Retry:   retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
	}
}

func TestResilientModel_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	inner := &funcModel{fn: func(ctx context.Context, call int) (*ChatResponse, error) {
		if call < 3 {
			return nil, errors.New("503")
		}
		return TextResponse("ok", 4), nil
	}}
	m := NewResilientModel(inner, fastResilience(), WithResilienceLogger(zaptest.NewLogger(t)))

	resp, err := m.Complete(context.Background(), nil, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "ok", m.ExtractText(resp))
	assert.Equal(t, int32(3), inner.calls.Load())

	tokens, ok := m.TokensUsed(resp)
	assert.True(t, ok)
	assert.Equal(t, 4, tokens)
}

func TestResilientModel_TimeoutIsTyped(t *testing.T) {
	t.Parallel()

	inner := &funcModel{fn: func(ctx context.Context, call int) (*ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	cfg := fastResilience()
	cfg.Retry.MaxRetries = 0
	m := NewResilientModel(inner, cfg)

	_, err := m.Complete(context.Background(), nil, 0, 10)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamTimeout))
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestResilientModel_NonRetryableTypedError(t *testing.T) {
	t.Parallel()

	inner := &funcModel{fn: func(ctx context.Context, call int) (*ChatResponse, error) {
		return nil, types.NewError(types.ErrInvalidRequest, "bad prompt").WithRetryable(false)
	}}
	m := NewResilientModel(inner, fastResilience())

	_, err := m.Complete(context.Background(), nil, 0, 10)
	require.Error(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestResilientModel_RateLimitHonoursContext(t *testing.T) {
	t.Parallel()

	inner := &funcModel{fn: func(ctx context.Context, call int) (*ChatResponse, error) {
		return TextResponse("ok", 1), nil
	}}
	cfg := fastResilience()
	cfg.RateLimit = 0.001
	cfg.Burst = 1
	cfg.Retry.MaxRetries = 0
	m := NewResilientModel(inner, cfg)

	_, err := m.Complete(context.Background(), nil, 0, 10)
	require.NoError(t, err, "first call uses the burst token")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Complete(ctx, nil, 0, 10)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrRateLimited))
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestResilientModel_SharedLimiter(t *testing.T) {
	t.Parallel()

	inner := &funcModel{fn: func(ctx context.Context, call int) (*ChatResponse, error) {
		return TextResponse("ok", 1), nil
	}}
	cfg := fastResilience()
	cfg.RateLimit = 0.001
	cfg.Burst = 1
	cfg.Retry.MaxRetries = 0
	limiter := NewResilienceLimiter(cfg)
	require.NotNil(t, limiter)

	first := NewResilientModel(inner, cfg, WithLimiter(limiter))
	second := NewResilientModel(inner, cfg, WithLimiter(limiter))

	_, err := first.Complete(context.Background(), nil, 0, 10)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = second.Complete(ctx, nil, 0, 10)
	assert.True(t, types.IsErrorCode(err, types.ErrRateLimited), "second wrapper must see the spent burst")
}

func TestNewResilienceLimiter_Disabled(t *testing.T) {
	assert.Nil(t, NewResilienceLimiter(ResilienceConfig{}))
}
