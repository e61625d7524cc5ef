package reasoning

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/reasonflow/internal/ctxkeys"
	"github.com/BaSui01/reasonflow/llm"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// invocation carries the per-call state of one Reason call: logger, run ID
// and the running token total. Only the goroutine running Reason touches
// tokens; fan-out goroutines report their counts back through result slots.
type invocation struct {
	strategy string
	model    llm.Model
	logger   *zap.Logger
	runID    string
	start    time.Time
	tokens   int
	calls    int
}

func begin(ctx context.Context, strategy string, model llm.Model) (context.Context, *invocation) {
	runID, ok := ctxkeys.RunID(ctx)
	if !ok {
		runID = uuid.NewString()
		ctx = ctxkeys.WithRunID(ctx, runID)
	}
	logger, ok := ctxkeys.Logger(ctx)
	if !ok {
		logger = zap.NewNop()
	}
	inv := &invocation{
		strategy: strategy,
		model:    model,
		logger:   logger.With(zap.String("strategy", strategy), zap.String("run_id", runID)),
		runID:    runID,
		start:    time.Now(),
	}
	inv.logger.Debug("reasoning started")
	return ctx, inv
}

// call runs one sequential phase and adds its tokens to the total.
func (inv *invocation) call(ctx context.Context, phase string, messages []llm.Message, temperature float32, maxTokens int) (string, error) {
	text, tokens, err := safeComplete(ctx, inv.model, messages, temperature, maxTokens)
	inv.add(tokens, 1)
	if err != nil {
		inv.logger.Warn("model call failed", zap.String("phase", phase), zap.Error(err))
		return "", err
	}
	inv.logger.Debug("model call completed", zap.String("phase", phase), zap.Int("tokens", tokens))
	return text, nil
}

func (inv *invocation) add(tokens, calls int) {
	inv.tokens += tokens
	inv.calls += calls
}

// finish stamps the invocation-wide fields onto result.
func (inv *invocation) finish(result *ReasoningResult) *ReasoningResult {
	result.StrategyName = inv.strategy
	result.TokenCount = inv.tokens
	result.Confidence = clamp01(result.Confidence)
	if result.Steps == nil {
		result.Steps = []string{}
	}
	if result.ReasoningChain == nil {
		result.ReasoningChain = []map[string]any{}
	}
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["run_id"] = inv.runID
	result.Metadata["model_calls"] = inv.calls

	inv.logger.Debug("reasoning finished",
		zap.Float64("confidence", result.Confidence),
		zap.Int("tokens", inv.tokens),
		zap.Int("model_calls", inv.calls),
		zap.Duration("elapsed", time.Since(inv.start)),
	)
	return result
}

// guard turns a panic escaping the strategy body into a zero-confidence result.
func (inv *invocation) guard(result **ReasoningResult) {
	if r := recover(); r != nil {
		inv.logger.Error("reasoning panicked", zap.Any("panic", r))
		*result = inv.finish(&ReasoningResult{
			Answer:   fmt.Sprintf("Reasoning aborted by an internal error: %v", r),
			Steps:    []string{"Internal error; no answer produced"},
			Metadata: map[string]any{"error": fmt.Sprint(r)},
		})
	}
}
