package reasoning

import (
	"context"
	"fmt"

	"github.com/BaSui01/reasonflow/internal/ctxkeys"
	"github.com/BaSui01/reasonflow/llm"
	"go.uber.org/zap"
)

// Strategy is the capability every reasoning algorithm implements.
//
// Reason never fails: collaborator errors, malformed model output and even
// panics inside the model are absorbed and show up as reduced confidence.
// Implementations hold only read-only configuration, so one instance may
// serve concurrent callers.
type Strategy interface {
	Name() string
	Reason(ctx context.Context, query, contextText string, model llm.Model) *ReasoningResult
}

// RetrievalFunc fetches text snippets for a search query.
type RetrievalFunc func(ctx context.Context, query string) ([]string, error)

// WithLogger attaches a call-scoped logger that strategies pick up in Reason.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return ctxkeys.WithLogger(ctx, logger)
}

// WithRunID pins the run ID reported in result metadata.
func WithRunID(ctx context.Context, runID string) context.Context {
	return ctxkeys.WithRunID(ctx, runID)
}

// TokenCount extracts token usage from a raw model response, returning 0
// when usage metadata is absent. A UsageReporter that cannot tell falls back
// to resp.Usage.
func TokenCount(model llm.Model, resp *llm.ChatResponse) int {
	if reporter, ok := model.(llm.UsageReporter); ok {
		if n, ok := reporter.TokensUsed(resp); ok && n > 0 {
			return n
		}
	}
	if resp == nil || resp.Usage.TotalTokens < 0 {
		return 0
	}
	return resp.Usage.TotalTokens
}

// safeComplete runs one completion and converts a collaborator panic into an error.
func safeComplete(ctx context.Context, model llm.Model, messages []llm.Message, temperature float32, maxTokens int) (text string, tokens int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model call panicked: %v", r)
		}
	}()

	resp, err := model.Complete(ctx, messages, temperature, maxTokens)
	if err != nil {
		return "", 0, err
	}
	return model.ExtractText(resp), TokenCount(model, resp), nil
}

// safeRetrieve runs the retrieval callback and converts a panic into an error.
func safeRetrieve(ctx context.Context, fn RetrievalFunc, query string) (snippets []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("retrieval panicked: %v", r)
		}
	}()
	return fn(ctx, query)
}
