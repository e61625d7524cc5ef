package llm

import (
	"context"
	"strings"

	"github.com/BaSui01/reasonflow/internal/ctxkeys"
	"github.com/google/uuid"
)

// Model is the capability every reasoning strategy depends on.
type Model interface {
	// Complete runs one chat completion.
	Complete(ctx context.Context, messages []Message, temperature float32, maxTokens int) (*ChatResponse, error)
	// ExtractText returns the assistant text of a response, or "" when there is none.
	ExtractText(resp *ChatResponse) string
}

// UsageReporter is implemented by models that can report token usage in a
// way other than ChatResponse.Usage.
type UsageReporter interface {
	TokensUsed(resp *ChatResponse) (int, bool)
}

// ProviderModel adapts a Provider into a Model bound to one model name.
type ProviderModel struct {
	provider Provider
	model    string
}

// NewProviderModel creates a Model that sends every completion to provider
// using the given model name.
func NewProviderModel(provider Provider, model string) *ProviderModel {
	return &ProviderModel{provider: provider, model: model}
}

// Complete sends one completion. The request carries the ctx trace ID when
// present so upstream logs correlate with the caller's request.
func (m *ProviderModel) Complete(ctx context.Context, messages []Message, temperature float32, maxTokens int) (*ChatResponse, error) {
	traceID, ok := ctxkeys.TraceID(ctx)
	if !ok {
		traceID = uuid.NewString()
	}
	return m.provider.Completion(ctx, &ChatRequest{
		TraceID:     traceID,
		Model:       m.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
}

func (m *ProviderModel) ExtractText(resp *ChatResponse) string {
	choice, err := FirstChoice(resp)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(choice.Message.Content)
}

// Name returns "<provider>/<model>".
func (m *ProviderModel) Name() string {
	return m.provider.Name() + "/" + m.model
}
