package reasoning

import (
	"context"
	"time"

	"github.com/BaSui01/reasonflow/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/BaSui01/reasonflow/agent/reasoning"

// Observer receives reasoning outcomes and routing decisions, typically a
// metrics collector.
type Observer interface {
	ObserveReasoning(strategy string, confidence float64, tokens int, elapsed time.Duration)
	ObserveSelection(strategy, source string)
}

// Instrumented wraps a Strategy with a tracing span and an Observer.
type Instrumented struct {
	inner    Strategy
	tracer   trace.Tracer
	observer Observer
}

// Instrument 包装策略；tracer 为空时使用全局 TracerProvider
func Instrument(inner Strategy, tracer trace.Tracer, observer Observer) *Instrumented {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Instrumented{inner: inner, tracer: tracer, observer: observer}
}

func (s *Instrumented) Name() string { return s.inner.Name() }

// Unwrap returns the wrapped strategy.
func (s *Instrumented) Unwrap() Strategy { return s.inner }

// Reason 实现 Strategy
func (s *Instrumented) Reason(ctx context.Context, query, contextText string, model llm.Model) *ReasoningResult {
	ctx, span := s.tracer.Start(ctx, "reasoning."+s.inner.Name(), trace.WithAttributes(
		attribute.String("reasoning.strategy", s.inner.Name()),
		attribute.Int("reasoning.query_length", len(query)),
		attribute.Int("reasoning.context_length", len(contextText)),
	))
	defer span.End()

	start := time.Now()
	result := s.inner.Reason(ctx, query, contextText, model)
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.Float64("reasoning.confidence", result.Confidence),
		attribute.Int("reasoning.token_count", result.TokenCount),
		attribute.Int("reasoning.steps", len(result.Steps)),
	)
	if runID, ok := result.Metadata["run_id"].(string); ok {
		span.SetAttributes(attribute.String("reasoning.run_id", runID))
	}
	if result.Confidence == 0 {
		span.SetStatus(codes.Error, "reasoning produced no usable answer")
	}
	if s.observer != nil {
		s.observer.ObserveReasoning(s.inner.Name(), result.Confidence, result.TokenCount, elapsed)
	}
	return result
}
