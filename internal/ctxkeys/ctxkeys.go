// Package ctxkeys holds the typed context keys shared across packages.
package ctxkeys

import (
	"context"

	"go.uber.org/zap"
)

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	runIDKey   contextKey = "run_id"
	loggerKey  contextKey = "logger"
	agentIDKey contextKey = "agent_id"
)

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRunID 设置 RunID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID 获取 RunID
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithLogger 设置调用级 Logger
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger 获取调用级 Logger
func Logger(ctx context.Context) (*zap.Logger, bool) {
	v, ok := ctx.Value(loggerKey).(*zap.Logger)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// WithAgentID 设置认证得到的 agent 身份
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// AgentID 获取 agent 身份
func AgentID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(agentIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
