package api

import (
	"time"

	"github.com/BaSui01/reasonflow/agent/reasoning"
)

// =============================================================================
// 推理请求类型
// =============================================================================

// ReasonRequest 是 POST /v1/reason 的请求体。
type ReasonRequest struct {
	// 待解决的问题
	Query string `json:"query" example:"Which city hosts the Louvre?"`
	// 可选的背景材料
	Context string `json:"context,omitempty"`
	// 任务类型：simple、safety_critical（或 critical）、planning、complex、knowledge_intensive、general
	TaskType string `json:"task_type,omitempty" example:"knowledge_intensive"`
	// 复杂度提示：low、medium、high
	Complexity string `json:"complexity,omitempty" example:"high"`
	// 用于查找 agent 级策略覆盖
	AgentID string `json:"agent_id,omitempty"`
}

// ReasonResponse 是 POST /v1/reason 的成功响应数据。
type ReasonResponse struct {
	Answer         string           `json:"answer"`
	Confidence     float64          `json:"confidence"`
	Strategy       string           `json:"strategy"`
	Steps          []string         `json:"steps"`
	TokenCount     int              `json:"token_count"`
	ReasoningChain []map[string]any `json:"reasoning_chain,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	// 置信度为 0 表示推理失败，Answer 为失败说明
	Degraded bool `json:"degraded"`
	// 服务端耗时
	Elapsed time.Duration `json:"elapsed_ns"`
}

// NewReasonResponse 将策略结果转换为 API 响应。
func NewReasonResponse(r *reasoning.ReasoningResult, elapsed time.Duration) ReasonResponse {
	steps := r.Steps
	if steps == nil {
		steps = []string{}
	}
	return ReasonResponse{
		Answer:         r.Answer,
		Confidence:     r.Confidence,
		Strategy:       r.StrategyName,
		Steps:          steps,
		TokenCount:     r.TokenCount,
		ReasoningChain: r.ReasoningChain,
		Metadata:       r.Metadata,
		Degraded:       r.Confidence <= 0,
		Elapsed:        elapsed,
	}
}

// StrategiesResponse 是 GET /v1/strategies 的响应数据。
type StrategiesResponse struct {
	Strategies      []string          `json:"strategies"`
	DefaultStrategy string            `json:"default_strategy"`
	TaskTypes       map[string]string `json:"task_types"`
}
