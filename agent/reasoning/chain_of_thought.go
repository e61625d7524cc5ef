package reasoning

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/BaSui01/reasonflow/llm"
	"github.com/BaSui01/reasonflow/types"
)

// ============================================================
// Chain-of-Thought
// ============================================================

const (
	cotReasoningSystemPrompt = `You are a meticulous analyst. Solve the problem through explicit, numbered reasoning steps.
Respond with a single JSON object:
{"steps": [{"step": 1, "thought": "...", "conclusion": "..."}], "final_answer": "...", "confidence": 0.0}
confidence is your self-assessed certainty between 0 and 1.`

	cotVerifySystemPrompt = `You are a critical reviewer. Verify the reasoning chain below for logical errors, unsupported jumps and arithmetic mistakes.
Respond with a single JSON object:
{"is_consistent": true, "issues": ["..."], "verified_confidence": 0.0, "verification_note": "..."}`

	cotParseFailureConfidence = 0.2
	cotIssuePenalty           = 0.1
	cotMaxIssuePenalty        = 0.3
	cotVerifyParseFactor      = 0.9
	cotVerifyErrorFactor      = 0.8
)

// ChainOfThoughtConfig 思维链配置
type ChainOfThoughtConfig struct {
	Temperature       float32 `json:"temperature" yaml:"temperature" env:"TEMPERATURE"`
	VerifyTemperature float32 `json:"verify_temperature" yaml:"verify_temperature" env:"VERIFY_TEMPERATURE"`
	MaxTokens         int     `json:"max_tokens" yaml:"max_tokens" env:"MAX_TOKENS"`
	VerifyMaxTokens   int     `json:"verify_max_tokens" yaml:"verify_max_tokens" env:"VERIFY_MAX_TOKENS"`
}

// DefaultChainOfThoughtConfig 返回默认思维链配置
func DefaultChainOfThoughtConfig() ChainOfThoughtConfig {
	return ChainOfThoughtConfig{
		Temperature:       0.3,
		VerifyTemperature: 0.1,
		MaxTokens:         2000,
		VerifyMaxTokens:   800,
	}
}

// Validate checks temperature ranges and token budgets.
func (c ChainOfThoughtConfig) Validate() error {
	if err := validateTemperature("chain_of_thought.temperature", c.Temperature); err != nil {
		return err
	}
	if err := validateTemperature("chain_of_thought.verify_temperature", c.VerifyTemperature); err != nil {
		return err
	}
	if c.MaxTokens <= 0 || c.VerifyMaxTokens <= 0 {
		return types.NewConfigError("chain_of_thought: max tokens must be positive, got %d/%d", c.MaxTokens, c.VerifyMaxTokens)
	}
	return nil
}

// ChainOfThought elicits a numbered reasoning chain in one call, then asks a
// second, colder call to audit it. The audit can only lower confidence.
type ChainOfThought struct {
	config ChainOfThoughtConfig
}

// NewChainOfThought 创建思维链策略
func NewChainOfThought(config ChainOfThoughtConfig) (*ChainOfThought, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &ChainOfThought{config: config}, nil
}

func (c *ChainOfThought) Name() string { return StrategyChainOfThought }

type cotStep struct {
	Step       int    `json:"step"`
	Thought    string `json:"thought"`
	Conclusion string `json:"conclusion"`
}

type cotReasoning struct {
	Steps       []cotStep `json:"steps"`
	FinalAnswer string    `json:"final_answer"`
	Confidence  jsonFloat `json:"confidence"`
}

type cotVerification struct {
	IsConsistent       *bool     `json:"is_consistent"`
	Issues             []string  `json:"issues"`
	VerifiedConfidence jsonFloat `json:"verified_confidence"`
	VerificationNote   string    `json:"verification_note"`
}

// Reason 执行思维链推理与自我验证
func (c *ChainOfThought) Reason(ctx context.Context, query, contextText string, model llm.Model) (result *ReasoningResult) {
	ctx, inv := begin(ctx, c.Name(), model)
	defer inv.guard(&result)

	text, err := inv.call(ctx, "reasoning", []llm.Message{
		llm.SystemMessage(cotReasoningSystemPrompt),
		llm.UserMessage(questionPrompt(query, contextText)),
	}, c.config.Temperature, c.config.MaxTokens)
	if err != nil {
		return inv.finish(&ReasoningResult{
			Answer:         fmt.Sprintf("Chain-of-thought reasoning failed: %v", err),
			Steps:          []string{"Reasoning call failed; no answer produced"},
			ReasoningChain: []map[string]any{{"phase": "reasoning", "error": err.Error()}},
			Metadata:       map[string]any{"error": err.Error(), "verified": false},
		})
	}

	var parsed cotReasoning
	if perr := parseJSONObject(text, &parsed); perr != nil || strings.TrimSpace(parsed.FinalAnswer) == "" {
		answer := strings.TrimSpace(text)
		if answer == "" {
			answer = "Unable to produce an answer: the model returned an empty reasoning response"
		}
		return inv.finish(&ReasoningResult{
			Answer:         answer,
			Confidence:     cotParseFailureConfidence,
			Steps:          []string{"Model response was not structured; returning raw text"},
			ReasoningChain: []map[string]any{{"phase": "reasoning", "parse_error": true}},
			Metadata:       map[string]any{"parse_error": true, "verified": false},
		})
	}

	steps := make([]string, 0, len(parsed.Steps)+1)
	chain := make([]map[string]any, 0, len(parsed.Steps)+1)
	for i, s := range parsed.Steps {
		n := s.Step
		if n <= 0 {
			n = i + 1
		}
		steps = append(steps, formatCoTStep(n, s))
		chain = append(chain, map[string]any{"step": n, "thought": s.Thought, "conclusion": s.Conclusion})
	}
	answer := strings.TrimSpace(parsed.FinalAnswer)
	rawConfidence := clamp01(parsed.Confidence.Or(0.5))

	confidence, summary, verifyMeta := c.verify(ctx, inv, query, steps, answer, rawConfidence)
	steps = append(steps, summary)
	chain = append(chain, verifyMeta)

	return inv.finish(&ReasoningResult{
		Answer:         answer,
		Confidence:     confidence,
		Steps:          steps,
		ReasoningChain: chain,
		Metadata: map[string]any{
			"raw_confidence": rawConfidence,
			"num_steps":      len(parsed.Steps),
			"verified":       verifyMeta["status"] == "verified",
			"issues":         verifyMeta["issues"],
			"is_consistent":  verifyMeta["is_consistent"],
		},
	})
}

// verify audits the chain and returns the adjusted confidence, a one-line
// summary step and the reasoning-chain record for the phase.
func (c *ChainOfThought) verify(ctx context.Context, inv *invocation, query string, steps []string, answer string, raw float64) (float64, string, map[string]any) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Question:\n%s\n\nReasoning chain:\n", query)
	for _, s := range steps {
		prompt.WriteString(s)
		prompt.WriteByte('\n')
	}
	fmt.Fprintf(&prompt, "\nProposed answer: %s\nStated confidence: %.2f", answer, raw)

	text, err := inv.call(ctx, "verification", []llm.Message{
		llm.SystemMessage(cotVerifySystemPrompt),
		llm.UserMessage(prompt.String()),
	}, c.config.VerifyTemperature, c.config.VerifyMaxTokens)
	if err != nil {
		confidence := raw * cotVerifyErrorFactor
		return confidence,
			fmt.Sprintf("Verification unavailable (%v); confidence reduced to %.2f", err, confidence),
			map[string]any{"phase": "verification", "status": "error", "error": err.Error(), "issues": []string{}, "is_consistent": nil}
	}

	var v cotVerification
	if perr := parseJSONObject(text, &v); perr != nil {
		confidence := raw * cotVerifyParseFactor
		return confidence,
			fmt.Sprintf("Verification response unparseable; confidence reduced to %.2f", confidence),
			map[string]any{"phase": "verification", "status": "parse_error", "issues": []string{}, "is_consistent": nil}
	}

	issues := nonEmpty(v.Issues)
	verified := clamp01(v.VerifiedConfidence.Or(raw))
	penalty := math.Min(cotIssuePenalty*float64(len(issues)), cotMaxIssuePenalty)
	confidence := math.Max(0, verified-penalty)

	consistent := v.IsConsistent == nil || *v.IsConsistent
	summary := fmt.Sprintf("Verification: consistent=%t, issues=%d, confidence %.2f", consistent, len(issues), confidence)
	if len(issues) > 0 {
		summary += " (" + strings.Join(issues, "; ") + ")"
	}
	return confidence, summary, map[string]any{
		"phase":               "verification",
		"status":              "verified",
		"is_consistent":       consistent,
		"issues":              issues,
		"verified_confidence": verified,
		"penalty":             penalty,
		"verification_note":   v.VerificationNote,
	}
}

func formatCoTStep(n int, s cotStep) string {
	line := fmt.Sprintf("Step %d: %s", n, strings.TrimSpace(s.Thought))
	if c := strings.TrimSpace(s.Conclusion); c != "" {
		line += " => " + c
	}
	return line
}

// questionPrompt 组装问题与可选上下文
func questionPrompt(query, contextText string) string {
	if strings.TrimSpace(contextText) == "" {
		return "Question:\n" + query
	}
	return fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s", contextText, query)
}

func validateTemperature(field string, t float32) error {
	if t < 0 || t > 2 {
		return types.NewConfigError("%s must be within [0, 2], got %v", field, t)
	}
	return nil
}
