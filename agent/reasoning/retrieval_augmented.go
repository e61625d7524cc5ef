package reasoning

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/BaSui01/reasonflow/llm"
	"github.com/BaSui01/reasonflow/llm/tokenizer"
	"github.com/BaSui01/reasonflow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ============================================================
// Retrieval-Augmented Reasoning
// ============================================================

const (
	rarInitialSystemPrompt = `Answer the question using only the provided context. Be honest about what the context does not cover.
Respond with a single JSON object:
{"partial_answer": "...", "confidence": 0.0, "is_complete": false, "missing_info": ["..."]}`

	rarGapSystemPrompt = `Turn the missing information into concise search queries that would retrieve it.
Respond with a single JSON object: {"search_queries": ["..."], "summary": "..."}`

	rarSynthesisSystemPrompt = `Answer the question by combining the original context with the retrieved information. Cite which sources you relied on.
Respond with a single JSON object:
{"final_answer": "...", "confidence": 0.0, "sources_used": ["..."], "reasoning": "..."}`

	rarVerifySystemPrompt = `Check whether every claim in the answer is supported by the evidence provided.
Respond with a single JSON object:
{"is_grounded": true, "unsupported_claims": ["..."], "verified_confidence": 0.0}`

	noRetrievedInfo = "(no additional information retrieved)"

	rarClaimPenalty      = 0.15
	rarMaxClaimPenalty   = 0.4
	rarPartialFactor     = 0.8
	rarVerifyParseFactor = 0.9
	rarVerifyErrorFactor = 0.8
)

// RetrievalAugmentedConfig 检索增强推理配置
type RetrievalAugmentedConfig struct {
	MaxSearchQueries int `json:"max_search_queries" yaml:"max_search_queries" env:"MAX_SEARCH_QUERIES"`
	MaxSnippets      int `json:"max_snippets" yaml:"max_snippets" env:"MAX_SNIPPETS"`
	// ContextLimit/SnippetLimit 默认按字符计；配置 tokenizer 时按 token 计
	ContextLimit        int     `json:"context_limit" yaml:"context_limit" env:"CONTEXT_LIMIT"`
	SnippetLimit        int     `json:"snippet_limit" yaml:"snippet_limit" env:"SNIPPET_LIMIT"`
	EarlyExitConfidence float64 `json:"early_exit_confidence" yaml:"early_exit_confidence" env:"EARLY_EXIT_CONFIDENCE"`
	Temperature         float32 `json:"temperature" yaml:"temperature" env:"TEMPERATURE"`
	VerifyTemperature   float32 `json:"verify_temperature" yaml:"verify_temperature" env:"VERIFY_TEMPERATURE"`
	MaxTokens           int     `json:"max_tokens" yaml:"max_tokens" env:"MAX_TOKENS"`
}

// DefaultRetrievalAugmentedConfig 返回默认配置
func DefaultRetrievalAugmentedConfig() RetrievalAugmentedConfig {
	return RetrievalAugmentedConfig{
		MaxSearchQueries:    3,
		MaxSnippets:         5,
		ContextLimit:        3000,
		SnippetLimit:        500,
		EarlyExitConfidence: 0.8,
		Temperature:         0.3,
		VerifyTemperature:   0.1,
		MaxTokens:           1500,
	}
}

// Validate 校验配置
func (c RetrievalAugmentedConfig) Validate() error {
	if c.MaxSearchQueries < 1 || c.MaxSnippets < 1 {
		return types.NewConfigError("retrieval_augmented: max_search_queries and max_snippets must be >= 1, got %d/%d",
			c.MaxSearchQueries, c.MaxSnippets)
	}
	if c.ContextLimit < 1 || c.SnippetLimit < 1 {
		return types.NewConfigError("retrieval_augmented: context_limit and snippet_limit must be >= 1, got %d/%d",
			c.ContextLimit, c.SnippetLimit)
	}
	if c.EarlyExitConfidence < 0 || c.EarlyExitConfidence > 1 {
		return types.NewConfigError("retrieval_augmented.early_exit_confidence must be within [0, 1], got %v", c.EarlyExitConfidence)
	}
	if err := validateTemperature("retrieval_augmented.temperature", c.Temperature); err != nil {
		return err
	}
	if err := validateTemperature("retrieval_augmented.verify_temperature", c.VerifyTemperature); err != nil {
		return err
	}
	if c.MaxTokens <= 0 {
		return types.NewConfigError("retrieval_augmented.max_tokens must be positive, got %d", c.MaxTokens)
	}
	return nil
}

// RetrievalAugmentedOption 检索增强推理选项
type RetrievalAugmentedOption func(*RetrievalAugmented)

// WithRetriever sets the retrieval callback. Without one, phase 3 is skipped.
func WithRetriever(fn RetrievalFunc) RetrievalAugmentedOption {
	return func(r *RetrievalAugmented) { r.retrieve = fn }
}

// WithTokenizer switches context and snippet truncation from characters to tokens.
func WithTokenizer(t tokenizer.Tokenizer) RetrievalAugmentedOption {
	return func(r *RetrievalAugmented) {
		if t != nil {
			r.truncate = func(text string, limit int) string { return tokenizer.Truncate(t, text, limit) }
		}
	}
}

// RetrievalAugmented reasons over the supplied context first, then
// retrieves what is missing and synthesizes a grounded answer.
//
// Phases: initial reasoning, gap identification, concurrent retrieval,
// synthesis, grounding verification. Phases 2-5 are skipped when the first
// pass is already complete and confident.
type RetrievalAugmented struct {
	config   RetrievalAugmentedConfig
	retrieve RetrievalFunc
	truncate func(text string, limit int) string
}

// NewRetrievalAugmented 创建检索增强推理策略
func NewRetrievalAugmented(config RetrievalAugmentedConfig, opts ...RetrievalAugmentedOption) (*RetrievalAugmented, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	r := &RetrievalAugmented{config: config, truncate: truncateRunes}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *RetrievalAugmented) Name() string { return StrategyRetrievalAugmented }

type rarInitial struct {
	PartialAnswer string    `json:"partial_answer"`
	Confidence    jsonFloat `json:"confidence"`
	IsComplete    bool      `json:"is_complete"`
	MissingInfo   []string  `json:"missing_info"`
}

type rarGap struct {
	SearchQueries []string `json:"search_queries"`
	Summary       string   `json:"summary"`
}

type rarSynthesis struct {
	Answer      string    `json:"final_answer"`
	Confidence  jsonFloat `json:"confidence"`
	SourcesUsed []string  `json:"sources_used"`
	Reasoning   string    `json:"reasoning"`
}

type rarVerification struct {
	IsGrounded         *bool     `json:"is_grounded"`
	UnsupportedClaims  []string  `json:"unsupported_claims"`
	VerifiedConfidence jsonFloat `json:"verified_confidence"`
}

// Reason 执行五阶段检索增强推理
func (r *RetrievalAugmented) Reason(ctx context.Context, query, contextText string, model llm.Model) (result *ReasoningResult) {
	ctx, inv := begin(ctx, r.Name(), model)
	defer inv.guard(&result)

	var steps []string
	var chain []map[string]any
	metadata := map[string]any{"retriever_configured": r.retrieve != nil}

	// Phase 1
	initial, err := r.initial(ctx, inv, query, contextText)
	phase1 := map[string]any{"phase": 1, "name": "initial_reasoning"}
	if err != nil {
		phase1["error"] = err.Error()
		steps = append(steps, "Initial reasoning failed; continuing with retrieval")
	} else {
		phase1["partial_answer"] = initial.PartialAnswer
		phase1["confidence"] = initial.Confidence.Value
		phase1["is_complete"] = initial.IsComplete
		phase1["missing_info"] = initial.MissingInfo
		steps = append(steps, fmt.Sprintf("Initial reasoning: confidence %.2f, complete=%t, %d gaps",
			initial.Confidence.Value, initial.IsComplete, len(initial.MissingInfo)))
	}
	chain = append(chain, phase1)

	if err == nil && initial.IsComplete && initial.Confidence.Value >= r.config.EarlyExitConfidence {
		chain = append(chain, map[string]any{"phase": "early_exit", "skipped_phases": []int{2, 3, 4, 5}})
		steps = append(steps, "Context sufficient; retrieval skipped")
		metadata["early_exit"] = true
		return inv.finish(&ReasoningResult{
			Answer:         initial.PartialAnswer,
			Confidence:     initial.Confidence.Value,
			Steps:          steps,
			ReasoningChain: chain,
			Metadata:       metadata,
		})
	}
	metadata["early_exit"] = false

	// Phase 2
	queries, gapMeta := r.identifyGaps(ctx, inv, query, initial)
	chain = append(chain, gapMeta)
	steps = append(steps, fmt.Sprintf("Identified %d search queries: %s", len(queries), strings.Join(queries, "; ")))
	metadata["search_queries"] = queries

	// Phase 3
	snippets, retrievalMeta := r.retrieveAll(ctx, inv, queries)
	chain = append(chain, retrievalMeta)
	steps = append(steps, fmt.Sprintf("Retrieved %d unique snippets", len(snippets)))
	metadata["retrieved_count"] = len(snippets)

	// Phase 4
	synth, err := r.synthesize(ctx, inv, query, contextText, snippets)
	if err != nil {
		chain = append(chain, map[string]any{"phase": 4, "name": "synthesis", "error": err.Error()})
		metadata["synthesis_error"] = err.Error()
		if initial == nil || strings.TrimSpace(initial.PartialAnswer) == "" {
			steps = append(steps, "Synthesis failed and no partial answer is available")
			return inv.finish(&ReasoningResult{
				Answer:         fmt.Sprintf("Retrieval-augmented reasoning failed: %v", err),
				Confidence:     0,
				Steps:          steps,
				ReasoningChain: chain,
				Metadata:       metadata,
			})
		}
		steps = append(steps, "Synthesis failed; returning the initial partial answer")
		return inv.finish(&ReasoningResult{
			Answer:         initial.PartialAnswer,
			Confidence:     rarPartialFactor * initial.Confidence.Value,
			Steps:          steps,
			ReasoningChain: chain,
			Metadata:       metadata,
		})
	}
	synthConfidence := clamp01(synth.Confidence.Or(0.5))
	chain = append(chain, map[string]any{
		"phase":        4,
		"name":         "synthesis",
		"answer":       synth.Answer,
		"confidence":   synthConfidence,
		"sources_used": synth.SourcesUsed,
		"reasoning":    synth.Reasoning,
	})
	steps = append(steps, fmt.Sprintf("Synthesized answer from %d sources: confidence %.2f", len(synth.SourcesUsed), synthConfidence))
	metadata["sources_used"] = synth.SourcesUsed

	// Phase 5
	confidence, verifyMeta := r.verify(ctx, inv, query, contextText, snippets, synth.Answer, synthConfidence)
	chain = append(chain, verifyMeta)
	steps = append(steps, fmt.Sprintf("Grounding verification (%s): final confidence %.2f", verifyMeta["status"], confidence))
	metadata["is_grounded"] = verifyMeta["is_grounded"]
	metadata["unsupported_claims"] = verifyMeta["unsupported_claims"]

	return inv.finish(&ReasoningResult{
		Answer:         synth.Answer,
		Confidence:     confidence,
		Steps:          steps,
		ReasoningChain: chain,
		Metadata:       metadata,
	})
}

func (r *RetrievalAugmented) initial(ctx context.Context, inv *invocation, query, contextText string) (*rarInitial, error) {
	text, err := inv.call(ctx, "initial_reasoning", []llm.Message{
		llm.SystemMessage(rarInitialSystemPrompt),
		llm.UserMessage(questionPrompt(query, contextText)),
	}, r.config.Temperature, r.config.MaxTokens)
	if err != nil {
		return nil, err
	}
	var out rarInitial
	if err := parseJSONObject(text, &out); err != nil {
		return nil, fmt.Errorf("parse initial reasoning: %w", err)
	}
	out.Confidence = jsonFloat{Value: clamp01(out.Confidence.Or(0)), Valid: true}
	out.MissingInfo = nonEmpty(out.MissingInfo)
	return &out, nil
}

// identifyGaps returns at most MaxSearchQueries queries, falling back to the
// original query when nothing better is available.
func (r *RetrievalAugmented) identifyGaps(ctx context.Context, inv *invocation, query string, initial *rarInitial) ([]string, map[string]any) {
	meta := map[string]any{"phase": 2, "name": "gap_identification"}
	if initial == nil || len(initial.MissingInfo) == 0 {
		meta["fallback"] = "no missing info reported"
		meta["search_queries"] = []string{query}
		return []string{query}, meta
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Question:\n%s\n\nMissing information:\n", query)
	for _, m := range initial.MissingInfo {
		fmt.Fprintf(&prompt, "- %s\n", m)
	}
	fmt.Fprintf(&prompt, "\nProduce at most %d search queries.", r.config.MaxSearchQueries)

	text, err := inv.call(ctx, "gap_identification", []llm.Message{
		llm.SystemMessage(rarGapSystemPrompt),
		llm.UserMessage(prompt.String()),
	}, r.config.Temperature, r.config.MaxTokens)
	var gap rarGap
	if err == nil {
		err = parseJSONObject(text, &gap)
	}
	queries := nonEmpty(gap.SearchQueries)
	if err != nil || len(queries) == 0 {
		reason := "empty query list"
		if err != nil {
			reason = err.Error()
		}
		meta["fallback"] = reason
		meta["search_queries"] = []string{query}
		return []string{query}, meta
	}
	if len(queries) > r.config.MaxSearchQueries {
		queries = queries[:r.config.MaxSearchQueries]
	}
	meta["search_queries"] = queries
	meta["summary"] = gap.Summary
	return queries, meta
}

// retrieveAll runs every query concurrently and merges results in query
// order, deduplicated by first occurrence and capped at MaxSnippets.
func (r *RetrievalAugmented) retrieveAll(ctx context.Context, inv *invocation, queries []string) ([]string, map[string]any) {
	meta := map[string]any{"phase": 3, "name": "retrieval", "queries": len(queries)}
	if r.retrieve == nil {
		meta["skipped"] = true
		meta["snippets"] = 0
		return nil, meta
	}

	results := make([][]string, len(queries))
	errs := make([]error, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			results[i], errs[i] = safeRetrieve(ctx, r.retrieve, q)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	seen := make(map[string]struct{})
	snippets := make([]string, 0, r.config.MaxSnippets)
	for i, q := range queries {
		if errs[i] != nil {
			inv.logger.Warn("retrieval failed", zap.String("query", q), zap.Error(errs[i]))
			failed = append(failed, q)
			continue
		}
		for _, s := range nonEmpty(results[i]) {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			if len(snippets) < r.config.MaxSnippets {
				snippets = append(snippets, s)
			}
		}
	}
	meta["snippets"] = len(snippets)
	if len(failed) > 0 {
		meta["failed_queries"] = failed
	}
	return snippets, meta
}

func (r *RetrievalAugmented) evidence(contextText string, snippets []string) string {
	var sb strings.Builder
	if strings.TrimSpace(contextText) != "" {
		fmt.Fprintf(&sb, "Original context:\n%s\n\n", r.truncate(contextText, r.config.ContextLimit))
	}
	sb.WriteString("Retrieved information:\n")
	if len(snippets) == 0 {
		sb.WriteString(noRetrievedInfo)
		return sb.String()
	}
	for i, s := range snippets {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, r.truncate(s, r.config.SnippetLimit))
	}
	return sb.String()
}

func (r *RetrievalAugmented) synthesize(ctx context.Context, inv *invocation, query, contextText string, snippets []string) (*rarSynthesis, error) {
	text, err := inv.call(ctx, "synthesis", []llm.Message{
		llm.SystemMessage(rarSynthesisSystemPrompt),
		llm.UserMessage(fmt.Sprintf("%s\n\nQuestion:\n%s", r.evidence(contextText, snippets), query)),
	}, r.config.Temperature, r.config.MaxTokens)
	if err != nil {
		return nil, err
	}
	var out rarSynthesis
	if err := parseJSONObject(text, &out); err != nil {
		return nil, fmt.Errorf("parse synthesis: %w", err)
	}
	if strings.TrimSpace(out.Answer) == "" {
		return nil, fmt.Errorf("synthesis returned an empty answer")
	}
	out.Answer = strings.TrimSpace(out.Answer)
	out.SourcesUsed = nonEmpty(out.SourcesUsed)
	return &out, nil
}

func (r *RetrievalAugmented) verify(ctx context.Context, inv *invocation, query, contextText string, snippets []string, answer string, confidence float64) (float64, map[string]any) {
	meta := map[string]any{"phase": 5, "name": "verification"}
	text, err := inv.call(ctx, "verification", []llm.Message{
		llm.SystemMessage(rarVerifySystemPrompt),
		llm.UserMessage(fmt.Sprintf("%s\n\nQuestion:\n%s\n\nAnswer:\n%s", r.evidence(contextText, snippets), query, answer)),
	}, r.config.VerifyTemperature, r.config.MaxTokens)
	if err != nil {
		meta["status"] = "error"
		meta["error"] = err.Error()
		return confidence * rarVerifyErrorFactor, meta
	}

	var v rarVerification
	if perr := parseJSONObject(text, &v); perr != nil {
		meta["status"] = "parse_error"
		return confidence * rarVerifyParseFactor, meta
	}

	claims := nonEmpty(v.UnsupportedClaims)
	verified := clamp01(v.VerifiedConfidence.Or(confidence))
	penalty := math.Min(rarClaimPenalty*float64(len(claims)), rarMaxClaimPenalty)
	meta["status"] = "verified"
	meta["is_grounded"] = v.IsGrounded == nil || *v.IsGrounded
	meta["unsupported_claims"] = claims
	meta["verified_confidence"] = verified
	meta["penalty"] = penalty
	return math.Max(0, verified-penalty), meta
}
