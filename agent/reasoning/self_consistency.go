package reasoning

import (
	"context"
	"fmt"

	"github.com/BaSui01/reasonflow/llm"
	"github.com/BaSui01/reasonflow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ============================================================
// Self-Consistency
// ============================================================

const (
	scSystemPrompt = `Think through the problem independently and show your reasoning.
End your response with a line of the form:
Final Answer: <answer>`

	sampleErrorAnswer = "(sample error)"

	scBaseConfidence  = 0.4
	scConsensusWeight = 0.6
)

// SelfConsistencyConfig 自洽性配置
type SelfConsistencyConfig struct {
	NumSamples  int     `json:"num_samples" yaml:"num_samples" env:"NUM_SAMPLES"`
	Temperature float32 `json:"temperature" yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" env:"MAX_TOKENS"`
	// ExtractionTemperature 用于回退提取调用
	ExtractionTemperature float32 `json:"extraction_temperature" yaml:"extraction_temperature" env:"EXTRACTION_TEMPERATURE"`
	ExtractionMaxTokens   int     `json:"extraction_max_tokens" yaml:"extraction_max_tokens" env:"EXTRACTION_MAX_TOKENS"`
}

// DefaultSelfConsistencyConfig 返回默认自洽性配置
func DefaultSelfConsistencyConfig() SelfConsistencyConfig {
	return SelfConsistencyConfig{
		NumSamples:            5,
		Temperature:           0.8,
		MaxTokens:             1500,
		ExtractionTemperature: 0.0,
		ExtractionMaxTokens:   200,
	}
}

// Validate 校验配置
func (c SelfConsistencyConfig) Validate() error {
	if c.NumSamples < 1 {
		return types.NewConfigError("self_consistency.num_samples must be >= 1, got %d", c.NumSamples)
	}
	if err := validateTemperature("self_consistency.temperature", c.Temperature); err != nil {
		return err
	}
	if err := validateTemperature("self_consistency.extraction_temperature", c.ExtractionTemperature); err != nil {
		return err
	}
	if c.MaxTokens <= 0 || c.ExtractionMaxTokens <= 0 {
		return types.NewConfigError("self_consistency: max tokens must be positive, got %d/%d", c.MaxTokens, c.ExtractionMaxTokens)
	}
	return nil
}

// SelfConsistencyOption 自洽性策略选项
type SelfConsistencyOption func(*SelfConsistency)

// WithAnswerExtractor replaces the two-stage extractor.
func WithAnswerExtractor(extractor AnswerExtractor) SelfConsistencyOption {
	return func(s *SelfConsistency) {
		if extractor != nil {
			s.extractor = extractor
		}
	}
}

// SelfConsistency samples N independent reasoning paths concurrently and
// returns the majority answer.
type SelfConsistency struct {
	config    SelfConsistencyConfig
	extractor AnswerExtractor
}

// NewSelfConsistency 创建自洽性策略
func NewSelfConsistency(config SelfConsistencyConfig, opts ...SelfConsistencyOption) (*SelfConsistency, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &SelfConsistency{
		config:    config,
		extractor: &TwoStageExtractor{Temperature: config.ExtractionTemperature, MaxTokens: config.ExtractionMaxTokens},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SelfConsistency) Name() string { return StrategySelfConsistency }

type sampleOutcome struct {
	answer string
	method string
	tokens int
	calls  int
	err    error
}

// Reason 并发采样并多数投票
func (s *SelfConsistency) Reason(ctx context.Context, query, contextText string, model llm.Model) (result *ReasoningResult) {
	ctx, inv := begin(ctx, s.Name(), model)
	defer inv.guard(&result)

	messages := []llm.Message{
		llm.SystemMessage(scSystemPrompt),
		llm.UserMessage(questionPrompt(query, contextText)),
	}

	// 每个 goroutine 只写自己的槽位
	outcomes := make([]sampleOutcome, s.config.NumSamples)
	var g errgroup.Group
	for i := range outcomes {
		g.Go(func() error {
			outcomes[i] = s.sample(ctx, inv, model, query, messages)
			return nil
		})
	}
	_ = g.Wait()

	answers := make([]string, len(outcomes))
	methods := make([]string, len(outcomes))
	valid := make([]string, 0, len(outcomes))
	chain := make([]map[string]any, 0, len(outcomes))
	steps := make([]string, 0, len(outcomes)+1)
	failed := 0
	for i, o := range outcomes {
		inv.add(o.tokens, o.calls)
		entry := map[string]any{"sample": i + 1}
		if o.err != nil {
			failed++
			answers[i] = sampleErrorAnswer
			methods[i] = ""
			entry["error"] = o.err.Error()
			steps = append(steps, fmt.Sprintf("Sample %d: %s", i+1, sampleErrorAnswer))
		} else {
			answers[i] = o.answer
			methods[i] = o.method
			valid = append(valid, o.answer)
			entry["answer"] = o.answer
			entry["normalized"] = NormalizeAnswer(o.answer)
			entry["method"] = o.method
			steps = append(steps, fmt.Sprintf("Sample %d: %s", i+1, o.answer))
		}
		chain = append(chain, entry)
	}

	n := s.config.NumSamples
	vote := MajorityVote(valid)
	metadata := map[string]any{
		"num_samples":        n,
		"vote_counts":        vote.Counts,
		"answers":            answers,
		"extraction_methods": methods,
		"failed_samples":     failed,
	}

	if vote.Count == 0 {
		inv.logger.Warn("all samples failed", zap.Int("num_samples", n))
		metadata["consistency_score"] = 0.0
		steps = append(steps, "No sample produced an answer")
		return inv.finish(&ReasoningResult{
			Answer:         fmt.Sprintf("Self-consistency failed: all %d samples errored", n),
			Confidence:     0,
			Steps:          steps,
			ReasoningChain: chain,
			Metadata:       metadata,
		})
	}

	consistency := float64(vote.Count) / float64(n)
	metadata["consistency_score"] = consistency
	steps = append(steps, fmt.Sprintf("Majority answer: %s (%d/%d samples agree)", vote.Answer, vote.Count, n))

	return inv.finish(&ReasoningResult{
		Answer:         vote.Answer,
		Confidence:     scBaseConfidence + scConsensusWeight*consistency,
		Steps:          steps,
		ReasoningChain: chain,
		Metadata:       metadata,
	})
}

// sample draws one reasoning path and extracts its answer.
func (s *SelfConsistency) sample(ctx context.Context, inv *invocation, model llm.Model, query string, messages []llm.Message) sampleOutcome {
	text, tokens, err := safeComplete(ctx, model, messages, s.config.Temperature, s.config.MaxTokens)
	if err != nil {
		inv.logger.Warn("sample failed", zap.Error(err))
		return sampleOutcome{tokens: tokens, calls: 1, err: err}
	}

	out := sampleOutcome{tokens: tokens, calls: 1}
	ext, err := s.extract(ctx, model, query, text)
	out.tokens += ext.Tokens
	out.calls += ext.Calls
	if err != nil || ext.Answer == "" {
		ext.Answer, ext.Method = lastLine(text), ExtractionRaw
	}
	if ext.Answer == "" {
		out.err = fmt.Errorf("sample produced no answer")
		return out
	}
	out.answer, out.method = ext.Answer, ext.Method
	return out
}

func (s *SelfConsistency) extract(ctx context.Context, model llm.Model, query, text string) (ext Extraction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("answer extractor panicked: %v", r)
		}
	}()
	return s.extractor.Extract(ctx, model, query, text)
}

// VoteResult is the outcome of a majority vote over extracted answers.
type VoteResult struct {
	// Answer is the original text of the first answer in the winning group.
	Answer string
	Count  int
	// Counts maps normalized answers to their vote counts.
	Counts map[string]int
}

// MajorityVote groups answers by NormalizeAnswer and picks the largest
// group; ties go to the group seen first.
func MajorityVote(answers []string) VoteResult {
	counts := make(map[string]int, len(answers))
	firstSeen := make(map[string]string, len(answers))
	order := make([]string, 0, len(answers))
	for _, a := range answers {
		key := NormalizeAnswer(a)
		if key == "" {
			continue
		}
		if _, ok := counts[key]; !ok {
			order = append(order, key)
			firstSeen[key] = a
		}
		counts[key]++
	}

	result := VoteResult{Counts: counts}
	for _, key := range order {
		if counts[key] > result.Count {
			result.Count = counts[key]
			result.Answer = firstSeen[key]
		}
	}
	return result
}
