package reasoning

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/BaSui01/reasonflow/llm"
	"github.com/BaSui01/reasonflow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ============================================================
// Tree-of-Thought
// ============================================================

const (
	totGenerateSystemPrompt = `Propose distinct high-level approaches to the problem. Each approach must take a genuinely different angle.
Respond with a single JSON object: {"approaches": ["...", "..."]}`

	totExpandSystemPrompt = `Continue developing one line of reasoning. Write only the next concrete reasoning step, in one or two sentences.`

	totScoreSystemPrompt = `Evaluate how promising a partial line of reasoning is for reaching a correct answer.
Respond with a single JSON object: {"score": 0-10, "rationale": "..."}`

	totConcludeSystemPrompt = `Write the final answer using the most promising line of reasoning below.
Respond with a single JSON object: {"final_answer": "...", "confidence": 0.0}`

	expansionErrorStep   = "(expansion error)"
	fallbackApproach     = "Reason about the problem directly, step by step."
	defaultBranchScore   = 5.0
	maxBranchScore       = 10.0
	totConcluderWeight   = 0.6
	totBranchScoreWeight = 0.4
)

// TreeOfThoughtConfig configures the Tree of Thought reasoning pattern.
type TreeOfThoughtConfig struct {
	NumBranches int `json:"num_branches" yaml:"num_branches" env:"NUM_BRANCHES"` // initial approaches K
	MaxDepth    int `json:"max_depth" yaml:"max_depth" env:"MAX_DEPTH"`          // expansion rounds D
	BeamWidth   int `json:"beam_width" yaml:"beam_width" env:"BEAM_WIDTH"`       // survivors kept after each round

	GenerateTemperature float32 `json:"generate_temperature" yaml:"generate_temperature" env:"GENERATE_TEMPERATURE"`
	ExpandTemperature   float32 `json:"expand_temperature" yaml:"expand_temperature" env:"EXPAND_TEMPERATURE"`
	ScoreTemperature    float32 `json:"score_temperature" yaml:"score_temperature" env:"SCORE_TEMPERATURE"`
	ConcludeTemperature float32 `json:"conclude_temperature" yaml:"conclude_temperature" env:"CONCLUDE_TEMPERATURE"`
	MaxTokens           int     `json:"max_tokens" yaml:"max_tokens" env:"MAX_TOKENS"`
}

// DefaultTreeOfThoughtConfig returns sensible defaults.
func DefaultTreeOfThoughtConfig() TreeOfThoughtConfig {
	return TreeOfThoughtConfig{
		NumBranches:         3,
		MaxDepth:            3,
		BeamWidth:           2,
		GenerateTemperature: 0.8,
		ExpandTemperature:   0.7,
		ScoreTemperature:    0.2,
		ConcludeTemperature: 0.3,
		MaxTokens:           1000,
	}
}

// Validate rejects non-positive shape parameters.
func (c TreeOfThoughtConfig) Validate() error {
	if c.NumBranches < 1 || c.MaxDepth < 1 || c.BeamWidth < 1 {
		return types.NewConfigError("tree_of_thought: num_branches, max_depth and beam_width must be >= 1, got %d/%d/%d",
			c.NumBranches, c.MaxDepth, c.BeamWidth)
	}
	for field, t := range map[string]float32{
		"generate_temperature": c.GenerateTemperature,
		"expand_temperature":   c.ExpandTemperature,
		"score_temperature":    c.ScoreTemperature,
		"conclude_temperature": c.ConcludeTemperature,
	} {
		if err := validateTemperature("tree_of_thought."+field, t); err != nil {
			return err
		}
	}
	if c.MaxTokens <= 0 {
		return types.NewConfigError("tree_of_thought.max_tokens must be positive, got %d", c.MaxTokens)
	}
	return nil
}

// TreeOfThought explores K approaches in parallel, expanding and scoring
// every surviving branch for D rounds and pruning to a beam after each.
type TreeOfThought struct {
	config TreeOfThoughtConfig
}

// NewTreeOfThought creates a Tree of Thought reasoner. BeamWidth above
// NumBranches is clamped.
func NewTreeOfThought(config TreeOfThoughtConfig) (*TreeOfThought, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.BeamWidth = min(config.BeamWidth, config.NumBranches)
	return &TreeOfThought{config: config}, nil
}

func (t *TreeOfThought) Name() string { return StrategyTreeOfThought }

type branchStatus int

const (
	branchAlive branchStatus = iota
	branchPruned
)

// branch is an immutable snapshot; rounds produce new values instead of
// mutating old ones.
type branch struct {
	id       int
	approach string
	steps    []string
	score    float64
	status   branchStatus
	prunedAt int
}

func (b branch) withStep(step string) branch {
	b.steps = append(slices.Clip(b.steps), step)
	return b
}

func (b branch) withScore(score float64) branch {
	b.score = score
	return b
}

func (b branch) pruned(round int) branch {
	b.status, b.prunedAt = branchPruned, round
	return b
}

func (b branch) lastUsefulStep() string {
	for i := len(b.steps) - 1; i >= 0; i-- {
		if b.steps[i] != expansionErrorStep {
			return b.steps[i]
		}
	}
	return b.approach
}

// branchArena 按轮次保存分支快照，rounds[0] 为初始生成
type branchArena struct {
	rounds [][]branch
}

func (a *branchArena) push(snapshot []branch) { a.rounds = append(a.rounds, snapshot) }

func (a *branchArena) latest() []branch { return a.rounds[len(a.rounds)-1] }

func (a *branchArena) alive() []int {
	var idx []int
	for i, b := range a.latest() {
		if b.status == branchAlive {
			idx = append(idx, i)
		}
	}
	return idx
}

type expandOutcome struct {
	step   string
	tokens int
	err    error
}

type scoreOutcome struct {
	score  float64
	tokens int
	err    error
}

// Reason 执行思维树搜索
func (t *TreeOfThought) Reason(ctx context.Context, query, contextText string, model llm.Model) (result *ReasoningResult) {
	ctx, inv := begin(ctx, t.Name(), model)
	defer inv.guard(&result)

	approaches, fallback := t.generate(ctx, inv, query, contextText)
	initial := make([]branch, len(approaches))
	for i, a := range approaches {
		initial[i] = branch{id: i, approach: a, prunedAt: -1}
	}
	arena := &branchArena{}
	arena.push(initial)

	expanded := 0
	survivors := make([]int, 0, t.config.MaxDepth)
	for round := 1; round <= t.config.MaxDepth; round++ {
		alive := arena.alive()
		if len(alive) == 0 {
			break
		}
		next := slices.Clone(arena.latest())

		expansions := make([]expandOutcome, len(alive))
		var g errgroup.Group
		for slot, idx := range alive {
			b := next[idx]
			g.Go(func() error {
				expansions[slot] = t.expand(ctx, model, query, contextText, b)
				return nil
			})
		}
		_ = g.Wait()
		for slot, idx := range alive {
			e := expansions[slot]
			inv.add(e.tokens, 1)
			if e.err != nil {
				inv.logger.Warn("branch expansion failed", zap.Int("branch", idx+1), zap.Int("round", round), zap.Error(e.err))
				next[idx] = next[idx].withStep(expansionErrorStep)
				continue
			}
			expanded++
			next[idx] = next[idx].withStep(e.step)
		}

		scores := make([]scoreOutcome, len(alive))
		for slot, idx := range alive {
			b := next[idx]
			g.Go(func() error {
				scores[slot] = t.score(ctx, model, query, b)
				return nil
			})
		}
		_ = g.Wait()
		for slot, idx := range alive {
			s := scores[slot]
			inv.add(s.tokens, 1)
			if s.err != nil {
				inv.logger.Warn("branch scoring failed", zap.Int("branch", idx+1), zap.Error(s.err))
			}
			next[idx] = next[idx].withScore(s.score)
		}

		// stable：同分保留原顺序
		ranked := slices.Clone(alive)
		slices.SortStableFunc(ranked, func(a, b int) int {
			switch {
			case next[a].score > next[b].score:
				return -1
			case next[a].score < next[b].score:
				return 1
			}
			return 0
		})
		for _, idx := range ranked[min(t.config.BeamWidth, len(ranked)):] {
			next[idx] = next[idx].pruned(round)
		}
		arena.push(next)
		survivors = append(survivors, min(t.config.BeamWidth, len(ranked)))
	}

	final := arena.latest()
	best := selectBestBranch(final)
	rounds := len(arena.rounds) - 1

	var steps []string
	var chain []map[string]any
	scoresByBranch := make([]float64, len(final))
	for i, b := range final {
		label := "survived"
		switch {
		case i == best:
			label = "best"
		case b.status == branchPruned:
			label = "pruned"
		}
		scoresByBranch[i] = b.score
		steps = append(steps, fmt.Sprintf("Branch %d [%s, score %.1f]: %s", i+1, label, b.score, b.approach))
		for j, s := range b.steps {
			steps = append(steps, fmt.Sprintf("  %d.%d %s", i+1, j+1, s))
		}
		entry := map[string]any{
			"branch":   i + 1,
			"approach": b.approach,
			"steps":    slices.Clone(b.steps),
			"score":    b.score,
			"status":   label,
		}
		if b.status == branchPruned {
			entry["pruned_at_round"] = b.prunedAt
		}
		chain = append(chain, entry)
	}

	metadata := map[string]any{
		"num_branches":          t.config.NumBranches,
		"max_depth":             t.config.MaxDepth,
		"beam_width":            t.config.BeamWidth,
		"branch_scores":         scoresByBranch,
		"best_branch":           best + 1,
		"best_score":            final[best].score,
		"rounds":                rounds,
		"survivors_per_round":   survivors,
		"generation_fallback":   fallback,
		"successful_expansions": expanded,
	}

	answer, concluderConfidence, cerr := t.conclude(ctx, inv, query, contextText, final[best])
	conclusion := map[string]any{"phase": "conclusion", "branch": best + 1, "confidence": concluderConfidence}
	if cerr != nil {
		conclusion["error"] = cerr.Error()
		metadata["conclusion_error"] = cerr.Error()
	}
	chain = append(chain, conclusion)
	metadata["concluder_confidence"] = concluderConfidence

	if expanded == 0 && cerr != nil {
		steps = append(steps, "No branch could be expanded and the conclusion failed")
		metadata["error"] = "all expansions failed"
		return inv.finish(&ReasoningResult{
			Answer:         "Tree-of-thought reasoning failed: no branch could be expanded",
			Confidence:     0,
			Steps:          steps,
			ReasoningChain: chain,
			Metadata:       metadata,
		})
	}

	return inv.finish(&ReasoningResult{
		Answer:         answer,
		Confidence:     totConcluderWeight*concluderConfidence + totBranchScoreWeight*(final[best].score/maxBranchScore),
		Steps:          steps,
		ReasoningChain: chain,
		Metadata:       metadata,
	})
}

// generate asks for K approaches; on failure it falls back to one generic branch.
func (t *TreeOfThought) generate(ctx context.Context, inv *invocation, query, contextText string) ([]string, bool) {
	prompt := fmt.Sprintf("%s\n\nPropose %d distinct approaches.", questionPrompt(query, contextText), t.config.NumBranches)
	text, err := inv.call(ctx, "generate", []llm.Message{
		llm.SystemMessage(totGenerateSystemPrompt),
		llm.UserMessage(prompt),
	}, t.config.GenerateTemperature, t.config.MaxTokens)
	if err == nil {
		var parsed struct {
			Approaches []string `json:"approaches"`
		}
		if perr := parseJSONObject(text, &parsed); perr == nil {
			approaches := distinctApproaches(parsed.Approaches, t.config.NumBranches)
			if len(approaches) > 0 {
				return approaches, false
			}
		}
	}
	inv.logger.Warn("approach generation failed, using a single generic branch", zap.Error(err))
	return []string{fallbackApproach}, true
}

func distinctApproaches(items []string, limit int) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, limit)
	for _, item := range nonEmpty(items) {
		key := NormalizeAnswer(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (t *TreeOfThought) expand(ctx context.Context, model llm.Model, query, contextText string, b branch) expandOutcome {
	prompt := fmt.Sprintf("%s\n\n%s\n\nWrite the next reasoning step.", questionPrompt(query, contextText), describeBranch(b))
	text, tokens, err := safeComplete(ctx, model, []llm.Message{
		llm.SystemMessage(totExpandSystemPrompt),
		llm.UserMessage(prompt),
	}, t.config.ExpandTemperature, t.config.MaxTokens)
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("empty expansion")
	}
	return expandOutcome{step: strings.TrimSpace(text), tokens: tokens, err: err}
}

func (t *TreeOfThought) score(ctx context.Context, model llm.Model, query string, b branch) scoreOutcome {
	prompt := fmt.Sprintf("Question:\n%s\n\n%s", query, describeBranch(b))
	text, tokens, err := safeComplete(ctx, model, []llm.Message{
		llm.SystemMessage(totScoreSystemPrompt),
		llm.UserMessage(prompt),
	}, t.config.ScoreTemperature, t.config.MaxTokens)
	if err != nil {
		return scoreOutcome{score: defaultBranchScore, tokens: tokens, err: err}
	}
	score, perr := parseBranchScore(text)
	if perr != nil {
		return scoreOutcome{score: defaultBranchScore, tokens: tokens, err: perr}
	}
	return scoreOutcome{score: score, tokens: tokens}
}

// parseBranchScore accepts {"score": n} or a bare number, clamped to [0, 10].
func parseBranchScore(text string) (float64, error) {
	var parsed struct {
		Score jsonFloat `json:"score"`
	}
	if err := parseJSONObject(text, &parsed); err == nil && parsed.Score.Valid {
		return clamp(parsed.Score.Value, 0, maxBranchScore), nil
	}
	var v float64
	if _, err := fmt.Sscanf(strings.TrimSpace(text), "%g", &v); err != nil || math.IsNaN(v) {
		return 0, fmt.Errorf("unparseable score %q", truncateRunes(text, 40))
	}
	return clamp(v, 0, maxBranchScore), nil
}

func (t *TreeOfThought) conclude(ctx context.Context, inv *invocation, query, contextText string, best branch) (string, float64, error) {
	prompt := fmt.Sprintf("%s\n\n%s", questionPrompt(query, contextText), describeBranch(best))
	text, err := inv.call(ctx, "conclude", []llm.Message{
		llm.SystemMessage(totConcludeSystemPrompt),
		llm.UserMessage(prompt),
	}, t.config.ConcludeTemperature, t.config.MaxTokens)
	if err != nil {
		return best.lastUsefulStep(), 0, err
	}
	var parsed struct {
		FinalAnswer string    `json:"final_answer"`
		Confidence  jsonFloat `json:"confidence"`
	}
	if perr := parseJSONObject(text, &parsed); perr != nil || strings.TrimSpace(parsed.FinalAnswer) == "" {
		if perr == nil {
			perr = fmt.Errorf("conclusion missing final_answer")
		}
		return best.lastUsefulStep(), 0, perr
	}
	return strings.TrimSpace(parsed.FinalAnswer), clamp01(parsed.Confidence.Or(0.5)), nil
}

// selectBestBranch 选择得分最高的存活分支，同分取较小下标；
// 没有存活分支时在全部分支中选择
func selectBestBranch(branches []branch) int {
	best := -1
	for i, b := range branches {
		if b.status != branchAlive {
			continue
		}
		if best < 0 || b.score > branches[best].score {
			best = i
		}
	}
	if best >= 0 {
		return best
	}
	best = 0
	for i, b := range branches {
		if b.score > branches[best].score {
			best = i
		}
	}
	return best
}

func describeBranch(b branch) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Approach: %s\n", b.approach)
	if len(b.steps) == 0 {
		sb.WriteString("Steps so far: (none)")
		return sb.String()
	}
	sb.WriteString("Steps so far:")
	for i, s := range b.steps {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, s)
	}
	return sb.String()
}
