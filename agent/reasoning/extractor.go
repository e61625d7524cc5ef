package reasoning

import (
	"context"
	"errors"
	"strings"

	"github.com/BaSui01/reasonflow/llm"
)

// Extraction methods reported per sample.
const (
	ExtractionMarker = "marker"
	ExtractionModel  = "model"
	ExtractionRaw    = "raw"
)

const (
	finalAnswerMarker = "final answer"

	extractSystemPrompt = `Extract the final answer from the response below. Reply with the answer only, no explanation.`
)

// Extraction is the outcome of pulling a final answer out of one sample.
type Extraction struct {
	Answer string
	Method string
	Tokens int
	// Calls counts model calls made while extracting.
	Calls int
}

// AnswerExtractor turns one free-form sample into a final answer.
type AnswerExtractor interface {
	Extract(ctx context.Context, model llm.Model, query, sample string) (Extraction, error)
}

// ExtractMarkedAnswer scans for lines starting with "Final Answer:"
// (case-insensitive, markdown emphasis allowed) and returns the text after
// the last one.
func ExtractMarkedAnswer(sample string) (string, bool) {
	found := ""
	for _, line := range strings.Split(sample, "\n") {
		trimmed := strings.TrimLeft(strings.TrimSpace(line), "*#>- ")
		if len(trimmed) < len(finalAnswerMarker) || !strings.EqualFold(trimmed[:len(finalAnswerMarker)], finalAnswerMarker) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimLeft(trimmed[len(finalAnswerMarker):], ":*_ "))
		rest = strings.TrimSpace(strings.TrimRight(rest, "*_"))
		if rest != "" {
			found = rest
		}
	}
	return found, found != ""
}

// NormalizeAnswer is the vote key: lower-case, whitespace collapsed,
// trailing period dropped.
func NormalizeAnswer(answer string) string {
	s := strings.Join(strings.Fields(strings.ToLower(answer)), " ")
	return strings.TrimSpace(strings.TrimSuffix(s, "."))
}

// TwoStageExtractor tries the textual marker first and falls back to a
// low-temperature extraction call.
type TwoStageExtractor struct {
	Temperature float32
	MaxTokens   int
}

// DefaultAnswerExtractor 返回默认两阶段提取器
func DefaultAnswerExtractor() *TwoStageExtractor {
	return &TwoStageExtractor{Temperature: 0.0, MaxTokens: 200}
}

// Extract 实现 AnswerExtractor
func (e *TwoStageExtractor) Extract(ctx context.Context, model llm.Model, query, sample string) (Extraction, error) {
	if answer, ok := ExtractMarkedAnswer(sample); ok {
		return Extraction{Answer: answer, Method: ExtractionMarker}, nil
	}

	text, tokens, err := safeComplete(ctx, model, []llm.Message{
		llm.SystemMessage(extractSystemPrompt),
		llm.UserMessage("Question:\n" + query + "\n\nResponse:\n" + sample),
	}, e.Temperature, e.MaxTokens)
	if err != nil {
		return Extraction{Tokens: tokens, Calls: 1}, err
	}
	answer := strings.TrimSpace(text)
	if answer == "" {
		return Extraction{Tokens: tokens, Calls: 1}, errors.New("extraction returned empty answer")
	}
	if marked, ok := ExtractMarkedAnswer(answer); ok {
		answer = marked
	}
	return Extraction{Answer: answer, Method: ExtractionModel, Tokens: tokens, Calls: 1}, nil
}

// lastLine is the last resort when extraction fails: the final non-empty line.
func lastLine(sample string) string {
	lines := nonEmpty(strings.Split(sample, "\n"))
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
