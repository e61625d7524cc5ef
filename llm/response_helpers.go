package llm

import "fmt"

// FirstChoice safely returns the first choice from a ChatResponse.
// Returns an error if the response is nil or has no choices.
func FirstChoice(resp *ChatResponse) (ChatChoice, error) {
	if resp == nil {
		return ChatChoice{}, fmt.Errorf("nil ChatResponse")
	}
	if len(resp.Choices) == 0 {
		return ChatChoice{}, fmt.Errorf("empty choices in ChatResponse (model returned no choices)")
	}
	return resp.Choices[0], nil
}

// TextResponse builds a single-choice response. Used by adapters and fakes
// that only produce plain text.
func TextResponse(content string, totalTokens int) *ChatResponse {
	return &ChatResponse{
		Choices: []ChatChoice{{Index: 0, FinishReason: "stop", Message: Message{Role: RoleAssistant, Content: content}}},
		Usage:   ChatUsage{TotalTokens: totalTokens},
	}
}
