package tokenizer

// Truncate cuts text to at most maxTokens tokens. Tokenizers that cannot
// decode fall back to cutting runes in proportion to the estimated count.
func Truncate(t Tokenizer, text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return ""
	}
	tokens, err := t.Encode(text)
	if err != nil || len(tokens) <= maxTokens {
		return text
	}
	if decoded, err := t.Decode(tokens[:maxTokens]); err == nil {
		return decoded
	}

	runes := []rune(text)
	keep := len(runes) * maxTokens / len(tokens)
	if keep < 1 {
		keep = 1
	}
	return string(runes[:keep])
}
