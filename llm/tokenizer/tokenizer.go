package tokenizer

// Tokenizer 是统一的 Token 计数接口.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// Encode 将文本转换为 token ID 列表.
	Encode(text string) ([]int, error)

	// Decode 将 token ID 转换回文本.
	Decode(tokens []int) (string, error)

	// Name 返回分词器的名称.
	Name() string
}

// ForModel returns a tiktoken tokenizer for OpenAI-family models and the
// estimator for everything else.
func ForModel(model string) Tokenizer {
	if t, ok := lookupEncoding(model); ok {
		return newTiktoken(model, t)
	}
	return NewEstimatorTokenizer()
}
