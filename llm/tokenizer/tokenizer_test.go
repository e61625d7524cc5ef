package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator_CountTokens(t *testing.T) {
	t.Parallel()

	e := NewEstimatorTokenizer()
	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, _ = e.CountTokens("a")
	assert.Equal(t, 1, n, "non-empty text is at least one token")

	n, _ = e.CountTokens(strings.Repeat("abcd", 10))
	assert.Equal(t, 10, n)

	n, _ = e.CountTokens("你好世界你好世")
	assert.Equal(t, 4, n)
}

func TestForModel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "tiktoken[o200k_base]", ForModel("gpt-4o-mini").Name())
	assert.Equal(t, "tiktoken[cl100k_base]", ForModel("gpt-4-turbo").Name())
	assert.Equal(t, "estimator", ForModel("claude-sonnet").Name())
	assert.Equal(t, "tiktoken[cl100k_base]", NewTiktokenTokenizer("unknown").Name())
}

func TestTruncate_EstimatorFallsBackToRunes(t *testing.T) {
	t.Parallel()

	e := NewEstimatorTokenizer()
	text := strings.Repeat("abcd", 100) // 100 estimated tokens

	assert.Equal(t, text, Truncate(e, text, 100))
	assert.Equal(t, text, Truncate(e, text, 500))

	cut := Truncate(e, text, 10)
	assert.Len(t, cut, 40)
	assert.True(t, strings.HasPrefix(text, cut))

	assert.Equal(t, "", Truncate(e, text, 0))
}
