package reasoning

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/BaSui01/reasonflow/llm/tokenizer"
	"github.com/BaSui01/reasonflow/testutil/mocks"
	"github.com/BaSui01/reasonflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newRAR(t require.TestingT, opts ...RetrievalAugmentedOption) *RetrievalAugmented {
	rar, err := NewRetrievalAugmented(DefaultRetrievalAugmentedConfig(), opts...)
	require.NoError(t, err)
	return rar
}

type retrievalRecorder struct {
	calls   atomic.Int32
	results map[string][]string
	fail    map[string]error
}

func (r *retrievalRecorder) retrieve(_ context.Context, query string) ([]string, error) {
	r.calls.Add(1)
	if err := r.fail[query]; err != nil {
		return nil, err
	}
	return r.results[query], nil
}

func incompleteInitial(missing ...string) string {
	return js(obj{"partial_answer": "partial", "confidence": 0.5, "is_complete": false, "missing_info": missing})
}

func TestRetrievalAugmented_FullPipeline(t *testing.T) {
	t.Parallel()

	rec := &retrievalRecorder{results: map[string][]string{
		"q1": {"snippet one", "shared"},
		"q2": {"shared", "snippet two"},
	}}
	model := mocks.NewMockModel().
		On(matchRARVerify, js(obj{"is_grounded": false, "unsupported_claims": []string{"X", "Y"}})).
		On(matchRARSynth, js(obj{"final_answer": "grounded answer", "confidence": 0.8, "sources_used": []string{"[1]", "[3]"}, "reasoning": "r"})).
		On(matchRARGap, js(obj{"search_queries": []string{"q1", "q2"}, "summary": "need facts"})).
		On(matchRARInitial, incompleteInitial("fact A", "fact B"))

	result := newRAR(t, WithRetriever(rec.retrieve)).Reason(context.Background(), "question", "some context", model)

	assert.Equal(t, "grounded answer", result.Answer)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
	assert.Equal(t, int32(2), rec.calls.Load())
	assert.Equal(t, 3, result.Metadata["retrieved_count"])
	assert.Equal(t, []string{"q1", "q2"}, result.Metadata["search_queries"])
	assert.Equal(t, false, result.Metadata["is_grounded"])
	assert.Equal(t, []string{"X", "Y"}, result.Metadata["unsupported_claims"])
	assert.Len(t, result.ReasoningChain, 5)
	assert.Equal(t, 40, result.TokenCount)

	var synth mocks.MockModelCall
	for _, c := range model.Calls() {
		if strings.Contains(c.Prompt, matchRARSynth) {
			synth = c
		}
	}
	assert.Contains(t, synth.Prompt, "[1] snippet one\n[2] shared\n[3] snippet two")
	assert.Contains(t, synth.Prompt, "some context")
}

func TestRetrievalAugmented_EarlyExit(t *testing.T) {
	t.Parallel()

	rec := &retrievalRecorder{}
	model := mocks.NewMockModel().
		On(matchRARInitial, js(obj{"partial_answer": "complete answer", "confidence": 0.9, "is_complete": true, "missing_info": []string{}}))

	result := newRAR(t, WithRetriever(rec.retrieve)).Reason(context.Background(), "q", "ctx", model)

	assert.Equal(t, "complete answer", result.Answer)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)
	assert.Equal(t, true, result.Metadata["early_exit"])
	assert.Equal(t, int32(0), rec.calls.Load())
	assert.Equal(t, 0, model.CallCount(matchRARGap))
	assert.Equal(t, 0, model.CallCount(matchRARSynth))
	assert.Equal(t, 0, model.CallCount(matchRARVerify))
	assert.Equal(t, "early_exit", result.ReasoningChain[len(result.ReasoningChain)-1]["phase"])
}

func TestRetrievalAugmented_NoMissingInfoSearchesOriginalQuery(t *testing.T) {
	t.Parallel()

	rec := &retrievalRecorder{results: map[string][]string{"original question": {"hit"}}}
	model := mocks.NewMockModel().
		On(matchRARVerify, js(obj{"is_grounded": true, "unsupported_claims": []string{}, "verified_confidence": 0.7})).
		On(matchRARSynth, js(obj{"final_answer": "a", "confidence": 0.7})).
		On(matchRARInitial, js(obj{"partial_answer": "p", "confidence": 0.6, "is_complete": true}))

	result := newRAR(t, WithRetriever(rec.retrieve)).Reason(context.Background(), "original question", "", model)

	assert.Equal(t, 0, model.CallCount(matchRARGap), "gap call skipped when nothing is missing")
	assert.Equal(t, []string{"original question"}, result.Metadata["search_queries"])
	assert.Equal(t, 1, result.Metadata["retrieved_count"])
	assert.InDelta(t, 0.7, result.Confidence, 1e-9)
}

func TestRetrievalAugmented_GapFailureFallsBackToQuery(t *testing.T) {
	t.Parallel()

	rec := &retrievalRecorder{}
	model := mocks.NewMockModel().
		On(matchRARVerify, js(obj{"unsupported_claims": []string{}})).
		On(matchRARSynth, js(obj{"final_answer": "a", "confidence": 0.6})).
		OnError(matchRARGap, errors.New("gap down")).
		On(matchRARInitial, incompleteInitial("something"))

	result := newRAR(t, WithRetriever(rec.retrieve)).Reason(context.Background(), "the query", "", model)

	assert.Equal(t, []string{"the query"}, result.Metadata["search_queries"])
	assert.Equal(t, int32(1), rec.calls.Load())
	assert.InDelta(t, 0.6, result.Confidence, 1e-9)
}

func TestRetrievalAugmented_QueriesCappedAndFailuresIsolated(t *testing.T) {
	t.Parallel()

	rec := &retrievalRecorder{
		results: map[string][]string{"a": {"from a"}, "c": {"from c"}},
		fail:    map[string]error{"b": errors.New("index offline")},
	}
	model := mocks.NewMockModel().
		On(matchRARVerify, js(obj{"unsupported_claims": []string{}})).
		On(matchRARSynth, js(obj{"final_answer": "a", "confidence": 0.6})).
		On(matchRARGap, js(obj{"search_queries": []string{"a", "b", "c", "d", "e"}})).
		On(matchRARInitial, incompleteInitial("x"))

	result := newRAR(t, WithRetriever(rec.retrieve)).Reason(context.Background(), "q", "", model)

	assert.Equal(t, []string{"a", "b", "c"}, result.Metadata["search_queries"])
	assert.Equal(t, int32(3), rec.calls.Load())
	assert.Equal(t, 2, result.Metadata["retrieved_count"])
	assert.Equal(t, []string{"b"}, result.ReasoningChain[2]["failed_queries"])
}

func TestRetrievalAugmented_RetrievalPanicIsAbsorbed(t *testing.T) {
	t.Parallel()

	model := mocks.NewMockModel().
		On(matchRARVerify, js(obj{"unsupported_claims": []string{}})).
		On(matchRARSynth, js(obj{"final_answer": "a", "confidence": 0.6})).
		On(matchRARInitial, incompleteInitial())

	result := newRAR(t, WithRetriever(func(context.Context, string) ([]string, error) { panic("retriever bug") })).
		Reason(context.Background(), "q", "", model)

	assert.Equal(t, 0, result.Metadata["retrieved_count"])
	assert.Contains(t, model.Calls()[1].Prompt, noRetrievedInfo)
}

func TestRetrievalAugmented_WithoutRetriever(t *testing.T) {
	t.Parallel()

	model := mocks.NewMockModel().
		On(matchRARVerify, js(obj{"unsupported_claims": []string{}})).
		On(matchRARSynth, js(obj{"final_answer": "a", "confidence": 0.6})).
		On(matchRARInitial, incompleteInitial())

	result := newRAR(t).Reason(context.Background(), "q", "", model)
	assert.Equal(t, false, result.Metadata["retriever_configured"])
	assert.Equal(t, true, result.ReasoningChain[2]["skipped"])
	assert.Equal(t, "a", result.Answer)
}

func TestRetrievalAugmented_SynthesisFailure(t *testing.T) {
	t.Parallel()

	t.Run("falls back to partial answer", func(t *testing.T) {
		t.Parallel()
		model := mocks.NewMockModel().
			OnError(matchRARSynth, errors.New("synth down")).
			On(matchRARInitial, incompleteInitial())

		result := newRAR(t).Reason(context.Background(), "q", "", model)
		assert.Equal(t, "partial", result.Answer)
		assert.InDelta(t, 0.4, result.Confidence, 1e-9)
		assert.Equal(t, 0, model.CallCount(matchRARVerify))
	})

	t.Run("no partial answer gives zero confidence", func(t *testing.T) {
		t.Parallel()
		model := mocks.NewMockModel().
			On(matchRARSynth, "not json").
			OnError(matchRARInitial, errors.New("initial down"))

		result := newRAR(t).Reason(context.Background(), "q", "", model)
		assert.Equal(t, 0.0, result.Confidence)
		assert.Contains(t, result.Answer, "failed")
	})
}

func TestRetrievalAugmented_VerificationFailures(t *testing.T) {
	t.Parallel()

	t.Run("call error", func(t *testing.T) {
		t.Parallel()
		model := mocks.NewMockModel().
			OnError(matchRARVerify, errors.New("verify down")).
			On(matchRARSynth, js(obj{"final_answer": "a", "confidence": 0.5})).
			On(matchRARInitial, incompleteInitial())
		assert.InDelta(t, 0.4, newRAR(t).Reason(context.Background(), "q", "", model).Confidence, 1e-9)
	})

	t.Run("parse failure", func(t *testing.T) {
		t.Parallel()
		model := mocks.NewMockModel().
			On(matchRARVerify, "grounded, mostly").
			On(matchRARSynth, js(obj{"final_answer": "a", "confidence": 0.5})).
			On(matchRARInitial, incompleteInitial())
		assert.InDelta(t, 0.45, newRAR(t).Reason(context.Background(), "q", "", model).Confidence, 1e-9)
	})
}

func TestRetrievalAugmented_ClaimsPenalizeSynthesizedAnswer(t *testing.T) {
	t.Parallel()

	rec := &retrievalRecorder{results: map[string][]string{"gap": {"evidence"}}}
	model := mocks.NewMockModel().
		On(matchRARVerify, js(obj{"unsupported_claims": []string{"X", "Y"}})).
		On(matchRARSynth, js(obj{"final_answer": "grounded answer", "confidence": 0.8})).
		On(matchRARGap, js(obj{"search_queries": []string{"gap"}})).
		On(matchRARInitial, incompleteInitial("a fact"))

	result := newRAR(t, WithRetriever(rec.retrieve)).Reason(context.Background(), "q", "ctx", model)

	assert.Equal(t, "grounded answer", result.Answer)
	// 0.8 - 2×0.15
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
	assert.NotContains(t, result.Metadata, "synthesis_error")
	assert.Equal(t, 1, model.CallCount(matchRARVerify))
}

func TestRetrievalAugmented_TruncatesContextForSynthesisOnly(t *testing.T) {
	t.Parallel()

	cfg := DefaultRetrievalAugmentedConfig()
	cfg.ContextLimit = 10
	rar, err := NewRetrievalAugmented(cfg)
	require.NoError(t, err)

	model := mocks.NewMockModel().
		On(matchRARVerify, js(obj{"is_grounded": true})).
		On(matchRARSynth, js(obj{"final_answer": "a", "confidence": 0.6})).
		On(matchRARInitial, incompleteInitial())
	long := strings.Repeat("abcdefghij", 50)
	rar.Reason(context.Background(), "q", long, model)

	prompts := map[string]string{}
	for _, c := range model.Calls() {
		for _, m := range []string{matchRARInitial, matchRARSynth, matchRARVerify} {
			if strings.Contains(c.Prompt, m) {
				prompts[m] = c.Prompt
			}
		}
	}
	require.Len(t, prompts, 3)
	assert.Contains(t, prompts[matchRARInitial], long)
	for _, m := range []string{matchRARSynth, matchRARVerify} {
		assert.Contains(t, prompts[m], "Original context:\nabcdefghij\n", m)
		assert.NotContains(t, prompts[m], "abcdefghijabcdefghij", m)
	}
}

func TestRetrievalAugmented_TokenTruncation(t *testing.T) {
	t.Parallel()

	cfg := DefaultRetrievalAugmentedConfig()
	cfg.ContextLimit = 3
	rar, err := NewRetrievalAugmented(cfg, WithTokenizer(tokenizer.NewEstimatorTokenizer()))
	require.NoError(t, err)

	model := mocks.NewMockModel().
		On(matchRARVerify, js(obj{"is_grounded": true})).
		On(matchRARSynth, js(obj{"final_answer": "a", "confidence": 0.6})).
		On(matchRARInitial, incompleteInitial())
	long := strings.Repeat("word ", 200)
	rar.Reason(context.Background(), "q", long, model)

	for _, c := range model.Calls() {
		if strings.Contains(c.Prompt, matchRARSynth) {
			assert.Less(t, len(c.Prompt), len(long))
			return
		}
	}
	t.Fatal("no synthesis call")
}

func TestNewRetrievalAugmented_InvalidConfig(t *testing.T) {
	t.Parallel()

	mutations := []func(*RetrievalAugmentedConfig){
		func(c *RetrievalAugmentedConfig) { c.MaxSearchQueries = 0 },
		func(c *RetrievalAugmentedConfig) { c.MaxSnippets = 0 },
		func(c *RetrievalAugmentedConfig) { c.ContextLimit = 0 },
		func(c *RetrievalAugmentedConfig) { c.EarlyExitConfidence = 1.5 },
		func(c *RetrievalAugmentedConfig) { c.Temperature = -1 },
	}
	for _, mutate := range mutations {
		cfg := DefaultRetrievalAugmentedConfig()
		mutate(&cfg)
		_, err := NewRetrievalAugmented(cfg)
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))
	}
}

// Property: a complete and confident first pass never touches retrieval,
// synthesis or verification.
func TestProperty_RetrievalAugmented_EarlyExitSkipsRetrieval(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		confidence := rapid.Float64Range(0.8, 1).Draw(rt, "confidence")
		rec := &retrievalRecorder{}
		model := mocks.NewMockModel().
			On(matchRARInitial, js(obj{"partial_answer": "done", "confidence": confidence, "is_complete": true}))

		result := newRAR(rt, WithRetriever(rec.retrieve)).Reason(context.Background(), "q", "ctx", model)

		assert.Equal(rt, int32(0), rec.calls.Load())
		assert.Equal(rt, 1, len(model.Calls()))
		assert.Equal(rt, true, result.Metadata["early_exit"])
	})
}

// Property: final confidence == max(0, v - min(0.15k, 0.4)).
func TestProperty_RetrievalAugmented_ClaimPenalty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		k := rapid.IntRange(0, 5).Draw(rt, "claims")
		v := rapid.Float64Range(0, 1).Draw(rt, "verified_confidence")
		claims := make([]string, k)
		for i := range claims {
			claims[i] = "claim " + string(rune('a'+i))
		}
		model := mocks.NewMockModel().
			On(matchRARVerify, js(obj{"unsupported_claims": claims, "verified_confidence": v})).
			On(matchRARSynth, js(obj{"final_answer": "a", "confidence": 0.9})).
			On(matchRARInitial, incompleteInitial())

		result := newRAR(rt).Reason(context.Background(), "q", "", model)

		want := v - min(0.15*float64(k), 0.4)
		if want < 0 {
			want = 0
		}
		assert.InDelta(rt, want, result.Confidence, 1e-9)
	})
}
