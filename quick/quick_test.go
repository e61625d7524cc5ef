package quick

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/reasonflow/agent/reasoning"
	"github.com/BaSui01/reasonflow/config"
	"github.com/BaSui01/reasonflow/retrieval"
	"github.com/BaSui01/reasonflow/testutil/mocks"
	"github.com/BaSui01/reasonflow/types"
)

const (
	matchCoTReason = "meticulous analyst"
	matchCoTVerify = "critical reviewer"
	matchRARInit   = "using only the provided context"
	matchRARGap    = "Turn the missing information"
	matchRARSynth  = "combining the original context"
	matchRARVerify = "Check whether every claim"
)

var louvreDocs = []retrieval.Document{
	{ID: "louvre", Content: "The Louvre museum is located in Paris on the right bank of the Seine."},
	{ID: "prado", Content: "The Prado museum is located in Madrid."},
	{ID: "uffizi", Content: "The Uffizi gallery is located in Florence."},
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.LLM.MaxRetries = 0
	// 未知模型名使用估算分词器，避免下载 BPE 数据
	cfg.LLM.Model = "test-model"
	cfg.Retrieval.TopK = 2
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, opts ...Option) (*Engine, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	base := []Option{WithConfig(cfg), WithLogger(zaptest.NewLogger(t)), WithRegisterer(reg)}
	e, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e, reg
}

func js(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func cotModel() *mocks.MockModel {
	return mocks.NewMockModel().
		On(matchCoTVerify, js(map[string]any{"is_consistent": true, "issues": []string{}, "verified_confidence": 0.85})).
		On(matchCoTReason, js(map[string]any{
			"steps":        []map[string]any{{"step": 1, "thought": "6 x 7", "conclusion": "42"}},
			"final_answer": "42",
			"confidence":   0.9,
		}))
}

func ragModel() *mocks.MockModel {
	return mocks.NewMockModel().
		On(matchRARVerify, js(map[string]any{"is_grounded": true, "unsupported_claims": []string{}, "verified_confidence": 0.9})).
		On(matchRARSynth, js(map[string]any{"final_answer": "Paris", "confidence": 0.9, "sources_used": []string{"[1]"}})).
		On(matchRARGap, js(map[string]any{"search_queries": []string{"Louvre museum location"}})).
		On(matchRARInit, js(map[string]any{"partial_answer": "", "confidence": 0.2, "is_complete": false, "missing_info": []string{"where the Louvre is"}}))
}

// metricValue sums every sample of a counter family.
func metricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestNew_Defaults(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())

	assert.Equal(t, reasoning.StrategyChainOfThought, e.Router().DefaultStrategy())
	assert.Nil(t, e.Index())
	assert.NotNil(t, e.Logger())
	assert.Equal(t, testConfig(), e.Config())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Reasoning.DefaultStrategy = "nope"

	_, err := New(WithConfig(cfg), WithLogger(zaptest.NewLogger(t)))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))
}

func TestNew_LoadsConfigFile(t *testing.T) {
	path := t.TempDir() + "/reasonflow.yaml"
	require.NoError(t, os.WriteFile(path, []byte("reasoning:\n  default_strategy: tree_of_thought\nmetrics:\n  enabled: false\n"), 0o644))

	e, err := New(WithConfigPath(path), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	assert.Equal(t, reasoning.StrategyTreeOfThought, e.Router().DefaultStrategy())
}

func TestEngine_Reason_NoModel(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())

	_, err := e.Reason(context.Background(), Task{Query: "q"}, nil)
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestEngine_Reason_SimpleTaskUsesChainOfThought(t *testing.T) {
	e, reg := newTestEngine(t, testConfig())

	res, err := e.Reason(context.Background(), Task{Query: "What is 6 x 7?", TaskType: "simple"}, cotModel())
	require.NoError(t, err)

	assert.Equal(t, reasoning.StrategyChainOfThought, res.StrategyName)
	assert.Equal(t, "42", res.Answer)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
	assert.Equal(t, 20, res.TokenCount)
	assert.NotEmpty(t, res.Metadata["run_id"])

	assert.Equal(t, 1.0, metricValue(t, reg, "reasonflow_reasoning_invocations_total"))
	assert.Equal(t, 20.0, metricValue(t, reg, "reasonflow_reasoning_tokens_total"))
	assert.Equal(t, 1.0, metricValue(t, reg, "reasonflow_router_selections_total"))
}

func TestEngine_Reason_DefaultModelWins(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(), WithModel(cotModel()))

	res, err := e.Reason(context.Background(), Task{Query: "What is 6 x 7?"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "42", res.Answer)
}

func TestEngine_Reason_AgentOverride(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())
	require.NoError(t, e.Router().RegisterOverride("planner-7", reasoning.StrategyTreeOfThought))

	// 模型没有任何脚本响应：策略降级但仍返回结果
	res, err := e.Reason(context.Background(), Task{Query: "q", TaskType: "simple", AgentID: "planner-7"}, mocks.NewMockModel())
	require.NoError(t, err)
	assert.Equal(t, reasoning.StrategyTreeOfThought, res.StrategyName)
	assert.Zero(t, res.Confidence)
}

func TestEngine_Reason_KnowledgeIntensiveRetrievesFromDocuments(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(), WithDocuments(louvreDocs...))
	require.NotNil(t, e.Index())
	assert.Equal(t, 3, e.Index().Len())

	model := ragModel()
	res, err := e.Reason(context.Background(), Task{Query: "Where is the Louvre?", TaskType: "knowledge_intensive"}, model)
	require.NoError(t, err)

	assert.Equal(t, reasoning.StrategyRetrievalAugmented, res.StrategyName)
	assert.Equal(t, "Paris", res.Answer)
	assert.Equal(t, true, res.Metadata["retriever_configured"])

	var synthPrompt string
	for _, c := range model.Calls() {
		if strings.Contains(c.Prompt, matchRARSynth) {
			synthPrompt = c.Prompt
		}
	}
	assert.Contains(t, synthPrompt, "right bank of the Seine")
}

func TestEngine_ChunksLongDocuments(t *testing.T) {
	cfg := testConfig()
	cfg.Retrieval.ChunkSize = 8
	cfg.Retrieval.ChunkOverlap = 0

	guide := retrieval.Document{ID: "guide.md", Content: "The Louvre museum is located in Paris on the right bank of the Seine.\n\n" +
		"The Prado museum is located in Madrid near the Retiro park.\n\n" +
		"The Uffizi gallery is located in Florence beside the Arno river."}
	e, _ := newTestEngine(t, cfg, WithDocuments(guide))
	require.NotNil(t, e.Index())
	assert.Greater(t, e.Index().Len(), 1)

	hits, err := e.Index().Search(context.Background(), "Madrid", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.True(t, strings.HasPrefix(hits[0].Document.ID, "guide.md#"))
	assert.Contains(t, hits[0].Document.Content, "Madrid")
	assert.NotContains(t, hits[0].Document.Content, "Florence")
}

func TestEngine_RetrievalCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Retrieval.Cache.Enabled = true
	cfg.Retrieval.Cache.Addr = mr.Addr()

	e, reg := newTestEngine(t, cfg, WithDocuments(louvreDocs...))
	task := Task{Query: "Where is the Louvre?", TaskType: "knowledge_intensive"}

	_, err := e.Reason(context.Background(), task, ragModel())
	require.NoError(t, err)
	assert.True(t, mr.Exists(retrieval.Key("Louvre museum location")))

	_, err = e.Reason(context.Background(), task, ragModel())
	require.NoError(t, err)

	assert.Equal(t, 1.0, metricValue(t, reg, "reasonflow_cache_misses_total"))
	assert.Equal(t, 1.0, metricValue(t, reg, "reasonflow_cache_hits_total"))
}

func TestEngine_PingReportsCacheOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Retrieval.Cache.Enabled = true
	cfg.Retrieval.Cache.Addr = mr.Addr()

	e, _ := newTestEngine(t, cfg, WithDocuments(louvreDocs...))
	require.NoError(t, e.Ping(context.Background()))
	assert.NotNil(t, e.Metrics())
	assert.False(t, e.HasModel())

	mr.Close()
	err := e.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval cache")
}

func TestNew_CacheConnectionFailureReleasesResources(t *testing.T) {
	cfg := testConfig()
	cfg.Retrieval.Cache.Enabled = true
	cfg.Retrieval.Cache.Addr = "127.0.0.1:1"

	_, err := New(WithConfig(cfg), WithLogger(zaptest.NewLogger(t)),
		WithRegisterer(prometheus.NewRegistry()), WithDocuments(louvreDocs...))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init retrieval cache")
}

func TestNew_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	e, reg := newTestEngine(t, cfg)

	_, err := e.Reason(context.Background(), Task{Query: "q"}, cotModel())
	require.NoError(t, err)
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Nil(t, e.Metrics())
	assert.NoError(t, e.Ping(context.Background()))
	assert.NotNil(t, e.Tracer("test"))
}

func TestNew_OpenAICompatibleDefaultModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		prompt := ""
		for _, m := range body.Messages {
			prompt += m.Content + "\n"
		}
		content := js(map[string]any{
			"steps":        []map[string]any{{"step": 1, "thought": "t", "conclusion": "c"}},
			"final_answer": "remote",
			"confidence":   0.8,
		})
		if strings.Contains(prompt, matchCoTVerify) {
			content = js(map[string]any{"is_consistent": true, "issues": []string{}, "verified_confidence": 0.7})
		}
		_, _ = w.Write([]byte(js(map[string]any{
			"id":      "1",
			"model":   "m",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
			"usage":   map[string]any{"total_tokens": 5},
		})))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig()
	cfg.LLM.BaseURL = srv.URL
	cfg.LLM.Model = "m"
	e, _ := newTestEngine(t, cfg)

	res, err := e.Reason(context.Background(), Task{Query: "q"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "remote", res.Answer)
	assert.InDelta(t, 0.7, res.Confidence, 1e-9)
	assert.Equal(t, 10, res.TokenCount)
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		wantLevel zapcore.Level
	}{
		{"json info", config.LogConfig{Level: "info", Format: "json"}, zapcore.InfoLevel},
		{"console debug", config.LogConfig{Level: "debug", Format: "console", OutputPaths: []string{"stderr"}}, zapcore.DebugLevel},
		{"unknown level falls back to info", config.LogConfig{Level: "chatty", Format: "json"}, zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := initLogger(tt.cfg)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.wantLevel))
			assert.False(t, logger.Core().Enabled(tt.wantLevel-1))
		})
	}
}
