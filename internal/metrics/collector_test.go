package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/reasonflow/agent/reasoning"
	"github.com/BaSui01/reasonflow/retrieval"
)

var (
	_ reasoning.Observer      = (*Collector)(nil)
	_ retrieval.CacheObserver = (*Collector)(nil)
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", zap.NewNop(), WithRegisterer(reg)), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	c, _ := newTestCollector(t)

	assert.NotNil(t, c.reasoningTotal)
	assert.NotNil(t, c.reasoningDuration)
	assert.NotNil(t, c.reasoningConfidence)
	assert.NotNil(t, c.reasoningTokens)
	assert.NotNil(t, c.routerSelections)
	assert.NotNil(t, c.cacheHits)
	assert.NotNil(t, c.cacheMisses)
}

func TestNewCollector_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector("test", nil, WithRegisterer(prometheus.NewRegistry()))
	})
}

func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector("dup", zap.NewNop(), WithRegisterer(reg))
	assert.Panics(t, func() {
		NewCollector("dup", zap.NewNop(), WithRegisterer(reg))
	})
}

func TestCollector_ObserveReasoning(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveReasoning(reasoning.StrategyChainOfThought, 0.85, 120, 2*time.Second)
	c.ObserveReasoning(reasoning.StrategyChainOfThought, 0.6, 80, time.Second)
	c.ObserveReasoning(reasoning.StrategyChainOfThought, 0, 0, 100*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.reasoningTotal.WithLabelValues(reasoning.StrategyChainOfThought, OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reasoningTotal.WithLabelValues(reasoning.StrategyChainOfThought, OutcomeDegraded)))
	assert.Equal(t, 200.0, testutil.ToFloat64(c.reasoningTokens.WithLabelValues(reasoning.StrategyChainOfThought)))
	assert.Equal(t, 1, testutil.CollectAndCount(c.reasoningDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(c.reasoningConfidence))
}

func TestCollector_ObserveReasoning_Exposition(t *testing.T) {
	c, reg := newTestCollector(t)
	c.ObserveReasoning(reasoning.StrategyTreeOfThought, 0.7, 10, time.Second)

	expected := `
# HELP test_reasoning_invocations_total Total number of reasoning invocations
# TYPE test_reasoning_invocations_total counter
test_reasoning_invocations_total{outcome="ok",strategy="tree_of_thought"} 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_reasoning_invocations_total")
	require.NoError(t, err)
}

func TestCollector_ObserveSelection(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveSelection(reasoning.StrategySelfConsistency, reasoning.SourceTaskType)
	c.ObserveSelection(reasoning.StrategySelfConsistency, reasoning.SourceTaskType)
	c.ObserveSelection(reasoning.StrategyTreeOfThought, reasoning.SourceOverride)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.routerSelections.WithLabelValues(reasoning.StrategySelfConsistency, reasoning.SourceTaskType)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.routerSelections.WithLabelValues(reasoning.StrategyTreeOfThought, reasoning.SourceOverride)))
	assert.Equal(t, 2, testutil.CollectAndCount(c.routerSelections))
}

func TestCollector_CacheMetrics(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordCacheHit(retrieval.CacheType)
	c.RecordCacheHit(retrieval.CacheType)
	c.RecordCacheMiss(retrieval.CacheType)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheHits.WithLabelValues(retrieval.CacheType)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues(retrieval.CacheType)))
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordHTTPRequest("POST", "/v1/reason", 200, 1500*time.Millisecond, 120, 800)
	c.RecordHTTPRequest("POST", "/v1/reason", 400, time.Millisecond, 10, 90)
	c.RecordHTTPRequest("GET", "/health", 503, time.Millisecond, 0, 40)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/v1/reason", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/v1/reason", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/health", "5xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.httpRequestDuration))
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		100: "unknown",
		204: "2xx",
		301: "3xx",
		429: "4xx",
		502: "5xx",
	}
	for code, want := range tests {
		assert.Equal(t, want, statusClass(code), "status %d", code)
	}
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ObserveReasoning(reasoning.StrategyRetrievalAugmented, 0.5, 1, time.Millisecond)
			c.ObserveSelection(reasoning.StrategyRetrievalAugmented, reasoning.SourceDefault)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50.0, testutil.ToFloat64(c.reasoningTotal.WithLabelValues(reasoning.StrategyRetrievalAugmented, OutcomeOK)))
	assert.Equal(t, 50.0, testutil.ToFloat64(c.reasoningTokens.WithLabelValues(reasoning.StrategyRetrievalAugmented)))
	assert.Equal(t, 50.0, testutil.ToFloat64(c.routerSelections.WithLabelValues(reasoning.StrategyRetrievalAugmented, reasoning.SourceDefault)))
}
