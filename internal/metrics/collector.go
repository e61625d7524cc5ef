// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// 推理结果状态标签
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 推理指标
	reasoningTotal      *prometheus.CounterVec
	reasoningDuration   *prometheus.HistogramVec
	reasoningConfidence *prometheus.HistogramVec
	reasoningTokens     *prometheus.CounterVec

	// 路由指标
	routerSelections *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// HTTP 指标（reasonflow serve）
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	logger *zap.Logger
}

// Option 收集器选项
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers the metrics on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger, opts ...Option) *Collector {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(o.registerer)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 推理指标
	c.reasoningTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_invocations_total",
			Help:      "Total number of reasoning invocations",
		},
		[]string{"strategy", "outcome"}, // outcome: ok, degraded
	)

	c.reasoningDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reasoning_duration_seconds",
			Help:      "Reasoning invocation duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"strategy"},
	)

	c.reasoningConfidence = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reasoning_confidence",
			Help:      "Confidence reported by reasoning invocations",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"strategy"},
	)

	c.reasoningTokens = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_tokens_total",
			Help:      "Total number of tokens consumed by reasoning invocations",
		},
		[]string{"strategy"},
	)

	// 路由指标
	c.routerSelections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_selections_total",
			Help:      "Total number of strategy selections by the router",
		},
		[]string{"strategy", "source"},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 记录方法
// =============================================================================

// ObserveReasoning 记录一次推理调用。置信度为 0 视为降级结果。
func (c *Collector) ObserveReasoning(strategy string, confidence float64, tokens int, elapsed time.Duration) {
	outcome := OutcomeOK
	if confidence <= 0 {
		outcome = OutcomeDegraded
	}
	c.reasoningTotal.WithLabelValues(strategy, outcome).Inc()
	c.reasoningDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	c.reasoningConfidence.WithLabelValues(strategy).Observe(confidence)
	if tokens > 0 {
		c.reasoningTokens.WithLabelValues(strategy).Add(float64(tokens))
	}
}

// ObserveSelection 记录路由选择
func (c *Collector) ObserveSelection(strategy, source string) {
	c.routerSelections.WithLabelValues(strategy, source).Inc()
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// statusClass 将 HTTP 状态码归为 2xx/3xx/4xx/5xx
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
