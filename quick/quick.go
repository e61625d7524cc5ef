// =============================================================================
// Package quick: one-call engine construction
// =============================================================================
// Wires configuration, logging, telemetry, metrics, retrieval and the
// strategy router into a single Engine.
//
// Usage:
//
//	import "github.com/BaSui01/reasonflow/quick"
//
//	e, err := quick.New(quick.WithConfigPath("reasonflow.yaml"))
//	defer e.Close(context.Background())
//
//	res, err := e.Reason(ctx, quick.Task{
//	    Query:    "Which city hosts the Louvre?",
//	    TaskType: "knowledge_intensive",
//	}, nil)
//
// =============================================================================
package quick

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/reasonflow/agent/reasoning"
	"github.com/BaSui01/reasonflow/config"
	"github.com/BaSui01/reasonflow/internal/metrics"
	"github.com/BaSui01/reasonflow/internal/telemetry"
	"github.com/BaSui01/reasonflow/llm"
	"github.com/BaSui01/reasonflow/llm/providers/openaicompat"
	"github.com/BaSui01/reasonflow/llm/retry"
	"github.com/BaSui01/reasonflow/llm/tokenizer"
	"github.com/BaSui01/reasonflow/retrieval"
	"github.com/BaSui01/reasonflow/types"
)

const instrumentationName = "github.com/BaSui01/reasonflow"

// ErrNoModel is returned by Engine.Reason when neither the call nor the
// engine supplies a model.
var ErrNoModel = types.NewError(types.ErrInvalidRequest,
	"no model: pass one to Reason, use WithModel, or set llm.base_url")

// Option configures the engine created by New.
type Option func(*options)

type options struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	model      llm.Model
	retriever  reasoning.RetrievalFunc
	documents  []retrieval.Document
	registerer prometheus.Registerer
	version    string
}

// WithConfig uses cfg as-is instead of loading one.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithConfigPath loads configuration from a YAML file (plus REASONFLOW_* env).
func WithConfigPath(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithLogger sets a custom zap logger instead of building one from config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithModel sets the default model used when Reason is called without one.
func WithModel(m llm.Model) Option {
	return func(o *options) { o.model = m }
}

// WithRetriever sets the retrieval callback used by retrieval-augmented reasoning.
func WithRetriever(fn reasoning.RetrievalFunc) Option {
	return func(o *options) { o.retriever = fn }
}

// WithDocuments seeds an in-memory BM25 index that serves as the retriever
// when WithRetriever is not given. Documents longer than
// retrieval.chunk_size tokens are split before indexing.
func WithDocuments(docs ...retrieval.Document) Option {
	return func(o *options) { o.documents = append(o.documents, docs...) }
}

// WithRegisterer registers Prometheus metrics on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithServiceVersion sets the service.version reported with traces and metrics.
func WithServiceVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// Task is one reasoning request.
type Task struct {
	Query   string
	Context string
	// TaskType is parsed with reasoning.ParseTaskType; unknown values route as general.
	TaskType   string
	Complexity string
	AgentID    string
}

// Engine bundles a configured router with its supporting infrastructure.
type Engine struct {
	cfg        *config.Config
	logger     *zap.Logger
	router     *reasoning.Router
	telemetry  *telemetry.Providers
	collector  *metrics.Collector
	index      *retrieval.Index
	cache      *retrieval.Cache
	model      llm.Model
	resilience llm.ResilienceConfig
	limiter    *rate.Limiter
	meter      metric.Meter
}

// New builds an Engine. Every resource acquired before a failure is released.
func New(opts ...Option) (_ *Engine, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg
	if cfg == nil {
		cfg, err = config.NewLoader().WithConfigPath(o.configPath).Load()
		if err != nil {
			return nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger, err = initLogger(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		resilience: resilienceConfig(cfg.LLM),
	}
	defer func() {
		if err != nil {
			_ = e.Close(context.Background())
		}
	}()

	var topts []telemetry.Option
	if o.version != "" {
		topts = append(topts, telemetry.WithServiceVersion(o.version))
	}
	e.telemetry, err = telemetry.Init(cfg.Telemetry, logger, topts...)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	e.meter = e.telemetry.Meter(instrumentationName)
	e.limiter = llm.NewResilienceLimiter(e.resilience)

	var routerOpts []reasoning.RouterOption
	if cfg.Metrics.Enabled {
		var mopts []metrics.Option
		if o.registerer != nil {
			mopts = append(mopts, metrics.WithRegisterer(o.registerer))
		}
		e.collector = metrics.NewCollector(cfg.Metrics.Namespace, logger, mopts...)
		routerOpts = append(routerOpts, reasoning.WithObserver(e.collector))
	}
	if e.telemetry.Enabled() {
		routerOpts = append(routerOpts, reasoning.WithTracer(e.telemetry.Tracer(instrumentationName)))
	}

	retriever := o.retriever
	if retriever == nil && len(o.documents) > 0 {
		e.index = retrieval.NewIndex(retrieval.IndexConfig{
			K1:       cfg.Retrieval.K1,
			B:        cfg.Retrieval.B,
			MinScore: cfg.Retrieval.MinScore,
		}, logger)
		docs := o.documents
		if cfg.Retrieval.ChunkSize > 0 {
			chunker := retrieval.NewChunker(retrieval.ChunkerConfig{
				Size:    cfg.Retrieval.ChunkSize,
				Overlap: cfg.Retrieval.ChunkOverlap,
			}, tokenizer.ForModel(cfg.LLM.Model), logger)
			docs = chunker.SplitAll(docs...)
		}
		e.index.Add(docs...)
		retriever = e.index.Func(cfg.Retrieval.TopK)
	}
	if retriever != nil && cfg.Retrieval.Cache.Enabled {
		c := cfg.Retrieval.Cache
		e.cache, err = retrieval.NewCache(context.Background(), retrieval.CacheConfig{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
			TTL:      c.TTL,
			PoolSize: c.PoolSize,
			TLS:      c.TLS,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init retrieval cache: %w", err)
		}
		if e.collector != nil {
			e.cache.WithObserver(e.collector)
		}
		retriever = e.cache.Wrap(retriever)
	}
	if retriever != nil {
		routerOpts = append(routerOpts, reasoning.WithRouterRetriever(retriever))
	}
	if cfg.Retrieval.TokenLimits {
		routerOpts = append(routerOpts, reasoning.WithRouterTokenizer(tokenizer.ForModel(cfg.LLM.Model)))
	}

	e.router, err = reasoning.NewRouter(cfg.Reasoning, routerOpts...)
	if err != nil {
		return nil, err
	}

	e.model = o.model
	if e.model == nil && cfg.LLM.BaseURL != "" {
		p := openaicompat.New(openaicompat.Config{
			ProviderName: cfg.LLM.Provider,
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
		}, logger)
		e.model = llm.NewProviderModel(p, cfg.LLM.Model)
	}

	logger.Info("reasoning engine ready",
		zap.String("default_strategy", e.router.DefaultStrategy()),
		zap.Bool("retriever", retriever != nil),
		zap.Bool("retrieval_cache", e.cache != nil),
		zap.Bool("metrics", e.collector != nil),
		zap.Bool("telemetry", e.telemetry.Enabled()),
		zap.Bool("default_model", e.model != nil),
	)
	return e, nil
}

// Reason routes task to a strategy and runs it. model overrides the
// engine's default model; the call is wrapped in a ResilientModel that
// shares the engine-wide rate limit. The only error is ErrNoModel: reasoning
// failures are reported through the result's confidence.
func (e *Engine) Reason(ctx context.Context, task Task, model llm.Model) (*reasoning.ReasoningResult, error) {
	if model == nil {
		model = e.model
	}
	if model == nil {
		return nil, ErrNoModel
	}

	taskType := reasoning.ParseTaskType(task.TaskType)
	decision := e.router.Route(taskType, task.Complexity, task.AgentID)
	logger := e.logger.With(
		zap.String("task_type", string(taskType)),
		zap.String("strategy", decision.Strategy),
		zap.String("route_source", decision.Source),
	)
	if task.AgentID != "" {
		logger = logger.With(zap.String("agent_id", task.AgentID))
	}
	ctx = reasoning.WithLogger(ctx, logger)

	resilient := llm.NewResilientModel(model, e.resilience,
		llm.WithResilienceLogger(logger),
		llm.WithMeter(e.meter),
		llm.WithLimiter(e.limiter),
	)

	strategy := e.router.Build(decision)
	start := time.Now()
	result := strategy.Reason(ctx, task.Query, task.Context, resilient)
	logger.Info("reasoning completed",
		zap.Float64("confidence", result.Confidence),
		zap.Int("tokens", result.TokenCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// Router exposes the underlying router, e.g. for RegisterOverride.
func (e *Engine) Router() *reasoning.Router { return e.router }

// Index returns the BM25 index built from WithDocuments, or nil.
func (e *Engine) Index() *retrieval.Index { return e.index }

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// Config returns the effective configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Metrics returns the Prometheus collector, or nil when metrics are disabled.
func (e *Engine) Metrics() *metrics.Collector { return e.collector }

// Tracer returns a tracer from the engine's telemetry providers; it is a
// no-op tracer when telemetry is disabled.
func (e *Engine) Tracer(name string) trace.Tracer { return e.telemetry.Tracer(name) }

// HasModel reports whether Reason can run without a per-call model.
func (e *Engine) HasModel() bool { return e.model != nil }

// Ping checks the engine's external dependencies. Only the retrieval cache
// is probed; model endpoints are not called.
func (e *Engine) Ping(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	if err := e.cache.Ping(ctx); err != nil {
		return fmt.Errorf("retrieval cache: %w", err)
	}
	return nil
}

// Close shuts down telemetry exporters and the Redis cache.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close retrieval cache: %w", err))
		}
		e.cache = nil
	}
	if err := e.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	_ = e.logger.Sync()
	return errors.Join(errs...)
}

func resilienceConfig(c config.LLMConfig) llm.ResilienceConfig {
	policy := retry.DefaultPolicy()
	policy.MaxRetries = c.MaxRetries
	if c.RetryInitialDelay > 0 {
		policy.InitialDelay = c.RetryInitialDelay
	}
	if c.RetryMaxDelay > 0 {
		policy.MaxDelay = c.RetryMaxDelay
	}
	return llm.ResilienceConfig{
		Timeout:   c.Timeout,
		Retry:     policy,
		RateLimit: c.RateLimit,
		Burst:     c.Burst,
	}
}

// initLogger 根据日志配置构建 zap.Logger
func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	return zapConfig.Build()
}
