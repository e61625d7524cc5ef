package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/reasonflow/api/handlers"
	"github.com/BaSui01/reasonflow/config"
	"github.com/BaSui01/reasonflow/internal/server"
	"github.com/BaSui01/reasonflow/quick"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 组合推理引擎与 HTTP/Metrics 两个监听端口
type Server struct {
	cfg    *config.Config
	engine *quick.Engine
	logger *zap.Logger
	tracer trace.Tracer

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 创建服务器实例
func NewServer(engine *quick.Engine, tracer trace.Tracer) *Server {
	return &Server{
		cfg:    engine.Config(),
		engine: engine,
		logger: engine.Logger(),
		tracer: tracer,
	}
}

// Handler 构建 API 路由与中间件链。ctx 控制限流器清理 goroutine 的生命周期。
func (s *Server) Handler(ctx context.Context) http.Handler {
	sc := s.cfg.Server
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewCheck("engine", s.engine.Ping))
	mux.HandleFunc("/health", health.HandleHealth)
	mux.HandleFunc("/healthz", health.HandleHealth)
	mux.HandleFunc("/ready", health.HandleReady)
	mux.HandleFunc("/readyz", health.HandleReady)
	mux.HandleFunc("/version", health.HandleVersion(Version, BuildTime, GitCommit))

	reason := handlers.NewReasonHandler(s.engine, s.logger,
		handlers.WithRequestTimeout(sc.RequestTimeout),
		handlers.WithMaxBodyBytes(sc.MaxBodyBytes),
	)
	mux.HandleFunc("/v1/reason", reason.HandleReason)
	mux.HandleFunc("/v1/strategies", reason.HandleStrategies)

	if sc.MetricsPort == 0 && s.cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	skipAuth := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(s.tracer),
		MetricsMiddleware(s.engine.Metrics()),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(sc.CORSAllowedOrigins),
		RateLimiter(ctx, sc.RateLimitRPS, sc.RateLimitBurst, s.logger),
		Authenticate(sc.APIKeys, sc.JWT, skipAuth, s.logger),
	)
}

// Run 启动所有监听端口并阻塞，直到 ctx 结束或任一端口异常退出
func (s *Server) Run(ctx context.Context) error {
	sc := s.cfg.Server
	g, ctx := errgroup.WithContext(ctx)

	s.httpManager = server.NewManager("api", s.Handler(ctx), server.Config{
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     2 * sc.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: sc.ShutdownTimeout,
		CertFile:        sc.TLSCertFile,
		KeyFile:         sc.TLSKeyFile,
	}, s.logger)
	g.Go(func() error { return s.httpManager.Run(ctx) })

	if sc.MetricsPort != 0 && s.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.metricsManager = server.NewManager("metrics", mux, server.Config{
			Addr:            fmt.Sprintf(":%d", sc.MetricsPort),
			ReadTimeout:     sc.ReadTimeout,
			WriteTimeout:    sc.ReadTimeout,
			ShutdownTimeout: sc.ShutdownTimeout,
		}, s.logger)
		g.Go(func() error { return s.metricsManager.Run(ctx) })
	}

	s.logger.Info("servers starting",
		zap.Int("http_port", sc.HTTPPort),
		zap.Int("metrics_port", sc.MetricsPort),
		zap.Bool("auth", sc.AuthEnabled()),
		zap.Bool("tls", sc.TLSCertFile != ""),
	)
	return g.Wait()
}
