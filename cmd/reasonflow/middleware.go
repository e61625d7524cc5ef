package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/reasonflow/api/handlers"
	"github.com/BaSui01/reasonflow/config"
	"github.com/BaSui01/reasonflow/internal/ctxkeys"
	"github.com/BaSui01/reasonflow/internal/metrics"
	"github.com/BaSui01/reasonflow/internal/telemetry"
	"github.com/BaSui01/reasonflow/types"
)

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个位于最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery panic 恢复中间件
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"),
					)
					handlers.WriteError(w, r, types.NewError(types.ErrInternal, "internal error"), nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 为每个请求分配 X-Request-ID（保留客户端提供的值），
// 并写入 ctxkeys.TraceID 以便模型调用透传给上游。
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = "req-" + uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithTraceID(r.Context(), id)))
		})
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			id, _ := ctxkeys.TraceID(r.Context())
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", id),
			)
		})
	}
}

// SecurityHeaders 添加常用安全响应头
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'none'")
			next.ServeHTTP(w, r)
		})
	}
}

// CORS 跨域中间件。allowedOrigins 为空时不设置任何 CORS 头，
// 跨域预检请求返回 403。
func CORS(allowedOrigins []string) Middleware {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			_, allowed := originSet[origin]
			if origin != "" && allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions && origin != "" {
				if !allowed {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter 基于 IP 的请求限流中间件，rps<=0 时不限流。
// 空闲超过 3 分钟的 visitor 由后台 goroutine 清理，ctx 结束时退出。
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for ip, v := range visitors {
					if time.Since(v.lastSeen) > 3*time.Minute {
						delete(visitors, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			mu.Lock()
			v, ok := visitors[ip]
			if !ok {
				v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
				visitors[ip] = v
			}
			v.lastSeen = time.Now()
			mu.Unlock()

			if !v.limiter.Allow() {
				logger.Debug("rate limited", zap.String("ip", ip))
				w.Header().Set("Retry-After", "1")
				handlers.WriteError(w, r,
					types.NewError(types.ErrRateLimited, "too many requests").WithRetryable(true), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authenticate 认证中间件：X-API-Key 命中 apiKeys，或 Authorization: Bearer
// 携带有效的 HS256 JWT，任一通过即可。JWT 的 agent_id（缺省时为 sub）声明
// 写入 ctxkeys.AgentID 用于路由覆盖。两者都未配置时直接放行。
func Authenticate(apiKeys []string, jwtCfg config.JWTConfig, skipPaths []string, logger *zap.Logger) Middleware {
	if len(apiKeys) == 0 && jwtCfg.Secret == "" {
		return func(next http.Handler) http.Handler { return next }
	}

	skipSet := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skipSet[p] = struct{}{}
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if jwtCfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(jwtCfg.Issuer))
	}
	if jwtCfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(jwtCfg.Audience))
	}
	secret := []byte(jwtCfg.Secret)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	unauthorized := func(w http.ResponseWriter, r *http.Request, msg string) {
		handlers.WriteError(w, r, types.NewError(types.ErrUnauthorized, msg), nil)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipSet[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			if key := r.Header.Get("X-API-Key"); key != "" && len(apiKeys) > 0 {
				if validAPIKey(key, apiKeys) {
					next.ServeHTTP(w, r)
					return
				}
				unauthorized(w, r, "invalid API key")
				return
			}

			bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || len(secret) == 0 {
				unauthorized(w, r, "missing credentials")
				return
			}
			claims := jwt.MapClaims{}
			if _, err := jwt.ParseWithClaims(bearer, claims, keyFunc, parserOpts...); err != nil {
				logger.Debug("JWT validation failed", zap.Error(err))
				unauthorized(w, r, "invalid or expired token")
				return
			}

			ctx := r.Context()
			agentID, _ := claims["agent_id"].(string)
			if agentID == "" {
				agentID, _ = claims.GetSubject()
			}
			if agentID != "" {
				ctx = ctxkeys.WithAgentID(ctx, agentID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validAPIKey(key string, keys []string) bool {
	ok := false
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
			ok = true
		}
	}
	return ok
}

// MetricsMiddleware 通过 metrics.Collector 记录请求耗时、状态与大小
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	if collector == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}
			collector.RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), rw.StatusCode,
				time.Since(start), requestSize, rw.BytesWritten)
		})
	}
}

// routeLabel 将未知路径归并为 "other"，限制 Prometheus 标签基数
func routeLabel(path string) string {
	switch path {
	case "/v1/reason", "/v1/strategies",
		"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics":
		return path
	}
	return "other"
}

// OTelTracing 为每个请求创建 server span，并从请求头提取上游 trace 上下文
func OTelTracing(tracer trace.Tracer) Middleware {
	propagator := telemetry.Propagator()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			route := routeLabel(r.URL.Path)
			ctx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", r.Method, route),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
				),
			)
			defer span.End()

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
			if rw.StatusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.StatusCode))
			}
		})
	}
}
