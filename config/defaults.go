// =============================================================================
// 📦 ReasonFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/reasonflow/agent/reasoning"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Reasoning: reasoning.DefaultRouterConfig(),
		LLM:       DefaultLLMConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
		Server:    DefaultServerConfig(),
	}
}

// DefaultLLMConfig 返回默认 LLM 调用配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:          "openai",
		Model:             "gpt-4o",
		Timeout:           60 * time.Second,
		MaxRetries:        2,
		RetryInitialDelay: 500 * time.Millisecond,
		RetryMaxDelay:     10 * time.Second,
		RateLimit:         0,
		Burst:             1,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:         3,
		K1:           1.5,
		B:            0.75,
		MinScore:     0,
		ChunkSize:    512,
		ChunkOverlap: 64,
		Cache:        DefaultCacheConfig(),
	}
}

// DefaultCacheConfig 返回默认 Redis 缓存配置（默认关闭）
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:  false,
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
		PoolSize: 10,
		TTL:      10 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "reasonflow",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "reasonflow",
	}
}

// DefaultServerConfig 返回默认 HTTP 服务配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		RequestTimeout:  4 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		MaxBodyBytes:    1 << 20, // 1 MB
		RateLimitRPS:    10,
		RateLimitBurst:  20,
	}
}
