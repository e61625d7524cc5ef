// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/reasonflow/agent/reasoning"
	"github.com/BaSui01/reasonflow/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reasonflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, reasoning.StrategyChainOfThought, cfg.Reasoning.DefaultStrategy)
	assert.Equal(t, 5, cfg.Reasoning.SelfConsistency.NumSamples)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
reasoning:
  default_strategy: tree_of_thought
  self_consistency:
    num_samples: 7
  tree_of_thought:
    num_branches: 4
    beam_width: 3
  overrides:
    planner: tree_of_thought
    auditor: self_consistency
llm:
  timeout: 30s
  rate_limit: 5
  burst: 10
retrieval:
  top_k: 4
  cache:
    enabled: true
    addr: "redis:6379"
    ttl: 1m
log:
  level: debug
  format: console
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, reasoning.StrategyTreeOfThought, cfg.Reasoning.DefaultStrategy)
	assert.Equal(t, 7, cfg.Reasoning.SelfConsistency.NumSamples)
	// 未设置的字段保留默认值
	assert.InDelta(t, 0.8, cfg.Reasoning.SelfConsistency.Temperature, 1e-6)
	assert.Equal(t, 4, cfg.Reasoning.TreeOfThought.NumBranches)
	assert.Equal(t, 3, cfg.Reasoning.TreeOfThought.MaxDepth)
	assert.Equal(t, map[string]string{
		"planner": reasoning.StrategyTreeOfThought,
		"auditor": reasoning.StrategySelfConsistency,
	}, cfg.Reasoning.Overrides)

	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 5.0, cfg.LLM.RateLimit)
	assert.Equal(t, 10, cfg.LLM.Burst)

	assert.Equal(t, 4, cfg.Retrieval.TopK)
	assert.True(t, cfg.Retrieval.Cache.Enabled)
	assert.Equal(t, "redis:6379", cfg.Retrieval.Cache.Addr)
	assert.Equal(t, time.Minute, cfg.Retrieval.Cache.TTL)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("REASONFLOW_REASONING_DEFAULT_STRATEGY", "self_consistency")
	t.Setenv("REASONFLOW_REASONING_SELF_CONSISTENCY_NUM_SAMPLES", "9")
	t.Setenv("REASONFLOW_REASONING_CHAIN_OF_THOUGHT_TEMPERATURE", "0.5")
	t.Setenv("REASONFLOW_REASONING_OVERRIDES", "agent-a=tree_of_thought, agent-b = chain_of_thought")
	t.Setenv("REASONFLOW_LLM_TIMEOUT", "15s")
	t.Setenv("REASONFLOW_RETRIEVAL_CACHE_ENABLED", "true")
	t.Setenv("REASONFLOW_LOG_OUTPUT_PATHS", "stdout, /tmp/reasonflow.log")
	t.Setenv("REASONFLOW_TELEMETRY_SAMPLE_RATE", "0.5")
	t.Setenv("REASONFLOW_SERVER_API_KEYS", "k1,k2")
	t.Setenv("REASONFLOW_SERVER_MAX_BODY_BYTES", "4096")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, reasoning.StrategySelfConsistency, cfg.Reasoning.DefaultStrategy)
	assert.Equal(t, 9, cfg.Reasoning.SelfConsistency.NumSamples)
	assert.InDelta(t, 0.5, cfg.Reasoning.ChainOfThought.Temperature, 1e-6)
	assert.Equal(t, map[string]string{
		"agent-a": reasoning.StrategyTreeOfThought,
		"agent-b": reasoning.StrategyChainOfThought,
	}, cfg.Reasoning.Overrides)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.True(t, cfg.Retrieval.Cache.Enabled)
	assert.Equal(t, []string{"stdout", "/tmp/reasonflow.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.Equal(t, int64(4096), cfg.Server.MaxBodyBytes)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
reasoning:
  tree_of_thought:
    max_depth: 2
`)
	t.Setenv("REASONFLOW_REASONING_TREE_OF_THOUGHT_MAX_DEPTH", "5")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Reasoning.TreeOfThought.MaxDepth)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("RF_RETRIEVAL_TOP_K", "8")

	cfg, err := NewLoader().WithEnvPrefix("RF").Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"int", "REASONFLOW_RETRIEVAL_TOP_K", "many"},
		{"duration", "REASONFLOW_LLM_TIMEOUT", "soon"},
		{"bool", "REASONFLOW_METRICS_ENABLED", "maybe"},
		{"map", "REASONFLOW_REASONING_OVERRIDES", "no-equals-sign"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := NewLoader().Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoader_WithValidator(t *testing.T) {
	called := false
	_, err := NewLoader().WithValidator(func(c *Config) error {
		called = true
		return assert.AnError
	}).Load()

	assert.True(t, called)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/reasonflow.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "reasoning: [unclosed")

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoader_InvalidConfigRejected(t *testing.T) {
	path := writeConfig(t, `
reasoning:
  default_strategy: magic
`)
	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name: "unknown default strategy",
			mutate: func(c *Config) {
				c.Reasoning.DefaultStrategy = "magic"
			},
			wantErr: []string{`reasoning.default_strategy "magic"`},
		},
		{
			name: "unknown override strategy",
			mutate: func(c *Config) {
				c.Reasoning.Overrides = map[string]string{"agent-1": "guess"}
			},
			wantErr: []string{`reasoning.overrides[agent-1]`},
		},
		{
			name: "strategy parameters",
			mutate: func(c *Config) {
				c.Reasoning.SelfConsistency.NumSamples = 0
				c.Reasoning.TreeOfThought.NumBranches = 0
			},
			wantErr: []string{"self_consistency.num_samples", "tree_of_thought"},
		},
		{
			name: "rate limit without burst",
			mutate: func(c *Config) {
				c.LLM.RateLimit = 2
				c.LLM.Burst = 0
			},
			wantErr: []string{"llm.burst"},
		},
		{
			name: "cache enabled without ttl",
			mutate: func(c *Config) {
				c.Retrieval.Cache.Enabled = true
				c.Retrieval.Cache.TTL = 0
			},
			wantErr: []string{"retrieval.cache.ttl"},
		},
		{
			name: "negative telemetry metric interval",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.MetricInterval = -time.Second
			},
			wantErr: []string{"telemetry.metric_interval"},
		},
		{
			name: "chunk overlap not below size",
			mutate: func(c *Config) {
				c.Retrieval.ChunkSize = 64
				c.Retrieval.ChunkOverlap = 64
			},
			wantErr: []string{"retrieval.chunk_overlap"},
		},
		{
			name: "server ports collide",
			mutate: func(c *Config) {
				c.Server.MetricsPort = c.Server.HTTPPort
			},
			wantErr: []string{"server.metrics_port"},
		},
		{
			name: "server limits",
			mutate: func(c *Config) {
				c.Server.HTTPPort = 70000
				c.Server.MaxBodyBytes = 0
				c.Server.RateLimitBurst = 0
			},
			wantErr: []string{"server.http_port", "server.max_body_bytes", "server.rate_limit_burst"},
		},
		{
			name: "short jwt secret and half tls pair",
			mutate: func(c *Config) {
				c.Server.JWT.Secret = "short"
				c.Server.TLSCertFile = "cert.pem"
			},
			wantErr: []string{"server.jwt.secret", "server.tls_cert_file"},
		},
		{
			name: "all problems reported together",
			mutate: func(c *Config) {
				c.Retrieval.TopK = 0
				c.Log.Level = "loud"
				c.Log.Format = "xml"
				c.Telemetry.Enabled = true
				c.Telemetry.OTLPEndpoint = ""
				c.Metrics.Namespace = ""
			},
			wantErr: []string{
				"retrieval.top_k",
				"log.level",
				"log.format",
				"telemetry.otlp_endpoint",
				"metrics.namespace",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestMustLoad_Success(t *testing.T) {
	path := writeConfig(t, "retrieval:\n  top_k: 2\n")
	cfg := MustLoad(path)
	assert.Equal(t, 2, cfg.Retrieval.TopK)
}

func TestMustLoad_InvalidFile(t *testing.T) {
	path := writeConfig(t, "llm: {timeout: [")
	assert.Panics(t, func() { MustLoad(path) })
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("REASONFLOW_METRICS_NAMESPACE", "custom")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "custom", cfg.Metrics.Namespace)
}
