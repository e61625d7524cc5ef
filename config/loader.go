// =============================================================================
// 📦 ReasonFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("reasonflow.yaml").
//	    WithEnvPrefix("REASONFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/reasonflow/agent/reasoning"
	"github.com/BaSui01/reasonflow/types"
)

// DefaultEnvPrefix 环境变量默认前缀
const DefaultEnvPrefix = "REASONFLOW"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ReasonFlow 的完整配置结构
type Config struct {
	// Reasoning 策略参数、路由默认策略与 agent 覆盖
	Reasoning reasoning.RouterConfig `yaml:"reasoning" env:"REASONING"`

	// LLM 模型调用的超时、重试与限流
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Retrieval 检索索引与 Redis 缓存
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Server `reasonflow serve` 的 HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`
}

// LLMConfig 模型调用配置，映射到 llm.ResilienceConfig
type LLMConfig struct {
	// OpenAI 兼容提供者名称，BaseURL 为空时不创建默认模型
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API 根地址
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称，同时用于选择 tokenizer 编码
	Model string `yaml:"model" env:"MODEL"`
	// 单次调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 首次重试延迟
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay" env:"RETRY_INITIAL_DELAY"`
	// 最大重试延迟
	RetryMaxDelay time.Duration `yaml:"retry_max_delay" env:"RETRY_MAX_DELAY"`
	// 每秒调用数，0 表示不限流
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	// 令牌桶容量
	Burst int `yaml:"burst" env:"BURST"`
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	// 每个搜索查询返回的片段数
	TopK int `yaml:"top_k" env:"TOP_K"`
	// BM25 参数
	K1       float64 `yaml:"k1" env:"K1"`
	B        float64 `yaml:"b" env:"B"`
	MinScore float64 `yaml:"min_score" env:"MIN_SCORE"`
	// 截断时按 token 而不是字符计数
	TokenLimits bool `yaml:"token_limits" env:"TOKEN_LIMITS"`
	// 文档分块大小（token），0 表示整篇索引
	ChunkSize    int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	// Cache Redis 检索缓存
	Cache CacheConfig `yaml:"cache" env:"CACHE"`
}

// CacheConfig Redis 缓存配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 条目过期时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 是否启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 是否使用明文 gRPC
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 部署环境（deployment.environment 资源属性）
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
	// 指标导出周期，0 使用 SDK 默认值
	MetricInterval time.Duration `yaml:"metric_interval" env:"METRIC_INTERVAL"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口，0 表示在 HTTP 端口上暴露 /metrics
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时，需覆盖最慢的推理调用
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 单次推理请求超时
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 请求体上限（字节）
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	// 允许的 API Key，为空时不认证
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// CORS 允许的来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 每 IP 每秒请求数，0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 每 IP 令牌桶容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// TLS 证书与私钥文件，需同时设置
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
	// JWT Bearer 认证，与 APIKeys 任一通过即可
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
}

// JWTConfig HS256 JWT 认证配置，Secret 为空时关闭
type JWTConfig struct {
	Secret   string `yaml:"secret" env:"SECRET"`
	Issuer   string `yaml:"issuer" env:"ISSUER"`
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// AuthEnabled 是否需要认证
func (c ServerConfig) AuthEnabled() bool {
	return len(c.APIKeys) > 0 || c.JWT.Secret != ""
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			field.Set(reflect.ValueOf(splitList(value)))
		}

	case reflect.Map:
		// key=value,key2=value2
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		m := make(map[string]string)
		for _, pair := range splitList(value) {
			k, val, ok := strings.Cut(pair, "=")
			k = strings.TrimSpace(k)
			if !ok || k == "" {
				return fmt.Errorf("invalid map entry %q, want key=value", pair)
			}
			m[k] = strings.TrimSpace(val)
		}
		field.Set(reflect.ValueOf(m))
	}

	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置，一次性报告所有问题
func (c *Config) Validate() error {
	var errs []string
	add := func(err error) {
		if err == nil {
			return
		}
		var te *types.Error
		if errors.As(err, &te) {
			errs = append(errs, te.Message)
			return
		}
		errs = append(errs, err.Error())
	}

	r := c.Reasoning
	if !reasoning.IsKnownStrategy(r.DefaultStrategy) {
		errs = append(errs, fmt.Sprintf("reasoning.default_strategy %q is not a known strategy", r.DefaultStrategy))
	}
	for _, agent := range slices.Sorted(maps.Keys(r.Overrides)) {
		if strategy := r.Overrides[agent]; !reasoning.IsKnownStrategy(strategy) {
			errs = append(errs, fmt.Sprintf("reasoning.overrides[%s]: unknown strategy %q", agent, strategy))
		}
	}
	add(r.ChainOfThought.Validate())
	add(r.SelfConsistency.Validate())
	add(r.TreeOfThought.Validate())
	add(r.RetrievalAugmented.Validate())

	if c.LLM.Timeout < 0 {
		errs = append(errs, "llm.timeout must not be negative")
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, "llm.max_retries must not be negative")
	}
	if c.LLM.RateLimit < 0 {
		errs = append(errs, "llm.rate_limit must not be negative")
	}
	if c.LLM.RateLimit > 0 && c.LLM.Burst < 1 {
		errs = append(errs, "llm.burst must be at least 1 when rate_limit is set")
	}

	if c.Retrieval.TopK < 1 {
		errs = append(errs, "retrieval.top_k must be at least 1")
	}
	if c.Retrieval.K1 < 0 {
		errs = append(errs, "retrieval.k1 must not be negative")
	}
	if c.Retrieval.B < 0 || c.Retrieval.B > 1 {
		errs = append(errs, "retrieval.b must be between 0 and 1")
	}
	if c.Retrieval.ChunkSize < 0 || c.Retrieval.ChunkOverlap < 0 {
		errs = append(errs, "retrieval.chunk_size and retrieval.chunk_overlap must not be negative")
	} else if c.Retrieval.ChunkSize > 0 && c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		errs = append(errs, "retrieval.chunk_overlap must be smaller than retrieval.chunk_size")
	}
	if c.Retrieval.Cache.Enabled {
		if c.Retrieval.Cache.Addr == "" {
			errs = append(errs, "retrieval.cache.addr is required when the cache is enabled")
		}
		if c.Retrieval.Cache.TTL <= 0 {
			errs = append(errs, "retrieval.cache.ttl must be positive")
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, "telemetry.otlp_endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
		}
		if c.Telemetry.MetricInterval < 0 {
			errs = append(errs, "telemetry.metric_interval must not be negative")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		errs = append(errs, "metrics.namespace is required when metrics are enabled")
	}

	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.http_port %d out of range", c.Server.HTTPPort))
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.metrics_port %d out of range", c.Server.MetricsPort))
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "server.metrics_port must differ from server.http_port")
	}
	if c.Server.RequestTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		errs = append(errs, "server timeouts must be non-negative")
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, "server.max_body_bytes must be positive")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "server.rate_limit_rps must be non-negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		errs = append(errs, "server.rate_limit_burst must be at least 1 when rate_limit_rps is set")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "server.tls_cert_file and server.tls_key_file must be set together")
	}
	if c.Server.JWT.Secret != "" && len(c.Server.JWT.Secret) < 32 {
		errs = append(errs, "server.jwt.secret must be at least 32 bytes")
	}

	if len(errs) > 0 {
		return types.NewConfigError("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
