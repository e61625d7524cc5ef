// =============================================================================
// ReasonFlow OpenAI-Compatible Provider
// =============================================================================
// A minimal llm.Provider for any /v1/chat/completions endpoint (OpenAI,
// DeepSeek, Qwen, vLLM, Ollama, ...). Only non-streaming completion is
// implemented; the strategies need nothing else.
// =============================================================================

package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/reasonflow/internal/tlsutil"
	"github.com/BaSui01/reasonflow/llm"
	"github.com/BaSui01/reasonflow/types"
	"go.uber.org/zap"
)

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	// ProviderName identifies the backend in errors and responses (e.g. "openai", "deepseek").
	ProviderName string `yaml:"provider_name" json:"provider_name"`

	// APIKey is sent as a Bearer token. Empty disables the header (local servers).
	APIKey string `yaml:"api_key" json:"api_key"`

	// BaseURL is the API root, e.g. "https://api.openai.com".
	BaseURL string `yaml:"base_url" json:"base_url"`

	// DefaultModel is used when the request leaves Model empty.
	DefaultModel string `yaml:"default_model" json:"default_model"`

	// Timeout is the HTTP client timeout. Defaults to 30s if zero.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string `yaml:"endpoint_path" json:"endpoint_path"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Provider is an llm.Provider speaking the OpenAI chat completions protocol.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// Option 提供者选项
type Option func(*Provider)

// WithHTTPClient replaces the TLS-hardened default client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a new OpenAI-compatible provider with the given config.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai-compatible"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("provider", cfg.ProviderName)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.cfg.ProviderName }

// 线上协议类型

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      wireMessage `json:"message"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage,omitempty"`
	Created int64        `json:"created,omitempty"`
}

func (p *Provider) endpoint() string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.EndpointPath
}

// Completion performs a non-streaming chat completion.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "nil chat request").WithProvider(p.Name())
	}
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	body := wireRequest{
		Model:       model,
		Messages:    make([]wireMessage, 0, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, wireMessage{Role: string(m.Role), Content: m.Content, Name: m.Name})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	for k, v := range p.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.TraceID != "" {
		httpReq.Header.Set("X-Request-ID", req.TraceID)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrUpstreamError, err.Error()).
			WithCause(err).WithRetryable(true).WithProvider(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		p.logger.Warn("chat completion failed",
			zap.Int("status", resp.StatusCode),
			zap.String("model", model),
			zap.String("message", msg))
		return nil, mapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var oa wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&oa); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode response: "+err.Error()).
			WithCause(err).WithRetryable(true).WithProvider(p.Name())
	}
	if len(oa.Choices) == 0 {
		return nil, types.NewError(types.ErrEmptyResponse, "response has no choices").WithProvider(p.Name())
	}

	p.logger.Debug("chat completion",
		zap.String("model", oa.Model),
		zap.Duration("latency", time.Since(start)))

	return toChatResponse(oa, p.Name()), nil
}

func toChatResponse(oa wireResponse, provider string) *llm.ChatResponse {
	out := &llm.ChatResponse{
		ID:       oa.ID,
		Provider: provider,
		Model:    oa.Model,
		Choices:  make([]llm.ChatChoice, 0, len(oa.Choices)),
	}
	for _, c := range oa.Choices {
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message: llm.Message{
				Role:    llm.RoleAssistant,
				Content: c.Message.Content,
				Name:    c.Message.Name,
			},
		})
	}
	if oa.Usage != nil {
		out.Usage = llm.ChatUsage{
			PromptTokens:     oa.Usage.PromptTokens,
			CompletionTokens: oa.Usage.CompletionTokens,
			TotalTokens:      oa.Usage.TotalTokens,
		}
	}
	if oa.Created != 0 {
		out.CreatedAt = time.Unix(oa.Created, 0)
	}
	return out
}

// mapHTTPError 将 HTTP 状态码映射为带有重试标记的 types.Error
func mapHTTPError(status int, msg, provider string) *types.Error {
	var e *types.Error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = types.NewError(types.ErrUnauthorized, msg)
	case status == http.StatusTooManyRequests:
		e = types.NewError(types.ErrRateLimited, msg).WithRetryable(true)
	case status == http.StatusBadRequest:
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") {
			e = types.NewError(types.ErrQuotaExceeded, msg)
		} else {
			e = types.NewError(types.ErrInvalidRequest, msg)
		}
	case status == http.StatusServiceUnavailable || status == 529:
		e = types.NewError(types.ErrServiceUnavailable, msg).WithRetryable(true)
	case status == http.StatusGatewayTimeout:
		e = types.NewError(types.ErrUpstreamTimeout, msg).WithRetryable(true)
	default:
		e = types.NewError(types.ErrUpstreamError, msg).WithRetryable(status >= 500)
	}
	return e.WithProvider(provider)
}

// readErrorMessage 读取响应体中的错误消息，解析失败则回退到原始文本
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}
