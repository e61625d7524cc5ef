package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/reasonflow/agent/reasoning"
	"github.com/BaSui01/reasonflow/api"
	"github.com/BaSui01/reasonflow/internal/ctxkeys"
	"github.com/BaSui01/reasonflow/llm"
	"github.com/BaSui01/reasonflow/quick"
	"github.com/BaSui01/reasonflow/types"
)

// Engine 是 ReasonHandler 依赖的推理引擎，由 *quick.Engine 实现
type Engine interface {
	Reason(ctx context.Context, task quick.Task, model llm.Model) (*reasoning.ReasoningResult, error)
	Router() *reasoning.Router
}

// ReasonHandler 处理推理请求
type ReasonHandler struct {
	engine       Engine
	logger       *zap.Logger
	timeout      time.Duration
	maxBodyBytes int64
}

// ReasonOption 配置 ReasonHandler
type ReasonOption func(*ReasonHandler)

// WithRequestTimeout 限制单次推理耗时，0 表示只受客户端连接约束
func WithRequestTimeout(d time.Duration) ReasonOption {
	return func(h *ReasonHandler) { h.timeout = d }
}

// WithMaxBodyBytes 设置请求体上限
func WithMaxBodyBytes(n int64) ReasonOption {
	return func(h *ReasonHandler) { h.maxBodyBytes = n }
}

// NewReasonHandler 创建推理处理器
func NewReasonHandler(engine Engine, logger *zap.Logger, opts ...ReasonOption) *ReasonHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ReasonHandler{
		engine:       engine,
		logger:       logger.With(zap.String("handler", "reason")),
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleReason 处理 POST /v1/reason。
// 推理失败不是 HTTP 错误：返回 200 且 degraded=true。
func (h *ReasonHandler) HandleReason(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		WriteError(w, r, types.NewError(types.ErrMethodNotAllowed, "use POST"), h.logger)
		return
	}
	if err := ValidateContentType(r); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	var req api.ReasonRequest
	if err := DecodeJSONBody(w, r, &req, h.maxBodyBytes); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, "query is required"), h.logger)
		return
	}

	ctx := r.Context()
	if req.AgentID == "" {
		// 认证中间件可从 JWT 的 agent_id 声明中给出身份
		req.AgentID, _ = ctxkeys.AgentID(ctx)
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := h.engine.Reason(ctx, quick.Task{
		Query:      req.Query,
		Context:    req.Context,
		TaskType:   req.TaskType,
		Complexity: req.Complexity,
		AgentID:    req.AgentID,
	}, nil)
	if err != nil {
		if errors.Is(err, quick.ErrNoModel) {
			err = types.NewError(types.ErrServiceUnavailable, "no model configured").WithCause(err)
		}
		WriteError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, api.NewReasonResponse(result, time.Since(start)))
}

// HandleStrategies 处理 GET /v1/strategies
func (h *ReasonHandler) HandleStrategies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		WriteError(w, r, types.NewError(types.ErrMethodNotAllowed, "use GET"), h.logger)
		return
	}

	router := h.engine.Router()
	table := make(map[string]string)
	for taskType, strategy := range reasoning.TaskTypeStrategies() {
		table[string(taskType)] = strategy
	}
	WriteSuccess(w, r, api.StrategiesResponse{
		Strategies:      router.Strategies(),
		DefaultStrategy: router.DefaultStrategy(),
		TaskTypes:       table,
	})
}
