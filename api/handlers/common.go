package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/reasonflow/internal/ctxkeys"
	"github.com/BaSui01/reasonflow/types"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// 头已写出，编码失败只能放弃
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

// WriteError 写入错误响应。非 types.Error 的错误按内部错误处理，
// 其消息不会回显给客户端。
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	var te *types.Error
	if !errors.As(err, &te) {
		te = types.NewError(types.ErrInternal, "internal error").WithCause(err)
	}
	status := StatusForCode(te.Code)

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(te.Code)),
			zap.String("message", te.Message),
			zap.Int("status", status),
			zap.Bool("retryable", te.Retryable),
			zap.String("request_id", requestID(r)),
		}
		if te.Cause != nil {
			fields = append(fields, zap.Error(te.Cause))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Warn("API error", fields...)
		}
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(te.Code),
			Message:   te.Message,
			Retryable: te.Retryable,
		},
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

// requestID 返回 RequestID 中间件写入的请求 ID
func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	id, _ := ctxkeys.TraceID(r.Context())
	return id
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

// StatusForCode 将错误码映射为 HTTP 状态码
func StatusForCode(code types.ErrorCode) int {
	switch code {
	// 4xx 客户端错误
	case types.ErrInvalidRequest, types.ErrInvalidConfig, types.ErrUnknownStrategy:
		return http.StatusBadRequest
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrQuotaExceeded:
		return http.StatusPaymentRequired
	case types.ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case types.ErrUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case types.ErrMethodNotAllowed:
		return http.StatusMethodNotAllowed

	// 5xx 服务端错误
	case types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case types.ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrUpstreamError, types.ErrEmptyResponse:
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体（严格模式，超过 maxBytes 时返回 413）
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) error {
	if r.Body == nil || r.Body == http.NoBody {
		return types.NewError(types.ErrInvalidRequest, "request body is empty")
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return types.NewError(types.ErrPayloadTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err)
	}
	if decoder.More() {
		return types.NewError(types.ErrInvalidRequest, "request body must contain a single JSON object")
	}
	return nil
}

// ValidateContentType 检查 Content-Type 是否为 application/json
func ValidateContentType(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return types.NewError(types.ErrUnsupportedMediaType, "Content-Type must be application/json")
	}
	return nil
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码与响应大小
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	BytesWritten int64
	Written      bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入并统计字节数
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
