package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/reasonflow/internal/ctxkeys"
	"github.com/BaSui01/reasonflow/types"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusAccepted, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"message":"hello"}`, w.Body.String())
}

func TestWriteSuccess_CarriesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(ctxkeys.WithTraceID(r.Context(), "req-1"))

	WriteSuccess(w, r, map[string]string{"key": "value"})

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   types.ErrorCode
		wantMsg    string
	}{
		{
			name:       "invalid request",
			err:        types.NewError(types.ErrInvalidRequest, "query is required"),
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrInvalidRequest,
			wantMsg:    "query is required",
		},
		{
			name:       "rate limited keeps retryable flag",
			err:        types.NewError(types.ErrRateLimited, "slow down").WithRetryable(true),
			wantStatus: http.StatusTooManyRequests,
			wantCode:   types.ErrRateLimited,
			wantMsg:    "slow down",
		},
		{
			name:       "wrapped types.Error",
			err:        errors.Join(errors.New("ctx"), types.NewError(types.ErrUpstreamTimeout, "upstream slow")),
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   types.ErrUpstreamTimeout,
			wantMsg:    "upstream slow",
		},
		{
			name:       "plain error is hidden",
			err:        errors.New("dial tcp 10.0.0.1: secret detail"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   types.ErrInternal,
			wantMsg:    "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, zap.NewNop())

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.wantCode), resp.Error.Code)
			assert.Equal(t, tt.wantMsg, resp.Error.Message)
			assert.NotContains(t, w.Body.String(), "secret detail")
		})
	}
}

func TestStatusForCode(t *testing.T) {
	tests := map[types.ErrorCode]int{
		types.ErrInvalidRequest:       http.StatusBadRequest,
		types.ErrUnknownStrategy:      http.StatusBadRequest,
		types.ErrUnauthorized:         http.StatusUnauthorized,
		types.ErrQuotaExceeded:        http.StatusPaymentRequired,
		types.ErrPayloadTooLarge:      http.StatusRequestEntityTooLarge,
		types.ErrUnsupportedMediaType: http.StatusUnsupportedMediaType,
		types.ErrMethodNotAllowed:     http.StatusMethodNotAllowed,
		types.ErrServiceUnavailable:   http.StatusServiceUnavailable,
		types.ErrEmptyResponse:        http.StatusBadGateway,
		types.ErrorCode("NEW_CODE"):   http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusForCode(code), string(code))
	}
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name     string
		body     string
		maxBytes int64
		wantCode types.ErrorCode
	}{
		{name: "valid", body: `{"name":"test","value":123}`},
		{name: "invalid JSON", body: `{"name":"test",}`, wantCode: types.ErrInvalidRequest},
		{name: "unknown field", body: `{"name":"test","unknown":1}`, wantCode: types.ErrInvalidRequest},
		{name: "trailing object", body: `{"name":"a"}{"name":"b"}`, wantCode: types.ErrInvalidRequest},
		{name: "too large", body: `{"name":"` + strings.Repeat("x", 64) + `"}`, maxBytes: 16, wantCode: types.ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var got payload
			err := DecodeJSONBody(w, r, &got, tt.maxBytes)
			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, payload{Name: "test", Value: 123}, got)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
		})
	}
}

func TestDecodeJSONBody_Empty(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	err := DecodeJSONBody(httptest.NewRecorder(), r, &struct{}{}, 0)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		contentType string
		ok          bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"Application/JSON; charset=UTF-8", true},
		{"text/plain", false},
		{"", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("Content-Type", tt.contentType)
		err := ValidateContentType(r)
		if tt.ok {
			assert.NoError(t, err, tt.contentType)
		} else {
			assert.Equal(t, types.ErrUnsupportedMediaType, types.GetErrorCode(err), tt.contentType)
		}
	}
}

func TestResponseWriter_CapturesStatusAndSize(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("hello"))

	assert.Equal(t, http.StatusTeapot, rw.StatusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, int64(5), rw.BytesWritten)
	assert.Same(t, http.ResponseWriter(rec), rw.Unwrap())
}
