package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serkansepil/agent-planner-sub001/internal/ctxkeys"
	"github.com/serkansepil/agent-planner-sub001/types"
)

// --- helpers ---

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, data any) Response {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.Response
}

// --- tests ---

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, []int{1, 2, 3})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `[1,2,3]`, w.Body.String())
}

func TestWriteSuccess_CarriesRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "req-1"))
	w := httptest.NewRecorder()

	WriteSuccess(w, r, map[string]string{"key": "value"})

	var data map[string]string
	resp := decodeResponse(t, w, &data)
	assert.True(t, resp.Success)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "value", data["key"])
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"validation", types.NewValidationError("bad"), http.StatusBadRequest, types.ErrValidation},
		{"model not supported", types.NewError(types.ErrModelNotSupported, "x"), http.StatusBadRequest, types.ErrModelNotSupported},
		{"not found", types.NewNotFoundError("gone"), http.StatusNotFound, types.ErrNotFound},
		{"rate limit", types.NewRateLimitError("slow down"), http.StatusTooManyRequests, types.ErrRateLimitExceeded},
		{"budget", types.NewBudgetError("broke"), http.StatusPaymentRequired, types.ErrBudgetExceeded},
		{"no eligible agent", types.NewError(types.ErrNoEligibleAgent, "none"), http.StatusUnprocessableEntity, types.ErrNoEligibleAgent},
		{"dependency failed", types.NewError(types.ErrDependencyFailed, "dep"), http.StatusFailedDependency, types.ErrDependencyFailed},
		{"task timeout", types.NewError(types.ErrTaskTimeout, "slow"), http.StatusGatewayTimeout, types.ErrTaskTimeout},
		{"task cancelled", types.NewError(types.ErrTaskCancelled, "stop"), http.StatusConflict, types.ErrTaskCancelled},
		{"provider", types.NewProviderError("openai", "boom", true), http.StatusBadGateway, types.ErrProvider},
		{"explicit status wins", types.NewValidationError("big").WithHTTPStatus(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge, types.ErrValidation},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, types.ErrTaskTimeout},
		{"client cancel", context.Canceled, StatusClientClosedRequest, types.ErrTaskCancelled},
		{"plain error", errors.New("db exploded"), http.StatusInternalServerError, types.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w, nil)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.wantCode), resp.Error.Code)
		})
	}
}

func TestWriteError_HidesInternalCause(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, nil, errors.New("password=hunter2"), nil)
	assert.NotContains(t, w.Body.String(), "hunter2")
}

func TestWriteError_CarriesContext(t *testing.T) {
	err := types.NewProviderError("anthropic", "overloaded", true).WithExecution("exec-1").WithTask("t1")
	w := httptest.NewRecorder()
	WriteError(w, nil, err, nil)

	resp := decodeResponse(t, w, nil)
	require.NotNil(t, resp.Error)
	assert.True(t, resp.Error.Retryable)
	assert.Equal(t, "anthropic", resp.Error.Provider)
	assert.Equal(t, "exec-1", resp.Error.ExecutionID)
	assert.Equal(t, "t1", resp.Error.TaskID)
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name       string
		body       string
		wantErr    bool
		wantStatus int
	}{
		{"valid", `{"name":"x"}`, false, 0},
		{"empty", ``, true, 0},
		{"malformed", `{"name":`, true, 0},
		{"unknown field", `{"name":"x","extra":1}`, true, 0},
		{"too large", `{"name":"` + strings.Repeat("a", MaxRequestBodyBytes) + `"}`, true, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.body == "" {
				r.Body = http.NoBody
			}
			var dst payload
			err := DecodeJSONBody(httptest.NewRecorder(), r, &dst)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "x", dst.Name)
				return
			}
			require.Error(t, err)
			assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
			if tt.wantStatus != 0 {
				e, ok := types.AsError(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantStatus, e.HTTPStatus)
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)
	_, err := rw.Write([]byte("hi"))
	require.NoError(t, err)
	rw.Flush()

	assert.Equal(t, http.StatusTeapot, rw.StatusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, rec.Flushed)
	assert.Same(t, rec, rw.Unwrap())
}
