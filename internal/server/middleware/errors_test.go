package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/errors"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecovery(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode int
		wantMsg  string
	}{
		{
			name: "passes through",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"count":0}`))
			},
			wantCode: http.StatusOK,
		},
		{
			name:     "string panic",
			handler:  func(w http.ResponseWriter, r *http.Request) { panic("store exploded") },
			wantCode: http.StatusInternalServerError,
			wantMsg:  "panic: store exploded",
		},
		{
			name:     "error panic",
			handler:  func(w http.ResponseWriter, r *http.Request) { panic(assert.AnError) },
			wantCode: http.StatusInternalServerError,
			wantMsg:  assert.AnError.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			assert.NotPanics(t, func() {
				Recovery(tt.handler).ServeHTTP(rec, httptest.NewRequest("GET", "/jobs", nil))
			})
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantMsg == "" {
				return
			}

			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var response ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
			assert.Equal(t, "INTERNAL_ERROR", response.Error.Code)
			assert.Contains(t, response.Error.Message, tt.wantMsg)
		})
	}
}

func TestRecovery_AbortHandlerRepanics(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/jobs", nil))
	})
}

func TestRecovery_WithRequestID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic with request id")
	})

	// chi's RequestID runs before Recovery
	middleware := chimw.RequestID(Recovery(handler))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(chimw.RequestIDHeader, "test-req-123")
	rec := httptest.NewRecorder()

	middleware.ServeHTTP(rec, req)

	var response ErrorResponse
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, "test-req-123", response.Error.RequestID)
}

func TestNewError_GeneratedRequestID(t *testing.T) {
	var env *errors.ErrorEnvelope
	handler := chimw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env = NewError(r, CodeNotFound, "job 7 not recorded")
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/jobs/7", nil))

	require.NotNil(t, env)
	assert.Equal(t, CodeNotFound, env.Code)
	assert.NotEmpty(t, env.CorrelationID)

	// without the middleware there is no correlation id
	env = NewError(httptest.NewRequest("GET", "/jobs/7", nil), CodeNotFound, "job 7 not recorded")
	assert.Empty(t, env.CorrelationID)
}

func TestWriteErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		envelope   *errors.ErrorEnvelope
		statusCode int
		wantCode   string
		wantMsg    string
		wantReqID  string
	}{
		{
			name:       "basic error",
			envelope:   errors.NewErrorEnvelope(CodeBadRequest, "invalid job id"),
			statusCode: http.StatusBadRequest,
			wantCode:   "BAD_REQUEST",
			wantMsg:    "invalid job id",
		},
		{
			name:       "internal error",
			envelope:   errors.NewErrorEnvelope(CodeInternal, "something went wrong"),
			statusCode: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
			wantMsg:    "something went wrong",
		},
		{
			name: "error with correlation ID",
			envelope: errors.NewErrorEnvelope(CodeNotFound, "job not recorded").
				WithCorrelationID("corr-123"),
			statusCode: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
			wantMsg:    "job not recorded",
			wantReqID:  "corr-123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()

			WriteErrorResponse(rec, tt.envelope, tt.statusCode)

			assert.Equal(t, tt.statusCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var response ErrorResponse
			err := json.Unmarshal(rec.Body.Bytes(), &response)
			require.NoError(t, err)

			assert.Equal(t, tt.wantCode, response.Error.Code)
			assert.Equal(t, tt.wantMsg, response.Error.Message)
			assert.Equal(t, tt.wantReqID, response.Error.RequestID)
			assert.Nil(t, response.Error.Details)
		})
	}
}

func TestWriteErrorResponse_WithContext(t *testing.T) {
	envelope := errors.NewErrorEnvelope(CodeBadRequest, "invalid pattern")
	envelope, err := envelope.WithContext(map[string]interface{}{
		"field": "tool",
		"value": "[",
	})
	require.NoError(t, err)
	envelope = envelope.WithDetails(map[string]interface{}{"checks": map[string]string{"store": "unhealthy"}})

	rec := httptest.NewRecorder()
	WriteErrorResponse(rec, envelope, http.StatusBadRequest)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	assert.NotNil(t, response.Error.Details)
	assert.Equal(t, "tool", response.Error.Details["field"])
	assert.Equal(t, "[", response.Error.Details["value"])
	assert.Equal(t, map[string]any{"store": "unhealthy"}, response.Error.Details["checks"])
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := chimw.RequestID(Logger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/7", nil))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "HTTP request", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "/jobs/7", fields["path"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
	assert.NotEmpty(t, fields["request_id"])
}
