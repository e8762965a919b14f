// Package middleware holds the HTTP middleware chain of the job API.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Error codes carried by error envelopes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the wire form of an error envelope. Envelope details and
// context are merged into Details; the correlation id is the request id.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// NewError returns an envelope correlated with the request id that chi's
// RequestID middleware stored on r, when there is one.
func NewError(r *http.Request, code, message string) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(code, message)
	if id := chimw.GetReqID(r.Context()); id != "" {
		env = env.WithCorrelationID(id)
	}
	return env
}

// WriteErrorResponse writes env as the JSON body of a status response.
func WriteErrorResponse(w http.ResponseWriter, env *errors.ErrorEnvelope, status int) {
	detail := ErrorDetail{
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
	}
	if len(env.Details)+len(env.Context) > 0 {
		detail.Details = make(map[string]any, len(env.Details)+len(env.Context))
		for k, v := range env.Details {
			detail.Details[k] = v
		}
		for k, v := range env.Context {
			detail.Details[k] = v
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: detail})
}

// Recovery converts a handler panic into a 500 error envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			WriteErrorResponse(w, NewError(r, CodeInternal, fmt.Sprintf("panic: %v", rec)),
				http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// Logger logs one line per request, and the stack of any panic that
// reaches it.
func Logger(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Handler panicked",
						zap.String("path", r.URL.Path),
						zap.Any("panic", rec),
						zap.ByteString("stack", debug.Stack()))
					panic(rec)
				}
				logger.Info("HTTP request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", chimw.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
