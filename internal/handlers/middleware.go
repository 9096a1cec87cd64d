// Package handlers is the Ingress API: the HTTP surface that authenticates,
// rate-limits, validates, and dispatches every request into the Store,
// Queue, Ledger, and SSE Hub. Grounded on the teacher's
// internal/handlers/infra.go middleware idioms (CORS origin matching,
// slog-based request logging, SSE streaming) and its MakeCORSMiddleware /
// LoggingMiddleware shapes.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ocx/videogen/internal/apierr"
	"github.com/ocx/videogen/internal/config"
	"github.com/ocx/videogen/internal/security"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRequestID
)

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

// UserIDFromContext extracts the authenticated user ID, if any.
func UserIDFromContext(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(ctxKeyUserID).(string)
	return id, ok
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// RequestIDMiddleware assigns a fresh correlation identifier to every
// request, attaches it to the request context, and echoes it on the
// response, per spec.md §4.K: "every handler assigns a fresh correlation
// identifier ... and returns it in the response".
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}

// LoggingMiddleware logs each request with its correlation ID, following
// the teacher's LoggingMiddleware shape.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFromContext(r.Context()),
		)
	})
}

// CORSMiddleware allows only the configured frontend origin, matching the
// teacher's exact-origin-plus-wildcard-suffix logic in MakeCORSMiddleware.
func CORSMiddleware(cfg *config.Config) mux.MiddlewareFunc {
	exact := make(map[string]bool, len(cfg.Server.CORSAllowOrigins))
	var wildcardSuffixes []string
	for _, o := range cfg.Server.CORSAllowOrigins {
		if strings.Contains(o, "*") {
			wildcardSuffixes = append(wildcardSuffixes, strings.Replace(o, "*", "", 1))
		} else {
			exact[o] = true
		}
	}

	originAllowed := func(origin string) bool {
		if exact[origin] {
			return true
		}
		for _, suffix := range wildcardSuffixes {
			parts := strings.SplitN(suffix, "//", 2)
			if len(parts) == 2 && strings.HasPrefix(origin, parts[0]+"//") && strings.HasSuffix(origin, parts[1]) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware validates the Authorization bearer token and attaches the
// resolved user ID to the request context. Handlers that accept a query
// parameter token (the SSE stream endpoint) authenticate separately via
// authenticateRequest.
func AuthMiddleware(validator *security.Validator) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := authenticateRequest(r, validator, false)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
		})
	}
}

// authenticateRequest resolves the bearer token from the Authorization
// header, and additionally from a "token" query parameter when
// allowQueryParam is set — required for the stream endpoint, whose
// EventSource clients cannot set request headers.
func authenticateRequest(r *http.Request, validator *security.Validator, allowQueryParam bool) (string, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == r.Header.Get("Authorization") {
		token = "" // header had no "Bearer " prefix
	}
	if token == "" && allowQueryParam {
		token = r.URL.Query().Get("token")
	}
	return validator.Validate(r.Context(), token)
}

// WriteError renders the standard error envelope:
// {error, code, retryable, request_id}.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Pipeline(err, "internal error")
	}

	status := httpStatusForKind(apiErr.Kind)
	if apiErr.Kind == apierr.KindRateLimited {
		w.Header().Set("Retry-After", itoa(apiErr.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":      apiErr.Message,
		"code":       apiErr.Code,
		"retryable":  apiErr.Retryable(),
		"request_id": requestIDFromContext(r.Context()),
	})
}

func httpStatusForKind(k apierr.Kind) int {
	switch k {
	case apierr.KindValidation:
		return http.StatusBadRequest
	case apierr.KindAuth:
		return http.StatusForbidden
	case apierr.KindOwnership:
		return http.StatusForbidden
	case apierr.KindNotFound:
		return http.StatusNotFound
	case apierr.KindGone:
		return http.StatusGone
	case apierr.KindConflict:
		return http.StatusConflict
	case apierr.KindRateLimited:
		return http.StatusTooManyRequests
	case apierr.KindBudgetExceeded:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v as the response body. Callers set Content-Type and
// call WriteHeader (if not 200) before invoking this.
func writeJSON(w http.ResponseWriter, v interface{}) {
	json.NewEncoder(w).Encode(v)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
