// Package ratelimit is the Rate Limiter: a per-user sliding-window quota
// over the Fabric's sorted sets, with an explicit fail-open/fail-closed
// policy for when the broker itself is unreachable.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/ocx/videogen/internal/apierr"
	"github.com/ocx/videogen/internal/fabric"
)

// FailPolicy controls behavior when the Fabric gateway errors mid-check.
type FailPolicy string

const (
	FailOpen   FailPolicy = "open"
	FailClosed FailPolicy = "closed"
)

// Config mirrors the teacher's RateLimitConfig shape, adapted to the
// broker-backed sliding window spec.md §4.D requires.
type Config struct {
	Window     time.Duration
	MaxAdmits  int
	FailPolicy FailPolicy
}

// Limiter enforces admission quotas via `rate:{user_id}` sorted sets: each
// successful admission adds a member scored by its Unix-nanosecond
// timestamp, and the window is pruned of scores older than Window on every
// check before counting.
type Limiter struct {
	fabric fabric.Gateway
	cfg    Config
}

func NewLimiter(gw fabric.Gateway, cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.MaxAdmits <= 0 {
		cfg.MaxAdmits = 5
	}
	if cfg.FailPolicy == "" {
		cfg.FailPolicy = FailOpen
	}
	return &Limiter{fabric: gw, cfg: cfg}
}

// Allow evaluates and, if admitted, records one admission for userID.
// Returns (admitted, retryAfterSeconds).
func (l *Limiter) Allow(ctx context.Context, userID string) (bool, int, error) {
	key := "rate:" + userID
	now := time.Now()
	windowStart := now.Add(-l.cfg.Window)

	if err := l.fabric.ZRemRangeByScore(ctx, key, 0, float64(windowStart.UnixNano())); err != nil {
		return l.onError(err)
	}

	count, err := l.fabric.ZCard(ctx, key)
	if err != nil {
		return l.onError(err)
	}

	if count >= int64(l.cfg.MaxAdmits) {
		return false, l.retryAfterFromOldest(ctx, key, now), nil
	}

	if err := l.fabric.ZAdd(ctx, key, float64(now.UnixNano()), strconv.FormatInt(now.UnixNano(), 10)); err != nil {
		return l.onError(err)
	}
	// Keep the key from growing unbounded in Redis even if pruning lags.
	_ = l.fabric.Expire(ctx, key, l.cfg.Window*2)

	return true, 0, nil
}

// failClosedRetryAfter is the Retry-After advertised when the Fabric itself
// is unreachable and the policy rejects rather than admits; the window's
// oldest score can't be read, so this is a fixed short backoff rather than
// the full window.
const failClosedRetryAfter = 60

// retryAfterFromOldest computes seconds until the window's oldest admission
// ages out, per the sliding-window contract: window − (now − oldest_score).
// Falls back to the full window if the oldest score can't be read.
func (l *Limiter) retryAfterFromOldest(ctx context.Context, key string, now time.Time) int {
	oldestNanos, ok, err := l.fabric.ZOldestScore(ctx, key)
	if err != nil || !ok {
		return int(l.cfg.Window.Seconds())
	}
	oldest := time.Unix(0, int64(oldestNanos))
	remaining := l.cfg.Window - now.Sub(oldest)
	if remaining < 0 {
		return 0
	}
	// Round up: a client must never be told to retry before the window has
	// actually cleared.
	return int(math.Ceil(remaining.Seconds()))
}

func (l *Limiter) onError(err error) (bool, int, error) {
	slog.Warn("ratelimit: fabric error during admission check", "error", err, "policy", l.cfg.FailPolicy)
	if l.cfg.FailPolicy == FailOpen {
		return true, 0, nil
	}
	return false, failClosedRetryAfter, err
}

// Middleware enforces the quota for the user ID the request context carries,
// following the teacher's Middleware(next) http.Handler wrapper shape.
func Middleware(l *Limiter, userIDFromContext func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := userIDFromContext(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			admitted, retryAfter, err := l.Allow(r.Context(), userID)
			if err != nil && l.cfg.FailPolicy == FailClosed {
				writeRateLimitError(w, apierr.RateLimited(retryAfter, "rate limiter unavailable"))
				return
			}
			if !admitted {
				writeRateLimitError(w, apierr.RateLimited(retryAfter, "rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitError(w http.ResponseWriter, e *apierr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"` + e.Code + `","message":"` + e.Message + `","retry_after_seconds":` + strconv.Itoa(e.RetryAfter) + `}`))
}
