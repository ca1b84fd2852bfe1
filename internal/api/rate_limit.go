package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelforge/internal/ratelimit"
	"go.uber.org/zap"
)

type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int64) (ratelimit.Decision, error)
}

// costFunc prices a request in tokens.
type costFunc func(r *http.Request) int64

func unitCost(*http.Request) int64 { return 1 }

// uploadCost charges one token per started MiB of declared body size, capped
// at the largest upload the server accepts.
func uploadCost(maxBytes int64) costFunc {
	const unit = 1 << 20
	return func(r *http.Request) int64 {
		size := r.ContentLength
		if size <= 0 || size > maxBytes {
			size = maxBytes
		}
		return 1 + (size-1)/unit
	}
}

func (s *Server) withRateLimit(cost costFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s.rateLimiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeLabel(r)
			subject := s.rateLimitSubject(r) + ":" + r.Method + " " + route

			decision, err := s.rateLimiter.AllowN(r.Context(), subject, cost(r))
			if err != nil {
				s.logger.Warn("rate limiter check failed", zap.String("subject", subject), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
			writeJSON(w, http.StatusTooManyRequests, errorBody("rate_limited", "rate limit exceeded"))
		})
	}
}

func (s *Server) rateLimitSubject(r *http.Request) string {
	if subject := strings.TrimSpace(r.Header.Get(s.rateLimitSubjectHeader)); subject != "" {
		return subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "anonymous"
	}
	return host
}
