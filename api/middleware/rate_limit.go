package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/vcledger/api/responses"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

type windowLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitPolicy is one fixed-window budget keyed by a request attribute.
type RateLimitPolicy struct {
	Name   string
	Window time.Duration
	Limit  int
	// KeyFunc returns the bucket for the request; an empty key is not limited.
	KeyFunc func(r *http.Request) string
}

func (p RateLimitPolicy) enabled() bool {
	return p.Window > 0 && p.Limit > 0 && p.KeyFunc != nil
}

// ByClientIP buckets unauthenticated traffic such as gateway webhooks.
func ByClientIP(r *http.Request) string { return clientIP(r) }

// ByTenant buckets authenticated traffic per tenant.
func ByTenant(r *http.Request) string {
	tenantID := TenantIDFromContext(r.Context())
	if tenantID == uuid.Nil {
		return ""
	}
	return tenantID.String()
}

// RateLimit rejects requests beyond the policy budget with 429. Limiter
// failures fail open and are logged.
func RateLimit(policy RateLimitPolicy, limiter windowLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || limiter == nil {
			return next
		}
		name := strings.ToLower(strings.TrimSpace(policy.Name))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bucket := policy.KeyFunc(r)
			if bucket == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			allowed, count, err := limiter.FixedWindowAllow(ctx, name+":"+bucket, int64(policy.Limit), policy.Window)
			if err != nil {
				logError(ctx, logg, "rate limiter unavailable", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if logg != nil {
					logCtx := logg.WithFields(ctx, map[string]any{
						"policy":         name,
						"bucket":         bucket,
						"attempts":       count,
						"limit":          policy.Limit,
						"window_seconds": int(policy.Window.Seconds()),
					})
					logg.Warn(logCtx, "rate_limit.blocked")
				}
				w.Header().Set("Retry-After", retryAfter(policy.Window))
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(window time.Duration) string {
	secs := int(window.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func clientIP(r *http.Request) string {
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
