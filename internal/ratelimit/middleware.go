package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"keystone/pkg/platform/httputil"
	"keystone/pkg/requestcontext"
)

type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// PerMember limits each authenticated member. It must run after RequireAuth;
// requests without a principal pass through.
func PerMember(w *Window, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			p, ok := requestcontext.Actor(r.Context())
			if !ok {
				next.ServeHTTP(rw, r)
				return
			}
			result := w.Allow(p.MemberID.String(), time.Now())
			rw.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			rw.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			rw.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			if !result.Allowed {
				logger.WarnContext(r.Context(), "member rate limit exceeded",
					"member_id", p.MemberID.String(),
					"request_id", requestcontext.RequestID(r.Context()),
				)
				rw.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteJSON(rw, http.StatusTooManyRequests, ExceededResponse{
					Error:      "rate_limit_exceeded",
					Message:    "Too many requests. Please try again later.",
					RetryAfter: result.RetryAfter,
				})
				return
			}
			next.ServeHTTP(rw, r)
		})
	}
}
