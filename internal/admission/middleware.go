package admission

import (
	"net/http"
	"time"

	"github.com/223-Media/223media-website/internal/httpx"
	"github.com/223-Media/223media-website/internal/identity"
)

// Middleware applies the full admission pipeline: whitelist bypass,
// suspicious-source block, per-class window counting, and progressive
// delay for the auth class. A rejected request never reaches
// authentication, so no lockout attempt is recorded for it.
func (l *Limiter) Middleware(authSpeed *SpeedLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := httpx.ClientIP(r)

			var user *identity.User
			if resolved, ok := identity.FromContext(r.Context()); ok {
				user = &resolved
			}

			decision := l.Check(r.Method, r.URL.Path, ip, user)
			if !decision.Allowed {
				httpx.WriteError(w, http.StatusTooManyRequests, httpx.ErrorResponse{
					Error:      decision.Message,
					Code:       decision.Code,
					Type:       string(decision.Class),
					RetryAfter: int(decision.RetryAfter.Seconds()),
				})
				return
			}

			if authSpeed != nil && decision.Class == ClassAuth && !l.Whitelisted(ip) {
				if delay := authSpeed.Delay(keyFor(decision.Class, user, ip)); delay > 0 {
					if !sleepCtx(r, delay) {
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// sleepCtx holds the request for the given delay, giving up early if the
// client goes away. Returns false when the request context was cancelled.
func sleepCtx(r *http.Request, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-r.Context().Done():
		return false
	}
}
