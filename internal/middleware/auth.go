package middleware

import (
	"net"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/msull/misc/internal/audit"
	"github.com/msull/misc/internal/util"
)

const adminRealm = `Basic realm="dashboard admin"`

// AdminAuthMiddleware guards the admin routes with HTTP basic auth checked
// against a bcrypt hash. The username is ignored.
type AdminAuthMiddleware struct {
	passwordHash string
	limiter      *LoginRateLimiter
}

func NewAdminAuthMiddleware(passwordHash string, limiter *LoginRateLimiter) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{passwordHash: passwordHash, limiter: limiter}
}

func (m *AdminAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.passwordHash == "" {
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Admin access is disabled",
			})
			return
		}

		ip := clientIP(r)
		if m.limiter != nil && m.limiter.Blocked(ip) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "Too many login attempts. Please try again later.",
			})
			return
		}

		_, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", adminRealm)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing credentials",
			})
			return
		}

		if !util.CheckPasswordHash(password, m.passwordHash) {
			if m.limiter != nil {
				m.limiter.Fail(ip)
			}
			log.Warn().Str("ip", ip).Msg("admin auth: invalid password")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAdminLoginFailure})
			w.Header().Set("WWW-Authenticate", adminRealm)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid credentials",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP keys the login limiter. It relies on chi's RealIP middleware
// having already resolved proxy headers into RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
