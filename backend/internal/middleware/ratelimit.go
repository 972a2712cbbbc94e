// Package middleware holds the API's request throttling.
package middleware

import (
	"net"
	"net/http"
	"strconv"

	"github.com/elkarte/forum/backend/internal/middleware/ratelimiter"
	"github.com/elkarte/forum/shared/logger"
	mw "github.com/elkarte/forum/shared/middleware"
)

// KeyFunc names the bucket a request is charged to. An empty key skips
// the limit.
type KeyFunc func(r *http.Request) string

func RateLimit(l *ratelimiter.Limiter, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k != "" && !l.Allow(k) {
				logger.Log.Warn("rate limit exceeded", "key", k, "path", r.URL.Path)
				w.Header().Set("Retry-After", "60")
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ByUser charges signed in members by id. Guests are not limited here.
func ByUser(r *http.Request) string {
	user := mw.GetUserFromContext(r)
	if user.Guest() {
		return ""
	}
	return "user:" + strconv.FormatInt(user.Id, 10)
}

// ByIP charges the client address. Run behind a real IP middleware when
// the API sits behind a proxy.
func ByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
