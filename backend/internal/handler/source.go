package handler

import (
	"net/http"

	"github.com/elkarte/forum/backend/internal/events"
	mw "github.com/elkarte/forum/shared/middleware"
)

// requestSource lets hooks ask for the current request, its user and the
// client address without the trigger passing them.
type requestSource struct {
	r *http.Request
}

func (s requestSource) ProvideDependency(name string) (any, bool) {
	switch name {
	case "user":
		user := mw.GetUserFromContext(s.r)
		return user, user != nil
	case "request":
		return s.r, true
	case "remote_addr":
		return s.r.RemoteAddr, true
	}
	return nil, false
}

// EventSource attaches the request as the hook dependency source. It must
// run after authentication so the user is visible.
func EventSource(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(events.WithSource(r.Context(), requestSource{r})))
	})
}
