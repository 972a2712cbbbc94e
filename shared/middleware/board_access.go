package middleware

import (
	"net/http"
	"strconv"

	"github.com/elkarte/forum/shared/domain"
	"github.com/elkarte/forum/shared/logger"
	"github.com/gorilla/mux"
)

type BoardAccess interface {
	CanSee(user *domain.User, board domain.BoardId) bool
}

// RestrictBoardAccess rejects requests whose {board} route variable names a
// board the user cannot see. Expects the user in the request context.
func RestrictBoardAccess(access BoardAccess) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := mux.Vars(r)["board"]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			board, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				http.Error(w, "invalid board", http.StatusBadRequest)
				return
			}

			user := GetUserFromContext(r)
			if access.CanSee(user, board) {
				next.ServeHTTP(w, r)
				return
			}

			var uid domain.UserId
			if user != nil {
				uid = user.Id
			}
			logger.Log.Warn("board access restricted", "user_id", uid, "board", board)
			http.Error(w, "Access restricted", http.StatusForbidden)
		})
	}
}
