package handler

import (
	"net/http"
	"strconv"

	"github.com/elkarte/forum/shared/domain"
	"github.com/elkarte/forum/shared/utils"
)

const (
	defaultMentionLimit = 20
	maxMentionLimit     = 100
)

func (h *Handler) ListMentions(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	limit := defaultMentionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit: must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxMentionLimit)
	}

	mentions, err := h.mentions.List(r.Context(), user, limit)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	if mentions == nil {
		mentions = []*domain.Mention{}
	}
	writeJSON(w, mentions)
}
