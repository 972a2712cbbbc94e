package handler

import (
	"io"
	"net/http"
	"os"

	"github.com/elkarte/forum/shared/logger"
	"github.com/elkarte/forum/shared/utils"
	"github.com/elkarte/forum/shared/validation"
)

// avatarRequestLimit caps avatar uploads independently of attachment limits.
const avatarRequestLimit = 8 << 20

func (h *Handler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	id, err := routeID(r, "id")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	a, err := h.avatars.GetAvatar(r.Context(), id)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	f, err := h.avatars.OpenAttachment(a)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	defer f.Close()

	serveFile(w, r, f, a.Filename, a.MimeType, a.FileHash)
}

// UploadAvatar replaces the signed in member's avatar with the "avatar"
// file of a multipart request.
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	if err := validation.ValidateAndParseMultipart(r, w, avatarRequestLimit); err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("avatar")
	if err != nil {
		http.Error(w, "missing avatar file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "avatar_upload_*")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	defer os.Remove(tmp.Name())
	_, err = io.Copy(tmp, file)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	avatars := h.cfg.Public.Avatars
	a, err := h.avatars.SaveAvatar(r.Context(), tmp.Name(), user.Id, avatars.MaxWidth, avatars.MaxHeight)
	if err != nil {
		logger.Log.Warn("avatar upload rejected", "user_id", user.Id, "error", err)
		http.Error(w, "bad_avatar", http.StatusUnprocessableEntity)
		return
	}
	writeJSONStatus(w, http.StatusCreated, a)
}

// ServerAvatars lists the gallery of avatars shipped with the forum. The
// optional current query marks the member's selection.
func (h *Handler) ServerAvatars(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.avatars.ServerAvatars(r.URL.Query().Get("current")))
}
