package handler

import (
	"net/http"
	"os"
	"sort"

	"github.com/elkarte/forum/backend/internal/service"
	"github.com/elkarte/forum/shared/domain"
	mw "github.com/elkarte/forum/shared/middleware"
	"github.com/elkarte/forum/shared/utils"
	"github.com/elkarte/forum/shared/validation"
	"github.com/gorilla/mux"
)

// tempAttachmentView is the client side view of a staged file. The temp
// path on disk stays on the server.
type tempAttachmentView struct {
	PublicId string               `json:"public_attachid"`
	Name     string               `json:"name"`
	Size     int64                `json:"size"`
	Type     string               `json:"type"`
	Errors   []domain.AttachError `json:"errors,omitempty"`
}

func tempViews(temps []*domain.TempAttachment) []tempAttachmentView {
	views := make([]tempAttachmentView, 0, len(temps))
	for _, t := range temps {
		views = append(views, tempAttachmentView{
			PublicId: t.PublicId,
			Name:     t.Name,
			Size:     t.Size,
			Type:     t.Type,
			Errors:   t.Errors,
		})
	}
	return views
}

type uploadResponse struct {
	IgnoreTemp  bool                  `json:"ignore_temp"`
	Errors      *service.ErrorContext `json:"errors"`
	Attachments []tempAttachmentView  `json:"attachments"`
}

// UploadAttachments stages the files of a multipart request for a post on
// {board}. Form fields topic, msg and last_msg describe the post being
// written, files are sent as "attachment".
func (h *Handler) UploadAttachments(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	board, err := routeID(r, "board")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	if err := validation.ValidateAndParseMultipart(r, w, h.cfg.Public.Attachments.MaxRequestSize()); err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	defer r.MultipartForm.RemoveAll()

	post := domain.PostContext{Board: board}
	for _, f := range []struct {
		name string
		dst  *int64
	}{{"topic", &post.Topic}, {"msg", &post.Msg}, {"last_msg", &post.LastMsg}} {
		if *f.dst, err = optionalIDParam(r.FormValue(f.name), f.name); err != nil {
			utils.WriteErrorAndStatusCode(w, err)
			return
		}
	}

	uploads, closeAll := validation.PendingUploads(r.MultipartForm.File["attachment"])
	defer closeAll()

	res, err := h.attachments.ProcessAttachments(r.Context(), user, post, uploads)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	writeJSON(w, uploadResponse{
		IgnoreTemp:  res.IgnoreTemp,
		Errors:      res.Errors,
		Attachments: tempViews(res.Attachments),
	})
}

func (h *Handler) ListTempAttachments(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	temps, err := h.attachments.TempAttachments(r.Context(), user)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, tempViews(temps))
}

// GetTempAttachment serves a staged file back to the user who uploaded it,
// used for previews before the post is saved.
func (h *Handler) GetTempAttachment(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	tmp, err := h.attachments.GetTempAttachment(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	f, err := os.Open(tmp.TmpPath)
	if err != nil {
		http.Error(w, "attachment_not_found", http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Cache-Control", "no-store")
	serveFile(w, r, f, tmp.Name, tmp.Type, "")
}

func (h *Handler) DeleteTempAttachment(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	ctx := r.Context()
	attachID := h.attachments.AttachmentIDFromPublic(ctx, user, mux.Vars(r)["id"])
	if err := h.attachments.RemoveTempAttachment(ctx, user, attachID); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PromoteAttachments stores the user's staged files as attachments of the
// saved message.
func (h *Handler) PromoteAttachments(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	msg, err := routeID(r, "message")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	created, err := h.attachments.PromoteTempAttachments(r.Context(), user, msg)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	if created == nil {
		created = []*domain.Attachment{}
	}
	writeJSONStatus(w, http.StatusCreated, created)
}

func (h *Handler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, false)
}

func (h *Handler) DownloadThumbnail(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, true)
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request, thumb bool) {
	topic, err := routeID(r, "topic")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	id, err := routeID(r, "id")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	a, f, err := h.attachments.DownloadAttachment(r.Context(), mw.GetUserFromContext(r), id, topic, thumb)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	defer f.Close()

	serveFile(w, r, f, a.Filename, a.MimeType, a.FileHash)
}

func (h *Handler) AttachmentImage(w http.ResponseWriter, r *http.Request) {
	id, err := routeID(r, "id")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	img, err := h.attachments.IsAttachmentImage(r.Context(), mw.GetUserFromContext(r), id)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, img)
}

func (h *Handler) AttachmentPosition(w http.ResponseWriter, r *http.Request) {
	id, err := routeID(r, "id")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	pos, err := h.attachments.GetAttachmentPosition(r.Context(), mw.GetUserFromContext(r), id)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, pos)
}

type messageAttachments struct {
	Msg         domain.MsgId             `json:"msg"`
	Attachments []service.AttachmentView `json:"attachments"`
}

// TopicAttachments lists the attachments of every message in a topic, ready
// for display. Attachments on boards the viewer cannot see are left out and
// unapproved ones are only shown to their poster.
func (h *Handler) TopicAttachments(w http.ResponseWriter, r *http.Request) {
	topic, err := routeID(r, "topic")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	user := mw.GetUserFromContext(r)
	ctx := r.Context()

	msgs, err := h.messages.GetTopicMessages(ctx, topic)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	posters, err := h.messages.GetMessagePosters(ctx, msgs)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	includeUnapproved := user != nil && user.Admin
	byMsg, err := h.attachments.GetAttachments(ctx, msgs, includeUnapproved, service.FilterAccessibleAttachment(user), posters)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	result := []messageAttachments{}
	for msg, atts := range byMsg {
		visible := atts[:0]
		for _, a := range atts {
			if h.access.CanSee(user, a.BoardId) {
				visible = append(visible, a)
			}
		}
		if len(visible) == 0 {
			continue
		}
		result = append(result, messageAttachments{
			Msg:         msg,
			Attachments: h.attachments.LoadAttachmentContext(ctx, msg, visible, topic),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Msg < result[j].Msg })

	writeJSON(w, result)
}

// ImageSize reports the dimensions of a remote image, -1 when unknown.
func (h *Handler) ImageSize(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	writeJSON(w, h.attachments.URLImageSize(r.Context(), raw))
}
