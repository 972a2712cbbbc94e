package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/elkarte/forum/backend/internal/service"
	"github.com/elkarte/forum/shared/config"
	"github.com/elkarte/forum/shared/domain"
	"github.com/elkarte/forum/shared/logger"
)

type AttachmentService interface {
	ProcessAttachments(ctx context.Context, user *domain.User, post domain.PostContext, uploads []*domain.PendingUpload) (*service.UploadResult, error)
	TempAttachments(ctx context.Context, user *domain.User) ([]*domain.TempAttachment, error)
	GetTempAttachment(ctx context.Context, user *domain.User, publicID string) (*domain.TempAttachment, error)
	AttachmentIDFromPublic(ctx context.Context, user *domain.User, publicID string) string
	RemoveTempAttachment(ctx context.Context, user *domain.User, attachID string) error
	PromoteTempAttachments(ctx context.Context, user *domain.User, msg domain.MsgId) ([]*domain.Attachment, error)

	DownloadAttachment(ctx context.Context, user *domain.User, id domain.AttachId, topic domain.TopicId, thumb bool) (*domain.Attachment, *os.File, error)
	IsAttachmentImage(ctx context.Context, user *domain.User, id domain.AttachId) (*service.ImageAttachment, error)
	GetAttachmentPosition(ctx context.Context, user *domain.User, id domain.AttachId) (*service.AttachmentPosition, error)
	GetAttachments(ctx context.Context, msgs []domain.MsgId, includeUnapproved bool, filter service.AttachmentFilter, posters map[domain.MsgId]domain.UserId) (map[domain.MsgId][]*domain.Attachment, error)
	LoadAttachmentContext(ctx context.Context, msg domain.MsgId, attachments []*domain.Attachment, topic domain.TopicId) []service.AttachmentView
	URLImageSize(ctx context.Context, rawURL string) service.ImageSize
}

type AvatarService interface {
	GetAvatar(ctx context.Context, id domain.AttachId) (*domain.Attachment, error)
	OpenAttachment(a *domain.Attachment) (*os.File, error)
	SaveAvatar(ctx context.Context, tmpPath string, member domain.UserId, maxW, maxH int) (*domain.Attachment, error)
	ServerAvatars(current string) []service.ServerAvatar
}

type MentionService interface {
	List(ctx context.Context, user *domain.User, limit int) ([]*domain.Mention, error)
}

// MessageStorage resolves the messages of a topic and their authors.
type MessageStorage interface {
	GetTopicMessages(ctx context.Context, topic domain.TopicId) ([]domain.MsgId, error)
	GetMessagePosters(ctx context.Context, msgs []domain.MsgId) (map[domain.MsgId]domain.UserId, error)
}

type BoardAccess interface {
	CanSee(user *domain.User, board domain.BoardId) bool
}

// HealthChecker checks if the service dependencies are healthy.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	attachments AttachmentService
	avatars     AvatarService
	mentions    MentionService
	messages    MessageStorage
	access      BoardAccess
	health      HealthChecker
	cfg         *config.Config
}

func New(attachments AttachmentService, avatars AvatarService, mentions MentionService, messages MessageStorage, access BoardAccess, health HealthChecker, cfg *config.Config) *Handler {
	return &Handler{
		attachments: attachments,
		avatars:     avatars,
		mentions:    mentions,
		messages:    messages,
		access:      access,
		health:      health,
		cfg:         cfg,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Error("failed to encode response", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(append(data, '\n'))
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Error("failed to encode response", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(data, '\n'))
}
