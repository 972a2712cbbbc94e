package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/elkarte/forum/backend/internal/events"
	"github.com/elkarte/forum/shared/config"
	"github.com/elkarte/forum/shared/domain"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

type AttachmentStorage interface {
	GetMessage(ctx context.Context, id domain.MsgId) (*domain.MessageRef, error)
	InsertAttachment(ctx context.Context, a *domain.Attachment) (domain.AttachId, error)
	SetThumbnail(ctx context.Context, id, thumb domain.AttachId) error
	UpdateAttachmentFile(ctx context.Context, id domain.AttachId, size int64, width, height int, mime string) error
	DeleteAttachments(ctx context.Context, ids []domain.AttachId) error
	BindMessageAttachments(ctx context.Context, msg domain.MsgId, ids []domain.AttachId) error

	// GetAttachment returns the row with its thumbnail and the board, topic
	// and poster of its message when it has one.
	GetAttachment(ctx context.Context, id domain.AttachId) (*domain.Attachment, error)
	GetAttachmentFromTopic(ctx context.Context, id domain.AttachId, topic domain.TopicId) (*domain.Attachment, error)
	GetMessageAttachments(ctx context.Context, msgs []domain.MsgId) ([]*domain.Attachment, error)
	AttachmentsSizeForMessage(ctx context.Context, msg domain.MsgId) (count int, size int64, err error)
	IncreaseDownloadCounter(ctx context.Context, id domain.AttachId) error

	GetAvatar(ctx context.Context, id domain.AttachId) (*domain.Attachment, error)
	GetMemberAvatars(ctx context.Context, member domain.UserId) ([]*domain.Attachment, error)
}

// TempStore keeps the staged uploads of each user between requests.
type TempStore interface {
	PostContext(ctx context.Context, user domain.UserId) (*domain.PostContext, error)
	SetPostContext(ctx context.Context, user domain.UserId, post domain.PostContext) error
	Get(ctx context.Context, user domain.UserId, attachID string) (*domain.TempAttachment, error)
	Put(ctx context.Context, user domain.UserId, att *domain.TempAttachment) error
	Delete(ctx context.Context, user domain.UserId, attachID string) error
	// All returns the user's temp attachments in upload order.
	All(ctx context.Context, user domain.UserId) ([]*domain.TempAttachment, error)
	Flush(ctx context.Context, user domain.UserId) error
}

type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Put(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type BoardAccess interface {
	CanSee(user *domain.User, board domain.BoardId) bool
	AccessibleBoards(user *domain.User, boards []domain.BoardId) []domain.BoardId
}

type Directories interface {
	Current() string
	CurrentID() domain.FolderId
	IsCurrentID(id domain.FolderId) bool
	Path(id domain.FolderId) (string, error)
	CheckDirectory() error
	CheckDirSpace(path string, size int64) error
	CheckDirSize(path string, size int64) error
	SaveStaged(data io.Reader, dest string) (int64, error)
	Rename(src, dst string) error
	Remove(path string) error
	// Touch refreshes a staged file's mtime when its temp record is extended.
	Touch(path string) error
	Open(path string) (*os.File, error)
	Exists(path string) bool
}

type Hooks interface {
	Trigger(ctx context.Context, position string, args events.Args)
}

type Attachments struct {
	cfg     config.Attachments
	avatars config.Avatars
	storage AttachmentStorage
	temp    TempStore
	dirs    Directories
	cache   Cache
	access  BoardAccess
	hooks   Hooks
	client  *http.Client
}

func NewAttachments(
	cfg *config.Config,
	storage AttachmentStorage,
	temp TempStore,
	dirs Directories,
	cache Cache,
	access BoardAccess,
	hooks Hooks,
) *Attachments {
	return &Attachments{
		cfg:     cfg.Public.Attachments,
		avatars: cfg.Public.Avatars,
		storage: storage,
		temp:    temp,
		dirs:    dirs,
		cache:   cache,
		access:  access,
		hooks:   hooks,
		client:  newRemoteClient(),
	}
}

// newFileHash returns a random 40 character hash used in stored file names.
func newFileHash(name string) string {
	h, _ := blake2b.New(20, nil)
	h.Write([]byte(name))
	h.Write([]byte(time.Now().Format(time.RFC3339Nano)))
	u := uuid.New()
	h.Write(u[:])
	return hex.EncodeToString(h.Sum(nil))
}

// tempToken is the random part of a staged file name.
func tempToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func tempAttachID(user domain.UserId) string {
	return fmt.Sprintf("post_tmp_%d_%s", user, tempToken())
}

// fileExt returns the lowercased extension of name, "" when it is longer
// than 8 characters or the name is nothing but the extension.
func fileExt(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	ext := strings.ToLower(name[i+1:])
	if len(ext) > 8 || i == 0 {
		return ""
	}
	return ext
}

// AttachmentFilename is the on disk name of a stored attachment.
func AttachmentFilename(dir string, id domain.AttachId, hash string) string {
	return filepath.Join(dir, fmt.Sprintf("%d_%s.elk", id, hash))
}

// attachmentPath resolves where a stored row lives on disk. Rows without a
// hash come from installs that kept the uploaded name.
func (s *Attachments) attachmentPath(a *domain.Attachment) (string, error) {
	if a.Type == domain.AttachmentAvatar && a.FileHash == "" && s.avatars.CustomDir != "" {
		return filepath.Join(s.avatars.CustomDir, a.Filename), nil
	}
	dir, err := s.dirs.Path(a.FolderId)
	if err != nil {
		return "", err
	}
	if a.FileHash != "" {
		return AttachmentFilename(dir, a.Id, a.FileHash), nil
	}
	return s.legacyFilename(dir, a.Filename, a.Id), nil
}
