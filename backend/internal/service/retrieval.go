package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	internal_errors "github.com/elkarte/forum/backend/internal/errors"
	"github.com/elkarte/forum/backend/internal/utils/imgproc"
	"github.com/elkarte/forum/shared/domain"
	"github.com/elkarte/forum/shared/logger"
)

// avatarCacheEntry remembers misses as well as hits.
type avatarCacheEntry struct {
	Found      bool               `json:"found"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
}

func avatarCacheKey(id domain.AttachId) string {
	return fmt.Sprintf("getAvatar_id-%d", id)
}

// GetAvatar returns the avatar row of a member attachment, cached.
func (s *Attachments) GetAvatar(ctx context.Context, id domain.AttachId) (*domain.Attachment, error) {
	key := avatarCacheKey(id)
	var entry avatarCacheEntry
	found, err := s.cache.Get(ctx, key, &entry)
	if err != nil {
		logger.Log.Warn("avatar cache read failed", "key", key, "error", err)
	}
	if err == nil && found {
		if !entry.Found {
			return nil, internal_errors.ErrAttachmentNotFound
		}
		return entry.Attachment, nil
	}

	a, err := s.storage.GetAvatar(ctx, id)
	if err != nil && !errors.Is(err, internal_errors.ErrAttachmentNotFound) {
		return nil, err
	}
	entry = avatarCacheEntry{Found: a != nil, Attachment: a}
	if err := s.cache.Put(ctx, key, entry, s.avatars.CacheTTL); err != nil {
		logger.Log.Warn("avatar cache write failed", "key", key, "error", err)
	}
	if a == nil {
		return nil, internal_errors.ErrAttachmentNotFound
	}
	return a, nil
}

// GetAttachmentFromTopic returns an attachment of a message in topic, if
// the user can see the board the topic is on.
func (s *Attachments) GetAttachmentFromTopic(ctx context.Context, user *domain.User, id domain.AttachId, topic domain.TopicId) (*domain.Attachment, error) {
	a, err := s.storage.GetAttachmentFromTopic(ctx, id, topic)
	if err != nil {
		return nil, err
	}
	if !s.access.CanSee(user, a.BoardId) {
		return nil, internal_errors.ErrAttachmentNotFound
	}
	return a, nil
}

// GetAttachmentThumbFromTopic returns the thumbnail of an attachment. Images
// without one are served as they are.
func (s *Attachments) GetAttachmentThumbFromTopic(ctx context.Context, user *domain.User, id domain.AttachId, topic domain.TopicId) (*domain.Attachment, error) {
	a, err := s.GetAttachmentFromTopic(ctx, user, id, topic)
	if err != nil {
		return nil, err
	}
	if a.Thumb != nil && a.Thumb.FileHash != "" {
		thumb := *a.Thumb
		thumb.Approved = a.Approved
		thumb.PosterId = a.PosterId
		thumb.TopicId = a.TopicId
		thumb.BoardId = a.BoardId
		return &thumb, nil
	}
	if imgproc.ValidMimeImageType(a.MimeType) != "" {
		return a, nil
	}
	return nil, internal_errors.ErrAttachmentNotFound
}

// CanDownload reports whether user may fetch the file of a. Unapproved
// files are only served to their poster and to admins.
func CanDownload(user *domain.User, a *domain.Attachment) bool {
	if a.Approved {
		return true
	}
	if user == nil {
		return false
	}
	return user.Admin || (user.Id != 0 && user.Id == a.PosterId)
}

// DownloadAttachment resolves an attachment or its thumbnail for download
// and opens its file. Downloads of full attachments are counted.
func (s *Attachments) DownloadAttachment(ctx context.Context, user *domain.User, id domain.AttachId, topic domain.TopicId, thumb bool) (*domain.Attachment, *os.File, error) {
	var a *domain.Attachment
	var err error
	if thumb {
		a, err = s.GetAttachmentThumbFromTopic(ctx, user, id, topic)
	} else {
		a, err = s.GetAttachmentFromTopic(ctx, user, id, topic)
	}
	if err != nil {
		return nil, nil, err
	}
	if !CanDownload(user, a) {
		return nil, nil, internal_errors.ErrNoAccess
	}

	f, err := s.OpenAttachment(a)
	if err != nil {
		return nil, nil, err
	}

	if !thumb && a.Type == domain.AttachmentNormal {
		if err := s.storage.IncreaseDownloadCounter(ctx, a.Id); err != nil {
			logger.Log.Warn("failed to count download", "attach_id", a.Id, "error", err)
		}
	}
	return a, f, nil
}

// OpenAttachment opens the stored file of a row.
func (s *Attachments) OpenAttachment(a *domain.Attachment) (*os.File, error) {
	path, err := s.attachmentPath(a)
	if err != nil {
		return nil, err
	}
	f, err := s.dirs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, internal_errors.ErrAttachmentNotFound
		}
		return nil, err
	}
	return f, nil
}

type ImageAttachment struct {
	*domain.Attachment
	IsImage   bool   `json:"is_image"`
	HumanSize string `json:"human_size"`
}

// IsAttachmentImage returns an approved, visible message attachment with
// its size formatted for display.
func (s *Attachments) IsAttachmentImage(ctx context.Context, user *domain.User, id domain.AttachId) (*ImageAttachment, error) {
	a, err := s.storage.GetAttachment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Approved || a.Type != domain.AttachmentNormal || a.MessageId == 0 || !s.access.CanSee(user, a.BoardId) {
		return nil, internal_errors.ErrAttachmentNotFound
	}
	return &ImageAttachment{
		Attachment: a,
		IsImage:    strings.HasPrefix(a.MimeType, "image"),
		HumanSize:  humanize.IBytes(uint64(a.Size)),
	}, nil
}

func (s *Attachments) IncreaseDownloadCounter(ctx context.Context, id domain.AttachId) error {
	return s.storage.IncreaseDownloadCounter(ctx, id)
}

// AttachmentFilter decides whether an unapproved attachment is still shown.
// posters maps each message to its author.
type AttachmentFilter func(a *domain.Attachment, posters map[domain.MsgId]domain.UserId) bool

// FilterAccessibleAttachment shows unapproved attachments to the author of
// their message only.
func FilterAccessibleAttachment(user *domain.User) AttachmentFilter {
	return func(a *domain.Attachment, posters map[domain.MsgId]domain.UserId) bool {
		if a.Approved {
			return true
		}
		poster, ok := posters[a.MessageId]
		return ok && user != nil && poster == user.Id
	}
}

// GetAttachments returns the attachments of msgs grouped by message and
// ordered by id. Unapproved ones are dropped unless includeUnapproved is
// set or filter lets them through.
func (s *Attachments) GetAttachments(ctx context.Context, msgs []domain.MsgId, includeUnapproved bool, filter AttachmentFilter, posters map[domain.MsgId]domain.UserId) (map[domain.MsgId][]*domain.Attachment, error) {
	result := make(map[domain.MsgId][]*domain.Attachment)
	if len(msgs) == 0 {
		return result, nil
	}

	rows, err := s.storage.GetMessageAttachments(ctx, msgs)
	if err != nil {
		return nil, err
	}

	keep := rows[:0]
	for _, a := range rows {
		if !a.Approved && !includeUnapproved && (filter == nil || !filter(a, posters)) {
			continue
		}
		if !s.cfg.ShowImages || !s.cfg.Thumbnails {
			a.Thumb = nil
		}
		keep = append(keep, a)
	}
	sort.Slice(keep, func(i, j int) bool { return keep[i].Id < keep[j].Id })

	for _, a := range keep {
		result[a.MessageId] = append(result[a.MessageId], a)
	}
	return result, nil
}

func (s *Attachments) AttachmentsSizeForMessage(ctx context.Context, msg domain.MsgId) (int, int64, error) {
	return s.storage.AttachmentsSizeForMessage(ctx, msg)
}

type AttachmentPosition struct {
	Board domain.BoardId `json:"board"`
	Topic domain.TopicId `json:"topic"`
}

// GetAttachmentPosition tells where the message of an attachment lives.
func (s *Attachments) GetAttachmentPosition(ctx context.Context, user *domain.User, id domain.AttachId) (*AttachmentPosition, error) {
	a, err := s.storage.GetAttachment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.MessageId == 0 || !s.access.CanSee(user, a.BoardId) {
		return nil, internal_errors.ErrAttachmentNotFound
	}
	return &AttachmentPosition{Board: a.BoardId, Topic: a.TopicId}, nil
}

var (
	legacySpaces  = regexp.MustCompile(`\s`)
	legacyUnsafe  = regexp.MustCompile(`[^\w_.\-]`)
	legacyDotRuns = regexp.MustCompile(`\.\.+`)
)

// legacyFilename resolves files stored before names were hashed: either
// the encrypted form {id}_{name}{md5} or the cleaned upload name.
func (s *Attachments) legacyFilename(dir, name string, id domain.AttachId) string {
	clean := legacyUnsafe.ReplaceAllString(legacySpaces.ReplaceAllString(name, "_"), "")
	sum := md5.Sum([]byte(clean))
	enc := fmt.Sprintf("%d_%s%s", id, strings.ReplaceAll(clean, ".", "_"), hex.EncodeToString(sum[:]))
	clean = legacyDotRuns.ReplaceAllString(clean, ".")

	if p := filepath.Join(dir, enc); s.dirs.Exists(p) {
		return p
	}
	return filepath.Join(dir, clean)
}
