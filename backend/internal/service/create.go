package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	internal_errors "github.com/elkarte/forum/backend/internal/errors"
	"github.com/elkarte/forum/backend/internal/events"
	"github.com/elkarte/forum/backend/internal/utils/imgproc"
	"github.com/elkarte/forum/shared/domain"
	"github.com/elkarte/forum/shared/logger"
)

type CreateOptions struct {
	Post     domain.MsgId
	Name     string
	TmpPath  string
	Size     int64
	MimeType string
	FolderId domain.FolderId
	Approved bool
	FileHash string
	FileExt  string
}

// CreateAttachment stores a staged file permanently: the row is inserted
// (queued for approval when unapproved), the file renamed to
// {id}_{hash}.elk, and a thumbnail is made for images larger than the
// thumbnail size.
func (s *Attachments) CreateAttachment(ctx context.Context, opts CreateOptions) (*domain.Attachment, error) {
	a := &domain.Attachment{
		FolderId:  opts.FolderId,
		MessageId: opts.Post,
		Filename:  opts.Name,
		FileHash:  opts.FileHash,
		FileExt:   opts.FileExt,
		Size:      opts.Size,
		MimeType:  opts.MimeType,
		Approved:  opts.Approved,
		Type:      domain.AttachmentNormal,
	}

	info, err := imgproc.Size(opts.TmpPath)
	isImage := err == nil && info.Mime() != ""
	if isImage {
		a.Width, a.Height = info.Width, info.Height
		a.MimeType = info.Mime()
	} else if sniffed := imgproc.DetectMime(opts.TmpPath); sniffed != "" {
		// the browser's claim is only kept when the content says nothing
		a.MimeType = sniffed
	}
	if a.FileHash == "" {
		a.FileHash = newFileHash(a.Filename)
	}
	if a.FileExt == "" {
		a.FileExt = fileExt(a.Filename)
	}

	id, err := s.storage.InsertAttachment(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("failed to insert attachment: %w", err)
	}
	a.Id = id

	dir, err := s.dirs.Path(a.FolderId)
	if err != nil {
		s.dropRow(ctx, id)
		return nil, err
	}
	dest := AttachmentFilename(dir, a.Id, a.FileHash)
	if err := s.dirs.Rename(opts.TmpPath, dest); err != nil {
		s.dropRow(ctx, id)
		return nil, err
	}

	if s.wantsThumbnail(isImage, a.Width, a.Height) {
		thumb, err := s.createThumbnail(ctx, a, dest)
		if err != nil {
			logger.Log.Warn("thumbnail creation failed", "attach_id", a.Id, "error", err)
		} else {
			a.ThumbId = thumb.Id
			a.Thumb = thumb
		}
	}

	s.hooks.Trigger(ctx, events.AttachmentCreated, events.Args{"attachment": a})
	return a, nil
}

func (s *Attachments) wantsThumbnail(isImage bool, width, height int) bool {
	if !s.cfg.Thumbnails || !isImage || (width == 0 && height == 0) {
		return false
	}
	if s.cfg.ThumbWidth == 0 || s.cfg.ThumbHeight == 0 {
		return false
	}
	return width > s.cfg.ThumbWidth || height > s.cfg.ThumbHeight
}

func (s *Attachments) createThumbnail(ctx context.Context, a *domain.Attachment, src string) (*domain.Attachment, error) {
	thumbPath := src + "_thumb"
	info, err := imgproc.Thumbnail(src, s.cfg.ThumbWidth, s.cfg.ThumbHeight, thumbPath, imgproc.FormatUnknown)
	if err != nil {
		return nil, err
	}

	thumb := &domain.Attachment{
		FolderId:  s.dirs.CurrentID(),
		MessageId: a.MessageId,
		Type:      domain.AttachmentThumbnail,
		Filename:  a.Filename + "_thumb",
		FileExt:   a.FileExt,
		Size:      info.Size,
		Width:     info.Width,
		Height:    info.Height,
		MimeType:  info.Mime(),
		Approved:  a.Approved,
	}
	thumb.FileHash = newFileHash(thumb.Filename)

	// thumbnails count against the directory limits too
	if err := s.dirs.CheckDirSize(thumbPath, thumb.Size); err != nil {
		logger.Log.Warn("thumbnail exceeds directory limits", "attach_id", a.Id, "error", err)
	}
	thumb.FolderId = s.dirs.CurrentID()
	if !s.dirs.IsCurrentID(a.FolderId) {
		moved := filepath.Join(s.dirs.Current(), thumb.Filename)
		if err := s.dirs.Rename(thumbPath, moved); err != nil {
			s.dirs.Remove(thumbPath)
			return nil, err
		}
		thumbPath = moved
	}

	return s.storeThumbnail(ctx, a.Id, thumb, thumbPath)
}

// storeThumbnail inserts the thumbnail row, links it to its parent and
// renames the file to its final name.
func (s *Attachments) storeThumbnail(ctx context.Context, parent domain.AttachId, thumb *domain.Attachment, path string) (*domain.Attachment, error) {
	id, err := s.storage.InsertAttachment(ctx, thumb)
	if err != nil {
		s.dirs.Remove(path)
		return nil, fmt.Errorf("failed to insert thumbnail: %w", err)
	}
	thumb.Id = id

	if err := s.storage.SetThumbnail(ctx, parent, id); err != nil {
		s.dirs.Remove(path)
		s.dropRow(ctx, id)
		return nil, fmt.Errorf("failed to link thumbnail: %w", err)
	}

	dir, err := s.dirs.Path(thumb.FolderId)
	if err != nil {
		return nil, err
	}
	if err := s.dirs.Rename(path, AttachmentFilename(dir, id, thumb.FileHash)); err != nil {
		return nil, err
	}
	return thumb, nil
}

// PromoteTempAttachments turns every error free staged file of the user
// into an attachment of msg and clears the temp store. Only the author of
// msg or an admin may attach, and the files must have been uploaded for
// the post msg belongs to.
func (s *Attachments) PromoteTempAttachments(ctx context.Context, user *domain.User, msg domain.MsgId) ([]*domain.Attachment, error) {
	if user.Guest() {
		return nil, internal_errors.ErrNoAccess
	}
	m, err := s.storage.GetMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !s.access.CanSee(user, m.Board) {
		return nil, internal_errors.ErrMessageNotFound
	}
	if m.Poster != user.Id && !user.Admin {
		return nil, internal_errors.ErrNoAccess
	}

	temps, err := s.temp.All(ctx, user.Id)
	if err != nil {
		return nil, err
	}
	if len(temps) == 0 {
		return nil, nil
	}
	post, err := s.temp.PostContext(ctx, user.Id)
	if err != nil {
		return nil, err
	}
	if post != nil && !postMatches(*post, m) {
		return nil, internal_errors.ErrPostMismatch
	}

	approved := !s.cfg.RequireApproval || user.Admin
	var created []*domain.Attachment
	for _, t := range temps {
		if t.HasErrors() {
			s.dirs.Remove(t.TmpPath)
			continue
		}
		a, err := s.CreateAttachment(ctx, CreateOptions{
			Post:     msg,
			Name:     t.Name,
			TmpPath:  t.TmpPath,
			Size:     t.Size,
			MimeType: t.Type,
			FolderId: t.FolderId,
			Approved: approved,
		})
		if err != nil {
			logger.Log.Error("failed to create attachment", "name", t.Name, "msg_id", msg, "error", err)
			s.dirs.Remove(t.TmpPath)
			continue
		}
		created = append(created, a)
	}

	if err := s.temp.Flush(ctx, user.Id); err != nil {
		return created, err
	}
	return created, nil
}

// postMatches reports whether files uploaded for post may go to m. Zero
// fields are unknown at upload time, like the topic of a new topic.
func postMatches(post domain.PostContext, m *domain.MessageRef) bool {
	if post.Board != 0 && post.Board != m.Board {
		return false
	}
	if post.Topic != 0 && post.Topic != m.Topic {
		return false
	}
	return post.Msg == 0 || post.Msg == m.Id
}

func (s *Attachments) BindMessageAttachments(ctx context.Context, msg domain.MsgId, ids []domain.AttachId) error {
	if len(ids) == 0 {
		return nil
	}
	return s.storage.BindMessageAttachments(ctx, msg, ids)
}

// UpdateAttachmentThumbnail builds a fresh thumbnail for a stored image
// found at path and replaces the old one.
func (s *Attachments) UpdateAttachmentThumbnail(ctx context.Context, a *domain.Attachment, path string) (*domain.Attachment, error) {
	thumbPath := path + "_thumb"
	info, err := imgproc.Thumbnail(path, s.cfg.ThumbWidth, s.cfg.ThumbHeight, thumbPath, imgproc.FormatUnknown)
	if err != nil {
		return nil, err
	}

	mime := info.Mime()
	_, ext, _ := strings.Cut(mime, "/")
	thumb := &domain.Attachment{
		FolderId:  s.dirs.CurrentID(),
		MessageId: a.MessageId,
		Type:      domain.AttachmentThumbnail,
		Filename:  a.Filename + "_thumb",
		FileExt:   ext,
		Size:      info.Size,
		Width:     info.Width,
		Height:    info.Height,
		MimeType:  mime,
		Approved:  a.Approved,
	}
	thumb.FileHash = newFileHash(thumb.Filename)

	// the new file sits next to its source until it gets its final name
	if !s.dirs.IsCurrentID(a.FolderId) {
		moved := filepath.Join(s.dirs.Current(), filepath.Base(thumbPath))
		if err := s.dirs.Rename(thumbPath, moved); err != nil {
			s.dirs.Remove(thumbPath)
			return nil, err
		}
		thumbPath = moved
	}

	old := a.Thumb
	created, err := s.storeThumbnail(ctx, a.Id, thumb, thumbPath)
	if err != nil {
		return nil, err
	}
	if old != nil && old.Id != 0 {
		if err := s.removeAttachments(ctx, []*domain.Attachment{old}); err != nil {
			logger.Log.Warn("failed to remove old thumbnail", "attach_id", old.Id, "error", err)
		}
	}
	a.ThumbId = created.Id
	a.Thumb = created
	return created, nil
}

// removeAttachments deletes the files of the given rows, their thumbnails
// included, then the rows.
func (s *Attachments) removeAttachments(ctx context.Context, atts []*domain.Attachment) error {
	var ids []domain.AttachId
	var errs []error
	for _, a := range atts {
		for _, row := range []*domain.Attachment{a, a.Thumb} {
			if row == nil || row.Id == 0 {
				continue
			}
			ids = append(ids, row.Id)
			path, err := s.attachmentPath(row)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := s.dirs.Remove(path); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(ids) > 0 {
		if err := s.storage.DeleteAttachments(ctx, ids); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Attachments) dropRow(ctx context.Context, id domain.AttachId) {
	if err := s.storage.DeleteAttachments(ctx, []domain.AttachId{id}); err != nil {
		logger.Log.Error("failed to delete attachment row", "attach_id", id, "error", err)
	}
}
