package service

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	internal_errors "github.com/elkarte/forum/backend/internal/errors"
	"github.com/elkarte/forum/shared/domain"
	"github.com/elkarte/forum/shared/logger"
)

var unsafeTempID = regexp.MustCompile(`[^0-9a-zA-Z_]`)

// TempAttachments lists the files the user has staged.
func (s *Attachments) TempAttachments(ctx context.Context, user *domain.User) ([]*domain.TempAttachment, error) {
	return s.temp.All(ctx, user.Id)
}

// RemoveTempAttachment deletes a staged file of the user by its internal id.
func (s *Attachments) RemoveTempAttachment(ctx context.Context, user *domain.User, attachID string) error {
	tmp, err := s.temp.Get(ctx, user.Id, attachID)
	if err != nil {
		return err
	}
	if tmp == nil || !s.dirs.Exists(tmp.TmpPath) {
		return internal_errors.ErrAttachmentNotFound
	}

	if err := s.dirs.Remove(tmp.TmpPath); err != nil {
		return err
	}
	return s.temp.Delete(ctx, user.Id, attachID)
}

// GetTempAttachment resolves a public id to a staged file. Only the user
// who uploaded it may see it and only while the file still exists.
func (s *Attachments) GetTempAttachment(ctx context.Context, user *domain.User, publicID string) (*domain.TempAttachment, error) {
	temps, err := s.temp.All(ctx, user.Id)
	if err != nil {
		return nil, err
	}
	if len(temps) == 0 {
		return nil, internal_errors.ErrNoAccess
	}

	var found *domain.TempAttachment
	for _, t := range temps {
		if t.PublicId == publicID {
			found = t
			break
		}
	}
	if found == nil {
		return nil, internal_errors.ErrNoAccess
	}

	// post_tmp_{owner}_{token}
	id := unsafeTempID.ReplaceAllString(found.AttachId, "")
	if !strings.HasPrefix(id, "post_tmp_") {
		return nil, internal_errors.ErrNoAccess
	}
	owner, _, _ := strings.Cut(strings.TrimPrefix(id, "post_tmp_"), "_")
	if owner != strconv.FormatInt(user.Id, 10) {
		logger.Log.Warn("temp attachment owner mismatch", "user_id", user.Id, "attach_id", found.AttachId)
		return nil, internal_errors.ErrNoAccess
	}

	if !s.dirs.Exists(found.TmpPath) {
		return nil, internal_errors.ErrNoAccess
	}
	return found, nil
}

// AttachmentIDFromPublic maps a public id to the internal one, returning
// the input when nothing matches.
func (s *Attachments) AttachmentIDFromPublic(ctx context.Context, user *domain.User, publicID string) string {
	temps, err := s.temp.All(ctx, user.Id)
	if err != nil {
		logger.Log.Warn("failed to load temp attachments", "user_id", user.Id, "error", err)
		return publicID
	}
	for _, t := range temps {
		if t.PublicId == publicID {
			return t.AttachId
		}
	}
	return publicID
}
