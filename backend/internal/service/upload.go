package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/elkarte/forum/backend/internal/events"
	"github.com/elkarte/forum/backend/internal/utils/imgproc"
	"github.com/elkarte/forum/shared/domain"
	"github.com/elkarte/forum/shared/logger"
)

// errors that leave nothing worth keeping: the staged file and its
// record are dropped
var criticalErrors = map[string]bool{
	"attachments_no_create":   true,
	"attachments_no_write":    true,
	"attach_timeout":          true,
	"ran_out_of_space":        true,
	"cant_access_upload_path": true,
	"attach_0_byte_file":      true,
	"bad_attachment":          true,
}

type UploadResult struct {
	// IgnoreTemp is set when earlier staged files were kept because the
	// request carried no new ones.
	IgnoreTemp  bool
	Errors      *ErrorContext
	Attachments []*domain.TempAttachment
}

// postState holds the running totals the validation chain checks limits against.
type postState struct {
	quantity  int
	totalSize int64
}

// ProcessAttachments stages the files of an upload request under temporary
// names in the current attachment directory and validates each of them.
// Files that pass are kept in the temp store until the post is saved.
func (s *Attachments) ProcessAttachments(ctx context.Context, user *domain.User, post domain.PostContext, uploads []*domain.PendingUpload) (*UploadResult, error) {
	errs := NewErrorContext()
	res := &UploadResult{Errors: errs}

	initialError := ""
	if err := s.dirs.CheckDirectory(); err != nil {
		initialError = asAttachError(err, "attach_folder_warning").Code
		if initialError == "attach_folder_warning" {
			logger.Log.Error("attachment directory is missing", "category", "critical", "dir", s.dirs.Current())
		}
	}

	state := &postState{}
	if initialError == "" && post.Msg != 0 {
		count, size, err := s.storage.AttachmentsSizeForMessage(ctx, post.Msg)
		if err != nil {
			return nil, fmt.Errorf("failed to count message attachments: %w", err)
		}
		state.quantity, state.totalSize = count, size
	}

	existing, err := s.temp.All(ctx, user.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to load temp attachments: %w", err)
	}
	if len(existing) > 0 {
		res.IgnoreTemp = !hasNewFiles(uploads)
		if !res.IgnoreTemp {
			stored, err := s.temp.PostContext(ctx, user.Id)
			if err != nil {
				return nil, err
			}
			if stored == nil || !stored.SamePost(post) {
				s.flushTemp(ctx, user.Id, existing)
				errs.Activate()
				errs.AddError(domain.NewAttachError("temp_attachments_flushed"))
				existing = nil
			}
		}
	}

	if !res.IgnoreTemp {
		for _, t := range existing {
			if !t.HasErrors() {
				state.quantity++
				state.totalSize += t.Size
			}
		}
		if initialError == "" {
			if err := s.temp.SetPostContext(ctx, user.Id, post); err != nil {
				return nil, err
			}
		}
	}

	if initialError != "" {
		post.InitialError = initialError
		if err := s.temp.SetPostContext(ctx, user.Id, post); err != nil {
			return nil, err
		}
		errs.Activate()
		errs.AddError(domain.NewAttachError("attach_no_upload"))
		s.triggerUpload(ctx, user, &post, res)
		return res, nil
	}

	stored := 0
	for _, up := range uploads {
		if up.Name == "" {
			continue
		}

		tmp := s.stageUpload(user, up)
		if !tmp.HasErrors() {
			s.CheckAttachment(tmp, state)
		}

		if s.cfg.Autorotate && !tmp.HasErrors() && strings.HasPrefix(tmp.Type, "image") {
			s.autoRotate(tmp)
		}

		critical := false
		if tmp.HasErrors() {
			errs.Activate()
			errs.AddAttach(tmp.AttachId, tmp.Name)
			for _, e := range tmp.Errors {
				errs.AddAttachError(tmp.AttachId, e)
				if criticalErrors[e.Code] {
					logger.Log.Error("attachment upload failed", "category", "critical", "name", tmp.Name, "error", e.Code)
					critical = true
				}
			}
		}
		if critical {
			if err := s.dirs.Remove(tmp.TmpPath); err != nil {
				logger.Log.Warn("failed to remove rejected upload", "path", tmp.TmpPath, "error", err)
			}
			continue
		}

		if err := s.temp.Put(ctx, user.Id, tmp); err != nil {
			s.dirs.Remove(tmp.TmpPath)
			return nil, fmt.Errorf("failed to store temp attachment: %w", err)
		}
		stored++
		if !tmp.HasErrors() {
			res.Attachments = append(res.Attachments, tmp)
		}
	}

	// the store extended every record of the user, the files follow
	if stored > 0 && !res.IgnoreTemp {
		for _, t := range existing {
			if err := s.dirs.Touch(t.TmpPath); err != nil {
				logger.Log.Warn("failed to refresh staged file", "path", t.TmpPath, "error", err)
			}
		}
	}

	s.triggerUpload(ctx, user, &post, res)
	return res, nil
}

func (s *Attachments) triggerUpload(ctx context.Context, user *domain.User, post *domain.PostContext, res *UploadResult) {
	s.hooks.Trigger(ctx, events.AttachmentUpload, events.Args{
		"user":             user,
		"post":             post,
		"temp_attachments": res.Attachments,
		"errors":           res.Errors,
	})
}

func hasNewFiles(uploads []*domain.PendingUpload) bool {
	for _, up := range uploads {
		if up.Name != "" && up.Error != domain.UploadErrNoFile {
			return true
		}
	}
	return false
}

// stageUpload moves one upload to the current directory as post_tmp_{user}_{token}.
func (s *Attachments) stageUpload(user *domain.User, up *domain.PendingUpload) *domain.TempAttachment {
	id := tempAttachID(user.Id)
	tmp := &domain.TempAttachment{
		AttachId:  id,
		PublicId:  tempAttachID(user.Id),
		Name:      baseName(up.Name),
		TmpPath:   filepath.Join(s.dirs.Current(), id),
		Size:      up.Size,
		Type:      up.Type,
		FolderId:  s.dirs.CurrentID(),
		CreatedAt: time.Now(),
	}

	if errs := s.uploadErrors(up); len(errs) > 0 {
		tmp.Errors = errs
		return tmp
	}

	if up.Data == nil {
		tmp.Errors = append(tmp.Errors, domain.NewAttachError("attach_timeout"))
		return tmp
	}
	n, err := s.dirs.SaveStaged(up.Data, tmp.TmpPath)
	if err != nil {
		logger.Log.Warn("failed to stage upload", "name", tmp.Name, "error", err)
		tmp.Errors = append(tmp.Errors, domain.NewAttachError("attach_timeout"))
		return tmp
	}
	tmp.Size = n
	return tmp
}

// uploadErrors turns the parser status of a file into user errors. Server
// side problems are logged and reported with a generic message.
func (s *Attachments) uploadErrors(up *domain.PendingUpload) []domain.AttachError {
	if up.Error == domain.UploadOK {
		return nil
	}

	var errs []domain.AttachError
	switch up.Error {
	case domain.UploadErrIniSize, domain.UploadErrFormSize:
		errs = append(errs, domain.NewAttachError("file_too_big", strconv.FormatInt(s.cfg.SizeLimitKB, 10)))
	case domain.UploadErrNoTmpDir:
		logger.Log.Error("upload failed: missing temporary folder", "category", "critical", "name", up.Name)
	default:
		logger.Log.Warn("upload failed", "name", up.Name, "code", int(up.Error))
	}

	if len(errs) == 0 {
		errs = append(errs, domain.NewAttachError("attach_php_error"))
	}
	return errs
}

func (s *Attachments) autoRotate(tmp *domain.TempAttachment) {
	rotated, err := imgproc.AutoRotate(tmp.TmpPath)
	if err != nil {
		logger.Log.Debug("autorotate skipped", "name", tmp.Name, "error", err)
		return
	}
	if !rotated {
		return
	}
	if info, err := imgproc.Size(tmp.TmpPath); err == nil {
		tmp.Size = info.Size
	}
}

// flushTemp deletes every staged file of the user and forgets them.
func (s *Attachments) flushTemp(ctx context.Context, user domain.UserId, temps []*domain.TempAttachment) {
	prefix := fmt.Sprintf("post_tmp_%d_", user)
	for _, t := range temps {
		if !strings.HasPrefix(t.AttachId, prefix) {
			continue
		}
		if err := s.dirs.Remove(t.TmpPath); err != nil {
			logger.Log.Warn("failed to remove temp attachment", "path", t.TmpPath, "error", err)
		}
	}
	if err := s.temp.Flush(ctx, user); err != nil {
		logger.Log.Warn("failed to flush temp attachments", "user_id", user, "error", err)
	}
}

func baseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func asAttachError(err error, fallback string) domain.AttachError {
	var ae domain.AttachError
	if errors.As(err, &ae) {
		return ae
	}
	return domain.NewAttachError(fallback)
}
