package service

import (
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/elkarte/forum/backend/internal/utils/imgproc"
	"github.com/elkarte/forum/shared/domain"
	"github.com/elkarte/forum/shared/logger"
)

// defaultNumPerPost applies when no per post limit is configured.
const defaultNumPerPost = 50

// CheckAttachment runs the validation chain on a staged file and appends
// any errors to it. The post totals are rolled back when the file fails.
func (s *Attachments) CheckAttachment(tmp *domain.TempAttachment, state *postState) bool {
	if tmp.Size == 0 {
		tmp.Errors = append(tmp.Errors, domain.NewAttachError("attach_0_byte_file"))
		return false
	}

	// images must not smuggle markup, a re-encode is the only way out
	if info, err := imgproc.Size(tmp.TmpPath); err == nil && info.Mime() != "" {
		clean, err := imgproc.CheckContents(tmp.TmpPath)
		if err != nil || !clean {
			if !s.cfg.ImageReencode {
				tmp.Errors = append(tmp.Errors, domain.NewAttachError("bad_attachment"))
				return false
			}
			size, err := imgproc.Reencode(tmp.TmpPath)
			if err != nil {
				logger.Log.Warn("re-encode failed", "name", tmp.Name, "error", err)
				tmp.Errors = append(tmp.Errors, domain.NewAttachError("bad_attachment"))
				return false
			}
			tmp.Size = size
		}
	}

	if err := s.dirs.CheckDirSpace(tmp.TmpPath, tmp.Size); err != nil {
		tmp.Errors = append(tmp.Errors, asAttachError(err, "ran_out_of_space"))
	} else {
		s.followCurrentDir(tmp)
	}

	if s.cfg.SizeLimitKB > 0 && tmp.Size > s.cfg.SizeLimitKB*1024 {
		tmp.Errors = append(tmp.Errors, domain.NewAttachError("file_too_big", humanize.Comma(s.cfg.SizeLimitKB)))
	}

	state.totalSize += tmp.Size
	if s.cfg.PostLimitKB > 0 && state.totalSize > s.cfg.PostLimitKB*1024 {
		remaining := float64(s.cfg.PostLimitKB) - float64(state.totalSize-tmp.Size)/1024
		tmp.Errors = append(tmp.Errors, domain.NewAttachError("attach_max_total_file_size",
			humanize.Comma(s.cfg.PostLimitKB),
			humanize.Comma(int64(math.Round(remaining))),
		))
	}

	state.quantity++
	limit := s.cfg.NumPerPostLimit
	if limit == 0 && state.quantity >= defaultNumPerPost {
		limit = defaultNumPerPost
	}
	if limit > 0 && state.quantity > limit {
		tmp.Errors = append(tmp.Errors, domain.NewAttachError("attachments_limit_per_post", strconv.Itoa(limit)))
	}

	if s.cfg.CheckExtensions {
		if !slices.Contains(s.allowedExtensions(), extensionOf(tmp.Name)) {
			allowed := strings.ReplaceAll(strings.ToLower(s.cfg.Extensions), ",", ", ")
			tmp.Errors = append(tmp.Errors, domain.NewAttachError("cant_upload_type", allowed))
		}
	}

	if tmp.HasErrors() {
		state.totalSize -= tmp.Size
		state.quantity--
		return false
	}
	return true
}

func (s *Attachments) allowedExtensions() []string {
	parts := strings.Split(strings.ToLower(s.cfg.Extensions), ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// extensionOf returns the lowercased text after the last dot, "" without one.
func extensionOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// followCurrentDir moves a staged file when reserving its space opened a
// new attachment directory.
func (s *Attachments) followCurrentDir(tmp *domain.TempAttachment) {
	if s.dirs.IsCurrentID(tmp.FolderId) {
		return
	}
	dest := filepath.Join(s.dirs.Current(), tmp.AttachId)
	if err := s.dirs.Rename(tmp.TmpPath, dest); err != nil {
		logger.Log.Warn("failed to move staged file to new directory", "name", tmp.Name, "error", err)
		return
	}
	tmp.TmpPath = dest
	tmp.FolderId = s.dirs.CurrentID()
}
