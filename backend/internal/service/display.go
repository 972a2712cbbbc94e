package service

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/elkarte/forum/backend/internal/utils/imgproc"
	"github.com/elkarte/forum/shared/domain"
	"github.com/elkarte/forum/shared/logger"
)

type ThumbnailView struct {
	Id       domain.AttachId `json:"id,omitempty"`
	Href     string          `json:"href,omitempty"`
	HasThumb bool            `json:"has_thumb"`
	// Popup is set when the full image is too large to expand inline.
	Popup bool `json:"popup,omitempty"`
}

// AttachmentView is what a message display needs to show one attachment.
type AttachmentView struct {
	Id         domain.AttachId `json:"id"`
	Name       string          `json:"name"`
	Downloads  int             `json:"downloads"`
	Size       string          `json:"size"`
	ByteSize   int64           `json:"byte_size"`
	Href       string          `json:"href"`
	IsImage    bool            `json:"is_image"`
	IsApproved bool            `json:"is_approved"`
	FileHash   string          `json:"file_hash"`
	RealWidth  int             `json:"real_width,omitempty"`
	RealHeight int             `json:"real_height,omitempty"`
	Width      int             `json:"width,omitempty"`
	Height     int             `json:"height,omitempty"`
	Thumbnail  *ThumbnailView  `json:"thumbnail,omitempty"`
	// Icon names the file type icon shown in place of a preview.
	Icon string `json:"icon,omitempty"`
}

// htmlspecialchars with double quotes, single quotes left alone
var escapeName = strings.NewReplacer("&", "&amp;", `"`, "&quot;", "<", "&lt;", ">", "&gt;")

// keeps numeric entities the poster typed readable after escaping
var doubleEscapedEntity = regexp.MustCompile(`&amp;#(\d{1,7}|x[0-9a-fA-F]{1,6});`)

func attachmentHref(topic domain.TopicId, id domain.AttachId) string {
	return fmt.Sprintf("/v1/topics/%d/attachments/%d", topic, id)
}

// LoadAttachmentContext prepares the attachments of a message for display.
// Missing or badly sized thumbnails are rebuilt on the way; unapproved
// attachments are listed last.
func (s *Attachments) LoadAttachmentContext(ctx context.Context, msg domain.MsgId, attachments []*domain.Attachment, topic domain.TopicId) []AttachmentView {
	if !s.cfg.Enable || len(attachments) == 0 {
		return []AttachmentView{}
	}

	views := make([]AttachmentView, 0, len(attachments))
	haveUnapproved := false
	for _, a := range attachments {
		v := AttachmentView{
			Id:         a.Id,
			Name:       doubleEscapedEntity.ReplaceAllString(escapeName.Replace(a.Filename), "&#$1;"),
			Downloads:  a.Downloads,
			Size:       humanize.IBytes(uint64(a.Size)),
			ByteSize:   a.Size,
			Href:       attachmentHref(topic, a.Id),
			IsImage:    a.Width > 0 && a.Height > 0 && s.cfg.ShowImages,
			IsApproved: a.Approved,
			FileHash:   a.FileHash,
		}
		if !a.Approved {
			haveUnapproved = true
		}
		if !v.IsImage {
			if s.cfg.MimeIconDir != "" {
				v.Icon = filepath.Base(imgproc.MimeThumb(a.FileExt, s.cfg.MimeIconDir))
			}
			views = append(views, v)
			continue
		}

		v.RealWidth, v.Width = a.Width, a.Width
		v.RealHeight, v.Height = a.Height, a.Height

		if s.wantsThumbnail(true, a.Width, a.Height) && len(a.Filename) < 249 {
			if s.thumbnailOutdated(a.Thumb) {
				s.refreshThumbnail(ctx, a)
			}
			if a.Thumb != nil && a.Thumb.Width > 0 && a.Thumb.Height > 0 {
				v.Width, v.Height = a.Thumb.Width, a.Thumb.Height
			}
		}

		v.Thumbnail = &ThumbnailView{}
		if a.Thumb != nil && a.Thumb.Id != 0 {
			v.Thumbnail.Id = a.Thumb.Id
			v.Thumbnail.Href = attachmentHref(topic, a.Id) + "/thumb"
			v.Thumbnail.HasThumb = true
		}

		maxW, maxH := s.cfg.MaxImageWidth, s.cfg.MaxImageHeight
		tooLarge := (maxW > 0 && a.Width > maxW) || (maxH > 0 && a.Height > maxH)
		switch {
		case !v.Thumbnail.HasThumb && tooLarge:
			if maxW > 0 && (maxH == 0 || a.Height*maxW/a.Width <= maxH) {
				v.Width = maxW
				v.Height = a.Height * maxW / a.Width
			} else if maxW > 0 {
				v.Width = a.Width * maxH / a.Height
				v.Height = maxH
			}
		case v.Thumbnail.HasThumb:
			v.Thumbnail.Popup = tooLarge
		}

		// an image shown inline is a download
		if !v.Thumbnail.HasThumb {
			v.Downloads++
		}
		views = append(views, v)
	}

	if haveUnapproved {
		sort.SliceStable(views, func(i, j int) bool {
			return ApprovedAttachSort(views[i], views[j]) < 0
		})
	}
	return views
}

// ApprovedAttachSort orders approved attachments before unapproved ones.
func ApprovedAttachSort(a, b AttachmentView) int {
	if a.IsApproved == b.IsApproved {
		return 0
	}
	if a.IsApproved {
		return -1
	}
	return 1
}

func (s *Attachments) thumbnailOutdated(thumb *domain.Attachment) bool {
	if thumb == nil || thumb.Id == 0 {
		return true
	}
	tw, th := s.cfg.ThumbWidth, s.cfg.ThumbHeight
	return thumb.Width > tw || thumb.Height > th || (thumb.Width < tw && thumb.Height < th)
}

func (s *Attachments) refreshThumbnail(ctx context.Context, a *domain.Attachment) {
	path, err := s.attachmentPath(a)
	if err != nil {
		logger.Log.Warn("cannot locate attachment for thumbnail", "attach_id", a.Id, "error", err)
		return
	}
	if _, err := s.UpdateAttachmentThumbnail(ctx, a, path); err != nil {
		logger.Log.Warn("thumbnail refresh failed", "attach_id", a.Id, "error", err)
	}
}
