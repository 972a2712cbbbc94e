package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/elkarte/forum/backend/internal/utils/imgproc"
	"github.com/elkarte/forum/shared/domain"
	"github.com/elkarte/forum/shared/logger"
)

// SaveAvatar replaces the uploaded avatar of a member with the image at
// tmpPath, resized to fit maxW x maxH.
func (s *Attachments) SaveAvatar(ctx context.Context, tmpPath string, member domain.UserId, maxW, maxH int) (*domain.Attachment, error) {
	if member == 0 {
		return nil, errors.New("avatar needs a member")
	}

	ext, format := "jpeg", imgproc.FormatJPEG
	if s.avatars.DownloadPNG {
		ext, format = "png", imgproc.FormatPNG
	}
	destName := fmt.Sprintf("avatar_%d_%d.%s", member, time.Now().Unix(), ext)

	old, err := s.storage.GetMemberAvatars(ctx, member)
	if err != nil {
		return nil, err
	}
	if err := s.removeAttachments(ctx, old); err != nil {
		logger.Log.Warn("failed to remove old avatar", "member_id", member, "error", err)
	}
	for _, a := range old {
		s.forgetAvatar(ctx, a.Id)
	}

	a := &domain.Attachment{
		MemberId: member,
		Type:     domain.AttachmentNormal,
		Filename: destName,
		FileExt:  ext,
		Size:     1,
		FolderId: s.dirs.CurrentID(),
	}
	if s.avatars.CustomEnabled {
		a.Type = domain.AttachmentAvatar
	} else {
		a.FileHash = newFileHash(destName)
	}

	id, err := s.storage.InsertAttachment(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("failed to insert avatar: %w", err)
	}
	a.Id = id

	dest := filepath.Join(s.AvatarPath(), destName)
	if a.FileHash != "" {
		dest = AttachmentFilename(s.dirs.Current(), id, a.FileHash)
	}

	info, err := imgproc.Thumbnail(tmpPath, maxW, maxH, dest, format)
	if err != nil {
		s.dropRow(ctx, id)
		return nil, fmt.Errorf("failed to resize avatar: %w", err)
	}

	a.Size, a.Width, a.Height = info.Size, info.Width, info.Height
	a.MimeType = imgproc.ValidMimeImageType(ext)
	if err := s.storage.UpdateAttachmentFile(ctx, id, a.Size, a.Width, a.Height, a.MimeType); err != nil {
		return nil, err
	}
	s.forgetAvatar(ctx, id)
	return a, nil
}

func (s *Attachments) forgetAvatar(ctx context.Context, id domain.AttachId) {
	if err := s.cache.Delete(ctx, avatarCacheKey(id)); err != nil {
		logger.Log.Warn("avatar cache delete failed", "attach_id", id, "error", err)
	}
}

// AvatarPath is the directory uploaded avatars are written to.
func (s *Attachments) AvatarPath() string {
	if s.avatars.CustomEnabled {
		return s.avatars.CustomDir
	}
	return s.dirs.Current()
}

// AvatarPathID is the folder id recorded for uploaded avatars.
func (s *Attachments) AvatarPathID() domain.FolderId {
	if s.avatars.CustomEnabled {
		return 1
	}
	return s.dirs.CurrentID()
}

type ServerAvatar struct {
	Filename string         `json:"filename"`
	Name     string         `json:"name"`
	Checked  bool           `json:"checked"`
	IsDir    bool           `json:"is_dir"`
	Files    []ServerAvatar `json:"files,omitempty"`
}

// ServerAvatars lists the avatar gallery under the server avatar directory.
// current is the member's selected picture, relative to that directory.
func (s *Attachments) ServerAvatars(current string) []ServerAvatar {
	return ServerStoredAvatars(s.avatars.ServerDir, "", 0, current)
}

// ServerStoredAvatars lists image files and non empty sub directories of
// root/directory, sorted naturally. The top level starts with the blank entry.
func ServerStoredAvatars(root, directory string, level int, current string) []ServerAvatar {
	dir := root
	if directory != "" {
		dir = filepath.Join(root, directory)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var dirs, files []string
	for _, e := range entries {
		switch e.Name() {
		case ".", "..", "blank.png", "index.php":
			continue
		}
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		} else {
			files = append(files, e.Name())
		}
	}
	sort.SliceStable(dirs, func(i, j int) bool { return naturalLess(dirs[i], dirs[j]) })
	sort.SliceStable(files, func(i, j int) bool { return naturalLess(files[i], files[j]) })

	var result []ServerAvatar
	if level == 0 {
		result = append(result, ServerAvatar{
			Filename: "blank.png",
			Name:     "(no pic)",
			Checked:  current == "" || current == "blank.png",
		})
	}

	for _, d := range dirs {
		sub := d
		if directory != "" {
			sub = directory + "/" + d
		}
		children := ServerStoredAvatars(root, sub, level+1, current)
		if len(children) == 0 {
			continue
		}
		result = append(result, ServerAvatar{
			Filename: escapeName.Replace(d),
			Name:     "[" + escapeName.Replace(strings.ReplaceAll(d, "_", " ")) + "]",
			Checked:  strings.Contains(current, d+"/"),
			IsDir:    true,
			Files:    children,
		})
	}

	for _, f := range files {
		ext := filepath.Ext(f)
		if ext == "" || imgproc.ValidMimeImageType(ext[1:]) == "" {
			continue
		}
		result = append(result, ServerAvatar{
			Filename: escapeName.Replace(f),
			Name:     escapeName.Replace(strings.ReplaceAll(strings.TrimSuffix(f, ext), "_", " ")),
			Checked:  f == current,
		})
	}
	return result
}

// naturalLess compares case insensitively, treating digit runs as numbers,
// so "img2" sorts before "img10".
func naturalLess(a, b string) bool {
	ar, br := []rune(strings.ToLower(a)), []rune(strings.ToLower(b))
	i, j := 0, 0
	for i < len(ar) && j < len(br) {
		if unicode.IsDigit(ar[i]) && unicode.IsDigit(br[j]) {
			si := i
			for i < len(ar) && unicode.IsDigit(ar[i]) {
				i++
			}
			sj := j
			for j < len(br) && unicode.IsDigit(br[j]) {
				j++
			}
			na := strings.TrimLeft(string(ar[si:i]), "0")
			nb := strings.TrimLeft(string(br[sj:j]), "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			continue
		}
		if ar[i] != br[j] {
			return ar[i] < br[j]
		}
		i++
		j++
	}
	return len(ar)-i < len(br)-j
}
