// Package fs manages the numbered attachment directories on local disk.
package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/elkarte/forum/shared/config"
	"github.com/elkarte/forum/shared/domain"
	"github.com/elkarte/forum/shared/logger"
)

const TempPrefix = "post_tmp_"

var managedDirName = regexp.MustCompile(`^attachments_(\d+)$`)

// Storage keeps track of every attachment directory and which one new
// files go to. With automanage on, a fresh directory is opened under the
// base directory once the current one reaches its size or file limit.
type Storage struct {
	mu      sync.Mutex
	dirs    map[domain.FolderId]string
	current domain.FolderId
	auto    config.Automanage
}

func New(cfg config.Attachments) (*Storage, error) {
	s := &Storage{
		dirs:    make(map[domain.FolderId]string, len(cfg.Directories)),
		current: cfg.CurrentDirectory,
		auto:    cfg.Automanage,
	}
	for _, d := range cfg.Directories {
		s.dirs[d.Id] = filepath.Clean(d.Path)
	}
	if _, ok := s.dirs[s.current]; !ok {
		return nil, fmt.Errorf("current attachment directory %d is not configured", s.current)
	}

	if s.auto.Enabled && s.auto.BaseDirectory != "" {
		if err := s.discoverManaged(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// discoverManaged registers directories opened by earlier runs and makes
// the newest one current.
func (s *Storage) discoverManaged() error {
	base := filepath.Clean(s.auto.BaseDirectory)
	if err := os.MkdirAll(base, 0755); err != nil {
		return fmt.Errorf("failed to create base attachment directory %s: %w", base, err)
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		return err
	}
	for _, e := range entries {
		m := managedDirName.FindStringSubmatch(e.Name())
		if !e.IsDir() || m == nil {
			continue
		}
		id, _ := strconv.Atoi(m[1])
		if _, taken := s.dirs[id]; taken {
			continue
		}
		s.dirs[id] = filepath.Join(base, e.Name())
		if id > s.current {
			s.current = id
		}
	}
	return nil
}

func (s *Storage) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[s.current]
}

func (s *Storage) CurrentID() domain.FolderId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Storage) IsCurrentID(id domain.FolderId) bool {
	return s.CurrentID() == id
}

// Path returns the directory registered under id.
func (s *Storage) Path(id domain.FolderId) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.dirs[id]
	if !ok {
		return "", fmt.Errorf("attachment directory %d: %w", id, os.ErrNotExist)
	}
	return p, nil
}

// CheckDirectory verifies the current directory exists and is writable.
// Automanage creates it when missing.
func (s *Storage) CheckDirectory() error {
	dir := s.Current()
	st, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if !s.auto.Enabled {
			return domain.NewAttachError("attach_folder_warning")
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Log.Error("creating attachment directory", "dir", dir, "error", err)
			return domain.NewAttachError("attachments_no_create")
		}
		return nil
	case err != nil:
		return domain.NewAttachError("cant_access_upload_path")
	case !st.IsDir():
		return domain.NewAttachError("attach_folder_warning")
	}

	check, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return domain.NewAttachError("attachments_no_write")
	}
	check.Close()
	os.Remove(check.Name())
	return nil
}

// CheckDirSpace checks that the file at path, size bytes, fits the limits
// of the current directory. The directory is counted from disk on every
// call, leaving out path itself, so removed files free their room at once.
// Returns ran_out_of_space when a limit is hit and no new directory can be
// opened.
func (s *Storage) CheckDirSpace(path string, size int64) error {
	if s.auto.DirSizeLimitKB == 0 && s.auto.DirFileLimit == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	usage, err := countDir(s.dirs[s.current], path)
	if err != nil {
		return domain.NewAttachError("cant_access_upload_path")
	}
	usage.size += size
	usage.files++
	if !s.overLimit(usage) {
		return nil
	}

	if s.auto.Enabled && s.auto.BaseDirectory != "" {
		err := s.openNextLocked()
		if err == nil {
			return nil
		}
		logger.Log.Error("opening new attachment directory", "error", err)
	}
	return domain.NewAttachError("ran_out_of_space")
}

// CheckDirSize is CheckDirSpace for files created after upload, like thumbnails.
func (s *Storage) CheckDirSize(path string, size int64) error {
	return s.CheckDirSpace(path, size)
}

type dirUsage struct {
	size  int64
	files int
}

func (s *Storage) overLimit(u dirUsage) bool {
	if s.auto.DirSizeLimitKB > 0 && u.size > s.auto.DirSizeLimitKB*1024 {
		return true
	}
	return s.auto.DirFileLimit > 0 && u.files > s.auto.DirFileLimit
}

// countDir sums the regular files of dir except skip.
func countDir(dir, skip string) (dirUsage, error) {
	var u dirUsage
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return u, nil
		}
		return u, err
	}
	skip = filepath.Clean(skip)
	for _, e := range entries {
		if !e.Type().IsRegular() || filepath.Join(dir, e.Name()) == skip {
			continue
		}
		if info, err := e.Info(); err == nil {
			u.size += info.Size()
			u.files++
		}
	}
	return u, nil
}

func (s *Storage) openNextLocked() error {
	next := 0
	for id := range s.dirs {
		if id > next {
			next = id
		}
	}
	next++

	dir := filepath.Join(filepath.Clean(s.auto.BaseDirectory), fmt.Sprintf("attachments_%d", next))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	s.dirs[next] = dir
	s.current = next
	logger.Log.Info("opened new attachment directory", "id", next, "dir", dir)
	return nil
}

// SaveStaged writes an uploaded file to dest with mode 0644 and returns the
// number of bytes written.
func (s *Storage) SaveStaged(data io.Reader, dest string) (int64, error) {
	dst, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file: %w", err)
	}

	n, err := io.Copy(dst, data)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("failed to copy file data: %w", err)
	}
	// umask may have narrowed the mode
	if err := os.Chmod(dest, 0644); err != nil {
		return n, err
	}
	return n, nil
}

func (s *Storage) Rename(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move %s: %w", filepath.Base(src), err)
	}
	return nil
}

// Remove deletes a file, a missing file is not an error.
func (s *Storage) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (s *Storage) Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("attachment not found: %w", err)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

func (s *Storage) Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// WalkTemp lists staged upload files in every directory.
func (s *Storage) WalkTemp() ([]string, error) {
	s.mu.Lock()
	dirs := make([]string, 0, len(s.dirs))
	for _, d := range s.dirs {
		dirs = append(dirs, d)
	}
	s.mu.Unlock()
	sort.Strings(dirs)

	var files []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if e.Type().IsRegular() && strings.HasPrefix(e.Name(), TempPrefix) {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
	}
	return files, nil
}

func (s *Storage) GetFileModTime(path string) (time.Time, error) {
	st, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return st.ModTime(), nil
}

// Touch moves a staged file's mtime to now so the temp collector treats
// it as fresh for another full TTL.
func (s *Storage) Touch(path string) error {
	now := time.Now()
	return os.Chtimes(path, now, now)
}

func (s *Storage) DeleteFile(path string) error {
	return s.Remove(path)
}

func (s *Storage) FileSize(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}
