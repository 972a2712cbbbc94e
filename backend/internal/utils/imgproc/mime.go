package imgproc

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectMime sniffs the content type of a file, "" when it cannot be read.
func DetectMime(path string) string {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	mime, _, _ := strings.Cut(m.String(), ";")
	return strings.TrimSpace(mime)
}

// not exhaustive, just the most common forum attachments
var genericIcons = []struct {
	icon string
	exts []string
}{
	{"arc", []string{"tgz", "zip", "rar", "7z", "gz"}},
	{"doc", []string{"doc", "docx", "wpd", "odt"}},
	{"sound", []string{"wav", "mp3", "pcm", "aiff", "wma", "m4a"}},
	{"video", []string{"mp4", "mgp", "mpeg", "wmv", "flv", "aiv", "mov", "swf"}},
	{"txt", []string{"rtf", "txt", "log"}},
	{"presentation", []string{"ppt", "pps", "odp"}},
	{"spreadsheet", []string{"xls", "xlr", "ods"}},
	{"web", []string{"html", "htm"}},
}

var distinctIcons = []string{"arc", "doc", "sound", "video", "txt", "presentation", "spreadsheet", "web",
	"c", "cpp", "css", "csv", "java", "js", "pdf", "php", "sql", "xml"}

// MimeThumb returns the icon file for an extension inside iconDir, falling
// back to default.png when no specific icon exists.
func MimeThumb(ext, iconDir string) string {
	ext = strings.ToLower(ext)
	for _, g := range genericIcons {
		if slices.Contains(g.exts, ext) {
			ext = g.icon
			break
		}
	}

	if !slices.Contains(distinctIcons, ext) {
		return filepath.Join(iconDir, "default.png")
	}
	icon := filepath.Join(iconDir, ext+".png")
	if _, err := os.Stat(icon); err != nil {
		return filepath.Join(iconDir, "default.png")
	}
	return icon
}
