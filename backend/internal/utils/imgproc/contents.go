package imgproc

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/disintegration/imaging"
)

// markup or script payloads hidden inside otherwise valid image data
var suspiciousContent = regexp.MustCompile(`(?i)(iframe|<\?|<%|html|eval|body|script\W|<(head|title|meta|applet|object|embed)\b|(?-i:[CFZ]WS[\x01-\x0E]))`)

const scanChunk = 8192

// CheckContents scans an image file for embedded markup. Chunks are scanned
// together with the previous one so a payload split across a boundary is
// still found. Returns false when the file looks unsafe.
func CheckContents(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	prev := make([]byte, 0, scanChunk)
	cur := make([]byte, scanChunk)
	for {
		n, err := f.Read(cur)
		if n > 0 {
			window := append(append([]byte{}, prev...), cur[:n]...)
			if suspiciousContent.Match(window) {
				return false, nil
			}
			prev = append(prev[:0], cur[:n]...)
		}
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
}

// Reencode decodes the image and writes it back in the same format, which
// drops anything that is not pixel data. Returns the new file size.
func Reencode(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	img, name, err := image.Decode(f)
	f.Close()
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}

	format, err := imaging.FormatFromExtension(name)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		return 0, fmt.Errorf("encode %s: %w", path, err)
	}
	if err := replaceFile(path, buf.Bytes()); err != nil {
		return 0, err
	}
	return int64(buf.Len()), nil
}

// replaceFile swaps the content of path through a sibling temp file.
func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".reencode-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
