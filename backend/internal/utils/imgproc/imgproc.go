// Package imgproc inspects, sanitizes and resizes uploaded images.
package imgproc

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Format follows the numbering of the IMAGETYPE constants so values stored
// by older installs keep their meaning.
type Format int

const (
	FormatUnknown Format = 0
	FormatGIF     Format = 1
	FormatJPEG    Format = 2
	FormatPNG     Format = 3
	FormatPSD     Format = 5
	FormatBMP     Format = 6
	FormatTIFFII  Format = 7
	FormatTIFFMM  Format = 8
	FormatJPC     Format = 9
	FormatIFF     Format = 14
	FormatWBMP    Format = 15
	FormatWEBP    Format = 18
)

var decoderFormats = map[string]Format{
	"gif":  FormatGIF,
	"jpeg": FormatJPEG,
	"png":  FormatPNG,
	"bmp":  FormatBMP,
	"tiff": FormatTIFFII,
	"webp": FormatWEBP,
}

var validImageTypes = map[Format]string{
	-1:           "jpg",
	FormatGIF:    "gif",
	FormatJPEG:   "jpeg",
	FormatPNG:    "png",
	FormatPSD:    "psd",
	FormatBMP:    "bmp",
	FormatTIFFII: "tiff",
	FormatTIFFMM: "tiff",
	FormatJPC:    "jpeg",
	FormatIFF:    "iff",
	FormatWBMP:   "bmp",
}

// Info describes an image file.
type Info struct {
	Width  int
	Height int
	Format Format
	Size   int64
}

// Mime returns the image mime type for the detected format, "" when the
// format is not one the forum accepts as an image.
func (i Info) Mime() string {
	return ValidMimeImageType(strconv.Itoa(int(i.Format)))
}

// Size reads the dimensions and format of an image without decoding pixels.
func Size(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{Width: -1, Height: -1}, err
	}
	defer f.Close()

	cfg, name, err := image.DecodeConfig(f)
	if err != nil {
		return Info{Width: -1, Height: -1}, fmt.Errorf("decode config %s: %w", path, err)
	}

	info := Info{Width: cfg.Width, Height: cfg.Height, Format: decoderFormats[name]}
	if st, err := f.Stat(); err == nil {
		info.Size = st.Size()
	}
	return info, nil
}

// ValidMimeImageType maps a format number, a mime type or an extension to
// "image/<ext>" when it names an accepted image type, otherwise "".
func ValidMimeImageType(mime string) string {
	var ext string
	if n, err := strconv.Atoi(mime); err == nil && n > 0 {
		ext = validImageTypes[Format(n)]
	} else if i := strings.Index(mime, "/"); i > 0 {
		ext = mime[i+1:]
	} else {
		ext = mime
	}

	ext = strings.ToLower(ext)
	for _, valid := range validImageTypes {
		if valid == ext {
			return "image/" + ext
		}
	}
	return ""
}
