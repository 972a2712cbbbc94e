package imgproc

import (
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/nfnt/resize"
)

const thumbnailQuality = 80

// Thumbnail scales src to fit inside maxW x maxH keeping the aspect ratio
// and writes it to dest. Images already small enough are copied at their
// size. The output uses format when set, else the source format; sources
// without an encoder here are written as PNG.
func Thumbnail(src string, maxW, maxH int, dest string, format Format) (Info, error) {
	f, err := os.Open(src)
	if err != nil {
		return Info{}, err
	}
	img, name, err := image.Decode(f)
	f.Close()
	if err != nil {
		return Info{}, fmt.Errorf("decode %s: %w", src, err)
	}

	b := img.Bounds()
	if maxW <= 0 {
		maxW = b.Dx()
	}
	if maxH <= 0 {
		maxH = b.Dy()
	}
	thumb := resize.Thumbnail(uint(maxW), uint(maxH), img, resize.Lanczos3)

	if format == FormatUnknown {
		format = decoderFormats[name]
	}

	o, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return Info{}, err
	}

	switch format {
	case FormatGIF:
		err = gif.Encode(o, thumb, nil)
	case FormatJPEG:
		err = jpeg.Encode(o, thumb, &jpeg.Options{Quality: thumbnailQuality})
	default:
		format = FormatPNG
		err = png.Encode(o, thumb)
	}
	if cerr := o.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return Info{}, fmt.Errorf("encode thumbnail %s: %w", dest, err)
	}

	st, err := os.Stat(dest)
	if err != nil {
		return Info{}, err
	}
	tb := thumb.Bounds()
	return Info{Width: tb.Dx(), Height: tb.Dy(), Format: format, Size: st.Size()}, nil
}
