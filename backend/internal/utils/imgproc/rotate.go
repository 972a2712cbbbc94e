package imgproc

import (
	"bytes"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// Orientation returns the EXIF orientation tag, 1 when absent.
func Orientation(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 1
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil || o < 1 || o > 8 {
		return 1
	}
	return o
}

// AutoRotate turns a photo upright according to its EXIF orientation and
// saves it as JPEG. Reports whether the file was rewritten.
func AutoRotate(path string) (bool, error) {
	o := Orientation(path)
	if o == 1 {
		return false, nil
	}

	img, err := imaging.Open(path)
	if err != nil {
		return false, err
	}

	var out image.Image
	switch o {
	case 2:
		out = imaging.FlipH(img)
	case 3:
		out = imaging.Rotate180(img)
	case 4:
		out = imaging.FlipV(img)
	case 5:
		out = imaging.Transpose(img)
	case 6:
		out = imaging.Rotate270(img)
	case 7:
		out = imaging.Transverse(img)
	case 8:
		out = imaging.Rotate90(img)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return false, err
	}
	if err := replaceFile(path, buf.Bytes()); err != nil {
		return false, err
	}
	return true, nil
}
