package patient

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const (
	photoMaxSide     = 1024
	photoJPEGQuality = 85
	photoContentType = "image/jpeg"
)

// normalizePhoto decodes an uploaded image, applies EXIF orientation,
// shrinks it to fit photoMaxSide and re-encodes it as JPEG.
func normalizePhoto(r io.Reader) ([]byte, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, invalid("photo", "unsupported or corrupt image")
	}
	b := img.Bounds()
	if b.Dx() > photoMaxSide || b.Dy() > photoMaxSide {
		img = imaging.Fit(img, photoMaxSide, photoMaxSide, imaging.Lanczos)
	}
	return encodeJPEG(img)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(photoJPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}
	return buf.Bytes(), nil
}

func photoKey(id uuid.UUID) string {
	return "patients/" + id.String() + "/photo.jpg"
}
