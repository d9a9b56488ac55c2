package media

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"

	"github.com/tutorhive/lesson-publisher/internal/types"
)

// Ratio is a target aspect ratio, e.g. {16, 9}.
type Ratio struct {
	W int
	H int
}

// ThumbnailRatio is the aspect lesson thumbnails are normalized to.
var ThumbnailRatio = Ratio{W: 16, H: 9}

const jpegQuality = 90

// UnsupportedFormatError means the input could not be decoded as a raster image.
type UnsupportedFormatError struct {
	cause error
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported image format: %v", e.cause)
}

func (e *UnsupportedFormatError) Unwrap() error { return e.cause }

// Transform decodes the image from r, crops it to the largest centered region
// matching the given aspect ratio and re-encodes it as JPEG. The input is not
// mutated; the caller keeps ownership of r and closes it once the transform
// returns.
func Transform(r io.Reader, aspect Ratio) (*types.Blob, error) {
	if aspect.W <= 0 || aspect.H <= 0 {
		return nil, fmt.Errorf("invalid aspect ratio %d:%d", aspect.W, aspect.H)
	}

	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &UnsupportedFormatError{cause: err}
	}

	cropped := cropToAspect(img, aspect)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode cropped image: %w", err)
	}

	return &types.Blob{
		Name:        "thumbnail.jpg",
		ContentType: "image/jpeg",
		Data:        buf.Bytes(),
	}, nil
}

// cropToAspect returns the largest centered sub-image with the given aspect.
func cropToAspect(img image.Image, aspect Ratio) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	cw := w
	ch := cw * aspect.H / aspect.W
	if ch > h {
		ch = h
		cw = ch * aspect.W / aspect.H
	}
	if cw == w && ch == h {
		return img
	}
	return imaging.CropCenter(img, cw, ch)
}
