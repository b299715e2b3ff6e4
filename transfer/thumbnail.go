package transfer

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ThumbnailSize bounds the longest edge of generated previews.
const ThumbnailSize = 128

// ThumbnailFunc builds a preview for a reconciled file. A nil image with a nil
// error means no preview is available.
type ThumbnailFunc func(path string) (image.Image, error)

// MediaKind sniffs path and reports whether it is an image or video, plus its MIME type.
func MediaKind(path string) (isMedia bool, mimeType string, err error) {
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return false, "", fmt.Errorf("detect mime type: %w", err)
	}
	mimeType = detected.String()
	isMedia = strings.HasPrefix(mimeType, "image/") || strings.HasPrefix(mimeType, "video/")
	return isMedia, mimeType, nil
}

// DecodeThumbnail decodes still images and scales them to ThumbnailSize.
// Videos and undecodable formats yield no preview.
func DecodeThumbnail(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open for thumbnail: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	img, _, err := image.Decode(file)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return scaleNearest(img, ThumbnailSize), nil
}

func scaleNearest(src image.Image, maxEdge int) image.Image {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxEdge && height <= maxEdge {
		return src
	}

	dstWidth, dstHeight := maxEdge, maxEdge
	if width > height {
		dstHeight = max(1, height*maxEdge/width)
	} else {
		dstWidth = max(1, width*maxEdge/height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight))
	for y := 0; y < dstHeight; y++ {
		srcY := bounds.Min.Y + y*height/dstHeight
		for x := 0; x < dstWidth; x++ {
			srcX := bounds.Min.X + x*width/dstWidth
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst
}
