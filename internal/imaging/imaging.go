// Package imaging holds the raster side of the redaction pipeline:
// decoding the request payload, the region transforms that obscure
// faces, and re-encoding the result. JPEG and PNG are the supported
// formats, matching what the detection providers accept.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
)

// DefaultJPEGQuality is used when the caller does not configure one.
const DefaultJPEGQuality = 90

// Decode parses the payload into a mutable RGBA buffer and reports the
// format it was encoded in ("jpeg" or "png").
func Decode(data []byte) (*image.RGBA, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, format, nil
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba, format, nil
}

// Encode serializes the buffer in the requested format. "jpg" is
// accepted as an alias for "jpeg".
func Encode(img image.Image, format string, jpegQuality int) ([]byte, error) {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	switch format {
	case "jpeg", "jpg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	return buf.Bytes(), nil
}
