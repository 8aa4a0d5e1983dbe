// Package detector defines the face-detection capability consumed by the
// redaction pipeline. Concrete providers live in subpackages; the
// pipeline only ever sees pixel-space boxes and normalized confidences,
// so providers are swappable and tests can supply a fake.
package detector

import "context"

// BoundingBox is a detected face region in the pixel grid of the image
// the detection was requested for.
type BoundingBox struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Clip clamps the box to [0,width) x [0,height). The second return value
// is false when the box collapses to zero area, which callers must treat
// as "no region to redact" rather than an error. Providers may compute
// coordinates against a different resize of the image, so every box is
// clipped before use.
func (b BoundingBox) Clip(width, height int) (BoundingBox, bool) {
	left := max(b.Left, 0)
	top := max(b.Top, 0)
	right := min(b.Left+b.Width, width)
	bottom := min(b.Top+b.Height, height)
	if right <= left || bottom <= top {
		return BoundingBox{}, false
	}
	return BoundingBox{Left: left, Top: top, Width: right - left, Height: bottom - top}, true
}

// Face is a single detection: a bounding box plus the provider's
// confidence normalized to [0,1].
type Face struct {
	Box        BoundingBox `json:"box"`
	Confidence float32     `json:"confidence"`
}

// Detector is the remote face-detection capability.
type Detector interface {
	DetectFaces(ctx context.Context, image []byte) ([]Face, error)
}
