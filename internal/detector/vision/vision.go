// Package vision adapts the Google Cloud Vision API to the detector
// capability.
package vision

import (
	"context"
	"math"

	vision "cloud.google.com/go/vision/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/example/face-redact/internal/detector"
	"github.com/example/face-redact/internal/logging"
)

const defaultMaxFaces = 50

// Detector calls the Vision image annotator for face annotations.
type Detector struct {
	client   *vision.ImageAnnotatorClient
	maxFaces int
	logger   *zap.Logger
}

// New builds a Vision-backed detector. The client is constructed once
// and reused across invocations; credentials come from the ambient
// environment unless overridden through opts.
func New(ctx context.Context, logger *zap.Logger, maxFaces int, opts ...option.ClientOption) (*Detector, error) {
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, logging.NewOperationError("vision.new_client", "", err)
	}
	if maxFaces <= 0 {
		maxFaces = defaultMaxFaces
	}
	return &Detector{client: client, maxFaces: maxFaces, logger: logger.Named("vision_detector")}, nil
}

// DetectFaces requests face annotations for the given image bytes.
func (d *Detector) DetectFaces(ctx context.Context, image []byte) ([]detector.Face, error) {
	annotations, err := d.client.DetectFaces(ctx, &visionpb.Image{Content: image}, nil, d.maxFaces)
	if err != nil {
		wrapped := logging.NewOperationError("vision.detect_faces", "", err)
		d.logger.Error("face annotation failed", zap.Error(wrapped))
		return nil, wrapped
	}

	faces := make([]detector.Face, 0, len(annotations))
	for _, ann := range annotations {
		box, ok := boxFromPoly(ann.GetBoundingPoly())
		if !ok {
			continue
		}
		faces = append(faces, detector.Face{Box: box, Confidence: ann.GetDetectionConfidence()})
	}
	return faces, nil
}

// Close releases the underlying client connection.
func (d *Detector) Close() error {
	return d.client.Close()
}

// boxFromPoly reduces a bounding polygon to its axis-aligned box. Vision
// reports absolute pixel vertices, occasionally omitting some; a poly
// with fewer than two distinct corners carries no usable region.
func boxFromPoly(poly *visionpb.BoundingPoly) (detector.BoundingBox, bool) {
	vertices := poly.GetVertices()
	if len(vertices) < 2 {
		return detector.BoundingBox{}, false
	}

	minX, minY := math.MaxInt32, math.MaxInt32
	maxX, maxY := math.MinInt32, math.MinInt32
	for _, v := range vertices {
		x, y := int(v.GetX()), int(v.GetY())
		minX = min(minX, x)
		minY = min(minY, y)
		maxX = max(maxX, x)
		maxY = max(maxY, y)
	}
	if maxX <= minX || maxY <= minY {
		return detector.BoundingBox{}, false
	}
	return detector.BoundingBox{Left: minX, Top: minY, Width: maxX - minX, Height: maxY - minY}, true
}
