// Package rekognition adapts Amazon Rekognition face detection to the
// detector capability.
package rekognition

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsrekognition "github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"go.uber.org/zap"

	"github.com/example/face-redact/internal/detector"
	"github.com/example/face-redact/internal/logging"
)

// Client is the subset of the Rekognition API the detector uses,
// extracted so tests can stub the remote call.
type Client interface {
	DetectFaces(ctx context.Context, params *awsrekognition.DetectFacesInput, optFns ...func(*awsrekognition.Options)) (*awsrekognition.DetectFacesOutput, error)
}

// Detector calls Rekognition DetectFaces with inline image bytes.
type Detector struct {
	client Client
	logger *zap.Logger
}

// New wraps an existing client, usually rekognition.NewFromConfig(cfg).
func New(client Client, logger *zap.Logger) *Detector {
	return &Detector{client: client, logger: logger.Named("rekognition_detector")}
}

// NewFromConfig builds a detector on top of a resolved AWS config.
func NewFromConfig(cfg aws.Config, logger *zap.Logger) *Detector {
	return New(awsrekognition.NewFromConfig(cfg), logger)
}

// DetectFaces submits the image and scales Rekognition's fractional
// bounding boxes into the image's pixel grid. Rekognition reports
// confidence on a 0-100 scale; it is normalized to [0,1] here.
func (d *Detector) DetectFaces(ctx context.Context, img []byte) ([]detector.Face, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, logging.NewOperationError("rekognition.decode_config", "", err)
	}

	out, err := d.client.DetectFaces(ctx, &awsrekognition.DetectFacesInput{
		Image: &rektypes.Image{Bytes: img},
	})
	if err != nil {
		wrapped := logging.NewOperationError("rekognition.detect_faces", "", err)
		d.logger.Error("detect faces call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	faces := make([]detector.Face, 0, len(out.FaceDetails))
	for _, fd := range out.FaceDetails {
		box, ok := scaleBox(fd.BoundingBox, cfg.Width, cfg.Height)
		if !ok {
			continue
		}
		faces = append(faces, detector.Face{
			Box:        box,
			Confidence: aws.ToFloat32(fd.Confidence) / 100,
		})
	}
	return faces, nil
}

// scaleBox converts a fractional Rekognition box into pixel coordinates.
func scaleBox(b *rektypes.BoundingBox, width, height int) (detector.BoundingBox, bool) {
	if b == nil {
		return detector.BoundingBox{}, false
	}
	box := detector.BoundingBox{
		Left:   int(aws.ToFloat32(b.Left) * float32(width)),
		Top:    int(aws.ToFloat32(b.Top) * float32(height)),
		Width:  int(aws.ToFloat32(b.Width) * float32(width)),
		Height: int(aws.ToFloat32(b.Height) * float32(height)),
	}
	if box.Width <= 0 || box.Height <= 0 {
		return detector.BoundingBox{}, false
	}
	return box, true
}
