// Package batch processes S3 object-created events: download the image,
// redact it, upload the result to the output bucket under the same key.
// Records fail independently; one bad object never aborts the rest.
package batch

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/example/face-redact/internal/logging"
	"github.com/example/face-redact/internal/redactor"
)

// MaxObjectSize is the largest image the detection providers accept as
// inline bytes.
const MaxObjectSize = 15 << 20

// ObjectStore abstracts the bucket operations so tests can run without
// S3.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key string) ([]byte, error)
	Upload(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

// RecordResult identifies one processed object and, for failures, the
// reason.
type RecordResult struct {
	Bucket       string `json:"bucket"`
	Key          string `json:"key"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Summary is the handler response: which records were redacted and
// which failed.
type Summary struct {
	SuccessfulRecords []RecordResult `json:"successful_records"`
	FailedRecords     []RecordResult `json:"failed_records"`
	FacesRedacted     int            `json:"faces_redacted"`
}

// Processor redacts every object referenced by an S3 event.
type Processor struct {
	store        ObjectStore
	redactor     *redactor.Redactor
	outputBucket string
	opts         redactor.Options
	logger       *zap.Logger
}

// NewProcessor builds a batch processor writing into outputBucket.
func NewProcessor(store ObjectStore, red *redactor.Redactor, outputBucket string, opts redactor.Options, logger *zap.Logger) *Processor {
	return &Processor{
		store:        store,
		redactor:     red,
		outputBucket: outputBucket,
		opts:         opts,
		logger:       logger.Named("batch_processor"),
	}
}

// HandleS3Event processes each record in the event and reports
// per-record outcomes.
func (p *Processor) HandleS3Event(ctx context.Context, event events.S3Event) (Summary, error) {
	summary := Summary{
		SuccessfulRecords: []RecordResult{},
		FailedRecords:     []RecordResult{},
	}

	for _, record := range event.Records {
		bucket := record.S3.Bucket.Name
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			key = record.S3.Object.Key
		}
		opLogger := p.logger.With(zap.String("bucket", bucket), zap.String("key", key))

		faces, err := p.processRecord(ctx, bucket, key, record.S3.Object.Size)
		if err != nil {
			opLogger.Error("record failed", zap.Error(err))
			summary.FailedRecords = append(summary.FailedRecords, RecordResult{
				Bucket:       bucket,
				Key:          key,
				ErrorMessage: err.Error(),
			})
			continue
		}

		opLogger.Info("record redacted", zap.Int("faces_redacted", faces))
		summary.SuccessfulRecords = append(summary.SuccessfulRecords, RecordResult{Bucket: bucket, Key: key})
		summary.FacesRedacted += faces
	}
	return summary, nil
}

func (p *Processor) processRecord(ctx context.Context, bucket, key string, size int64) (int, error) {
	if size > MaxObjectSize {
		return 0, fmt.Errorf("object is %d bytes; images over %d bytes are not supported by the detection service", size, MaxObjectSize)
	}
	if !supportedExtension(key) {
		return 0, fmt.Errorf("unsupported file type %q; only JPEG and PNG images are supported", path.Ext(key))
	}

	data, err := p.store.Download(ctx, bucket, key)
	if err != nil {
		return 0, logging.NewOperationError("batch.download", key, err)
	}

	result, err := p.redactor.Redact(ctx, data, p.opts)
	if err != nil {
		return 0, err
	}

	if err := p.store.Upload(ctx, p.outputBucket, key, result.Image, "image/"+result.Format); err != nil {
		return 0, logging.NewOperationError("batch.upload", key, err)
	}
	return result.FacesRedacted, nil
}

func supportedExtension(key string) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}
