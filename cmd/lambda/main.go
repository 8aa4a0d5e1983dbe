// The lambda binary runs the S3 batch flow: every object referenced by
// an incoming S3 event is redacted with Rekognition and written to the
// output bucket.
package main

import (
	"context"
	"time"

	awslambda "github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/example/face-redact/internal/batch"
	"github.com/example/face-redact/internal/config"
	"github.com/example/face-redact/internal/detector/rekognition"
	"github.com/example/face-redact/internal/logging"
	"github.com/example/face-redact/internal/redactor"
	"github.com/example/face-redact/internal/storage"
)

func main() {
	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.OutputBucket == "" {
		logger.Fatal("OUTPUT_BUCKET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	cancel()
	if err != nil {
		logger.Fatal("failed to load AWS config", zap.Error(err))
	}

	det := rekognition.NewFromConfig(awsCfg, logger)
	store := storage.NewS3Store(s3.NewFromConfig(awsCfg))

	red := redactor.New(det, nil, nil, logger, redactor.Options{
		BlurStrength:        cfg.BlurStrength,
		Mode:                cfg.BlurMode,
		PixelateBlocks:      cfg.PixelateBlocks,
		MaxRetries:          cfg.MaxRetries,
		Timeout:             cfg.DetectionTimeout,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		OutputFormat:        cfg.OutputFormat,
		JPEGQuality:         cfg.JPEGQuality,
	})

	processor := batch.NewProcessor(store, red, cfg.OutputBucket, redactor.Options{}, logger)
	awslambda.Start(processor.HandleS3Event)
}
