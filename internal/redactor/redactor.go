// Package redactor implements the face-redaction pipeline: decode the
// payload, ask the detection capability for face boxes, obscure each
// surviving box in place, re-encode. Every invocation is independent;
// the optional cache and audit repository are best-effort and never
// fail a redaction.
package redactor

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/face-redact/internal/detector"
	"github.com/example/face-redact/internal/imaging"
	"github.com/example/face-redact/internal/logging"
	"github.com/example/face-redact/internal/repository"
)

// ErrNoRepository is returned by lookup methods when the deployment runs
// without the audit repository.
var ErrNoRepository = errors.New("redaction repository not configured")

// Repository is the persistence surface used for the optional audit log.
type Repository interface {
	SaveLog(ctx context.Context, log *repository.RedactionLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.RedactionLog, error)
	FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.RedactionLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Result is a completed redaction.
type Result struct {
	RequestID     string
	Image         []byte
	Format        string
	FacesRedacted int
}

// DuplicateReport lists prior redactions of the same image content.
type DuplicateReport struct {
	Request    *repository.RedactionLog
	Duplicates []*repository.RedactionLog
}

// Redactor orchestrates the pipeline. Cache and repo may be nil.
type Redactor struct {
	detector       detector.Detector
	cache          Cache
	repo           Repository
	logger         *zap.Logger
	defaults       Options
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedRedaction struct {
	RequestID     string    `json:"request_id"`
	FacesRedacted int       `json:"faces_redacted"`
	Format        string    `json:"format"`
	BlurMode      string    `json:"blur_mode"`
	Hash          string    `json:"sha1_hash"`
	LatencyMs     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// New constructs a redactor. Zero fields of defaults fall back to the
// built-in defaults.
func New(det detector.Detector, cache Cache, repo Repository, logger *zap.Logger, defaults Options) *Redactor {
	return &Redactor{
		detector:       det,
		cache:          cache,
		repo:           repo,
		logger:         logger.Named("redactor"),
		defaults:       defaults.merged(DefaultOptions()),
		initialBackoff: 100 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Redact runs the pipeline on one image. Zero redacted faces is a valid
// outcome, not an error.
func (r *Redactor) Redact(ctx context.Context, data []byte, opts Options) (*Result, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(r.logger, "redactor.redact", requestID)

	opts = opts.merged(r.defaults)
	if err := opts.validate(); err != nil {
		return nil, err
	}

	start := time.Now()

	// Decode before any remote call so malformed payloads never reach
	// the detection service.
	img, format, err := imaging.Decode(data)
	if err != nil {
		return nil, newError(KindDecode, logging.NewOperationError("redactor.decode", requestID, err))
	}

	r.markProcessing(ctx, requestID)

	faces, err := r.detectWithRetry(ctx, requestID, data, opts)
	if err != nil {
		return nil, newError(KindDetection, logging.NewOperationError("redactor.detect_faces", requestID, err))
	}

	bounds := img.Bounds()
	redacted := 0
	for _, face := range faces {
		if face.Confidence < opts.ConfidenceThreshold {
			continue
		}
		box, ok := face.Box.Clip(bounds.Dx(), bounds.Dy())
		if !ok {
			continue
		}
		region := image.Rect(box.Left, box.Top, box.Left+box.Width, box.Top+box.Height)
		switch opts.Mode {
		case ModePixelate:
			imaging.PixelateRegion(img, region, opts.PixelateBlocks)
		default:
			imaging.BlurRegion(img, region, imaging.KernelForRegion(region, opts.BlurStrength))
		}
		redacted++
	}

	outFormat := opts.OutputFormat
	if outFormat == "" {
		outFormat = format
	}
	encoded, err := imaging.Encode(img, outFormat, opts.JPEGQuality)
	if err != nil {
		return nil, newError(KindEncode, logging.NewOperationError("redactor.encode", requestID, err))
	}

	result := &Result{
		RequestID:     requestID,
		Image:         encoded,
		Format:        normalizeFormat(outFormat),
		FacesRedacted: redacted,
	}
	r.recordOutcome(ctx, opLogger, data, result, opts, time.Since(start))
	return result, nil
}

// GetLog retrieves the audit entry for a past redaction, preferring the
// cache over the repository.
func (r *Redactor) GetLog(ctx context.Context, requestID string) (*repository.RedactionLog, error) {
	cacheKey := cacheKeyFor(requestID)
	if cached, err := r.cacheGet(ctx, requestID, cacheKey); err == nil {
		var payload cachedRedaction
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(r.logger, "redactor.get_log", requestID).Warn("failed to decode cached entry", zap.Error(err))
		} else if payload.RequestID != "" {
			return &repository.RedactionLog{
				RequestID:     payload.RequestID,
				SHA1Hash:      payload.Hash,
				FacesRedacted: payload.FacesRedacted,
				Format:        payload.Format,
				BlurMode:      payload.BlurMode,
				LatencyMs:     payload.LatencyMs,
				CreatedAt:     payload.CreatedAt,
			}, nil
		}
	}
	if r.repo == nil {
		return nil, ErrNoRepository
	}
	return r.repo.FindByRequestID(ctx, requestID)
}

// GetDuplicateReport lists other redactions that processed the same
// image bytes, matched by content hash.
func (r *Redactor) GetDuplicateReport(ctx context.Context, requestID string) (*DuplicateReport, error) {
	if r.repo == nil {
		return nil, ErrNoRepository
	}
	log, err := r.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	duplicates, err := r.repo.FindDuplicatesByHash(ctx, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}
	return &DuplicateReport{Request: log, Duplicates: duplicates}, nil
}

// detectWithRetry performs one detection attempt, plus up to MaxRetries
// additional attempts on transient failures, with exponential backoff.
// Each attempt gets its own timeout.
func (r *Redactor) detectWithRetry(ctx context.Context, requestID string, data []byte, opts Options) ([]detector.Face, error) {
	attempts := opts.MaxRetries + 1
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, "redactor.detect_faces", requestID)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		var faces []detector.Face
		faces, err = r.detector.DetectFaces(attemptCtx, data)
		cancel()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("detection succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return faces, nil
		}

		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("detection failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return nil, err
		}
		opLogger.Warn("transient detection error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return nil, err
}

// markProcessing leaves a short-lived marker so a concurrent lookup of a
// fresh request id reads "in flight" rather than "unknown". Best effort.
func (r *Redactor) markProcessing(ctx context.Context, requestID string) {
	if r.cache == nil {
		return
	}
	if err := r.cacheSet(ctx, requestID, cacheKeyFor(requestID), "processing", time.Minute); err != nil {
		logging.WithOperation(r.logger, "redactor.mark_processing", requestID).Warn("failed to set processing marker", zap.Error(err))
	}
}

// recordOutcome persists the audit entry and caches its metadata. Both
// are best effort: the redacted image has already been produced and a
// storage hiccup must not turn it into a failure.
func (r *Redactor) recordOutcome(ctx context.Context, opLogger *zap.Logger, data []byte, result *Result, opts Options, elapsed time.Duration) {
	if r.repo == nil && r.cache == nil {
		return
	}

	hash := sha1.Sum(data)
	entry := cachedRedaction{
		RequestID:     result.RequestID,
		FacesRedacted: result.FacesRedacted,
		Format:        result.Format,
		BlurMode:      opts.Mode,
		Hash:          hex.EncodeToString(hash[:]),
		LatencyMs:     elapsed.Milliseconds(),
		CreatedAt:     time.Now().UTC(),
	}

	if r.repo != nil {
		log := &repository.RedactionLog{
			RequestID:     entry.RequestID,
			SHA1Hash:      entry.Hash,
			FacesRedacted: entry.FacesRedacted,
			Format:        entry.Format,
			BlurMode:      entry.BlurMode,
			LatencyMs:     entry.LatencyMs,
			CreatedAt:     entry.CreatedAt,
		}
		if err := r.repo.SaveLog(ctx, log); err != nil {
			opLogger.Warn("failed to persist redaction log", zap.Error(err))
		}
	}

	if r.cache != nil {
		serialized, err := json.Marshal(entry)
		if err != nil {
			opLogger.Warn("failed to serialize redaction entry", zap.Error(err))
			return
		}
		if err := r.cacheSet(ctx, result.RequestID, cacheKeyFor(result.RequestID), string(serialized), 5*time.Minute); err != nil {
			opLogger.Warn("failed to cache redaction entry", zap.Error(err))
		}
	}
}

// cacheSet writes through the cache with bounded retry on transient
// errors, mirroring the detection retry policy.
func (r *Redactor) cacheSet(ctx context.Context, requestID, key, value string, ttl time.Duration) error {
	if r.cache == nil {
		return nil
	}
	return r.withCacheRetry(ctx, requestID, "cache.set", func() error {
		return r.cache.Set(ctx, key, value, ttl)
	})
}

func (r *Redactor) cacheGet(ctx context.Context, requestID, key string) (string, error) {
	if r.cache == nil {
		return "", fmt.Errorf("cache not configured")
	}
	var value string
	err := r.withCacheRetry(ctx, requestID, "cache.get", func() error {
		v, err := r.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, err
}

func (r *Redactor) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)

	var err error
	for attempt := 0; attempt < MaxRetryCeiling; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !isTransientError(err) || attempt == MaxRetryCeiling-1 {
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

// isTransientError reports whether a failure is worth retrying: network
// timeouts, temporary conditions, and the gRPC codes the providers emit
// under load.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		}
	}
	return false
}

func cacheKeyFor(requestID string) string {
	return fmt.Sprintf("redaction:%s", requestID)
}

func normalizeFormat(format string) string {
	if format == "jpg" {
		return "jpeg"
	}
	return format
}
