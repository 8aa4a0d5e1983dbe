package redactor

import (
	"fmt"
	"time"
)

// Redaction modes.
const (
	ModeGaussian = "gaussian"
	ModePixelate = "pixelate"
)

const (
	// MaxRetryCeiling bounds caller-requested detection retries so a
	// single request cannot stack unbounded latency.
	MaxRetryCeiling = 3

	DefaultBlurStrength        = 3
	DefaultPixelateBlocks      = 10
	DefaultConfidenceThreshold = 0.80
	DefaultDetectionTimeout    = 10 * time.Second

	maxBlurStrength = 10
	maxTimeout      = time.Minute
)

// Options control a single redaction. The zero value of any field means
// "use the configured default"; invalid values fail the request with a
// configuration error.
type Options struct {
	// BlurStrength scales the Gaussian kernel relative to the face box,
	// 1 (lightest) through 10 (heaviest).
	BlurStrength int
	// Mode selects the obscuring transform, gaussian or pixelate.
	Mode string
	// PixelateBlocks is the mosaic grid size in pixelate mode.
	PixelateBlocks int
	// MaxRetries is the number of retries after the first detection
	// attempt, capped at MaxRetryCeiling.
	MaxRetries int
	// Timeout bounds each detection attempt.
	Timeout time.Duration
	// ConfidenceThreshold drops detections below it, in [0,1].
	ConfidenceThreshold float32
	// OutputFormat overrides the input format for re-encoding
	// ("jpeg", "jpg" or "png"); empty keeps the input format.
	OutputFormat string
	// JPEGQuality applies when the output is JPEG.
	JPEGQuality int
}

// DefaultOptions returns the built-in defaults used when the deployment
// configures nothing.
func DefaultOptions() Options {
	return Options{
		BlurStrength:        DefaultBlurStrength,
		Mode:                ModeGaussian,
		PixelateBlocks:      DefaultPixelateBlocks,
		Timeout:             DefaultDetectionTimeout,
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}
}

// merged fills zero-valued fields from defaults. Negative values are
// kept so validation can reject them.
func (o Options) merged(defaults Options) Options {
	if o.BlurStrength == 0 {
		o.BlurStrength = defaults.BlurStrength
	}
	if o.Mode == "" {
		o.Mode = defaults.Mode
	}
	if o.PixelateBlocks == 0 {
		o.PixelateBlocks = defaults.PixelateBlocks
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = defaults.MaxRetries
	}
	if o.Timeout == 0 {
		o.Timeout = defaults.Timeout
	}
	if o.ConfidenceThreshold == 0 {
		o.ConfidenceThreshold = defaults.ConfidenceThreshold
	}
	if o.OutputFormat == "" {
		o.OutputFormat = defaults.OutputFormat
	}
	if o.JPEGQuality == 0 {
		o.JPEGQuality = defaults.JPEGQuality
	}
	return o
}

func (o Options) validate() error {
	if o.BlurStrength < 1 || o.BlurStrength > maxBlurStrength {
		return newError(KindConfiguration, fmt.Errorf("blur_strength %d out of range [1,%d]", o.BlurStrength, maxBlurStrength))
	}
	if o.Mode != ModeGaussian && o.Mode != ModePixelate {
		return newError(KindConfiguration, fmt.Errorf("unknown mode %q", o.Mode))
	}
	if o.PixelateBlocks < 1 {
		return newError(KindConfiguration, fmt.Errorf("pixelate_blocks %d must be positive", o.PixelateBlocks))
	}
	if o.MaxRetries < 0 || o.MaxRetries > MaxRetryCeiling {
		return newError(KindConfiguration, fmt.Errorf("max_retries %d out of range [0,%d]", o.MaxRetries, MaxRetryCeiling))
	}
	if o.Timeout <= 0 || o.Timeout > maxTimeout {
		return newError(KindConfiguration, fmt.Errorf("timeout %s out of range (0,%s]", o.Timeout, maxTimeout))
	}
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1 {
		return newError(KindConfiguration, fmt.Errorf("confidence_threshold %g out of range [0,1]", o.ConfidenceThreshold))
	}
	switch o.OutputFormat {
	case "", "jpeg", "jpg", "png":
	default:
		return newError(KindConfiguration, fmt.Errorf("unsupported output format %q", o.OutputFormat))
	}
	if o.JPEGQuality < 0 || o.JPEGQuality > 100 {
		return newError(KindConfiguration, fmt.Errorf("jpeg_quality %d out of range [0,100]", o.JPEGQuality))
	}
	return nil
}
