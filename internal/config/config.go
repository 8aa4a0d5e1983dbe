// Package config loads the deployment configuration from the
// environment. Invalid values fail startup instead of being silently
// replaced.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Detection provider names.
const (
	ProviderVision      = "vision"
	ProviderRekognition = "rekognition"
)

// Config is the process-wide configuration, constructed once at startup
// and never mutated afterwards.
type Config struct {
	Addr     string
	Provider string

	// Redaction defaults; request parameters override them.
	BlurMode            string
	BlurStrength        int
	PixelateBlocks      int
	ConfidenceThreshold float32
	DetectionTimeout    time.Duration
	MaxRetries          int
	OutputFormat        string
	JPEGQuality         int

	// VisionMaxFaces caps how many faces the Vision provider requests.
	VisionMaxFaces int

	// Optional collaborators; empty disables them.
	RedisAddr   string
	DatabaseDSN string
	JWTSecret   string
	JWTAudience string

	// OutputBucket receives redacted objects in the batch flow.
	OutputBucket string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:         getEnv("ADDR", ":8080"),
		Provider:     getEnv("DETECTOR", ProviderVision),
		BlurMode:     getEnv("BLUR_TYPE", "gaussian"),
		OutputFormat: os.Getenv("OUTPUT_FORMAT"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		DatabaseDSN:  os.Getenv("DATABASE_DSN"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		JWTAudience:  os.Getenv("JWT_AUDIENCE"),
		OutputBucket: os.Getenv("OUTPUT_BUCKET"),
	}

	var err error
	if cfg.BlurStrength, err = getEnvInt("BLUR_STRENGTH", 3); err != nil {
		return nil, err
	}
	if cfg.PixelateBlocks, err = getEnvInt("PIXELATE_BLOCKS", 10); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = getEnvInt("MAX_RETRIES", 0); err != nil {
		return nil, err
	}
	if cfg.JPEGQuality, err = getEnvInt("JPEG_QUALITY", 90); err != nil {
		return nil, err
	}
	if cfg.VisionMaxFaces, err = getEnvInt("VISION_MAX_FACES", 50); err != nil {
		return nil, err
	}
	if cfg.DetectionTimeout, err = getEnvDuration("DETECTION_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	threshold, err := getEnvFloat("CONFIDENCE_THRESHOLD", 0.80)
	if err != nil {
		return nil, err
	}
	cfg.ConfidenceThreshold = float32(threshold)

	if cfg.Provider != ProviderVision && cfg.Provider != ProviderRekognition {
		return nil, fmt.Errorf("DETECTOR must be %q or %q, got %q", ProviderVision, ProviderRekognition, cfg.Provider)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}
