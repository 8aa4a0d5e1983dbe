package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// RedactionLog is the audit record for one completed redaction. The
// image bytes themselves are never persisted, only content hash and
// outcome metadata.
type RedactionLog struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	RequestID     string    `gorm:"column:request_id;uniqueIndex;size:64" json:"request_id"`
	SHA1Hash      string    `gorm:"column:sha1_hash;index;size:40" json:"sha1_hash"`
	FacesRedacted int       `gorm:"column:faces_redacted" json:"faces_redacted"`
	Format        string    `gorm:"column:format;size:8" json:"format"`
	BlurMode      string    `gorm:"column:blur_mode;size:16" json:"blur_mode"`
	LatencyMs     int64     `gorm:"column:latency_ms" json:"latency_ms"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the default table name.
func (RedactionLog) TableName() string {
	return "redaction_logs"
}

// MetricsAggregation is the raw aggregate row scanned from the logs.
type MetricsAggregation struct {
	TotalCount       int64
	TotalFaces       int64
	AverageLatencyMs float64
}

// RedactionRepository provides persistence for redaction logs.
type RedactionRepository struct {
	db *gorm.DB
}

// NewRedactionRepository creates a new repository instance.
func NewRedactionRepository(db *gorm.DB) *RedactionRepository {
	return &RedactionRepository{db: db}
}

// AutoMigrate ensures the schema is available.
func (r *RedactionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&RedactionLog{})
}

// SaveLog persists one redaction log entry.
func (r *RedactionRepository) SaveLog(ctx context.Context, log *RedactionLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// FindByRequestID retrieves the log for a request id.
func (r *RedactionRepository) FindByRequestID(ctx context.Context, requestID string) (*RedactionLog, error) {
	var log RedactionLog
	if err := r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists other redactions of the same image content.
func (r *RedactionRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*RedactionLog, error) {
	var logs []*RedactionLog
	err := r.db.WithContext(ctx).
		Where("sha1_hash = ? AND request_id <> ?", hash, excludeRequestID).
		Order("created_at DESC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes totals across all persisted logs.
func (r *RedactionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.db.WithContext(ctx).
		Model(&RedactionLog{}).
		Select("COUNT(*) AS total_count, COALESCE(SUM(faces_redacted), 0) AS total_faces, COALESCE(AVG(latency_ms), 0) AS average_latency_ms").
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
