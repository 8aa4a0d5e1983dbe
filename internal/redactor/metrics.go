package redactor

import "context"

// MetricsSummary aggregates redaction activity from the audit log.
type MetricsSummary struct {
	TotalRequests    int64   `json:"total_requests"`
	TotalFaces       int64   `json:"total_faces_redacted"`
	AverageFaces     float64 `json:"average_faces_per_request"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// GetMetricsSummary reads aggregate counters from persisted logs.
func (r *Redactor) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if r.repo == nil {
		return nil, ErrNoRepository
	}
	aggregation, err := r.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:    aggregation.TotalCount,
		TotalFaces:       aggregation.TotalFaces,
		AverageLatencyMs: aggregation.AverageLatencyMs,
	}
	if aggregation.TotalCount > 0 {
		summary.AverageFaces = float64(aggregation.TotalFaces) / float64(aggregation.TotalCount)
	}
	return summary, nil
}
