// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"time"
)

// ProcessingStats is the executor's per-run result record.
type ProcessingStats struct {
	ID          int64     `json:"id,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	FilePath    string    `json:"file_path"`
	Strategy    string    `json:"strategy,omitempty"`
	Encoder     string    `json:"encoder,omitempty"`

	// EncoderType is "hardware", "software", or "" for runs that did
	// not encode video. FallbackOccurred marks a run that retried on
	// the software encoder after a hardware failure.
	EncoderType      string `json:"encoder_type,omitempty"`
	FallbackOccurred bool   `json:"fallback_occurred,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	Duration    float64   `json:"duration_seconds"`
	InputBytes  int64     `json:"input_bytes"`
	OutputBytes int64     `json:"output_bytes"`
	Frames      int64     `json:"frames,omitempty"`
	MeanFPS     float64   `json:"mean_fps,omitempty"`
	PeakFPS     float64   `json:"peak_fps,omitempty"`
	MeanBitrate float64   `json:"mean_bitrate_kbps,omitempty"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

// RecordStats persists one processing result.
func (s *Store) RecordStats(ctx context.Context, ps *ProcessingStats) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO processing_stats (
		job_id, file_path, strategy, encoder, encoder_type, fallback_occurred,
		started_at, finished_at, duration_seconds,
		input_bytes, output_bytes, frames,
		mean_fps, peak_fps, mean_bitrate_kbps, success, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ps.JobID, ps.FilePath, ps.Strategy, ps.Encoder, ps.EncoderType, boolInt(ps.FallbackOccurred),
		formatTime(ps.StartedAt), formatTime(ps.FinishedAt), ps.Duration,
		ps.InputBytes, ps.OutputBytes, ps.Frames,
		ps.MeanFPS, ps.PeakFPS, ps.MeanBitrate, boolInt(ps.Success), ps.Error)
	return err
}

// StatsSummary is the aggregate view served by the API.
type StatsSummary struct {
	TotalRuns       int64   `json:"total_runs"`
	SuccessfulRuns  int64   `json:"successful_runs"`
	FailedRuns      int64   `json:"failed_runs"`
	TotalInputBytes int64   `json:"total_input_bytes"`
	TotalSavedBytes int64   `json:"total_saved_bytes"`
	MeanDuration    float64 `json:"mean_duration_seconds"`
	FileCount       int64   `json:"file_count"`
}

// StatsSummaryAll aggregates the full processing history.
func (s *Store) StatsSummaryAll(ctx context.Context) (*StatsSummary, error) {
	var sum StatsSummary
	err := s.db.QueryRowContext(ctx, `
	SELECT COUNT(*),
	       COALESCE(SUM(success), 0),
	       COALESCE(SUM(input_bytes), 0),
	       COALESCE(SUM(CASE WHEN success = 1 THEN input_bytes - output_bytes ELSE 0 END), 0),
	       COALESCE(AVG(duration_seconds), 0)
	FROM processing_stats
	`).Scan(&sum.TotalRuns, &sum.SuccessfulRuns, &sum.TotalInputBytes,
		&sum.TotalSavedBytes, &sum.MeanDuration)
	if err != nil {
		return nil, err
	}
	sum.FailedRuns = sum.TotalRuns - sum.SuccessfulRuns

	sum.FileCount, err = s.FileCount(ctx)
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// RecentStats returns the most recent runs, newest first.
func (s *Store) RecentStats(ctx context.Context, limit int) ([]ProcessingStats, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, job_id, file_path, strategy, encoder, encoder_type, fallback_occurred,
	       started_at, finished_at, duration_seconds,
	       input_bytes, output_bytes, frames,
	       mean_fps, peak_fps, mean_bitrate_kbps, success, error
	FROM processing_stats ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ProcessingStats
	for rows.Next() {
		var (
			ps                  ProcessingStats
			startedAt, finished string
			success, fallback   int
		)
		if err := rows.Scan(&ps.ID, &ps.JobID, &ps.FilePath, &ps.Strategy, &ps.Encoder,
			&ps.EncoderType, &fallback,
			&startedAt, &finished, &ps.Duration,
			&ps.InputBytes, &ps.OutputBytes, &ps.Frames,
			&ps.MeanFPS, &ps.PeakFPS, &ps.MeanBitrate, &success, &ps.Error); err != nil {
			return nil, err
		}
		ps.StartedAt = parseTime(startedAt)
		ps.FinishedAt = parseTime(finished)
		ps.Success = success != 0
		ps.FallbackOccurred = fallback != 0
		out = append(out, ps)
	}
	return out, rows.Err()
}

// TrendBucket is one day of aggregated processing activity.
type TrendBucket struct {
	Day        string  `json:"day"` // YYYY-MM-DD
	Runs       int64   `json:"runs"`
	SavedBytes int64   `json:"saved_bytes"`
	MeanFPS    float64 `json:"mean_fps"`
}

// StatsTrends buckets the last N days of activity by day.
func (s *Store) StatsTrends(ctx context.Context, days int) ([]TrendBucket, error) {
	if days <= 0 || days > 365 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	rows, err := s.db.QueryContext(ctx, `
	SELECT substr(started_at, 1, 10) AS day,
	       COUNT(*),
	       COALESCE(SUM(CASE WHEN success = 1 THEN input_bytes - output_bytes ELSE 0 END), 0),
	       COALESCE(AVG(mean_fps), 0)
	FROM processing_stats
	WHERE started_at >= ?
	GROUP BY day ORDER BY day
	`, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []TrendBucket
	for rows.Next() {
		var b TrendBucket
		if err := rows.Scan(&b.Day, &b.Runs, &b.SavedBytes, &b.MeanFPS); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
