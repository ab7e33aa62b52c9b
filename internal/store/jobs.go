// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/randomparity/vpo-sub005/internal/vpotypes"
)

// JobRecord is one queue row as read back for listings and detail
// views. Lifecycle mutations go through the queue package.
type JobRecord struct {
	ID        string              `json:"id"`
	Kind      vpotypes.JobKind    `json:"kind"`
	FilePath  string              `json:"file_path"`
	Priority  int                 `json:"priority"`
	Status    vpotypes.JobStatus  `json:"status"`
	Attempts  int                 `json:"attempts"`
	WorkerID  string              `json:"worker_id,omitempty"`
	Payload   string              `json:"payload,omitempty"`
	Error     string              `json:"error,omitempty"`

	// Progress is completion percent (0-100); ProgressDetail is a JSON
	// blob with the latest frame/fps/speed sample. Both reset when the
	// job leaves the running state for the queue.
	Progress       float64 `json:"progress"`
	ProgressDetail string  `json:"progress_detail,omitempty"`

	CreatedAt time.Time           `json:"created_at"`
	StartedAt time.Time           `json:"started_at,omitzero"`
	Heartbeat time.Time           `json:"heartbeat_at,omitzero"`
	Finished  time.Time           `json:"finished_at,omitzero"`
}

// JobFilter narrows ListJobs. Zero values mean "any".
type JobFilter struct {
	Status string
	Kind   string
	Since  time.Time
	Search string // substring match on file_path
	Sort   string // created_at (default), priority, status
	Desc   bool
	Limit  int
	Offset int
}

var jobSortColumns = map[string]string{
	"":           "created_at",
	"created_at": "created_at",
	"priority":   "priority",
	"status":     "status",
}

// ListJobs returns jobs matching the filter plus the unfiltered-page
// total for pagination headers.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]JobRecord, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(f.Since))
	}
	if f.Search != "" {
		where = append(where, "file_path LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs"+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	col, ok := jobSortColumns[f.Sort]
	if !ok {
		return nil, 0, fmt.Errorf("invalid sort column %q", f.Sort)
	}
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf(`
	SELECT id, kind, file_path, priority, status, attempts, worker_id, payload, error,
	       progress, progress_detail,
	       created_at, started_at, heartbeat_at, finished_at
	FROM jobs%s ORDER BY %s %s, id LIMIT ? OFFSET ?`, cond, col, dir)
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var out []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// GetJob loads one job by id, or nil when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, kind, file_path, priority, status, attempts, worker_id, payload, error,
	       progress, progress_detail,
	       created_at, started_at, heartbeat_at, finished_at
	FROM jobs WHERE id = ?`, id)

	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (JobRecord, error) {
	var (
		rec                                    JobRecord
		kind, status                           string
		createdAt, startedAt, beatAt, finished string
	)
	err := r.Scan(&rec.ID, &kind, &rec.FilePath, &rec.Priority, &status,
		&rec.Attempts, &rec.WorkerID, &rec.Payload, &rec.Error,
		&rec.Progress, &rec.ProgressDetail,
		&createdAt, &startedAt, &beatAt, &finished)
	if err != nil {
		return rec, err
	}
	rec.Kind = vpotypes.JobKind(kind)
	rec.Status = vpotypes.JobStatus(status)
	rec.CreatedAt = parseTime(createdAt)
	rec.StartedAt = parseTime(startedAt)
	rec.Heartbeat = parseTime(beatAt)
	rec.Finished = parseTime(finished)
	return rec, nil
}

// JobCounts returns the number of jobs per status.
func (s *Store) JobCounts(ctx context.Context) (map[vpotypes.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := map[vpotypes.JobStatus]int{}
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[vpotypes.JobStatus(st)] = n
	}
	return out, rows.Err()
}

// JobLogLine is one log entry attached to a job.
type JobLogLine struct {
	ID      int64     `json:"id"`
	JobID   string    `json:"job_id"`
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// AppendJobLog records one log line for a job.
func (s *Store) AppendJobLog(ctx context.Context, jobID, level, message string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO job_logs (job_id, ts, level, message) VALUES (?, ?, ?, ?)
	`, jobID, nowUTC(), level, message)
	return err
}

// JobLogs returns a page of log lines for a job in insertion order.
func (s *Store) JobLogs(ctx context.Context, jobID string, limit, offset int) ([]JobLogLine, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, job_id, ts, level, message FROM job_logs
	WHERE job_id = ? ORDER BY id LIMIT ? OFFSET ?
	`, jobID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []JobLogLine
	for rows.Next() {
		var (
			line JobLogLine
			ts   string
		)
		if err := rows.Scan(&line.ID, &line.JobID, &ts, &line.Level, &line.Message); err != nil {
			return nil, err
		}
		line.Time = parseTime(ts)
		out = append(out, line)
	}
	return out, rows.Err()
}

// PurgeJobLogsBefore deletes log lines recorded before cutoff.
// RFC3339 UTC text compares lexicographically.
func (s *Store) PurgeJobLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM job_logs WHERE ts < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeFinishedJobsBefore deletes terminal jobs that finished before
// cutoff, along with their remaining log lines.
func (s *Store) PurgeFinishedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := formatTime(cutoff)
	if _, err := s.db.ExecContext(ctx, `
	DELETE FROM job_logs WHERE job_id IN (
		SELECT id FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND finished_at != '' AND finished_at < ?
	)`, ts); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
	DELETE FROM jobs
	WHERE status IN ('completed', 'failed', 'cancelled')
	  AND finished_at != '' AND finished_at < ?
	`, ts)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
