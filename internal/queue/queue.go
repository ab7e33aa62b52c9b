// SPDX-License-Identifier: MIT

// Package queue implements the SQLite-backed job queue. Claiming uses
// an immediate transaction plus a status compare-and-swap so that two
// workers can never own the same job; lock contention is reported as
// "no work" and retried by the caller's poll loop.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	vpolog "github.com/randomparity/vpo-sub005/internal/log"
	"github.com/randomparity/vpo-sub005/internal/store"
	"github.com/randomparity/vpo-sub005/internal/vpotypes"
)

// ErrNotOwner is returned when a worker touches a job it does not own.
var ErrNotOwner = errors.New("job is not owned by this worker")

// Queue wraps the shared database handle.
type Queue struct {
	db  *sql.DB
	log zerolog.Logger
}

// New builds a queue over the store's database.
func New(s *store.Store) *Queue {
	return &Queue{db: s.DB(), log: vpolog.WithComponent("queue")}
}

// Enqueue inserts a queued job and returns its id. Mutating job kinds
// are exclusive per file: a second apply/transcode/move for a path
// with one already queued or running is rejected.
func (q *Queue) Enqueue(ctx context.Context, kind vpotypes.JobKind, filePath string, priority int, payload string) (string, error) {
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid job kind %q", kind)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if kind.Mutating() {
		var n int
		err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE file_path = ? AND status IN ('queued', 'running')
		  AND kind IN ('apply', 'transcode', 'move')
		`, filePath).Scan(&n)
		if err != nil {
			return "", err
		}
		if n > 0 {
			return "", fmt.Errorf("file %s already has an active mutating job", filePath)
		}
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
	INSERT INTO jobs (id, kind, file_path, priority, status, payload, created_at)
	VALUES (?, ?, ?, ?, 'queued', ?, ?)
	`, id, string(kind), filePath, priority, payload, now())
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	q.log.Info().Str("job_id", id).Str("kind", string(kind)).Str("path", filePath).Msg("job enqueued")
	return id, nil
}

// ClaimNext atomically claims the best queued job for workerID.
// Returns (nil, nil) when the queue is empty or locked by another
// claimer. Order is priority ascending (lower runs sooner), then FIFO
// by creation time.
func (q *Queue) ClaimNext(ctx context.Context, workerID string) (*store.JobRecord, error) {
	conn, err := q.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	// Immediate mode takes the write lock up front so the select and
	// the update see the same queue state.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		if isBusy(err) {
			return nil, nil
		}
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		}
	}()

	var (
		id     string
		status string
	)
	err = conn.QueryRowContext(ctx, `
	SELECT id, status FROM jobs
	WHERE status = 'queued'
	ORDER BY priority, created_at, id
	LIMIT 1
	`).Scan(&id, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		if isBusy(err) {
			return nil, nil
		}
		return nil, err
	}

	// CAS re-check on status guards against a competing claimer that
	// slipped in between lock acquisition attempts.
	res, err := conn.ExecContext(ctx, `
	UPDATE jobs
	SET status = 'running', worker_id = ?, attempts = attempts + 1,
	    started_at = ?, heartbeat_at = ?
	WHERE id = ? AND status = 'queued'
	`, workerID, now(), now(), id)
	if err != nil {
		if isBusy(err) {
			return nil, nil
		}
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		if isBusy(err) {
			return nil, nil
		}
		return nil, err
	}
	committed = true

	q.log.Debug().Str("job_id", id).Str("worker", workerID).Msg("job claimed")
	return q.getJob(ctx, id)
}

// Heartbeat refreshes the liveness timestamp of a running, owned job.
func (q *Queue) Heartbeat(ctx context.Context, jobID, workerID string) error {
	res, err := q.db.ExecContext(ctx, `
	UPDATE jobs SET heartbeat_at = ?
	WHERE id = ? AND worker_id = ? AND status = 'running'
	`, now(), jobID, workerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotOwner
	}
	return nil
}

// UpdateProgress records completion percent and a detail blob on a
// running, owned job. Percent is clamped to [0, 100].
func (q *Queue) UpdateProgress(ctx context.Context, jobID, workerID string, percent float64, detail string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	res, err := q.db.ExecContext(ctx, `
	UPDATE jobs SET progress = ?, progress_detail = ?
	WHERE id = ? AND worker_id = ? AND status = 'running'
	`, percent, detail, jobID, workerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotOwner
	}
	return nil
}

// Release moves a running, owned job to a terminal state.
func (q *Queue) Release(ctx context.Context, jobID, workerID string, final vpotypes.JobStatus, errMsg string) error {
	if !vpotypes.JobStatusRunning.CanTransitionTo(final) {
		return fmt.Errorf("cannot release job to %s", final)
	}
	res, err := q.db.ExecContext(ctx, `
	UPDATE jobs SET status = ?, error = ?, finished_at = ?
	WHERE id = ? AND worker_id = ? AND status = 'running'
	`, string(final), errMsg, now(), jobID, workerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotOwner
	}
	q.log.Info().Str("job_id", jobID).Str("status", string(final)).Msg("job released")
	return nil
}

// RecoverStale requeues running jobs whose heartbeat age exceeds the
// threshold. A job whose age equals the threshold exactly is left
// alone; only strictly older heartbeats count as dead.
func (q *Queue) RecoverStale(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-threshold).Format(time.RFC3339)
	res, err := q.db.ExecContext(ctx, `
	UPDATE jobs
	SET status = 'queued', worker_id = '', started_at = '', heartbeat_at = '',
	    progress = 0, progress_detail = '',
	    error = 'recovered from stale worker'
	WHERE status = 'running' AND heartbeat_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.log.Warn().Int64("recovered", n).Msg("stale running jobs requeued")
	}
	return int(n), nil
}

// Cancel cancels a queued job. Running jobs cannot be cancelled.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	res, err := q.db.ExecContext(ctx, `
	UPDATE jobs SET status = 'cancelled', finished_at = ?
	WHERE id = ? AND status = 'queued'
	`, now(), jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s is not queued", jobID)
	}
	return nil
}

// Requeue returns a failed or cancelled job to the queue with its
// run-state fields cleared.
func (q *Queue) Requeue(ctx context.Context, jobID string) error {
	res, err := q.db.ExecContext(ctx, `
	UPDATE jobs
	SET status = 'queued', worker_id = '', error = '',
	    started_at = '', heartbeat_at = '', finished_at = '',
	    progress = 0, progress_detail = ''
	WHERE id = ? AND status IN ('failed', 'cancelled')
	`, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s is not failed or cancelled", jobID)
	}
	return nil
}

// Depth reports how many jobs are waiting.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = 'queued'`).Scan(&n)
	return n, err
}

func (q *Queue) getJob(ctx context.Context, id string) (*store.JobRecord, error) {
	row := q.db.QueryRowContext(ctx, `
	SELECT id, kind, file_path, priority, status, attempts, worker_id, payload, error,
	       progress, progress_detail,
	       created_at, started_at, heartbeat_at, finished_at
	FROM jobs WHERE id = ?`, id)

	var (
		rec                            store.JobRecord
		kind, status                   string
		created, started, beat, finish string
	)
	err := row.Scan(&rec.ID, &kind, &rec.FilePath, &rec.Priority, &status,
		&rec.Attempts, &rec.WorkerID, &rec.Payload, &rec.Error,
		&rec.Progress, &rec.ProgressDetail,
		&created, &started, &beat, &finish)
	if err != nil {
		return nil, err
	}
	rec.Kind = vpotypes.JobKind(kind)
	rec.Status = vpotypes.JobStatus(status)
	rec.CreatedAt = parseTime(created)
	rec.StartedAt = parseTime(started)
	rec.Heartbeat = parseTime(beat)
	rec.Finished = parseTime(finish)
	return &rec, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// isBusy matches SQLite lock contention errors.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
