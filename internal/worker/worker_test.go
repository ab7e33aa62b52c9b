// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomparity/vpo-sub005/internal/queue"
	"github.com/randomparity/vpo-sub005/internal/store"
	"github.com/randomparity/vpo-sub005/internal/vpotypes"
)

func newPool(t *testing.T, workers int) (*Pool, *queue.Queue, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	q := queue.New(st)
	p := New(q, st, Options{
		Workers:           workers,
		PollInterval:      20 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		StaleThreshold:    time.Minute,
	})
	return p, q, st
}

func waitForStatus(t *testing.T, st *store.Store, jobID string, want vpotypes.JobStatus) *store.JobRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

func TestPoolProcessesJob(t *testing.T) {
	p, q, st := newPool(t, 2)

	var handled atomic.Int32
	p.Register(vpotypes.JobKindApply, func(_ context.Context, job *store.JobRecord, logf func(level, format string, args ...any)) error {
		handled.Add(1)
		logf("info", "applied plan for %s", job.FilePath)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	id, err := q.Enqueue(context.Background(), vpotypes.JobKindApply, "/library/a.mkv", 5, "")
	require.NoError(t, err)

	job := waitForStatus(t, st, id, vpotypes.JobStatusCompleted)
	assert.Equal(t, int32(1), handled.Load())
	assert.Empty(t, job.Error)

	logs, err := st.JobLogs(context.Background(), id, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Message, "/library/a.mkv")

	cancel()
	require.NoError(t, <-done)
}

func TestPoolFailsJobOnHandlerError(t *testing.T) {
	p, q, st := newPool(t, 1)
	p.Register(vpotypes.JobKindApply, func(context.Context, *store.JobRecord, func(string, string, ...any)) error {
		return errors.New("mkvpropedit exploded")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	id, err := q.Enqueue(context.Background(), vpotypes.JobKindApply, "/library/a.mkv", 0, "")
	require.NoError(t, err)

	job := waitForStatus(t, st, id, vpotypes.JobStatusFailed)
	assert.Contains(t, job.Error, "mkvpropedit exploded")
}

func TestPoolSurvivesHandlerPanic(t *testing.T) {
	p, q, st := newPool(t, 1)

	var calls atomic.Int32
	p.Register(vpotypes.JobKindApply, func(context.Context, *store.JobRecord, func(string, string, ...any)) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	first, err := q.Enqueue(context.Background(), vpotypes.JobKindApply, "/library/a.mkv", 0, "")
	require.NoError(t, err)
	job := waitForStatus(t, st, first, vpotypes.JobStatusFailed)
	assert.Contains(t, job.Error, "handler panic")

	// The worker that caught the panic keeps claiming.
	second, err := q.Enqueue(context.Background(), vpotypes.JobKindApply, "/library/b.mkv", 0, "")
	require.NoError(t, err)
	waitForStatus(t, st, second, vpotypes.JobStatusCompleted)
}

func TestPoolFailsUnregisteredKind(t *testing.T) {
	p, q, st := newPool(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	id, err := q.Enqueue(context.Background(), vpotypes.JobKindMove, "/library/a.mkv", 0, "")
	require.NoError(t, err)

	job := waitForStatus(t, st, id, vpotypes.JobStatusFailed)
	assert.Contains(t, job.Error, "no handler registered")
}

func TestPoolDrainsInFlightJobOnShutdown(t *testing.T) {
	p, q, st := newPool(t, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	p.Register(vpotypes.JobKindApply, func(ctx context.Context, _ *store.JobRecord, _ func(string, string, ...any)) error {
		close(started)
		<-release
		// Shutdown must not have cancelled the job context.
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	id, err := q.Enqueue(context.Background(), vpotypes.JobKindApply, "/library/a.mkv", 0, "")
	require.NoError(t, err)

	<-started
	cancel()
	close(release)

	require.NoError(t, <-done)
	job := waitForStatus(t, st, id, vpotypes.JobStatusCompleted)
	assert.Empty(t, job.Error)
}
