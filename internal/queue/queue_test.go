// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomparity/vpo-sub005/internal/store"
	"github.com/randomparity/vpo-sub005/internal/vpotypes"
)

func testQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "vpo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s), s
}

func TestEnqueueClaimRelease(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, vpotypes.JobKindApply, "/library/a.mkv", 0, `{"plan_id":"p1"}`)
	require.NoError(t, err)

	job, err := q.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, vpotypes.JobStatusRunning, job.Status)
	assert.Equal(t, "worker-1", job.WorkerID)
	assert.Equal(t, 1, job.Attempts)

	// Empty queue reports no work, not an error.
	none, err := q.ClaimNext(ctx, "worker-2")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, q.Heartbeat(ctx, id, "worker-1"))
	assert.ErrorIs(t, q.Heartbeat(ctx, id, "worker-2"), ErrNotOwner)

	require.NoError(t, q.Release(ctx, id, "worker-1", vpotypes.JobStatusCompleted, ""))
	assert.ErrorIs(t, q.Heartbeat(ctx, id, "worker-1"), ErrNotOwner)
}

func TestClaimPriorityThenFIFO(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	bulk1, err := q.Enqueue(ctx, vpotypes.JobKindScan, "/a", 10, "")
	require.NoError(t, err)
	urgent, err := q.Enqueue(ctx, vpotypes.JobKindScan, "/b", 0, "")
	require.NoError(t, err)
	bulk2, err := q.Enqueue(ctx, vpotypes.JobKindScan, "/c", 10, "")
	require.NoError(t, err)

	var order []string
	for range 3 {
		job, err := q.ClaimNext(ctx, "w")
		require.NoError(t, err)
		require.NotNil(t, job)
		order = append(order, job.ID)
	}
	// Lower priority value runs sooner; equal priorities are FIFO.
	assert.Equal(t, []string{urgent, bulk1, bulk2}, order)
}

func TestConcurrentClaimExclusivity(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, vpotypes.JobKindTranscode, "/library/big.mkv", 0, "")
	require.NoError(t, err)

	const claimers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := range claimers {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			job, err := q.ClaimNext(ctx, workerName(worker))
			assert.NoError(t, err)
			if job != nil {
				mu.Lock()
				winners = append(winners, job.ID)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1, "exactly one claimer may win")
	assert.Equal(t, id, winners[0])
}

func TestMutatingJobsExclusivePerFile(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, vpotypes.JobKindApply, "/library/a.mkv", 0, "")
	require.NoError(t, err)

	// A second mutating job for the same path is rejected while the
	// first is active.
	_, err = q.Enqueue(ctx, vpotypes.JobKindTranscode, "/library/a.mkv", 0, "")
	require.Error(t, err)

	// Non-mutating kinds and other paths are fine.
	_, err = q.Enqueue(ctx, vpotypes.JobKindScan, "/library/a.mkv", 0, "")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, vpotypes.JobKindApply, "/library/b.mkv", 0, "")
	require.NoError(t, err)
}

func TestStaleRecovery(t *testing.T) {
	q, s := testQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, vpotypes.JobKindApply, "/library/a.mkv", 0, "")
	require.NoError(t, err)
	job, err := q.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)

	// Backdate the heartbeat past the threshold.
	old := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)
	_, err = s.DB().ExecContext(ctx, `UPDATE jobs SET heartbeat_at = ? WHERE id = ?`, old, id)
	require.NoError(t, err)

	n, err := q.RecoverStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, vpotypes.JobStatusQueued, rec.Status)
	assert.Empty(t, rec.WorkerID)

	// The recovered job is claimable again.
	again, err := q.ClaimNext(ctx, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, id, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestProgressLifecycle(t *testing.T) {
	q, s := testQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, vpotypes.JobKindTranscode, "/library/a.mkv", 0, "")
	require.NoError(t, err)
	job, err := q.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, q.UpdateProgress(ctx, id, "worker-1", 42.5, `{"frame":1000,"fps":60}`))
	assert.ErrorIs(t, q.UpdateProgress(ctx, id, "worker-2", 50, ""), ErrNotOwner)

	rec, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 42.5, rec.Progress)
	assert.Equal(t, `{"frame":1000,"fps":60}`, rec.ProgressDetail)

	// Out-of-range percent is clamped.
	require.NoError(t, q.UpdateProgress(ctx, id, "worker-1", 140, ""))
	rec, err = s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 100.0, rec.Progress)

	// Stale recovery returns the job to the queue with progress cleared.
	old := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)
	_, err = s.DB().ExecContext(ctx, `UPDATE jobs SET heartbeat_at = ? WHERE id = ?`, old, id)
	require.NoError(t, err)
	n, err := q.RecoverStale(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, err = s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, rec.Progress)
	assert.Empty(t, rec.ProgressDetail)
}

func TestFreshHeartbeatSurvivesRecovery(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, vpotypes.JobKindApply, "/library/a.mkv", 0, "")
	require.NoError(t, err)
	job, err := q.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)

	n, err := q.RecoverStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancelAndRequeue(t *testing.T) {
	q, s := testQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, vpotypes.JobKindApply, "/library/a.mkv", 0, "")
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, id))

	// Cancel is queued-only.
	assert.Error(t, q.Cancel(ctx, id))

	require.NoError(t, q.Requeue(ctx, id))
	rec, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, vpotypes.JobStatusQueued, rec.Status)
	assert.Empty(t, rec.Error)

	// Running jobs cannot be cancelled or requeued.
	job, err := q.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Error(t, q.Cancel(ctx, id))
	assert.Error(t, q.Requeue(ctx, id))
}

func workerName(i int) string {
	return "worker-" + string(rune('a'+i))
}
