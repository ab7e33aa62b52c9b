// SPDX-License-Identifier: MIT

package maintain

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomparity/vpo-sub005/internal/config"
	"github.com/randomparity/vpo-sub005/internal/store"
	"github.com/randomparity/vpo-sub005/internal/vpotypes"
)

func newRunner(t *testing.T) (*Runner, *store.Store, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.DatabasePath = filepath.Join(cfg.DataDir, "library.db")
	cfg.LibraryRoots = []string{t.TempDir()}
	require.NoError(t, cfg.EnsureLayout())

	st, err := store.Open(cfg.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return New(cfg, st), st, cfg
}

func backdatedFile(t *testing.T, path string, age time.Duration, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestRotateLogs(t *testing.T) {
	r, _, cfg := newRunner(t)
	logs := cfg.LogsDir()

	// Defaults: compress after 7 days, delete after 30.
	backdatedFile(t, filepath.Join(logs, "fresh.log"), time.Hour, "fresh")
	backdatedFile(t, filepath.Join(logs, "aging.log"), 10*24*time.Hour, "aging content")
	backdatedFile(t, filepath.Join(logs, "ancient.log"), 40*24*time.Hour, "ancient")
	backdatedFile(t, filepath.Join(logs, "archived.log.gz"), 40*24*time.Hour, "gz")

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.LogsCompressed)
	assert.Equal(t, 2, rep.LogsDeleted)
	assert.Empty(t, rep.Errors)

	// fresh.log untouched, aging.log replaced by a readable gz.
	_, err = os.Stat(filepath.Join(logs, "fresh.log"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(logs, "aging.log"))
	assert.True(t, os.IsNotExist(err))

	f, err := os.Open(filepath.Join(logs, "aging.log.gz"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "aging content", string(data))
}

func TestCompressedLogKeepsSourceMtime(t *testing.T) {
	r, _, cfg := newRunner(t)
	logs := cfg.LogsDir()
	backdatedFile(t, filepath.Join(logs, "aging.log"), 10*24*time.Hour, "x")

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(logs, "aging.log.gz"))
	require.NoError(t, err)
	// Still inside the deletion window but carrying the old clock, so
	// 20 more days will expire it.
	assert.WithinDuration(t, time.Now().Add(-10*24*time.Hour), info.ModTime(), time.Hour)
}

func TestSweepOrphans(t *testing.T) {
	r, _, cfg := newRunner(t)
	lib := cfg.LibraryRoots[0]

	backdatedFile(t, filepath.Join(lib, ".vpo_temp_movie.mkv"), 2*time.Hour, "stale temp")
	backdatedFile(t, filepath.Join(lib, "movie.mkv.vpo_staging"), 2*time.Hour, "stale staging")
	// A temp an executor is writing right now stays.
	backdatedFile(t, filepath.Join(lib, ".vpo_temp_active.mkv"), time.Minute, "active")
	backdatedFile(t, filepath.Join(lib, "movie.mkv"), 2*time.Hour, "real media")

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.TempsRemoved)

	_, err = os.Stat(filepath.Join(lib, ".vpo_temp_active.mkv"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(lib, "movie.mkv"))
	require.NoError(t, err)
}

func TestPurgeHistory(t *testing.T) {
	r, st, _ := newRunner(t)
	ctx := context.Background()

	// Insert a finished job backdated past the deletion window via the
	// store's own DML, then age it directly.
	_, err := st.DB().ExecContext(ctx, `
	INSERT INTO jobs (id, kind, file_path, status, created_at, finished_at)
	VALUES ('old-job', 'apply', '/library/a.mkv', 'completed', ?, ?)
	`, "2020-01-01T00:00:00Z", "2020-01-02T00:00:00Z")
	require.NoError(t, err)
	_, err = st.DB().ExecContext(ctx, `
	INSERT INTO job_logs (job_id, ts, level, message)
	VALUES ('old-job', '2020-01-01T00:00:01Z', 'info', 'done')
	`)
	require.NoError(t, err)

	// A recent job survives.
	recent, err := st.DB().ExecContext(ctx, `
	INSERT INTO jobs (id, kind, file_path, status, created_at, finished_at)
	VALUES ('new-job', 'apply', '/library/b.mkv', 'completed', ?, ?)
	`, time.Now().UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, err)
	_ = recent

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.JobsPurged)
	assert.Equal(t, int64(1), rep.JobLogsPurged)

	job, err := st.GetJob(ctx, "old-job")
	require.NoError(t, err)
	assert.Nil(t, job)
	job, err = st.GetJob(ctx, "new-job")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, vpotypes.JobStatusCompleted, job.Status)
}
