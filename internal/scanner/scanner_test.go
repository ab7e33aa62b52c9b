// SPDX-License-Identifier: MIT

package scanner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomparity/vpo-sub005/internal/config"
	"github.com/randomparity/vpo-sub005/internal/probe"
	"github.com/randomparity/vpo-sub005/internal/store"
)

func newScanner(t *testing.T, root string) (*Scanner, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.LibraryRoots = []string{root}

	s := New(st, cfg)
	s.probeFn = func(_ context.Context, _, path string) (*probe.FileInfo, error) {
		st, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		return &probe.FileInfo{
			Path:      path,
			Container: "mkv",
			Size:      st.Size(),
			ModTime:   st.ModTime().UTC(),
			Tracks: []probe.Track{
				{Index: 0, Kind: probe.KindVideo, Codec: "h264"},
				{Index: 1, Kind: probe.KindAudio, Codec: "aac", Language: "eng", Channels: 2},
			},
		}, nil
	}
	return s, st
}

func writeMovie(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestScanAddsAndSkipsUnchanged(t *testing.T) {
	root := t.TempDir()
	writeMovie(t, root, "a.mkv", "aaaa")
	writeMovie(t, root, "b.mp4", "bbbb")
	writeMovie(t, root, "notes.txt", "not media")

	s, st := newScanner(t, root)
	ctx := t.Context()

	sum, err := s.Scan(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Scanned)
	assert.Equal(t, 2, sum.Added)
	assert.Empty(t, sum.Errors)

	n, err := st.FileCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Second pass: nothing changed.
	sum, err = s.Scan(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Added)
	assert.Equal(t, 2, sum.Unchanged)
}

func TestScanDetectsChange(t *testing.T) {
	root := t.TempDir()
	path := writeMovie(t, root, "a.mkv", "aaaa")

	s, _ := newScanner(t, root)
	ctx := t.Context()

	_, err := s.Scan(ctx, Options{})
	require.NoError(t, err)

	// Grow the file and backdate nothing: size alone flags the change.
	require.NoError(t, os.WriteFile(path, []byte("aaaa-longer"), 0o644))

	sum, err := s.Scan(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Updated)
	assert.Equal(t, 0, sum.Added)
}

func TestScanFullReprobesEverything(t *testing.T) {
	root := t.TempDir()
	writeMovie(t, root, "a.mkv", "aaaa")

	s, _ := newScanner(t, root)
	ctx := t.Context()

	_, err := s.Scan(ctx, Options{})
	require.NoError(t, err)

	sum, err := s.Scan(ctx, Options{Full: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Updated)
	assert.Equal(t, 0, sum.Unchanged)
}

func TestScanPrune(t *testing.T) {
	root := t.TempDir()
	keep := writeMovie(t, root, "keep.mkv", "kkkk")
	gone := writeMovie(t, root, "gone.mkv", "gggg")

	s, st := newScanner(t, root)
	ctx := t.Context()

	_, err := s.Scan(ctx, Options{})
	require.NoError(t, err)
	require.NoError(t, os.Remove(gone))

	sum, err := s.Scan(ctx, Options{Prune: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Pruned)

	rec, err := st.GetFileByPath(ctx, gone)
	require.NoError(t, err)
	assert.Nil(t, rec)
	rec, err = st.GetFileByPath(ctx, keep)
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestScanDryRunTouchesNothing(t *testing.T) {
	root := t.TempDir()
	writeMovie(t, root, "a.mkv", "aaaa")

	s, st := newScanner(t, root)
	ctx := t.Context()

	sum, err := s.Scan(ctx, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Added)

	n, err := st.FileCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestScanSkipsWorkFilesAndHiddenDirs(t *testing.T) {
	root := t.TempDir()
	writeMovie(t, root, ".vpo_temp_a.mkv", "temp")
	writeMovie(t, root, "a.vpo_backup.mkv", "backup")
	hidden := filepath.Join(root, ".cache")
	require.NoError(t, os.Mkdir(hidden, 0o755))
	writeMovie(t, hidden, "cached.mkv", "cccc")

	s, _ := newScanner(t, root)
	sum, err := s.Scan(t.Context(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Scanned)
}

func TestScanDoesNotFollowSymlinkedDirs(t *testing.T) {
	outside := t.TempDir()
	writeMovie(t, outside, "outside.mkv", "oooo")

	root := t.TempDir()
	link := filepath.Join(root, "linked")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	s, _ := newScanner(t, root)
	sum, err := s.Scan(t.Context(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Scanned)
}

func TestScanVerifyHashCatchesSilentChange(t *testing.T) {
	root := t.TempDir()
	path := writeMovie(t, root, "a.mkv", "aaaa")

	s, _ := newScanner(t, root)
	ctx := t.Context()

	_, err := s.Scan(ctx, Options{VerifyHash: true})
	require.NoError(t, err)

	// Same size, restored mtime: only the hash reveals the change.
	st, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("bbbb"), 0o644))
	require.NoError(t, os.Chtimes(path, time.Now(), st.ModTime()))

	sum, err := s.Scan(ctx, Options{VerifyHash: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Updated)
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan_report.json")
	sum := &Summary{Scanned: 3, Added: 2, Unchanged: 1}
	require.NoError(t, WriteReport(path, sum))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var rep scanReport
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, 2, rep.Summary.Added)
	assert.False(t, rep.FinishedAt.IsZero())
}
