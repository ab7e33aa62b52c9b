// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/randomparity/vpo-sub005/internal/api"
	"github.com/randomparity/vpo-sub005/internal/config"
	vpolog "github.com/randomparity/vpo-sub005/internal/log"
	"github.com/randomparity/vpo-sub005/internal/policy"
	"github.com/randomparity/vpo-sub005/internal/queue"
	"github.com/randomparity/vpo-sub005/internal/scanner"
	"github.com/randomparity/vpo-sub005/internal/store"
	"github.com/randomparity/vpo-sub005/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// database/sql keeps a connection opener alive per pool.
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

const minimalPolicy = `
name: default
schema_version: 1
phases:
  - name: defaults
    track_defaults:
      audio_language_preference: [eng]
`

// testDaemon assembles a daemon without tool detection, which needs
// real binaries.
func testDaemon(t *testing.T) *Daemon {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.DatabasePath = filepath.Join(cfg.DataDir, "library.db")
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Workers = 1
	cfg.PollInterval = 20 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.StaleThreshold = time.Minute
	require.NoError(t, cfg.EnsureLayout())

	st, err := store.Open(cfg.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	q := queue.New(st)
	d := &Daemon{
		cfg:   cfg,
		store: st,
		queue: q,
		scan:  scanner.New(st, cfg),
		api:   api.NewServer(st, q, api.Options{}),
		pool: worker.New(q, st, worker.Options{
			Workers:           cfg.Workers,
			PollInterval:      cfg.PollInterval,
			HeartbeatInterval: cfg.HeartbeatInterval,
			StaleThreshold:    cfg.StaleThreshold,
		}),
		log:      vpolog.WithComponent("daemon"),
		policies: map[string]*policy.Policy{},
	}
	return d
}

func writePolicy(t *testing.T, dir, name, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644))
}

func TestReloadPolicies(t *testing.T) {
	d := testDaemon(t)

	require.NoError(t, d.reloadPolicies())
	assert.Empty(t, d.PolicyNames())

	writePolicy(t, d.cfg.PoliciesDir(), "default.yaml", minimalPolicy)
	require.NoError(t, d.reloadPolicies())

	pol, err := d.Policy("default")
	require.NoError(t, err)
	assert.Equal(t, "default", pol.Name)

	_, err = d.Policy("missing")
	require.Error(t, err)
}

func TestWatchPoliciesReloadsOnWrite(t *testing.T) {
	d := testDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.watchPolicies(ctx) }()

	// Give the watcher a moment to register before the write.
	time.Sleep(100 * time.Millisecond)
	writePolicy(t, d.cfg.PoliciesDir(), "movies.yaml", minimalPolicy)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := d.Policy("default"); err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	pol, err := d.Policy("default")
	require.NoError(t, err, "watcher never picked up the new policy")
	assert.Equal(t, "default", pol.Name)

	cancel()
	require.NoError(t, <-done)
}

func TestWatchPoliciesKeepsPreviousSetOnBrokenFile(t *testing.T) {
	d := testDaemon(t)
	writePolicy(t, d.cfg.PoliciesDir(), "default.yaml", minimalPolicy)
	require.NoError(t, d.reloadPolicies())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.watchPolicies(ctx) }()

	time.Sleep(100 * time.Millisecond)
	writePolicy(t, d.cfg.PoliciesDir(), "broken.yaml", "phases: [not a phase")

	// The reload fails; the previous generation stays active.
	time.Sleep(time.Second)
	_, err := d.Policy("default")
	require.NoError(t, err)

	cancel()
	require.NoError(t, <-done)
}

func TestRunShutsDownCleanly(t *testing.T) {
	d := testDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestParsePayload(t *testing.T) {
	p, err := parsePayload(`{"policy":"movies","prune":true}`)
	require.NoError(t, err)
	assert.Equal(t, "movies", p.Policy)
	assert.True(t, p.Prune)

	p, err = parsePayload("")
	require.NoError(t, err)
	assert.Empty(t, p.Policy)

	_, err = parsePayload("{broken")
	require.Error(t, err)
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.mkv")
	dest := filepath.Join(dir, "sub", "b.mkv")
	require.NoError(t, os.WriteFile(src, []byte("media"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))

	require.NoError(t, moveFile(src, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "media", string(data))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}
