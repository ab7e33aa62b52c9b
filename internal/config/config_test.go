// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 5*time.Minute, cfg.StaleThreshold)
	assert.NoError(t, cfg.Validate())
}

func TestFileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
data_dir: /from/file
workers: 4
ffmpeg_path: /opt/ffmpeg
log_level: debug
`), 0o644))

	t.Setenv("VPO_DATA_DIR", "/from/env")
	t.Setenv("VPO_FFPROBE_PATH", "/opt/ffprobe")
	t.Setenv("VPO_LOG_COMPRESSION_DAYS", "3")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	// Env wins over file; file wins over defaults.
	assert.Equal(t, "/from/env", cfg.DataDir)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "/opt/ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "/opt/ffprobe", cfg.FFprobePath)
	assert.Equal(t, 3, cfg.LogCompressionDays)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestDatabasePathDerivedFromDataDir(t *testing.T) {
	t.Setenv("VPO_DATA_DIR", "/srv/vpo")
	t.Setenv("VPO_CONFIG_PATH", "")
	t.Setenv("VPO_DATABASE_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/srv/vpo", "library.db"), cfg.DatabasePath)
}

func TestDBTimeoutForms(t *testing.T) {
	t.Setenv("VPO_DB_TIMEOUT", "7")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.DBTimeout)

	t.Setenv("VPO_DB_TIMEOUT", "1500ms")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.DBTimeout)
}

func TestEnsureLayout(t *testing.T) {
	cfg := Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "vpo")
	require.NoError(t, cfg.EnsureLayout())

	for _, dir := range []string{cfg.LogsDir(), cfg.PoliciesDir(), cfg.PluginsDir(), cfg.ProfilesDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.StaleThreshold = cfg.HeartbeatInterval
	assert.Error(t, cfg.Validate())
}

func TestMatchesExtension(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.MatchesExtension("/library/a.MKV"))
	assert.True(t, cfg.MatchesExtension("/library/b.mp4"))
	assert.False(t, cfg.MatchesExtension("/library/notes.txt"))
	assert.False(t, cfg.MatchesExtension("/library/noext"))
}
