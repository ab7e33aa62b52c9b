// SPDX-License-Identifier: MIT

package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomparity/vpo-sub005/internal/plan"
	"github.com/randomparity/vpo-sub005/internal/probe"
	"github.com/randomparity/vpo-sub005/internal/tools"
)

func fullRegistry(t *testing.T, encoders ...string) *tools.Registry {
	t.Helper()
	if len(encoders) == 0 {
		encoders = []string{"libx265", "libx264", "libsvtav1", "aac", "ac3", "eac3", "libopus"}
	}
	return tools.NewStatic(
		[]*tools.Tool{
			{Name: tools.FFmpeg, Path: "/usr/bin/ffmpeg", Version: tools.Version{Major: 6, Minor: 1}},
			{Name: tools.FFprobe, Path: "/usr/bin/ffprobe", Version: tools.Version{Major: 6, Minor: 1}},
			{Name: tools.MKVPropedit, Path: "/usr/bin/mkvpropedit", Version: tools.Version{Major: 80}},
		},
		encoders,
		[]string{"matroska", "mp4", "mpegts"},
		[]string{"aresample", "aformat", "anull"},
	)
}

func movieInfo(path string) *probe.FileInfo {
	return &probe.FileInfo{
		Path:      path,
		Container: "mkv",
		Size:      4 << 30,
		ModTime:   time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC),
		Tracks: []probe.Track{
			{Index: 0, Kind: probe.KindVideo, Codec: "h264", Width: 1920, Height: 1080},
			{Index: 1, Kind: probe.KindAudio, Codec: "truehd", Language: "eng", Channels: 8},
			{Index: 2, Kind: probe.KindAudio, Codec: "ac3", Language: "eng", Channels: 6},
			{Index: 3, Kind: probe.KindSubtitle, Codec: "subrip", Language: "eng"},
		},
	}
}

func TestSelectStrategy(t *testing.T) {
	metaPlan := &plan.Plan{Actions: []plan.Action{
		{Kind: plan.SetDefault, TrackIndex: 1, DesiredValue: "true"},
		{Kind: plan.SetLanguage, TrackIndex: 3, DesiredValue: "eng"},
	}}
	assert.Equal(t, StrategyPropedit, selectStrategy(metaPlan, "mkv", true))
	assert.Equal(t, StrategyStreamCopy, selectStrategy(metaPlan, "mkv", false))
	assert.Equal(t, StrategyStreamCopy, selectStrategy(metaPlan, "mp4", true))

	removePlan := &plan.Plan{Actions: []plan.Action{
		{Kind: plan.RemoveTrack, TrackIndex: 2},
	}}
	assert.Equal(t, StrategyStreamCopy, selectStrategy(removePlan, "mkv", true))

	transcodePlan := &plan.Plan{Actions: []plan.Action{
		{Kind: plan.TranscodeVideo, TrackIndex: 0, Codec: "hevc"},
	}}
	assert.Equal(t, StrategyTranscode, selectStrategy(transcodePlan, "mkv", true))

	synthPlan := &plan.Plan{Actions: []plan.Action{
		{Kind: plan.SynthesizeAudio, Synthesis: &plan.SynthesisSpec{Name: "stereo", Codec: "aac"}},
	}}
	assert.Equal(t, StrategyTranscode, selectStrategy(synthPlan, "mkv", true))
}

func TestSpaceRatio(t *testing.T) {
	assert.Equal(t, 1.0, spaceRatio(&plan.Plan{}))

	p := &plan.Plan{Actions: []plan.Action{
		{Kind: plan.TranscodeVideo, Codec: "hevc", SpaceRatio: 0.5},
	}}
	assert.Equal(t, 0.5, spaceRatio(p))

	p.Actions = append(p.Actions, plan.Action{Kind: plan.RemoveTrack, TrackIndex: 2})
	assert.Equal(t, 0.5, spaceRatio(p))
}

func TestParseProgressLine(t *testing.T) {
	line := "frame= 1234 fps= 56 q=28.0 size=   12800KiB time=00:01:23.45 bitrate=1260.1kbits/s speed=2.34x"
	p, ok := parseProgressLine(line)
	require.True(t, ok)
	assert.Equal(t, int64(1234), p.Frame)
	assert.Equal(t, 56.0, p.FPS)
	assert.Equal(t, 1260.1, p.Bitrate)
	assert.Equal(t, "00:01:23.45", p.Time)
	assert.Equal(t, "2.34x", p.Speed)

	_, ok = parseProgressLine("[libx265 @ 0x55] x265 [info]: HEVC encoder version 3.5")
	assert.False(t, ok)
}

func TestProgressSeconds(t *testing.T) {
	assert.Equal(t, 83.45, Progress{Time: "00:01:23.45"}.Seconds())
	assert.Equal(t, 3600.0, Progress{Time: "01:00:00.00"}.Seconds())
	assert.Zero(t, Progress{Time: "N/A"}.Seconds())
	assert.Zero(t, Progress{}.Seconds())
}

func TestStatsAggregator(t *testing.T) {
	var agg statsAggregator
	agg.observe(Progress{Frame: 100, FPS: 40, Bitrate: 1000})
	agg.observe(Progress{Frame: 200, FPS: 60, Bitrate: 2000})
	agg.observe(Progress{Frame: 300, FPS: 0, Bitrate: 0}) // zero samples skipped

	assert.Equal(t, int64(300), agg.finalFrame)
	assert.Equal(t, 50.0, agg.meanFPS())
	assert.Equal(t, 60.0, agg.peakFPS)
	assert.Equal(t, 1500.0, agg.meanBitrate())
}

func TestSelectVideoEncoder(t *testing.T) {
	sw := fullRegistry(t)
	name, hw, err := selectVideoEncoder(t.Context(), sw, "hevc", "auto", nil)
	require.NoError(t, err)
	assert.Equal(t, "libx265", name)
	assert.False(t, hw)

	nv := fullRegistry(t, "hevc_nvenc", "libx265", "aac")
	name, hw, err = selectVideoEncoder(t.Context(), nv, "h265", "auto", nil)
	require.NoError(t, err)
	assert.Equal(t, "hevc_nvenc", name)
	assert.True(t, hw)

	_, _, err = selectVideoEncoder(t.Context(), sw, "hevc", "nvenc", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hevc_nvenc")

	_, _, err = selectVideoEncoder(t.Context(), sw, "prores", "auto", nil)
	require.Error(t, err)

	name, _, err = selectVideoEncoder(t.Context(), nv, "hevc", "none", nil)
	require.NoError(t, err)
	assert.Equal(t, "libx265", name)
}

func TestAutoEncoderRuntimeGate(t *testing.T) {
	reg := fullRegistry(t, "hevc_nvenc", "hevc_qsv", "libx265", "aac")

	// A listed encoder that fails its runtime check is skipped in favor
	// of the next candidate.
	nvencDown := func(ctx context.Context, encoder string) error {
		if encoder == "hevc_nvenc" {
			return fmt.Errorf("no CUDA device")
		}
		return nil
	}
	name, hw, err := selectVideoEncoder(t.Context(), reg, "hevc", "auto", nvencDown)
	require.NoError(t, err)
	assert.Equal(t, "hevc_qsv", name)
	assert.True(t, hw)

	// All hardware candidates failing lands on software.
	allDown := func(context.Context, string) error { return fmt.Errorf("no device") }
	name, hw, err = selectVideoEncoder(t.Context(), reg, "hevc", "auto", allDown)
	require.NoError(t, err)
	assert.Equal(t, "libx265", name)
	assert.False(t, hw)

	// Explicit modes bypass the probe.
	name, _, err = selectVideoEncoder(t.Context(), reg, "hevc", "nvenc", allDown)
	require.NoError(t, err)
	assert.Equal(t, "hevc_nvenc", name)
}

func TestSelectAudioEncoder(t *testing.T) {
	reg := fullRegistry(t)
	name, err := selectAudioEncoder(reg, "aac")
	require.NoError(t, err)
	assert.Equal(t, "aac", name)

	name, err = selectAudioEncoder(reg, "opus")
	require.NoError(t, err)
	assert.Equal(t, "libopus", name)

	_, err = selectAudioEncoder(reg, "atrac3")
	require.Error(t, err)
}

func TestIsHardwareFailure(t *testing.T) {
	assert.True(t, isHardwareFailure("[hevc_nvenc @ 0x55] Cannot load nvcuda.dll"))
	assert.True(t, isHardwareFailure("Failed to initialise VAAPI connection: -1"))
	assert.False(t, isHardwareFailure("Invalid data found when processing input"))
}

func TestFFmpegArgsStreamCopy(t *testing.T) {
	fi := movieInfo("/library/movie.mkv")
	p := &plan.Plan{Actions: []plan.Action{
		{Kind: plan.RemoveTrack, TrackIndex: 2},
		{Kind: plan.SetDefault, TrackIndex: 1, DesiredValue: "true"},
		{Kind: plan.SetLanguage, TrackIndex: 3, DesiredValue: "eng"},
	}}
	e := New(fullRegistry(t), Options{})

	args := e.ffmpegArgs(p, fi, StrategyStreamCopy, resolvedEncoders{}, fi.Path, "/library/.vpo_temp_movie.mkv")
	joined := strings.Join(args, " ")

	// Track 2 removed: maps are 0, 1, 3 and the subtitle lands on
	// output stream 2.
	assert.Contains(t, joined, "-map 0:0 -map 0:1 -map 0:3")
	assert.NotContains(t, joined, "-map 0:2")
	assert.Contains(t, joined, "-c copy")
	assert.Contains(t, joined, "-disposition:1 default")
	assert.Contains(t, joined, "-metadata:s:2 language=eng")
	assert.Contains(t, joined, "-stats_period 1")
	assert.Equal(t, "/library/.vpo_temp_movie.mkv", args[len(args)-1])
}

func TestFFmpegArgsReorder(t *testing.T) {
	fi := movieInfo("/library/movie.mkv")
	p := &plan.Plan{Actions: []plan.Action{
		{Kind: plan.Reorder, NewOrder: []int{0, 2, 1, 3}},
		{Kind: plan.SetDefault, TrackIndex: 2, DesiredValue: "true"},
	}}
	e := New(fullRegistry(t), Options{})

	args := e.ffmpegArgs(p, fi, StrategyStreamCopy, resolvedEncoders{}, fi.Path, "/tmp/out.mkv")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-map 0:0 -map 0:2 -map 0:1 -map 0:3")
	// Source track 2 now sits at output stream 1.
	assert.Contains(t, joined, "-disposition:1 default")

	// Reordering composes with removal: unlisted survivors follow in
	// source order.
	p = &plan.Plan{Actions: []plan.Action{
		{Kind: plan.RemoveTrack, TrackIndex: 3},
		{Kind: plan.Reorder, NewOrder: []int{2, 0}},
	}}
	args = e.ffmpegArgs(p, fi, StrategyStreamCopy, resolvedEncoders{}, fi.Path, "/tmp/out.mkv")
	joined = strings.Join(args, " ")
	assert.Contains(t, joined, "-map 0:2 -map 0:0 -map 0:1")
	assert.NotContains(t, joined, "-map 0:3")
}

func TestFFmpegArgsTranscode(t *testing.T) {
	fi := movieInfo("/library/movie.mkv")
	p := &plan.Plan{Actions: []plan.Action{
		{Kind: plan.TranscodeVideo, TrackIndex: 0, Codec: "hevc", CRF: 22, Preset: "slow"},
		{Kind: plan.CopyStream, TrackIndex: 1},
		{Kind: plan.TranscodeAudio, TrackIndex: 2, Codec: "aac", Bitrate: "256k"},
	}}
	enc := resolvedEncoders{
		video: "libx265",
		audio: map[int]string{2: "aac"},
	}
	e := New(fullRegistry(t), Options{})

	args := e.ffmpegArgs(p, fi, StrategyTranscode, enc, fi.Path, "/library/.vpo_temp_movie.mkv")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-c copy")
	assert.Contains(t, joined, "-c:0 libx265 -crf 22")
	assert.Contains(t, joined, "-preset slow")
	assert.Contains(t, joined, "-c:2 aac -b:2 256k")
	assert.Contains(t, joined, "-fps_mode passthrough")
}

func TestFFmpegArgsHardwareQualityFlag(t *testing.T) {
	fi := movieInfo("/library/movie.mkv")
	p := &plan.Plan{Actions: []plan.Action{
		{Kind: plan.TranscodeVideo, TrackIndex: 0, Codec: "hevc", CRF: 24},
	}}
	enc := resolvedEncoders{video: "hevc_nvenc", videoHardware: true}
	e := New(fullRegistry(t), Options{})

	args := e.ffmpegArgs(p, fi, StrategyTranscode, enc, fi.Path, "/tmp/out.mkv")
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-c:0 hevc_nvenc -cq 24")
	assert.NotContains(t, joined, "-crf")
}

func TestFFmpegArgsSynthesis(t *testing.T) {
	fi := movieInfo("/library/movie.mkv")
	spec := &plan.SynthesisSpec{
		Name:          "downmix",
		SourceIndex:   1,
		Codec:         "aac",
		Channels:      2,
		Bitrate:       "192k",
		DownmixFilter: "aresample=async=1:first_pts=0:min_hard_comp=0.100,aformat=sample_rates=48000:channel_layouts=stereo",
		Title:         "Stereo",
		Language:      "eng",
		Position:      "after_source",
	}
	p := &plan.Plan{Actions: []plan.Action{
		{Kind: plan.SynthesizeAudio, Synthesis: spec},
	}}
	enc := resolvedEncoders{synthesis: map[string]string{"downmix": "aac"}}
	e := New(fullRegistry(t), Options{})

	args := e.ffmpegArgs(p, fi, StrategyTranscode, enc, fi.Path, "/tmp/out.mkv")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-filter_complex [0:1]aresample=async=1")
	assert.Contains(t, joined, "channel_layouts=stereo[synth0]")
	// after_source on track 1: video, source audio, synthesized, then
	// the rest.
	assert.Contains(t, joined, "-map 0:0 -map 0:1 -map [synth0] -map 0:2 -map 0:3")
	assert.Contains(t, joined, "-c:2 aac -b:2 192k -ac:2 2")
	assert.Contains(t, joined, "-metadata:s:2 language=eng")
	assert.Contains(t, joined, "-metadata:s:2 title=Stereo")
}

func TestPropeditArgs(t *testing.T) {
	fi := movieInfo("/library/movie.mkv")
	p := &plan.Plan{Actions: []plan.Action{
		{Kind: plan.ClearDefault, TrackIndex: 1, DesiredValue: "false"},
		{Kind: plan.SetDefault, TrackIndex: 2, DesiredValue: "true"},
		{Kind: plan.SetForced, TrackIndex: 3, DesiredValue: "true"},
		{Kind: plan.SetTitle, TrackIndex: 1, DesiredValue: "TrueHD 7.1"},
		{Kind: plan.SetContainerMetadata, CurrentValue: "title", DesiredValue: ""},
	}}

	args := propeditArgs(p, fi, fi.Path)
	joined := strings.Join(args, " ")

	assert.Equal(t, "/library/movie.mkv", args[0])
	// mkvpropedit selectors are 1-based.
	assert.Contains(t, joined, "--edit track:2 --set flag-default=0")
	assert.Contains(t, joined, "--edit track:3 --set flag-default=1")
	assert.Contains(t, joined, "--edit track:4 --set flag-forced=1")
	assert.Contains(t, joined, "--edit track:2 --set name=TrueHD 7.1")
	assert.Contains(t, joined, "--edit info --delete title")
}

func TestPreflightDiskSpace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(path, make([]byte, 1000), 0o644))

	fi := movieInfo(path)
	fi.Size = 1000
	p := &plan.Plan{Actions: []plan.Action{
		{Kind: plan.TranscodeVideo, TrackIndex: 0, Codec: "hevc", SpaceRatio: 0.5},
	}}
	e := New(fullRegistry(t), Options{})

	orig := diskFree
	defer func() { diskFree = orig }()

	diskFree = func(string) (uint64, error) { return 499, nil }
	err := e.preflight(p, fi, StrategyTranscode)
	require.Error(t, err)
	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindPreflight, execErr.Kind)

	// Exactly the required amount passes.
	diskFree = func(string) (uint64, error) { return 500, nil }
	require.NoError(t, e.preflight(p, fi, StrategyTranscode))
}

func TestPreflightMissingEncoder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	fi := movieInfo(path)
	p := &plan.Plan{Actions: []plan.Action{
		{Kind: plan.TranscodeVideo, TrackIndex: 0, Codec: "hevc", Hardware: "nvenc"},
	}}
	e := New(fullRegistry(t), Options{}) // software-only registry

	err := e.preflight(p, fi, StrategyTranscode)
	require.Error(t, err)
	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindTool, execErr.Kind)
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	bak, err := createBackup(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "movie.vpo_backup.mkv"), bak)

	// Simulate a corrupting run, then restore.
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	require.NoError(t, restoreBackup(bak, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
	_, err = os.Stat(bak)
	assert.True(t, os.IsNotExist(err))
}

func TestReplaceFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "movie.mkv")
	temp := tempPath(target)
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(temp, []byte("new"), 0o644))

	require.NoError(t, replaceFile(temp, target))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	_, err = os.Stat(temp)
	assert.True(t, os.IsNotExist(err))
}

func TestTempAndBackupNaming(t *testing.T) {
	assert.Equal(t, "/lib/.vpo_temp_movie.mkv", tempPath("/lib/movie.mkv"))
	assert.Equal(t, "/lib/movie.vpo_backup.mkv", backupPath("/lib/movie.mkv"))
}

func TestTargetPathRemux(t *testing.T) {
	p := &plan.Plan{Actions: []plan.Action{
		{Kind: plan.RemuxTo, TargetContainer: "mkv"},
	}}
	assert.Equal(t, "/lib/movie.mkv", targetPath(p, "/lib/movie.avi"))
	assert.Equal(t, "/lib/movie.mkv", targetPath(&plan.Plan{}, "/lib/movie.mkv"))
}

// fakeFFmpeg writes a shell script that fails with a hardware
// initialization error for nvenc runs and produces output otherwise.
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := `#!/bin/sh
case "$*" in
*hevc_nvenc*)
	echo "Cannot load nvcuda.so.1" >&2
	exit 1
	;;
esac
out=""
for a in "$@"; do out="$a"; done
printf 'encoded-by-software-path' > "$out"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestHardwareFallbackRecorded(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(src, []byte(strings.Repeat("x", 256)), 0o644))

	reg := tools.NewStatic(
		[]*tools.Tool{
			{Name: tools.FFmpeg, Path: fakeFFmpeg(t), Version: tools.Version{Major: 6, Minor: 1}},
		},
		[]string{"hevc_nvenc", "libx265"},
		[]string{"matroska"},
		nil,
	)

	fi := movieInfo(src)
	fi.Size = 256
	p := &plan.Plan{Actions: []plan.Action{
		{Kind: plan.TranscodeVideo, TrackIndex: 0, Codec: "hevc",
			Hardware: "nvenc", FallbackToCPU: true},
	}}

	orig := diskFree
	defer func() { diskFree = orig }()
	diskFree = func(string) (uint64, error) { return 1 << 40, nil }

	e := New(reg, Options{})
	res, err := e.Execute(t.Context(), p, fi, nil)
	require.NoError(t, err)

	assert.Equal(t, "libx265", res.Encoder)
	assert.Equal(t, "software", res.EncoderType)
	assert.True(t, res.FallbackOccurred)
	assert.Equal(t, src, res.NewPath)

	data, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "encoded-by-software-path", string(data))
}

func TestExecuteEmptyPlanIsNoOp(t *testing.T) {
	e := New(fullRegistry(t), Options{})
	fi := movieInfo("/nonexistent/movie.mkv")

	res, err := e.Execute(t.Context(), &plan.Plan{}, fi, nil)
	require.NoError(t, err)
	assert.Equal(t, fi.Path, res.NewPath)
}

func TestDeadlineFor(t *testing.T) {
	e := New(fullRegistry(t), Options{
		DeadlineBase:  10 * time.Minute,
		DeadlinePerGB: 5 * time.Minute,
	})
	assert.Equal(t, 20*time.Minute, e.deadlineFor(2<<30))

	none := New(fullRegistry(t), Options{})
	assert.Equal(t, time.Duration(0), none.deadlineFor(2<<30))
}

func TestScanCRLines(t *testing.T) {
	adv, token, err := scanCRLines([]byte("frame= 10\rframe= 20\n"), false)
	require.NoError(t, err)
	assert.Equal(t, 10, adv)
	assert.Equal(t, "frame= 10", string(token))

	adv, token, err = scanCRLines([]byte("tail"), true)
	require.NoError(t, err)
	assert.Equal(t, 4, adv)
	assert.Equal(t, "tail", string(token))
}
