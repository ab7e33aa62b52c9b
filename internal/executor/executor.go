// SPDX-License-Identifier: MIT

// Package executor realizes an approved plan against the file on disk.
// The contract: on success the target file embodies the plan; on any
// failure the original file is untouched or restored from backup.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	vpolog "github.com/randomparity/vpo-sub005/internal/log"
	"github.com/randomparity/vpo-sub005/internal/plan"
	"github.com/randomparity/vpo-sub005/internal/probe"
	"github.com/randomparity/vpo-sub005/internal/tools"
)

// Options tune the executor.
type Options struct {
	// DeadlineBase and DeadlinePerGB bound a subprocess run at
	// base + size×rate. Zero base disables the deadline.
	DeadlineBase  time.Duration
	DeadlinePerGB time.Duration

	// KeepBackup leaves the .vpo_backup file in place after success.
	KeepBackup bool
}

// Result summarizes one executed plan.
type Result struct {
	Strategy Strategy
	Encoder  string

	// EncoderType is "hardware", "software", or "" when the run did not
	// encode video. FallbackOccurred marks a software retry after a
	// hardware-encoder failure.
	EncoderType      string
	FallbackOccurred bool

	NewPath     string // differs from the input path after a container conversion
	InputBytes  int64
	OutputBytes int64
	Duration    time.Duration
	Frames      int64
	MeanFPS     float64
	PeakFPS     float64
	MeanBitrate float64
	Warnings    []string
}

// Executor runs plans. Safe for concurrent use; each Execute call is
// independent.
type Executor struct {
	reg  *tools.Registry
	opts Options
	log  zerolog.Logger

	// probeEncoder verifies that a hardware encoder actually
	// initializes on this machine. Swappable in tests.
	probeEncoder encoderProbe

	probeMu    sync.Mutex
	probeCache map[string]error
}

func New(reg *tools.Registry, opts Options) *Executor {
	e := &Executor{
		reg:        reg,
		opts:       opts,
		log:        vpolog.WithComponent("executor"),
		probeCache: map[string]error{},
	}
	e.probeEncoder = e.runEncoderProbe
	return e
}

// Execute realizes the plan. Empty plans return immediately with a
// no-op result.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, fi *probe.FileInfo, onProgress ProgressFunc) (*Result, error) {
	res := &Result{NewPath: fi.Path}
	if p.Empty() {
		res.Strategy = StrategyPropedit
		return res, nil
	}

	_, havePropedit := e.reg.Lookup(tools.MKVPropedit)
	strategy := selectStrategy(p, fi.Container, havePropedit)
	res.Strategy = strategy

	if err := e.preflight(p, fi, strategy); err != nil {
		return nil, err
	}
	if info, err := os.Stat(fi.Path); err == nil {
		res.InputBytes = info.Size()
	}

	e.log.Info().
		Str("path", fi.Path).
		Str("strategy", string(strategy)).
		Int("actions", len(p.Actions)).
		Msg("executing plan")

	var err error
	switch strategy {
	case StrategyPropedit:
		err = e.runPropedit(ctx, p, fi, res)
	default:
		err = e.runFFmpeg(ctx, p, fi, strategy, res, onProgress)
	}
	if err != nil {
		return nil, err
	}

	if err := e.applyMtime(p, res.NewPath, fi); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("set mtime: %v", err))
	}
	if info, err := os.Stat(res.NewPath); err == nil {
		res.OutputBytes = info.Size()
	}
	return res, nil
}

// runPropedit edits the file in place, guarded by a backup.
func (e *Executor) runPropedit(ctx context.Context, p *plan.Plan, fi *probe.FileInfo, res *Result) error {
	tool, err := e.reg.Require(tools.MKVPropedit)
	if err != nil {
		return errKind(KindTool, "require", fi.Path, err)
	}

	backup, err := createBackup(fi.Path)
	if err != nil {
		return errKind(KindPreflight, "create backup", fi.Path, err)
	}

	argv := append([]string{tool.Path}, propeditArgs(p, fi, fi.Path)...)
	run, err := e.runSupervised(ctx, argv, e.deadlineFor(fi.Size), nil)
	res.Duration = run.duration
	if err != nil {
		if rerr := restoreBackup(backup, fi.Path); rerr != nil {
			return errKind(KindRestore, "restore after propedit failure", fi.Path, rerr)
		}
		return errKind(KindSubprocess, "mkvpropedit", fi.Path,
			fmt.Errorf("%w: %s", err, lastLine(run.stderrTail)))
	}

	e.finishBackup(backup)
	return nil
}

// runFFmpeg writes to a sentinel temp and atomically replaces the
// target. All failures between backup and replace restore the source.
func (e *Executor) runFFmpeg(ctx context.Context, p *plan.Plan, fi *probe.FileInfo,
	strategy Strategy, res *Result, onProgress ProgressFunc) error {

	ffmpeg, err := e.reg.Require(tools.FFmpeg)
	if err != nil {
		return errKind(KindTool, "require", fi.Path, err)
	}

	enc, err := e.resolveEncoders(ctx, p)
	if err != nil {
		return errKind(KindTool, "resolve encoders", fi.Path, err)
	}
	res.Encoder = enc.video
	if enc.video != "" {
		res.EncoderType = "software"
		if enc.videoHardware {
			res.EncoderType = "hardware"
		}
	}

	target := targetPath(p, fi.Path)
	temp := tempPath(target)
	defer func() { _ = os.Remove(temp) }()

	backup, err := createBackup(fi.Path)
	if err != nil {
		return errKind(KindPreflight, "create backup", fi.Path, err)
	}

	argv := append([]string{ffmpeg.Path}, e.ffmpegArgs(p, fi, strategy, enc, fi.Path, temp)...)
	run, err := e.runSupervised(ctx, argv, e.deadlineFor(fi.Size), onProgress)
	res.Duration = run.duration
	res.Frames = run.stats.finalFrame
	res.MeanFPS = run.stats.meanFPS()
	res.PeakFPS = run.stats.peakFPS
	res.MeanBitrate = run.stats.meanBitrate()

	// One software retry when the hardware path failed to initialize.
	if err != nil && enc.videoHardware && fallbackAllowed(p) && isHardwareFailure(run.stderrTail) {
		e.log.Warn().Str("encoder", enc.video).Msg("hardware encoder failed, retrying on CPU")
		swEnc := enc
		swEnc.video, _, err = e.softwareVideoEncoder(p)
		if err == nil {
			swEnc.videoHardware = false
			res.Encoder = swEnc.video
			res.EncoderType = "software"
			res.FallbackOccurred = true
			argv = append([]string{ffmpeg.Path}, e.ffmpegArgs(p, fi, strategy, swEnc, fi.Path, temp)...)
			run, err = e.runSupervised(ctx, argv, e.deadlineFor(fi.Size), onProgress)
			res.Duration += run.duration
			res.Frames = run.stats.finalFrame
			res.MeanFPS = run.stats.meanFPS()
			res.PeakFPS = run.stats.peakFPS
			res.MeanBitrate = run.stats.meanBitrate()
		}
	}
	if err != nil {
		if rerr := restoreBackup(backup, fi.Path); rerr != nil {
			return errKind(KindRestore, "restore after ffmpeg failure", fi.Path, rerr)
		}
		return errKind(KindSubprocess, "ffmpeg", fi.Path,
			fmt.Errorf("%w: %s", err, lastLine(run.stderrTail)))
	}

	if err := e.validateOutput(temp, fi.Size, res); err != nil {
		if rerr := restoreBackup(backup, fi.Path); rerr != nil {
			return errKind(KindRestore, "restore after validation failure", fi.Path, rerr)
		}
		return err
	}

	if err := replaceFile(temp, target); err != nil {
		if rerr := restoreBackup(backup, fi.Path); rerr != nil {
			return errKind(KindRestore, "restore after replace failure", fi.Path, rerr)
		}
		return errKind(KindSubprocess, "replace output", target, err)
	}

	// Container conversion leaves the old path behind; drop it once
	// the new file is in place.
	if target != fi.Path {
		_ = os.Remove(fi.Path)
	}
	res.NewPath = target

	e.finishBackup(backup)
	return nil
}

func (e *Executor) finishBackup(backup string) {
	if e.opts.KeepBackup {
		return
	}
	_ = os.Remove(backup)
}

// validateOutput rejects missing/empty results and warns on
// implausibly small ones (≤5% of the input).
func (e *Executor) validateOutput(temp string, inputSize int64, res *Result) error {
	info, err := os.Stat(temp)
	if err != nil {
		return errKind(KindValidation, "stat output", temp, err)
	}
	if info.Size() == 0 {
		return errKind(KindValidation, "check output", temp, fmt.Errorf("output is empty"))
	}
	if inputSize > 0 && info.Size()*20 <= inputSize {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("output is %d bytes, no more than 5%% of the %d byte input", info.Size(), inputSize))
	}
	return nil
}

// applyMtime handles the SET_FILE_MTIME action.
func (e *Executor) applyMtime(p *plan.Plan, path string, fi *probe.FileInfo) error {
	for _, a := range p.Actions {
		if a.Kind != plan.SetFileMtime {
			continue
		}
		ts := fi.ModTime
		if a.Mtime != "" {
			parsed, err := time.Parse(time.RFC3339, a.Mtime)
			if err != nil {
				return fmt.Errorf("parse mtime %q: %w", a.Mtime, err)
			}
			ts = parsed
		}
		return os.Chtimes(path, time.Now(), ts)
	}
	return nil
}

func (e *Executor) resolveEncoders(ctx context.Context, p *plan.Plan) (resolvedEncoders, error) {
	enc := resolvedEncoders{
		audio:     map[int]string{},
		synthesis: map[string]string{},
	}
	for _, a := range p.Actions {
		switch a.Kind {
		case plan.TranscodeVideo:
			name, hw, err := selectVideoEncoder(ctx, e.reg, a.Codec, a.Hardware, e.checkEncoder)
			if err != nil {
				return enc, err
			}
			enc.video, enc.videoHardware = name, hw
		case plan.TranscodeAudio:
			name, err := selectAudioEncoder(e.reg, a.Codec)
			if err != nil {
				return enc, err
			}
			enc.audio[a.TrackIndex] = name
		case plan.SynthesizeAudio:
			if a.Synthesis == nil {
				continue
			}
			name, err := selectAudioEncoder(e.reg, a.Synthesis.Codec)
			if err != nil {
				return enc, err
			}
			enc.synthesis[a.Synthesis.Name] = name
		}
	}
	return enc, nil
}

func (e *Executor) softwareVideoEncoder(p *plan.Plan) (string, bool, error) {
	for _, a := range p.Actions {
		if a.Kind == plan.TranscodeVideo {
			return selectVideoEncoder(context.Background(), e.reg, a.Codec, "none", nil)
		}
	}
	return "", false, fmt.Errorf("plan has no video transcode")
}

// checkEncoder memoizes runtime probe results per encoder so auto
// selection pays for each candidate at most once per process.
func (e *Executor) checkEncoder(ctx context.Context, encoder string) error {
	e.probeMu.Lock()
	defer e.probeMu.Unlock()
	if err, ok := e.probeCache[encoder]; ok {
		return err
	}
	err := e.probeEncoder(ctx, encoder)
	e.probeCache[encoder] = err
	return err
}

// runEncoderProbe encodes a single synthetic frame to the null muxer.
// A hardware encoder that is listed but cannot reach its device fails
// here instead of mid-run.
func (e *Executor) runEncoderProbe(ctx context.Context, encoder string) error {
	ffmpeg, err := e.reg.Require(tools.FFmpeg)
	if err != nil {
		return err
	}
	argv := []string{ffmpeg.Path, "-hide_banner", "-v", "error", "-nostdin",
		"-f", "lavfi", "-i", "color=c=black:s=256x256:d=0.1",
		"-frames:v", "1", "-c:v", encoder, "-f", "null", "-"}
	run, err := e.runSupervised(ctx, argv, 30*time.Second, nil)
	if err != nil {
		return fmt.Errorf("encoder %s failed runtime check: %w: %s",
			encoder, err, lastLine(run.stderrTail))
	}
	return nil
}

func fallbackAllowed(p *plan.Plan) bool {
	for _, a := range p.Actions {
		if a.Kind == plan.TranscodeVideo {
			return a.FallbackToCPU
		}
	}
	return false
}

// targetPath applies a REMUX_TO container change to the output path.
func targetPath(p *plan.Plan, source string) string {
	for _, a := range p.Actions {
		if a.Kind == plan.RemuxTo && a.TargetContainer != "" {
			ext := "." + a.TargetContainer
			base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
			return filepath.Join(filepath.Dir(source), base+ext)
		}
	}
	return source
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
