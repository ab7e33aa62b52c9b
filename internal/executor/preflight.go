// SPDX-License-Identifier: MIT

package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/randomparity/vpo-sub005/internal/plan"
	"github.com/randomparity/vpo-sub005/internal/probe"
	"github.com/randomparity/vpo-sub005/internal/tools"
)

// diskFree is swappable in tests.
var diskFree = func(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// preflight verifies everything the run needs before any mutation:
// source readable, target directory writable, tools present, encoders
// resolvable, and enough free disk for the temp output.
func (e *Executor) preflight(p *plan.Plan, fi *probe.FileInfo, strategy Strategy) error {
	info, err := os.Stat(fi.Path)
	if err != nil {
		return errKind(KindPreflight, "stat source", fi.Path, err)
	}
	if info.IsDir() {
		return errKind(KindPreflight, "stat source", fi.Path, fmt.Errorf("is a directory"))
	}

	dir := filepath.Dir(fi.Path)
	if err := checkWritable(dir); err != nil {
		return errKind(KindPreflight, "check target dir", dir, err)
	}

	switch strategy {
	case StrategyPropedit:
		if _, err := e.reg.Require(tools.MKVPropedit); err != nil {
			return errKind(KindTool, "require", fi.Path, err)
		}
	default:
		if _, err := e.reg.Require(tools.FFmpeg); err != nil {
			return errKind(KindTool, "require", fi.Path, err)
		}
	}

	// Resolve every encoder up front so a missing capability aborts
	// before the backup is taken.
	for _, a := range p.Actions {
		switch a.Kind {
		case plan.TranscodeVideo:
			// Listing check only; the runtime probe runs when encoders
			// are resolved for the actual command.
			if _, _, err := selectVideoEncoder(context.Background(), e.reg, a.Codec, a.Hardware, nil); err != nil {
				return errKind(KindTool, "resolve video encoder", fi.Path, err)
			}
		case plan.TranscodeAudio:
			if _, err := selectAudioEncoder(e.reg, a.Codec); err != nil {
				return errKind(KindTool, "resolve audio encoder", fi.Path, err)
			}
		case plan.SynthesizeAudio:
			if a.Synthesis != nil {
				if _, err := selectAudioEncoder(e.reg, a.Synthesis.Codec); err != nil {
					return errKind(KindTool, "resolve synthesis encoder", fi.Path, err)
				}
			}
		case plan.RemuxTo:
			if !e.reg.HasMuxer(muxerFor(a.TargetContainer)) {
				return errKind(KindTool, "resolve muxer", fi.Path,
					fmt.Errorf("ffmpeg build lacks the %s muxer", a.TargetContainer))
			}
		}
	}

	// The propedit strategy edits in place; only ffmpeg strategies
	// materialize a temp output.
	if strategy != StrategyPropedit {
		required := uint64(float64(info.Size()) * spaceRatio(p))
		free, err := diskFree(dir)
		if err != nil {
			return errKind(KindPreflight, "query free space", dir, err)
		}
		// Exactly enough space passes.
		if free < required {
			return errKind(KindPreflight, "disk space", dir,
				fmt.Errorf("need %d bytes free, have %d", required, free))
		}
	}
	return nil
}

func checkWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".vpo_writecheck_*")
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func muxerFor(container string) string {
	switch container {
	case "mkv":
		return "matroska"
	case "ts":
		return "mpegts"
	default:
		return container
	}
}
