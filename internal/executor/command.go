// SPDX-License-Identifier: MIT

package executor

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/randomparity/vpo-sub005/internal/plan"
	"github.com/randomparity/vpo-sub005/internal/probe"
)

// outputLayout maps the plan onto concrete output streams: surviving
// input tracks in index order, synthesized tracks spliced in by their
// position directive.
type outputLayout struct {
	// inputs holds the surviving source track indexes in output order.
	// Synthesized streams are appended after their anchor.
	entries []layoutEntry

	// outIndex maps a source track index to its output stream index.
	outIndex map[int]int
}

type layoutEntry struct {
	sourceIndex int                 // -1 for synthesized streams
	synthesis   *plan.SynthesisSpec // non-nil for synthesized streams
}

func buildLayout(p *plan.Plan, fi *probe.FileInfo) *outputLayout {
	removed := p.RemovedIndexes()

	var surviving []probe.Track
	for _, t := range fi.Tracks {
		if !removed[t.Index] {
			surviving = append(surviving, t)
		}
	}
	sort.SliceStable(surviving, func(i, j int) bool {
		return surviving[i].Index < surviving[j].Index
	})

	// A REORDER action dictates output order by listing source indexes;
	// surviving tracks it does not mention follow in source order.
	for _, a := range p.Actions {
		if a.Kind != plan.Reorder || len(a.NewOrder) == 0 {
			continue
		}
		pos := make(map[int]int, len(a.NewOrder))
		for i, idx := range a.NewOrder {
			pos[idx] = i
		}
		sort.SliceStable(surviving, func(i, j int) bool {
			pi, iok := pos[surviving[i].Index]
			pj, jok := pos[surviving[j].Index]
			switch {
			case iok && jok:
				return pi < pj
			case iok:
				return true
			default:
				return false
			}
		})
		break
	}

	l := &outputLayout{outIndex: map[int]int{}}
	for _, t := range surviving {
		l.entries = append(l.entries, layoutEntry{sourceIndex: t.Index})
	}

	for _, a := range p.Actions {
		if a.Kind != plan.SynthesizeAudio || a.Synthesis == nil {
			continue
		}
		l.insertSynthesis(a.Synthesis)
	}

	for i, e := range l.entries {
		if e.sourceIndex >= 0 {
			l.outIndex[e.sourceIndex] = i
		}
	}
	return l
}

func (l *outputLayout) insertSynthesis(spec *plan.SynthesisSpec) {
	entry := layoutEntry{sourceIndex: -1, synthesis: spec}

	pos := len(l.entries)
	switch spec.Position {
	case "after_source":
		for i, e := range l.entries {
			if e.sourceIndex == spec.SourceIndex {
				pos = i + 1
				break
			}
		}
	case "end", "":
		// append
	default:
		if n, err := strconv.Atoi(spec.Position); err == nil && n >= 1 && n <= len(l.entries)+1 {
			pos = n - 1
		}
	}

	l.entries = append(l.entries, layoutEntry{})
	copy(l.entries[pos+1:], l.entries[pos:])
	l.entries[pos] = entry
}

// ffmpegArgs builds the argv (minus the binary) for the stream-copy
// and transcode strategies.
func (e *Executor) ffmpegArgs(p *plan.Plan, fi *probe.FileInfo, strategy Strategy,
	enc resolvedEncoders, inPath, outPath string) []string {

	args := []string{"-hide_banner", "-y", "-nostdin"}
	if e.reg.SupportsStatsPeriod() {
		args = append(args, "-stats_period", "1")
	} else {
		args = append(args, "-stats")
	}
	args = append(args, "-i", inPath)

	layout := buildLayout(p, fi)

	// Filter graph for synthesized tracks.
	var filters []string
	synthLabel := map[*plan.SynthesisSpec]string{}
	n := 0
	for _, entry := range layout.entries {
		if entry.synthesis == nil {
			continue
		}
		label := fmt.Sprintf("synth%d", n)
		n++
		graph := fmt.Sprintf("[0:%d]", entry.synthesis.SourceIndex)
		if entry.synthesis.DownmixFilter != "" {
			graph += entry.synthesis.DownmixFilter
		} else {
			graph += "anull"
		}
		graph += "[" + label + "]"
		filters = append(filters, graph)
		synthLabel[entry.synthesis] = label
	}
	if len(filters) > 0 {
		joined := filters[0]
		for _, f := range filters[1:] {
			joined += ";" + f
		}
		args = append(args, "-filter_complex", joined)
	}

	// Explicit per-output-stream map selectors in the desired order.
	for _, entry := range layout.entries {
		if entry.synthesis != nil {
			args = append(args, "-map", "["+synthLabel[entry.synthesis]+"]")
		} else {
			args = append(args, "-map", fmt.Sprintf("0:%d", entry.sourceIndex))
		}
	}

	args = append(args, e.codecArgs(p, fi, layout, strategy, enc)...)
	args = append(args, dispositionArgs(p, layout)...)
	args = append(args, metadataArgs(p, layout)...)

	if fps := e.fpsModeArgs(strategy); fps != nil {
		args = append(args, fps...)
	}

	args = append(args, outPath)
	return args
}

// resolvedEncoders carries the encoder names picked during pre-flight.
type resolvedEncoders struct {
	video         string
	videoHardware bool
	audio         map[int]string // track index -> encoder
	synthesis     map[string]string
}

func (e *Executor) codecArgs(p *plan.Plan, fi *probe.FileInfo, layout *outputLayout,
	strategy Strategy, enc resolvedEncoders) []string {

	if strategy == StrategyStreamCopy {
		return []string{"-c", "copy"}
	}

	// Transcode: default everything to copy, then override the streams
	// the plan re-encodes.
	args := []string{"-c", "copy"}

	for _, a := range p.Actions {
		switch a.Kind {
		case plan.TranscodeVideo:
			out, ok := layout.outIndex[a.TrackIndex]
			if !ok {
				continue
			}
			args = append(args, fmt.Sprintf("-c:%d", out), enc.video)
			if a.CRF > 0 {
				args = append(args, crfFlag(enc.video), strconv.Itoa(a.CRF))
			}
			if a.Bitrate != "" {
				args = append(args, fmt.Sprintf("-b:%d", out), a.Bitrate)
			}
			if a.Preset != "" {
				args = append(args, "-preset", a.Preset)
			}

		case plan.TranscodeAudio:
			out, ok := layout.outIndex[a.TrackIndex]
			if !ok {
				continue
			}
			args = append(args, fmt.Sprintf("-c:%d", out), enc.audio[a.TrackIndex])
			if a.Bitrate != "" {
				args = append(args, fmt.Sprintf("-b:%d", out), a.Bitrate)
			}

		case plan.CopyStream:
			// already copied by default

		case plan.SynthesizeAudio:
			if a.Synthesis == nil {
				continue
			}
			out := layout.synthOutIndex(a.Synthesis)
			if out < 0 {
				continue
			}
			args = append(args, fmt.Sprintf("-c:%d", out), enc.synthesis[a.Synthesis.Name])
			if a.Synthesis.Bitrate != "" {
				args = append(args, fmt.Sprintf("-b:%d", out), a.Synthesis.Bitrate)
			}
			args = append(args, fmt.Sprintf("-ac:%d", out), strconv.Itoa(a.Synthesis.Channels))
		}
	}
	return args
}

func (l *outputLayout) synthOutIndex(spec *plan.SynthesisSpec) int {
	for i, e := range l.entries {
		if e.synthesis == spec {
			return i
		}
	}
	return -1
}

// crfFlag: NVENC and QSV use constant-quality flags instead of -crf.
func crfFlag(encoder string) string {
	switch encoder {
	case "hevc_nvenc", "h264_nvenc", "av1_nvenc":
		return "-cq"
	case "hevc_qsv", "h264_qsv", "av1_qsv":
		return "-global_quality"
	case "hevc_vaapi", "h264_vaapi", "av1_vaapi":
		return "-qp"
	default:
		return "-crf"
	}
}

// dispositionArgs renders the flag mutations. ffmpeg replaces the
// whole disposition per stream, so desired default+forced state is
// computed jointly.
func dispositionArgs(p *plan.Plan, layout *outputLayout) []string {
	type disp struct {
		def, forced *bool
	}
	byTrack := map[int]*disp{}
	get := func(idx int) *disp {
		d := byTrack[idx]
		if d == nil {
			d = &disp{}
			byTrack[idx] = d
		}
		return d
	}

	for _, a := range p.Actions {
		v := a.DesiredValue == "true"
		switch a.Kind {
		case plan.SetDefault, plan.ClearDefault:
			get(a.TrackIndex).def = &v
		case plan.SetForced, plan.ClearForced:
			get(a.TrackIndex).forced = &v
		}
	}

	var indexes []int
	for idx := range byTrack {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var args []string
	for _, idx := range indexes {
		out, ok := layout.outIndex[idx]
		if !ok {
			continue
		}
		d := byTrack[idx]
		val := "0"
		var parts []string
		if d.def != nil && *d.def {
			parts = append(parts, "default")
		}
		if d.forced != nil && *d.forced {
			parts = append(parts, "forced")
		}
		if len(parts) > 0 {
			val = parts[0]
			for _, p := range parts[1:] {
				val += "+" + p
			}
		}
		args = append(args, fmt.Sprintf("-disposition:%d", out), val)
	}
	return args
}

// metadataArgs renders language, title, container tag, and synthesis
// metadata flags.
func metadataArgs(p *plan.Plan, layout *outputLayout) []string {
	var args []string
	for _, a := range p.Actions {
		switch a.Kind {
		case plan.SetLanguage:
			if out, ok := layout.outIndex[a.TrackIndex]; ok {
				args = append(args, fmt.Sprintf("-metadata:s:%d", out), "language="+a.DesiredValue)
			}
		case plan.SetTitle:
			if out, ok := layout.outIndex[a.TrackIndex]; ok {
				args = append(args, fmt.Sprintf("-metadata:s:%d", out), "title="+a.DesiredValue)
			}
		case plan.SetContainerMetadata:
			args = append(args, "-metadata", a.CurrentValue+"="+a.DesiredValue)
		case plan.SynthesizeAudio:
			if a.Synthesis == nil {
				continue
			}
			out := layout.synthOutIndex(a.Synthesis)
			if out < 0 {
				continue
			}
			if a.Synthesis.Language != "" {
				args = append(args, fmt.Sprintf("-metadata:s:%d", out), "language="+a.Synthesis.Language)
			}
			if a.Synthesis.Title != "" {
				args = append(args, fmt.Sprintf("-metadata:s:%d", out), "title="+a.Synthesis.Title)
			}
		}
	}
	return args
}

// fpsModeArgs emits the version-gated timestamp handling flag for
// encode runs.
func (e *Executor) fpsModeArgs(strategy Strategy) []string {
	if strategy != StrategyTranscode {
		return nil
	}
	if e.reg.SupportsFPSMode() {
		return []string{"-fps_mode", "passthrough"}
	}
	return []string{"-vsync", "passthrough"}
}

// propeditArgs builds the mkvpropedit argv for a metadata-only plan.
// mkvpropedit selectors are 1-based over the file's track order.
func propeditArgs(p *plan.Plan, fi *probe.FileInfo, path string) []string {
	// 1-based selector per source track index.
	selector := map[int]int{}
	sorted := append([]probe.Track(nil), fi.Tracks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	for i, t := range sorted {
		selector[t.Index] = i + 1
	}

	args := []string{path}
	for _, a := range p.Actions {
		switch a.Kind {
		case plan.SetDefault, plan.ClearDefault:
			args = append(args, "--edit", "track:"+strconv.Itoa(selector[a.TrackIndex]),
				"--set", "flag-default="+boolFlag(a.DesiredValue))
		case plan.SetForced, plan.ClearForced:
			args = append(args, "--edit", "track:"+strconv.Itoa(selector[a.TrackIndex]),
				"--set", "flag-forced="+boolFlag(a.DesiredValue))
		case plan.SetLanguage:
			args = append(args, "--edit", "track:"+strconv.Itoa(selector[a.TrackIndex]),
				"--set", "language="+a.DesiredValue)
		case plan.SetTitle:
			args = append(args, "--edit", "track:"+strconv.Itoa(selector[a.TrackIndex]),
				"--set", "name="+a.DesiredValue)
		case plan.SetContainerMetadata:
			if a.DesiredValue == "" {
				args = append(args, "--edit", "info", "--delete", a.CurrentValue)
			} else {
				args = append(args, "--edit", "info", "--set", a.CurrentValue+"="+a.DesiredValue)
			}
		}
	}
	return args
}

func boolFlag(desired string) string {
	if desired == "true" {
		return "1"
	}
	return "0"
}
