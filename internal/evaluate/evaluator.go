// SPDX-License-Identifier: MIT

// Package evaluate computes a Plan from a policy and a probed file.
// The evaluator is pure: given byte-identical inputs it produces a
// byte-identical plan. Iteration is by track index, source order for
// phases and rules, and sorted name order for plugin analyses.
package evaluate

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/randomparity/vpo-sub005/internal/analysis"
	"github.com/randomparity/vpo-sub005/internal/plan"
	"github.com/randomparity/vpo-sub005/internal/policy"
	"github.com/randomparity/vpo-sub005/internal/probe"
)

// Evaluate resolves pol against fi (and optional analyses) and returns
// the resulting plan. A nil analyses set behaves as an empty one.
func Evaluate(pol *policy.Policy, fi *probe.FileInfo, analyses *analysis.Set) (*plan.Plan, error) {
	e := &evaluator{
		pol:      pol,
		fi:       fi,
		analyses: analyses,
		plan: &plan.Plan{
			Path:            fi.Path,
			SourceContainer: fi.Container,
		},
		removed: map[int]bool{},
	}
	if err := e.run(); err != nil {
		return nil, err
	}
	return e.plan, nil
}

type evaluator struct {
	pol      *policy.Policy
	fi       *probe.FileInfo
	analyses *analysis.Set
	plan     *plan.Plan

	// removed accumulates track indexes scheduled for removal across
	// phases; surviving-set computations consult it.
	removed map[int]bool
}

func (e *evaluator) run() error {
	// Tracks iterate in index order regardless of probe stream order.
	sort.SliceStable(e.fi.Tracks, func(i, j int) bool {
		return e.fi.Tracks[i].Index < e.fi.Tracks[j].Index
	})

	for pi := range e.pol.Phases {
		ph := &e.pol.Phases[pi]

		skipped, predicate, err := e.phaseSkipped(ph)
		if err != nil {
			return err
		}
		if skipped {
			e.plan.SkippedPhases = append(e.plan.SkippedPhases, plan.SkipReason{
				Phase: ph.Name, Predicate: predicate,
			})
			continue
		}

		if err := e.runPhase(ph); err != nil {
			if ph.OnError == "continue" {
				if _, isFail := err.(*RuleError); !isFail {
					e.warnf("phase %s: %v", ph.Name, err)
					continue
				}
			}
			return err
		}
	}
	return nil
}

// runPhase executes one phase's operations in the fixed sub-order:
// conditional rules, track filter, track defaults, container metadata,
// container conversion, synthesis, transcode, file timestamp.
func (e *evaluator) runPhase(ph *policy.Phase) error {
	if ph.ConditionalRules != nil {
		if err := e.runRules(ph); err != nil {
			return err
		}
	}
	if ph.TrackFilter != nil && !e.plan.SkipTrackFilter {
		if err := e.planTrackFilter(ph.TrackFilter); err != nil {
			return err
		}
	}
	if ph.TrackDefaults != nil {
		e.planTrackDefaults(ph.TrackDefaults)
	}
	if len(ph.ContainerMetadata) > 0 {
		e.planContainerMetadata(ph.ContainerMetadata)
	}
	if ph.ContainerConvert != nil {
		if err := e.planContainerConvert(ph.ContainerConvert); err != nil {
			return err
		}
	}
	for i := range ph.AudioSynthesis {
		if err := e.planSynthesis(&ph.AudioSynthesis[i]); err != nil {
			return err
		}
	}
	if ph.Transcode != nil {
		if err := e.planTranscode(ph.Transcode); err != nil {
			return err
		}
	}
	if ph.FileTimestamp != nil {
		e.planTimestamp(ph.FileTimestamp)
	}
	return nil
}

// phaseSkipped evaluates the phase's skip-when disjunction.
func (e *evaluator) phaseSkipped(ph *policy.Phase) (bool, string, error) {
	for _, sp := range ph.SkipWhen {
		match, desc, err := e.skipPredicate(&sp)
		if err != nil {
			return false, "", fmt.Errorf("phase %q skip_when: %w", ph.Name, err)
		}
		if match {
			return true, desc, nil
		}
	}
	return false, "", nil
}

func (e *evaluator) skipPredicate(sp *policy.SkipPredicate) (bool, string, error) {
	switch {
	case len(sp.VideoCodec) > 0:
		v := e.fi.FirstVideo()
		if v == nil {
			return false, "", nil
		}
		for _, c := range sp.VideoCodec {
			if codecEqual(v.Codec, c) {
				return true, "video_codec " + c, nil
			}
		}
		return false, "", nil

	case sp.AudioCodecExists != "":
		for _, t := range e.fi.TracksOfKind(probe.KindAudio) {
			if codecEqual(t.Codec, sp.AudioCodecExists) {
				return true, "audio_codec_exists " + sp.AudioCodecExists, nil
			}
		}
		return false, "", nil

	case sp.SubtitleLanguageExists != "":
		want := probe.NormalizeLanguage(sp.SubtitleLanguageExists)
		for _, t := range e.fi.TracksOfKind(probe.KindSubtitle) {
			if t.Language == want {
				return true, "subtitle_language_exists " + want, nil
			}
		}
		return false, "", nil

	case len(sp.Container) > 0:
		for _, c := range sp.Container {
			if probe.NormalizeContainer(c) == e.fi.Container {
				return true, "container " + c, nil
			}
		}
		return false, "", nil

	case sp.Resolution != "":
		return e.fi.Resolution() == sp.Resolution, "resolution " + sp.Resolution, nil

	case sp.ResolutionUnder != "":
		limit, err := resolutionHeight(sp.ResolutionUnder)
		if err != nil {
			return false, "", err
		}
		v := e.fi.FirstVideo()
		return v != nil && v.Height < limit, "resolution_under " + sp.ResolutionUnder, nil

	case sp.FileSizeUnder != "":
		limit, err := parseSizeArg(sp.FileSizeUnder)
		if err != nil {
			return false, "", err
		}
		return e.fi.Size < limit, "file_size_under " + sp.FileSizeUnder, nil

	case sp.FileSizeOver != "":
		limit, err := parseSizeArg(sp.FileSizeOver)
		if err != nil {
			return false, "", err
		}
		return e.fi.Size > limit, "file_size_over " + sp.FileSizeOver, nil

	case sp.DurationUnder != "":
		limit, err := parseDurationArg(sp.DurationUnder)
		if err != nil {
			return false, "", err
		}
		return e.fi.Duration < limit, "duration_under " + sp.DurationUnder, nil

	case sp.DurationOver != "":
		limit, err := parseDurationArg(sp.DurationOver)
		if err != nil {
			return false, "", err
		}
		return e.fi.Duration > limit, "duration_over " + sp.DurationOver, nil
	}
	return false, "", nil
}

// surviving returns the tracks of a kind not scheduled for removal.
func (e *evaluator) surviving(kind probe.TrackKind) []probe.Track {
	var out []probe.Track
	for _, t := range e.fi.TracksOfKind(kind) {
		if !e.removed[t.Index] {
			out = append(out, t)
		}
	}
	return out
}

func (e *evaluator) warnf(format string, args ...any) {
	e.plan.Warnings = append(e.plan.Warnings, fmt.Sprintf(format, args...))
}

// renderTemplate substitutes warn/fail placeholders.
func (e *evaluator) renderTemplate(tpl, ruleName string) string {
	r := strings.NewReplacer(
		"{filename}", filepath.Base(e.fi.Path),
		"{path}", e.fi.Path,
		"{rule_name}", ruleName,
	)
	return r.Replace(tpl)
}

// --- small parsing helpers for skip-when arguments ---

func parseSizeArg(s string) (int64, error) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	num, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	unit := strings.ToUpper(strings.TrimSpace(s[i:]))
	mult := int64(1)
	switch unit {
	case "", "B":
	case "K", "KB":
		mult = 1 << 10
	case "M", "MB":
		mult = 1 << 20
	case "G", "GB":
		mult = 1 << 30
	case "T", "TB":
		mult = 1 << 40
	default:
		return 0, fmt.Errorf("invalid size unit in %q", s)
	}
	return int64(num * float64(mult)), nil
}

// parseDurationArg accepts bare seconds or h/m/s suffixed values.
func parseDurationArg(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n, nil
	}
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	num, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	switch strings.ToLower(strings.TrimSpace(s[i:])) {
	case "s":
		return num, nil
	case "m":
		return num * 60, nil
	case "h":
		return num * 3600, nil
	default:
		return 0, fmt.Errorf("invalid duration unit in %q", s)
	}
}

// resolutionHeight maps "1080p"/"720"/"2160p" style arguments to a
// height in pixels.
func resolutionHeight(s string) (int, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "p")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid resolution %q", s)
	}
	return n, nil
}
