// SPDX-License-Identifier: MIT

package evaluate

import (
	"fmt"
	"strconv"

	"github.com/randomparity/vpo-sub005/internal/plan"
	"github.com/randomparity/vpo-sub005/internal/policy"
	"github.com/randomparity/vpo-sub005/internal/probe"
)

// planSynthesis decides whether one synthesis definition produces a
// SYNTHESIZE_AUDIO action: create_if gate, source selection by
// preference score, then the skip_if_exists short-circuit.
func (e *evaluator) planSynthesis(def *policy.SynthesisDef) error {
	if def.CreateIf != nil {
		ok, err := e.evalBool(def.CreateIf.Expr())
		if err != nil {
			return fmt.Errorf("synthesis %q create_if: %w", def.Name, err)
		}
		if !ok {
			return nil
		}
	}

	candidates := e.surviving(probe.KindAudio)
	if len(candidates) == 0 {
		if len(e.fi.TracksOfKind(probe.KindAudio)) > 0 {
			// The track filter removed every candidate; the filter's
			// verdict stands.
			e.warnf("synthesis %q: all candidate source tracks were filtered out", def.Name)
		}
		return nil
	}

	source := e.pickSynthesisSource(candidates, def.Prefer)

	if def.SkipIfExists != nil && e.synthesisMatchExists(candidates, def.SkipIfExists, source) {
		return nil
	}

	spec := &plan.SynthesisSpec{
		Name:        def.Name,
		SourceIndex: source.Index,
		Codec:       def.Codec,
		Channels:    def.Channels,
		Bitrate:     def.Bitrate,
		Position:    def.Position,
	}

	switch def.Title {
	case "inherit":
		spec.Title = source.Title
	default:
		spec.Title = def.Title
	}
	switch def.Language {
	case "inherit", "":
		spec.Language = source.Language
	default:
		spec.Language = probe.NormalizeLanguage(def.Language)
	}

	if def.Channels > 0 && def.Channels < source.Channels {
		spec.DownmixFilter = downmixFilter(def.Channels)
	}

	e.plan.Actions = append(e.plan.Actions, plan.Action{
		Kind:      plan.SynthesizeAudio,
		Synthesis: spec,
	})
	return nil
}

// pickSynthesisSource scores candidates and returns the best; ties go
// to the lowest track index. With no preference the first track wins.
func (e *evaluator) pickSynthesisSource(candidates []probe.Track, pref *policy.SourcePreference) probe.Track {
	best := candidates[0]
	if pref == nil {
		return best
	}

	bestScore := -1 << 30
	for _, t := range candidates {
		score := 0
		if pref.Language != "" && t.Language == probe.NormalizeLanguage(pref.Language) {
			score += 100
		}
		if pref.NotCommentary && !isCommentary(t, e.analyses) {
			score += 80
		}
		switch pref.Channels {
		case "max":
			score += 10 * t.Channels
		case "min":
			score -= 10 * t.Channels
		}
		for _, c := range pref.Codecs {
			if codecEqual(t.Codec, c) {
				score += 20
				break
			}
		}
		if score > bestScore {
			best, bestScore = t, score
		}
	}
	return best
}

// synthesisMatchExists checks skip_if_exists against the surviving
// audio set. A "same" language matches the chosen source's language.
func (e *evaluator) synthesisMatchExists(tracks []probe.Track, m *policy.SynthesisMatch, source probe.Track) bool {
	wantLang := m.Language
	if wantLang == "same" {
		wantLang = source.Language
	} else if wantLang != "" {
		wantLang = probe.NormalizeLanguage(wantLang)
	}

	for _, t := range tracks {
		if m.Codec != "" && !codecEqual(t.Codec, m.Codec) {
			continue
		}
		if m.Channels > 0 && t.Channels != m.Channels {
			continue
		}
		if wantLang != "" && t.Language != wantLang {
			continue
		}
		return true
	}
	return false
}

// downmixFilter builds the resample/format filter chain for a channel
// reduction. Async resampling with a small hard-compensation window
// keeps lips in sync on slightly drifty sources.
func downmixFilter(channels int) string {
	layout := channelLayout(channels)
	return "aresample=async=1:first_pts=0:min_hard_comp=0.100," +
		"aformat=sample_rates=48000:channel_layouts=" + layout
}

func channelLayout(channels int) string {
	switch channels {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	case 6:
		return "5.1"
	case 8:
		return "7.1"
	default:
		return strconv.Itoa(channels) + "c"
	}
}
