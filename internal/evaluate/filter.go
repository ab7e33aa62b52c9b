// SPDX-License-Identifier: MIT

package evaluate

import (
	"strings"

	"github.com/randomparity/vpo-sub005/internal/analysis"
	"github.com/randomparity/vpo-sub005/internal/plan"
	"github.com/randomparity/vpo-sub005/internal/policy"
	"github.com/randomparity/vpo-sub005/internal/probe"
)

// planTrackFilter computes the surviving track set and emits
// REMOVE_TRACK for the complement.
func (e *evaluator) planTrackFilter(tf *policy.TrackFilter) error {
	if tf.Audio != nil {
		if err := e.filterAudio(tf.Audio); err != nil {
			return err
		}
	}
	if tf.Subtitles != nil {
		e.filterSubtitles(tf.Subtitles)
	}
	if tf.Attachments != nil && tf.Attachments.RemoveAll {
		for _, t := range e.surviving(probe.KindAttachment) {
			e.removeTrack(t.Index)
		}
	}
	return nil
}

func (e *evaluator) filterAudio(af *policy.AudioFilter) error {
	tracks := e.surviving(probe.KindAudio)
	if len(tracks) == 0 {
		return nil
	}

	keepLang := make(map[string]bool, len(af.Languages))
	for _, l := range af.Languages {
		keepLang[probe.NormalizeLanguage(l)] = true
	}

	keep := make(map[int]bool, len(tracks))
	for _, t := range tracks {
		if keepLang[t.Language] {
			keep[t.Index] = true
			continue
		}
		// Music/sfx/non-speech tracks may be exempt from the language
		// filter.
		if af.KeepMusic && isNonSpeech(t, e.analyses) {
			keep[t.Index] = true
		}
	}

	minimum := af.Minimum
	if minimum == 0 {
		minimum = 1
	}

	if countTrue(keep) < minimum {
		switch af.Fallback {
		case "content_language":
			// Keep tracks matching the externally detected original
			// language of the content.
			if cl := e.analyses.ContentLanguageOf(); cl != "" {
				for _, t := range tracks {
					if t.Language == cl {
						keep[t.Index] = true
					}
				}
			}
			if countTrue(keep) < minimum {
				e.fallbackKeepFirst(tracks, keep, minimum)
				e.warnf("audio filter: content language unavailable; kept first %d track(s)", minimum)
			}
		case "keep_all", "":
			for _, t := range tracks {
				keep[t.Index] = true
			}
		case "keep_first":
			e.fallbackKeepFirst(tracks, keep, minimum)
		case "error":
			return &FilterError{Kind: "audio", Minimum: minimum, Have: countTrue(keep)}
		}
	}

	for _, t := range tracks {
		if !keep[t.Index] {
			e.removeTrack(t.Index)
		}
	}
	return nil
}

func (e *evaluator) fallbackKeepFirst(tracks []probe.Track, keep map[int]bool, minimum int) {
	for _, t := range tracks {
		if countTrue(keep) >= minimum {
			return
		}
		keep[t.Index] = true
	}
}

func (e *evaluator) filterSubtitles(sf *policy.SubtitleFilter) {
	tracks := e.surviving(probe.KindSubtitle)

	if sf.RemoveAll {
		// remove_all overrides everything, forced included.
		for _, t := range tracks {
			e.removeTrack(t.Index)
		}
		return
	}
	if len(sf.Languages) == 0 {
		return
	}

	keepLang := make(map[string]bool, len(sf.Languages))
	for _, l := range sf.Languages {
		keepLang[probe.NormalizeLanguage(l)] = true
	}

	for _, t := range tracks {
		if keepLang[t.Language] {
			continue
		}
		if sf.PreserveForced && t.Forced {
			continue
		}
		e.removeTrack(t.Index)
	}
}

func (e *evaluator) removeTrack(index int) {
	e.removed[index] = true
	e.plan.Actions = append(e.plan.Actions, plan.Action{
		Kind:       plan.RemoveTrack,
		TrackIndex: index,
	})
}

func countTrue(m map[int]bool) int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}

// isNonSpeech consults the classification analysis; a title containing
// obvious markers is a fallback signal when no analysis exists.
func isNonSpeech(t probe.Track, set *analysis.Set) bool {
	switch set.ClassOf(t.Index) {
	case analysis.ClassMusic, analysis.ClassSFX, analysis.ClassNonSpeech:
		return true
	}
	title := strings.ToLower(t.Title)
	return strings.Contains(title, "music") || strings.Contains(title, "score") ||
		strings.Contains(title, "sfx") || strings.Contains(title, "effects")
}

// isCommentary consults the classification analysis, falling back to
// title inspection.
func isCommentary(t probe.Track, set *analysis.Set) bool {
	if set.ClassOf(t.Index) == analysis.ClassCommentary {
		return true
	}
	return strings.Contains(strings.ToLower(t.Title), "commentary")
}
