// SPDX-License-Identifier: MIT

package evaluate

import (
	"github.com/randomparity/vpo-sub005/internal/plan"
	"github.com/randomparity/vpo-sub005/internal/policy"
	"github.com/randomparity/vpo-sub005/internal/probe"
)

// planTrackDefaults normalizes default and forced flags over the
// surviving tracks: exactly one default video, one default audio (by
// language preference), optionally one default subtitle, and optionally
// a forced preferred-language subtitle when the default audio language
// is foreign to the listener. Actions whose current state already
// matches the desired state are elided.
func (e *evaluator) planTrackDefaults(td *policy.TrackDefaults) {
	video := e.surviving(probe.KindVideo)
	audio := e.surviving(probe.KindAudio)
	subs := e.surviving(probe.KindSubtitle)

	// First surviving video track is the default.
	if len(video) > 0 {
		e.normalizeDefault(video, video[0].Index)
	}

	// One preferred-language audio default: first match of the
	// preference list, else the first surviving track.
	if len(audio) > 0 {
		chosen := audio[0]
		for _, pref := range td.AudioLanguagePreference {
			want := probe.NormalizeLanguage(pref)
			if t, ok := firstByLanguage(audio, want); ok {
				chosen = t
				break
			}
		}
		e.normalizeDefault(audio, chosen.Index)

		if td.SetSubtitleDefault && len(subs) > 0 {
			sub := subs[0]
			for _, pref := range td.SubtitleLanguagePreference {
				want := probe.NormalizeLanguage(pref)
				if t, ok := firstByLanguage(subs, want); ok {
					sub = t
					break
				}
			}
			e.normalizeDefault(subs, sub.Index)
		}

		if td.ForceSubtitleForForeignAudio && td.PreferredListenerLanguage != "" {
			listener := probe.NormalizeLanguage(td.PreferredListenerLanguage)
			if chosen.Language != listener {
				if t, ok := firstByLanguage(subs, listener); ok {
					e.setForcedFlag(t, true)
				}
			}
		}
	}
}

// normalizeDefault makes exactly the track with defaultIndex the
// default within the given track set.
func (e *evaluator) normalizeDefault(tracks []probe.Track, defaultIndex int) {
	for _, t := range tracks {
		desired := t.Index == defaultIndex
		if t.Default == desired {
			continue
		}
		kind := plan.SetDefault
		if !desired {
			kind = plan.ClearDefault
		}
		e.plan.Actions = append(e.plan.Actions, plan.Action{
			Kind:         kind,
			TrackIndex:   t.Index,
			CurrentValue: boolString(t.Default),
			DesiredValue: boolString(desired),
		})
	}
}

func (e *evaluator) setForcedFlag(t probe.Track, desired bool) {
	if t.Forced == desired {
		return
	}
	kind := plan.SetForced
	if !desired {
		kind = plan.ClearForced
	}
	e.plan.Actions = append(e.plan.Actions, plan.Action{
		Kind:         kind,
		TrackIndex:   t.Index,
		CurrentValue: boolString(t.Forced),
		DesiredValue: boolString(desired),
	})
}

func firstByLanguage(tracks []probe.Track, lang string) (probe.Track, bool) {
	for _, t := range tracks {
		if t.Language == lang {
			return t, true
		}
	}
	return probe.Track{}, false
}
