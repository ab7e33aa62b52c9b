// SPDX-License-Identifier: MIT

package evaluate

import (
	"github.com/randomparity/vpo-sub005/internal/plan"
	"github.com/randomparity/vpo-sub005/internal/policy"
	"github.com/randomparity/vpo-sub005/internal/probe"
)

// planTranscode emits transcode actions for the video and audio sides
// of a target. Tracks already in the target codec produce no action, so
// a second evaluation of a converted file comes out empty.
func (e *evaluator) planTranscode(tt *policy.TranscodeTarget) error {
	if tt.Video != nil && !e.plan.SkipVideoTranscode {
		e.planVideoTranscode(tt.Video, tt.SpaceRatio)
	}
	if tt.Audio != nil && !e.plan.SkipAudioTranscode {
		e.planAudioTranscode(tt.Audio)
	}
	return nil
}

func (e *evaluator) planVideoTranscode(vt *policy.VideoTranscode, spaceRatio float64) {
	for _, t := range e.surviving(probe.KindVideo) {
		if codecEqual(t.Codec, vt.Codec) {
			continue
		}
		e.plan.Actions = append(e.plan.Actions, plan.Action{
			Kind:          plan.TranscodeVideo,
			TrackIndex:    t.Index,
			CurrentValue:  t.Codec,
			Codec:         vt.Codec,
			CRF:           vt.CRF,
			Preset:        vt.Preset,
			Bitrate:       vt.Bitrate,
			Hardware:      vt.Hardware,
			FallbackToCPU: vt.FallbackToCPU,
			SpaceRatio:    videoSpaceRatio(vt.Codec, spaceRatio),
		})
	}
}

// videoSpaceRatio is the expected output/input size ratio used by the
// executor's disk pre-flight. An explicit policy ratio overrides the
// codec default.
func videoSpaceRatio(codec string, override float64) float64 {
	if override > 0 {
		return override
	}
	switch canonicalCodec(codec) {
	case "hevc", "av1", "vp9":
		return 0.5
	case "h264":
		return 0.8
	default:
		return 1.0
	}
}

func (e *evaluator) planAudioTranscode(at *policy.AudioTranscode) {
	tracks := e.surviving(probe.KindAudio)

	for _, t := range tracks {
		if preserved(t.Codec, at.Preserve) {
			e.plan.Actions = append(e.plan.Actions, plan.Action{
				Kind:         plan.CopyStream,
				TrackIndex:   t.Index,
				CurrentValue: t.Codec,
			})
			continue
		}
		if codecEqual(t.Codec, at.Codec) {
			continue
		}
		e.plan.Actions = append(e.plan.Actions, plan.Action{
			Kind:         plan.TranscodeAudio,
			TrackIndex:   t.Index,
			CurrentValue: t.Codec,
			Codec:        at.Codec,
			Bitrate:      at.Bitrate,
		})
	}

	if at.Downmix != nil {
		e.planDownmix(at.Downmix, tracks)
	}
}

// planDownmix adds one extra reduced-channel track fed from the
// highest-channel surviving source, unless an equivalent track exists.
func (e *evaluator) planDownmix(dm *policy.Downmix, tracks []probe.Track) {
	var source *probe.Track
	for i := range tracks {
		t := &tracks[i]
		if t.Channels == dm.Channels && codecEqual(t.Codec, dm.Codec) {
			return
		}
		if source == nil || t.Channels > source.Channels {
			source = t
		}
	}
	if source == nil || source.Channels <= dm.Channels {
		return
	}

	e.plan.Actions = append(e.plan.Actions, plan.Action{
		Kind: plan.SynthesizeAudio,
		Synthesis: &plan.SynthesisSpec{
			Name:          "downmix",
			SourceIndex:   source.Index,
			Codec:         dm.Codec,
			Channels:      dm.Channels,
			Bitrate:       dm.Bitrate,
			DownmixFilter: downmixFilter(dm.Channels),
			Language:      source.Language,
			Position:      "after_source",
		},
	})
}

func preserved(codec string, patterns []string) bool {
	for _, p := range patterns {
		if codecMatches(codec, p) {
			return true
		}
	}
	return false
}
