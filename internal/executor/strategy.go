// SPDX-License-Identifier: MIT

package executor

import (
	"github.com/randomparity/vpo-sub005/internal/plan"
)

// Strategy is the mutation mechanism chosen for a plan.
type Strategy string

const (
	// StrategyPropedit edits flags and tags in place with mkvpropedit.
	StrategyPropedit Strategy = "mkvpropedit"
	// StrategyStreamCopy rewrites the container with ffmpeg -c copy.
	StrategyStreamCopy Strategy = "stream_copy"
	// StrategyTranscode re-encodes at least one stream.
	StrategyTranscode Strategy = "transcode"
)

// selectStrategy picks the cheapest mechanism that can realize every
// action in the plan. mkvpropedit handles metadata-only plans on MKV
// when available; anything structural goes through ffmpeg.
func selectStrategy(p *plan.Plan, container string, havePropedit bool) Strategy {
	if p.HasKind(plan.TranscodeVideo) || p.HasKind(plan.TranscodeAudio) ||
		p.HasKind(plan.SynthesizeAudio) {
		return StrategyTranscode
	}
	if p.HasKind(plan.RemoveTrack) || p.HasKind(plan.Reorder) || p.HasKind(plan.RemuxTo) {
		return StrategyStreamCopy
	}
	if container == "mkv" && havePropedit && p.MetadataOnly() {
		return StrategyPropedit
	}
	return StrategyStreamCopy
}

// spaceRatio is the pre-flight disk reservation ratio for a plan: the
// largest ratio among its transcode actions, or 1.0 when nothing is
// re-encoded (a stream copy needs a full-size temp file).
func spaceRatio(p *plan.Plan) float64 {
	ratio := 0.0
	for _, a := range p.Actions {
		if a.Kind == plan.TranscodeVideo && a.SpaceRatio > ratio {
			ratio = a.SpaceRatio
		}
	}
	if ratio == 0 {
		ratio = 1.0
	}
	return ratio
}
