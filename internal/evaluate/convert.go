// SPDX-License-Identifier: MIT

package evaluate

import (
	"fmt"

	"github.com/randomparity/vpo-sub005/internal/plan"
	"github.com/randomparity/vpo-sub005/internal/policy"
	"github.com/randomparity/vpo-sub005/internal/probe"
)

// mp4Incompatible lists codec families MP4 muxers cannot carry. MKV
// accepts everything we probe, so only the MP4 direction needs a table.
var mp4Incompatible = map[string]bool{
	"ass":               true,
	"ssa":               true,
	"hdmv_pgs_subtitle": true,
	"dvd_subtitle":      true,
	"pcm_bluray":        true,
	"truehd":            true,
	"vobsub":            true,
}

// planContainerConvert emits REMUX_TO when the file's container differs
// from the target, honoring the incompatible-codec mode.
func (e *evaluator) planContainerConvert(cc *policy.ContainerConvert) error {
	target := probe.NormalizeContainer(cc.Target)
	if target == e.fi.Container {
		return nil
	}

	if target == "mp4" {
		for _, kind := range []probe.TrackKind{probe.KindVideo, probe.KindAudio, probe.KindSubtitle} {
			for _, t := range e.surviving(kind) {
				if !mp4Incompatible[canonicalCodec(t.Codec)] {
					continue
				}
				switch cc.OnIncompatibleCodec {
				case "skip":
					e.warnf("container convert: codec %s (track %d) not representable in %s; conversion skipped",
						t.Codec, t.Index, target)
					return nil
				case "ignore":
					// Incompatible tracks are dropped at remux time.
					e.warnf("container convert: codec %s (track %d) will be dropped converting to %s",
						t.Codec, t.Index, target)
					e.removeTrack(t.Index)
				default:
					return fmt.Errorf("container convert: codec %s (track %d) not representable in %s",
						t.Codec, t.Index, target)
				}
			}
		}
	}

	e.plan.Actions = append(e.plan.Actions, plan.Action{
		Kind:            plan.RemuxTo,
		TargetContainer: target,
	})
	return nil
}
