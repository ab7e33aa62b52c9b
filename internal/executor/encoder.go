// SPDX-License-Identifier: MIT

package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/randomparity/vpo-sub005/internal/tools"
)

// encoderProbe verifies an encoder works at runtime, not just that the
// build lists it. nil skips the check.
type encoderProbe func(ctx context.Context, encoder string) error

// videoEncoders maps target codec family -> hardware mode -> ffmpeg
// encoder name.
var videoEncoders = map[string]map[string]string{
	"hevc": {
		"nvenc": "hevc_nvenc",
		"qsv":   "hevc_qsv",
		"vaapi": "hevc_vaapi",
		"none":  "libx265",
	},
	"h264": {
		"nvenc": "h264_nvenc",
		"qsv":   "h264_qsv",
		"vaapi": "h264_vaapi",
		"none":  "libx264",
	},
	"av1": {
		"nvenc": "av1_nvenc",
		"qsv":   "av1_qsv",
		"vaapi": "av1_vaapi",
		"none":  "libsvtav1",
	},
}

// hardware preference order for "auto".
var autoOrder = []string{"nvenc", "qsv", "vaapi"}

// audioEncoders maps audio codec family -> ffmpeg encoder.
var audioEncoders = map[string]string{
	"aac":    "aac",
	"ac3":    "ac3",
	"eac3":   "eac3",
	"opus":   "libopus",
	"vorbis": "libvorbis",
	"flac":   "flac",
	"mp3":    "libmp3lame",
}

// selectVideoEncoder resolves the encoder for a codec family and
// hardware preference against ffmpeg's listed encoders. "auto" takes
// the first hardware encoder that is both listed and passes the
// runtime probe, falling back to software. Explicit modes trust the
// listing; a device failure there surfaces through the stderr-pattern
// retry instead. Returns the encoder name and whether it is
// hardware-accelerated.
func selectVideoEncoder(ctx context.Context, reg *tools.Registry, codec, hardware string, probe encoderProbe) (string, bool, error) {
	family := canonicalTargetCodec(codec)
	table, ok := videoEncoders[family]
	if !ok {
		return "", false, fmt.Errorf("no encoder known for codec %q", codec)
	}

	switch hardware {
	case "", "auto":
		for _, hw := range autoOrder {
			name := table[hw]
			if !reg.HasEncoder(name) {
				continue
			}
			if probe != nil {
				if err := probe(ctx, name); err != nil {
					continue
				}
			}
			return name, true, nil
		}
		return softwareEncoder(reg, family, table)
	case "none":
		return softwareEncoder(reg, family, table)
	case "nvenc", "qsv", "vaapi":
		enc := table[hardware]
		if !reg.HasEncoder(enc) {
			return "", false, fmt.Errorf("encoder %s not available in this ffmpeg build", enc)
		}
		return enc, true, nil
	default:
		return "", false, fmt.Errorf("unknown hardware mode %q", hardware)
	}
}

func softwareEncoder(reg *tools.Registry, family string, table map[string]string) (string, bool, error) {
	enc := table["none"]
	if !reg.HasEncoder(enc) {
		return "", false, fmt.Errorf("software encoder %s not available in this ffmpeg build", enc)
	}
	return enc, false, nil
}

func selectAudioEncoder(reg *tools.Registry, codec string) (string, error) {
	enc, ok := audioEncoders[canonicalTargetCodec(codec)]
	if !ok {
		return "", fmt.Errorf("no encoder known for audio codec %q", codec)
	}
	if !reg.HasEncoder(enc) {
		return "", fmt.Errorf("audio encoder %s not available in this ffmpeg build", enc)
	}
	return enc, nil
}

// canonicalTargetCodec folds the common target-codec spellings.
func canonicalTargetCodec(codec string) string {
	switch strings.ToLower(strings.TrimSpace(codec)) {
	case "hevc", "h265", "h.265", "x265":
		return "hevc"
	case "h264", "avc", "h.264", "x264":
		return "h264"
	case "av1":
		return "av1"
	default:
		return strings.ToLower(strings.TrimSpace(codec))
	}
}

// hwFailurePatterns are stderr fragments that indicate the hardware
// path itself failed, as opposed to bad input. A match triggers the
// one-shot software retry when the policy allows it.
var hwFailurePatterns = []string{
	"Cannot load nvcuda",
	"Cannot init CUDA",
	"No capable devices found",
	"Failed to initialise VAAPI",
	"Failed to create a VAAPI device",
	"Error initializing an internal MFX session",
	"No device available for decoder",
	"No device available for encoder",
	"Device creation failed",
	"Failed setup for format",
	"Generic error in an external library",
}

// isHardwareFailure reports whether stderr shows a hardware-encoder
// initialization failure.
func isHardwareFailure(stderr string) bool {
	for _, pat := range hwFailurePatterns {
		if strings.Contains(stderr, pat) {
			return true
		}
	}
	return false
}
