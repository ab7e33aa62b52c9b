// SPDX-License-Identifier: MIT

package evaluate

import (
	"path"
	"strings"
)

// codecAliases groups the spellings that name the same codec family.
// Matching is case-insensitive; any member of a group equals any other.
var codecAliases = [][]string{
	{"hevc", "h265", "h.265", "x265"},
	{"h264", "avc", "h.264", "x264"},
	{"av1", "libaom-av1", "libsvtav1"},
	{"vp9", "libvpx-vp9"},
	{"aac", "libfdk_aac"},
	{"ac3", "ac-3", "dd", "dolby digital"},
	{"eac3", "e-ac-3", "ddp", "dd+"},
	{"dts", "dca"},
	{"dts-hd", "dts-hd ma", "dts-hd hra", "dts_hd"},
	{"truehd", "mlp"},
	{"opus", "libopus"},
	{"vorbis", "libvorbis"},
	{"mp3", "libmp3lame"},
}

func canonicalCodec(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, group := range codecAliases {
		for _, member := range group {
			if n == member {
				return group[0]
			}
		}
	}
	return n
}

// codecEqual reports whether two codec names refer to the same family.
func codecEqual(a, b string) bool {
	return canonicalCodec(a) == canonicalCodec(b)
}

// codecMatches tests a codec name against a preserve pattern. Patterns
// support '*' wildcards; a non-wildcard pattern matches through the
// alias groups, so "dts-hd" covers "dts-hd ma" and "dts-hd hra".
func codecMatches(codec, pattern string) bool {
	p := strings.ToLower(strings.TrimSpace(pattern))
	c := strings.ToLower(strings.TrimSpace(codec))
	if strings.ContainsAny(p, "*?") {
		ok, err := path.Match(p, c)
		return err == nil && ok
	}
	return codecEqual(codec, pattern)
}
