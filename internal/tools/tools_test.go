// SPDX-License-Identifier: MIT

package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersionLine(t *testing.T) {
	cases := []struct {
		line string
		want Version
	}{
		{"ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023", Version{6, 1, 1}},
		{"ffmpeg version 4.4.2-0ubuntu0.22.04.1", Version{4, 4, 2}},
		{"ffmpeg version n7.0", Version{7, 0, 0}},
		{"mkvmerge v80.0 ('Roundabout') 64-bit", Version{80, 0, 0}},
		{"mkvpropedit v74.0.0 ('Plan 9') 64-bit", Version{74, 0, 0}},
	}
	for _, tc := range cases {
		got, err := ParseVersionLine(tc.line)
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}

	_, err := ParseVersionLine("no digits here")
	assert.Error(t, err)
}

func TestVersionAtLeast(t *testing.T) {
	v := Version{Major: 5, Minor: 1, Patch: 2}
	assert.True(t, v.AtLeast(5, 1))
	assert.True(t, v.AtLeast(5, 0))
	assert.True(t, v.AtLeast(4, 9))
	assert.False(t, v.AtLeast(5, 2))
	assert.False(t, v.AtLeast(6, 0))
}

func TestParseComponentList(t *testing.T) {
	const out = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V....D libx265              libx265 H.265 / HEVC
 V....D hevc_nvenc           NVIDIA NVENC hevc encoder
 A....D aac                  AAC (Advanced Audio Coding)
`
	set := parseComponentList(out)
	assert.True(t, set["libx264"])
	assert.True(t, set["libx265"])
	assert.True(t, set["hevc_nvenc"])
	assert.True(t, set["aac"])
	assert.False(t, set["Video"], "header lines must be skipped")
}

func TestVersionGates(t *testing.T) {
	reg := func(v Version) *Registry {
		return &Registry{tools: map[string]*Tool{
			FFmpeg: {Name: FFmpeg, Version: v},
		}}
	}

	assert.True(t, reg(Version{6, 0, 0}).SupportsFPSMode())
	assert.True(t, reg(Version{5, 1, 0}).SupportsFPSMode())
	assert.False(t, reg(Version{5, 0, 0}).SupportsFPSMode())

	assert.True(t, reg(Version{4, 4, 0}).SupportsStatsPeriod())
	assert.False(t, reg(Version{4, 3, 0}).SupportsStatsPeriod())

	assert.True(t, reg(Version{3, 4, 0}).NeedsExplicitPCM())
	assert.False(t, reg(Version{4, 0, 0}).NeedsExplicitPCM())
}

func TestRequire(t *testing.T) {
	r := &Registry{tools: map[string]*Tool{
		FFprobe: {Name: FFprobe, Path: "/usr/bin/ffprobe"},
	}}

	got, err := r.Require(FFprobe)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/ffprobe", got.Path)

	_, err = r.Require(MKVPropedit)
	require.Error(t, err)
	assert.True(t, IsToolMissing(err))
	assert.Contains(t, err.Error(), "mkvpropedit")
}
