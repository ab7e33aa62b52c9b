// SPDX-License-Identifier: MIT

package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMKV = `{
  "streams": [
    {
      "index": 0,
      "codec_name": "hevc",
      "codec_type": "video",
      "width": 3840,
      "height": 2160,
      "r_frame_rate": "24000/1001",
      "color_transfer": "smpte2084",
      "color_primaries": "bt2020",
      "color_space": "bt2020nc",
      "disposition": {"default": 1, "forced": 0},
      "tags": {"language": "und"}
    },
    {
      "index": 1,
      "codec_name": "dts",
      "codec_type": "audio",
      "channels": 6,
      "channel_layout": "5.1(side)",
      "disposition": {"default": 1, "forced": 0},
      "tags": {"language": "deu", "title": "DTS 5.1"}
    },
    {
      "index": 2,
      "codec_name": "subrip",
      "codec_type": "subtitle",
      "disposition": {"default": 0, "forced": 0},
      "tags": {"language": "en"}
    }
  ],
  "format": {
    "filename": "movie.mkv",
    "format_name": "matroska,webm",
    "duration": "7200.500000",
    "size": "4200000000",
    "tags": {"TITLE": "Movie", "ENCODER": "libebml"}
  }
}`

func TestParseJSON(t *testing.T) {
	fi, err := ParseJSON([]byte(sampleMKV))
	require.NoError(t, err)

	assert.Equal(t, "mkv", fi.Container)
	assert.Equal(t, int64(4200000000), fi.Size)
	assert.InDelta(t, 7200.5, fi.Duration, 0.001)
	assert.Equal(t, "Movie", fi.Tags["title"], "format tags are lowercased")
	require.Len(t, fi.Tracks, 3)

	v := fi.Tracks[0]
	assert.Equal(t, KindVideo, v.Kind)
	assert.Equal(t, "hevc", v.Codec)
	assert.Equal(t, 3840, v.Width)
	assert.Equal(t, "24000/1001", v.FrameRate)
	assert.True(t, v.IsHDR())
	assert.Equal(t, "und", v.Language)

	a := fi.Tracks[1]
	assert.Equal(t, KindAudio, a.Kind)
	assert.Equal(t, "ger", a.Language, "deu normalized to 639-2/B")
	assert.Equal(t, 6, a.Channels)
	assert.Equal(t, "DTS 5.1", a.Title)
	assert.True(t, a.Default)

	s := fi.Tracks[2]
	assert.Equal(t, KindSubtitle, s.Kind)
	assert.Equal(t, "eng", s.Language, "two-letter code expanded")
	assert.False(t, s.Forced)
}

func TestParseJSONDuplicateIndex(t *testing.T) {
	const dup = `{
	  "streams": [
	    {"index": 0, "codec_name": "h264", "codec_type": "video"},
	    {"index": 0, "codec_name": "aac", "codec_type": "audio"}
	  ],
	  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
	}`

	fi, err := ParseJSON([]byte(dup))
	require.NoError(t, err)
	require.Len(t, fi.Tracks, 1, "second occurrence dropped")
	assert.Equal(t, "h264", fi.Tracks[0].Codec)
	require.Len(t, fi.Warnings, 1)
	assert.Contains(t, fi.Warnings[0], "duplicate stream index 0")
}

func TestParseJSONMissingFieldsDegrade(t *testing.T) {
	const sparse = `{
	  "streams": [{"index": 0, "codec_name": "aac", "codec_type": "audio"}],
	  "format": {"format_name": "avi"}
	}`

	fi, err := ParseJSON([]byte(sparse))
	require.NoError(t, err)
	require.Len(t, fi.Tracks, 1)
	assert.Equal(t, "und", fi.Tracks[0].Language)
	assert.False(t, fi.Tracks[0].Default)
	assert.Equal(t, "avi", fi.Container)
}

func TestNormalizeContainer(t *testing.T) {
	cases := map[string]string{
		"matroska,webm":         "mkv",
		"mov,mp4,m4a,3gp,3g2":   "mp4",
		"avi":                   "avi",
		"mpegts":                "ts",
		"flv":                   "flv",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeContainer(in), "format %q", in)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]string{
		"eng": "eng",
		"deu": "ger",
		"ger": "ger",
		"de":  "ger",
		"en":  "eng",
		"fr":  "fre",
		"fra": "fre",
		"zh":  "chi",
		"":    "und",
		"und": "und",
		"xx!": "und",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeLanguage(in), "tag %q", in)
	}
}
