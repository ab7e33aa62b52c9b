// SPDX-License-Identifier: MIT

package probe

import "time"

// TrackKind classifies a stream inside a container.
type TrackKind string

const (
	KindVideo      TrackKind = "video"
	KindAudio      TrackKind = "audio"
	KindSubtitle   TrackKind = "subtitle"
	KindAttachment TrackKind = "attachment"
	KindOther      TrackKind = "other"
)

// Track holds the parsed properties of a single stream. Tracks are
// identified by their zero-based index, stable across a probe; plans
// reference tracks by index only.
type Track struct {
	Index    int       `json:"index"`
	Kind     TrackKind `json:"kind"`
	Codec    string    `json:"codec"`
	Language string    `json:"language"` // ISO 639-2/B, "und" when unknown
	Title    string    `json:"title,omitempty"`
	Default  bool      `json:"default"`
	Forced   bool      `json:"forced"`

	// Video extras.
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	FrameRate      string `json:"frame_rate,omitempty"`
	ColorTransfer  string `json:"color_transfer,omitempty"`
	ColorPrimaries string `json:"color_primaries,omitempty"`
	ColorSpace     string `json:"color_space,omitempty"`
	ColorRange     string `json:"color_range,omitempty"`

	// Audio extras.
	Channels      int    `json:"channels,omitempty"`
	ChannelLayout string `json:"channel_layout,omitempty"`
}

// IsHDR reports whether the track carries HDR transfer metadata.
func (t Track) IsHDR() bool {
	switch t.ColorTransfer {
	case "smpte2084", "arib-std-b67":
		return true
	}
	return false
}

// FileInfo is the canonical result of probing one file. Immutable once
// produced; every successful executor run invalidates it.
type FileInfo struct {
	Path      string            `json:"path"`
	Container string            `json:"container"` // normalized ("mkv", "mp4", ...)
	Size      int64             `json:"size"`
	ModTime   time.Time         `json:"mod_time"`
	Duration  float64           `json:"duration"` // seconds
	Tags      map[string]string `json:"tags,omitempty"`
	Tracks    []Track           `json:"tracks"`

	// Warnings accumulated while parsing probe output (duplicate stream
	// indexes, unparseable fields). Informational only.
	Warnings []string `json:"warnings,omitempty"`
}

// TracksOfKind returns the tracks of the given kind in index order.
func (fi *FileInfo) TracksOfKind(kind TrackKind) []Track {
	var out []Track
	for _, t := range fi.Tracks {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// TrackByIndex returns the track with the given index, or nil.
func (fi *FileInfo) TrackByIndex(idx int) *Track {
	for i := range fi.Tracks {
		if fi.Tracks[i].Index == idx {
			return &fi.Tracks[i]
		}
	}
	return nil
}

// FirstVideo returns the first video track, or nil if none.
func (fi *FileInfo) FirstVideo() *Track {
	for i := range fi.Tracks {
		if fi.Tracks[i].Kind == KindVideo {
			return &fi.Tracks[i]
		}
	}
	return nil
}

// Resolution returns "WxH" for the first video track, or "unknown".
func (fi *FileInfo) Resolution() string {
	v := fi.FirstVideo()
	if v == nil || v.Width <= 0 || v.Height <= 0 {
		return "unknown"
	}
	return itoa(v.Width) + "x" + itoa(v.Height)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
