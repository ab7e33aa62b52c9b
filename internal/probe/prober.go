// SPDX-License-Identifier: MIT

// Package probe invokes ffprobe and converts its JSON output into the
// canonical FileInfo model the rest of vpo works with.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Probe runs a single ffprobe JSON call against path and returns the
// parsed result.
func Probe(ctx context.Context, ffprobePath, path string) (*FileInfo, error) {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-show_streams", "-show_format",
		"-of", "json",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %q: %w", path, err)
	}

	fi, err := ParseJSON(out)
	if err != nil {
		return nil, err
	}
	fi.Path = path

	// Size and mtime come from the filesystem, not the probe output,
	// so a stale ffprobe cache can never misreport them.
	if st, err := os.Stat(path); err == nil {
		fi.Size = st.Size()
		fi.ModTime = st.ModTime().UTC()
	}
	return fi, nil
}

// ParseJSON converts raw ffprobe JSON output into a FileInfo.
// Exported for testing without a real ffprobe binary.
func ParseJSON(data []byte) (*FileInfo, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	return buildFileInfo(&raw), nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string            `json:"filename"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	Tags       map[string]string `json:"tags"`
}

type ffprobeStream struct {
	Index          int               `json:"index"`
	CodecName      string            `json:"codec_name"`
	CodecType      string            `json:"codec_type"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	RFrameRate     string            `json:"r_frame_rate"`
	AvgFrameRate   string            `json:"avg_frame_rate"`
	Duration       string            `json:"duration"`
	Channels       int               `json:"channels"`
	ChannelLayout  string            `json:"channel_layout"`
	ColorTransfer  string            `json:"color_transfer"`
	ColorPrimaries string            `json:"color_primaries"`
	ColorSpace     string            `json:"color_space"`
	ColorRange     string            `json:"color_range"`
	Disposition    map[string]int    `json:"disposition"`
	Tags           map[string]string `json:"tags"`
}

// --- Conversion from wire types to domain types ---

func buildFileInfo(raw *ffprobeOutput) *FileInfo {
	fi := &FileInfo{
		Container: NormalizeContainer(raw.Format.FormatName),
		Duration:  parseFloat(raw.Format.Duration),
		Size:      parseInt64(raw.Format.Size),
		Tags:      lowerKeys(raw.Format.Tags),
	}

	seen := make(map[int]bool, len(raw.Streams))
	for i := range raw.Streams {
		s := &raw.Streams[i]
		if seen[s.Index] {
			// Malformed probe output: keep the first occurrence.
			fi.Warnings = append(fi.Warnings,
				fmt.Sprintf("duplicate stream index %d; keeping first occurrence", s.Index))
			continue
		}
		seen[s.Index] = true
		fi.Tracks = append(fi.Tracks, convertStream(s))
	}
	return fi
}

func convertStream(s *ffprobeStream) Track {
	t := Track{
		Index:    s.Index,
		Kind:     kindOf(s.CodecType),
		Codec:    strings.ToLower(s.CodecName),
		Language: NormalizeLanguage(s.Tags["language"]),
		Title:    s.Tags["title"],
		Default:  s.Disposition["default"] == 1,
		Forced:   s.Disposition["forced"] == 1,
	}

	switch t.Kind {
	case KindVideo:
		t.Width = s.Width
		t.Height = s.Height
		t.FrameRate = s.RFrameRate
		if t.FrameRate == "" || t.FrameRate == "0/0" {
			t.FrameRate = s.AvgFrameRate
		}
		t.ColorTransfer = s.ColorTransfer
		t.ColorPrimaries = s.ColorPrimaries
		t.ColorSpace = s.ColorSpace
		t.ColorRange = s.ColorRange
	case KindAudio:
		t.Channels = s.Channels
		t.ChannelLayout = s.ChannelLayout
	}
	return t
}

func kindOf(codecType string) TrackKind {
	switch codecType {
	case "video":
		return KindVideo
	case "audio":
		return KindAudio
	case "subtitle":
		return KindSubtitle
	case "attachment":
		return KindAttachment
	default:
		return KindOther
	}
}

// NormalizeContainer maps ffprobe's comma-separated format_name to a
// single canonical tag. Matroska and mkv are treated as equal.
func NormalizeContainer(formatName string) string {
	name := strings.ToLower(strings.TrimSpace(formatName))
	first := name
	if i := strings.IndexByte(name, ','); i >= 0 {
		first = name[:i]
	}
	switch {
	case strings.Contains(name, "matroska"):
		return "mkv"
	case first == "mov" || strings.Contains(name, "mp4"):
		return "mp4"
	case first == "avi":
		return "avi"
	case strings.Contains(name, "mpegts"):
		return "ts"
	default:
		return first
	}
}

func lowerKeys(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[strings.ToLower(k)] = v
	}
	return out
}

// --- Numeric parsing helpers (ffprobe returns numbers as strings) ---

func parseInt64(s string) int64 {
	s = strings.TrimSpace(s)
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
