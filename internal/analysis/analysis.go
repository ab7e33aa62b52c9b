// SPDX-License-Identifier: MIT

// Package analysis defines the side-channel analysis results the
// evaluator may consult: language detection, multi-language segments,
// original/dubbed classification, and plugin-supplied metadata blobs.
// Analyzers themselves live outside the core; this package is only the
// contract between their stored output and the evaluator.
package analysis

import (
	"encoding/json"
	"sort"
)

// TrackClass classifies an audio track's content.
type TrackClass string

const (
	ClassSpeech     TrackClass = "speech"
	ClassCommentary TrackClass = "commentary"
	ClassMusic      TrackClass = "music"
	ClassSFX        TrackClass = "sfx"
	ClassNonSpeech  TrackClass = "non_speech"
)

// LanguageResult is the primary-language detection output for one track.
type LanguageResult struct {
	TrackIndex int     `json:"track_index"`
	Language   string  `json:"language"` // ISO 639-2/B
	Confidence float64 `json:"confidence"`
}

// Segment is one detected language span within a track.
type Segment struct {
	TrackIndex int     `json:"track_index"`
	Language   string  `json:"language"`
	Start      float64 `json:"start"` // seconds
	End        float64 `json:"end"`
}

// Classification is the original-vs-dubbed result for one audio track.
type Classification struct {
	TrackIndex int        `json:"track_index"`
	Original   bool       `json:"original"`
	Class      TrackClass `json:"class,omitempty"`
}

// Set bundles every analysis available for one file. All maps are
// keyed by track index; Plugins is keyed by plugin name, each value a
// flat field map of JSON values.
type Set struct {
	Languages       map[int]LanguageResult        `json:"languages,omitempty"`
	Segments        map[int][]Segment             `json:"segments,omitempty"`
	Classifications map[int]Classification        `json:"classifications,omitempty"`
	Plugins         map[string]map[string]json.RawMessage `json:"plugins,omitempty"`

	// ContentLanguage is the externally detected original language of
	// the title, used by the track filter's content_language fallback.
	ContentLanguage string `json:"content_language,omitempty"`
}

// PluginField returns the raw JSON value for (plugin, field), if present.
func (s *Set) PluginField(plugin, field string) (json.RawMessage, bool) {
	if s == nil || s.Plugins == nil {
		return nil, false
	}
	fields, ok := s.Plugins[plugin]
	if !ok {
		return nil, false
	}
	v, ok := fields[field]
	return v, ok
}

// PluginFieldString returns the (plugin, field) value decoded as a
// string. Non-string JSON values are returned in their raw encoding.
func (s *Set) PluginFieldString(plugin, field string) (string, bool) {
	raw, ok := s.PluginField(plugin, field)
	if !ok {
		return "", false
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, true
	}
	return string(raw), true
}

// PluginNames returns the plugin names in sorted order, for
// deterministic iteration.
func (s *Set) PluginNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Plugins))
	for n := range s.Plugins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ContentLanguageOf returns the detected original language of the
// content, normalized, or empty when unknown. Nil-safe.
func (s *Set) ContentLanguageOf() string {
	if s == nil {
		return ""
	}
	return s.ContentLanguage
}

// IsOriginal reports the classification for a track; unknown tracks are
// neither original nor dubbed.
func (s *Set) IsOriginal(trackIndex int) (original, known bool) {
	if s == nil || s.Classifications == nil {
		return false, false
	}
	c, ok := s.Classifications[trackIndex]
	if !ok {
		return false, false
	}
	return c.Original, true
}

// ClassOf returns the content class for a track, or empty when unknown.
func (s *Set) ClassOf(trackIndex int) TrackClass {
	if s == nil || s.Classifications == nil {
		return ""
	}
	return s.Classifications[trackIndex].Class
}

// MultiLanguageRatio returns the fraction of analysed time a track
// spends outside primary, based on the segment analysis. The second
// return is false when no segments exist for the track.
func (s *Set) MultiLanguageRatio(trackIndex int, primary string) (float64, bool) {
	if s == nil || s.Segments == nil {
		return 0, false
	}
	segs := s.Segments[trackIndex]
	if len(segs) == 0 {
		return 0, false
	}

	if primary == "" {
		// Majority language is the primary when unspecified.
		byLang := map[string]float64{}
		for _, seg := range segs {
			byLang[seg.Language] += seg.End - seg.Start
		}
		best := 0.0
		for lang, dur := range byLang {
			if dur > best || (dur == best && lang < primary) {
				primary, best = lang, dur
			}
		}
	}

	var total, foreign float64
	for _, seg := range segs {
		d := seg.End - seg.Start
		total += d
		if seg.Language != primary {
			foreign += d
		}
	}
	if total <= 0 {
		return 0, false
	}
	return foreign / total, true
}
