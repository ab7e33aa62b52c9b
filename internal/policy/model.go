// SPDX-License-Identifier: MIT

// Package policy defines the schema-versioned policy document model and
// its YAML loader. A loaded Policy is immutable; conditional-rule
// expressions are parsed once at load time and cached on the rule.
package policy

import (
	"github.com/randomparity/vpo-sub005/internal/policy/expr"
)

// CurrentSchemaVersion is the newest policy schema this build accepts.
const CurrentSchemaVersion = 1

// Policy is the top-level document: an ordered list of phases executed
// strictly in source order.
type Policy struct {
	Name          string  `yaml:"name"`
	SchemaVersion int     `yaml:"schema_version"`
	Phases        []Phase `yaml:"phases"`
}

// Phase names a subset of operations plus an error mode and an optional
// skip-when predicate list (a disjunction: any match skips the phase).
type Phase struct {
	Name    string `yaml:"name"`
	OnError string `yaml:"on_error,omitempty"` // "fail" (default) or "continue"

	SkipWhen []SkipPredicate `yaml:"skip_when,omitempty"`

	ConditionalRules  *RuleSet          `yaml:"conditional_rules,omitempty"`
	TrackFilter       *TrackFilter      `yaml:"track_filter,omitempty"`
	TrackDefaults     *TrackDefaults    `yaml:"track_defaults,omitempty"`
	ContainerConvert  *ContainerConvert `yaml:"container_convert,omitempty"`
	AudioSynthesis    []SynthesisDef    `yaml:"audio_synthesis,omitempty"`
	Transcode         *TranscodeTarget  `yaml:"transcode,omitempty"`
	ContainerMetadata map[string]string `yaml:"container_metadata,omitempty"`
	FileTimestamp     *TimestampPolicy  `yaml:"file_timestamp,omitempty"`
}

// SkipPredicate is one concrete skip-when condition. Exactly one field
// is set per list entry.
type SkipPredicate struct {
	VideoCodec             []string `yaml:"video_codec,omitempty,flow"`
	AudioCodecExists       string   `yaml:"audio_codec_exists,omitempty"`
	SubtitleLanguageExists string   `yaml:"subtitle_language_exists,omitempty"`
	Container              []string `yaml:"container,omitempty,flow"`
	Resolution             string   `yaml:"resolution,omitempty"`
	ResolutionUnder        string   `yaml:"resolution_under,omitempty"`
	FileSizeUnder          string   `yaml:"file_size_under,omitempty"`
	FileSizeOver           string   `yaml:"file_size_over,omitempty"`
	DurationUnder          string   `yaml:"duration_under,omitempty"` // seconds or "90m"
	DurationOver           string   `yaml:"duration_over,omitempty"`
}

// RuleSet holds conditional rules and their evaluation mode.
type RuleSet struct {
	Mode  string `yaml:"mode,omitempty"` // "first" (default) or "all"
	Rules []Rule `yaml:"rules"`
}

// Rule is a when/then/else triple. When may be authored either as an
// expression string or as a structured condition object; both compile
// to the same expression AST at load time.
type Rule struct {
	Name string       `yaml:"name"`
	When Condition    `yaml:"when"`
	Then []RuleAction `yaml:"then"`
	Else []RuleAction `yaml:"else,omitempty"`
}

// Condition wraps the compiled predicate plus its authored source form
// so documents round-trip byte-compatibly.
type Condition struct {
	// Source is the expression string when authored as a string,
	// empty when authored structurally.
	Source string

	// Structured retains the object form when authored structurally.
	Structured map[string]any

	compiled expr.Node
}

// Expr returns the compiled predicate AST.
func (c *Condition) Expr() expr.Node {
	return c.compiled
}

// RuleAction is one entry of a then/else list, a tagged union over the
// action kinds of the rule language.
type RuleAction struct {
	Kind ActionKind

	// warn/fail templates ({filename}, {path}, {rule_name}).
	Template string

	// set_forced / set_default / set_language targets.
	TrackKind string
	Language  string
	Value     bool

	// set_language / set_container_metadata payloads.
	NewLanguage string
	Field       string
	TextValue   string

	// from_plugin_metadata indirection.
	FromPlugin      string
	FromPluginField string
}

// ActionKind enumerates the rule action kinds.
type ActionKind string

const (
	ActionSkipVideoTranscode   ActionKind = "skip_video_transcode"
	ActionSkipAudioTranscode   ActionKind = "skip_audio_transcode"
	ActionSkipTrackFilter      ActionKind = "skip_track_filter"
	ActionWarn                 ActionKind = "warn"
	ActionFail                 ActionKind = "fail"
	ActionSetForced            ActionKind = "set_forced"
	ActionSetDefault           ActionKind = "set_default"
	ActionSetLanguage          ActionKind = "set_language"
	ActionSetContainerMetadata ActionKind = "set_container_metadata"
)

// TrackFilter declares which tracks survive.
type TrackFilter struct {
	Audio       *AudioFilter      `yaml:"audio,omitempty"`
	Subtitles   *SubtitleFilter   `yaml:"subtitles,omitempty"`
	Attachments *AttachmentFilter `yaml:"attachments,omitempty"`
}

// AudioFilter keeps audio tracks whose language is in Languages.
type AudioFilter struct {
	Languages []string `yaml:"languages,flow"`
	Minimum   int      `yaml:"minimum,omitempty"` // default 1
	// Fallback when filtering would leave fewer than Minimum tracks:
	// content_language, keep_all, keep_first, error.
	Fallback string `yaml:"fallback,omitempty"`
	// KeepMusic exempts tracks classified music/sfx/non-speech from the
	// language filter.
	KeepMusic bool `yaml:"keep_music,omitempty"`
}

// SubtitleFilter keeps subtitles by language set.
type SubtitleFilter struct {
	Languages      []string `yaml:"languages,omitempty,flow"`
	PreserveForced bool     `yaml:"preserve_forced,omitempty"`
	RemoveAll      bool     `yaml:"remove_all,omitempty"`
}

// AttachmentFilter either removes all attachments or passes through.
type AttachmentFilter struct {
	RemoveAll bool `yaml:"remove_all,omitempty"`
}

// TrackDefaults drives default/forced flag normalization after filters.
type TrackDefaults struct {
	AudioLanguagePreference    []string `yaml:"audio_language_preference,omitempty,flow"`
	SubtitleLanguagePreference []string `yaml:"subtitle_language_preference,omitempty,flow"`
	SetSubtitleDefault         bool     `yaml:"set_subtitle_default,omitempty"`
	// ForceSubtitleForForeignAudio force-flags a preferred-language
	// subtitle when the chosen default audio language differs from
	// PreferredListenerLanguage.
	ForceSubtitleForForeignAudio bool   `yaml:"force_subtitle_for_foreign_audio,omitempty"`
	PreferredListenerLanguage    string `yaml:"preferred_listener_language,omitempty"`
}

// ContainerConvert requests a remux into a different container.
type ContainerConvert struct {
	Target string `yaml:"target"`
	// OnIncompatibleCodec: error (default), skip, ignore.
	OnIncompatibleCodec string `yaml:"on_incompatible_codec,omitempty"`
}

// SynthesisDef describes one audio track to synthesize.
type SynthesisDef struct {
	Name     string `yaml:"name"`
	Codec    string `yaml:"codec"`
	Channels int    `yaml:"channels"`
	Bitrate  string `yaml:"bitrate,omitempty"`

	CreateIf     *Condition        `yaml:"create_if,omitempty"`
	SkipIfExists *SynthesisMatch   `yaml:"skip_if_exists,omitempty"`
	Prefer       *SourcePreference `yaml:"prefer,omitempty"`

	Title    string `yaml:"title,omitempty"`    // literal or "inherit"
	Language string `yaml:"language,omitempty"` // literal or "inherit"
	Position string `yaml:"position,omitempty"` // after_source, end, or 1-based index
}

// SynthesisMatch short-circuits synthesis when a matching track exists.
type SynthesisMatch struct {
	Codec    string `yaml:"codec,omitempty"`
	Channels int    `yaml:"channels,omitempty"`
	Language string `yaml:"language,omitempty"` // literal or "same"
}

// SourcePreference scores candidate source tracks for synthesis.
type SourcePreference struct {
	Language      string   `yaml:"language,omitempty"`
	NotCommentary bool     `yaml:"not_commentary,omitempty"`
	Channels      string   `yaml:"channels,omitempty"` // "max" or "min"
	Codecs        []string `yaml:"codecs,omitempty,flow"`
}

// TranscodeTarget configures video/audio re-encoding.
type TranscodeTarget struct {
	Video *VideoTranscode `yaml:"video,omitempty"`
	Audio *AudioTranscode `yaml:"audio,omitempty"`
	// SpaceRatio overrides the codec-derived disk reservation ratio.
	SpaceRatio float64 `yaml:"space_ratio,omitempty"`
}

// VideoTranscode is the video side of a transcode target.
type VideoTranscode struct {
	Codec         string `yaml:"codec"`
	Hardware      string `yaml:"hardware,omitempty"` // auto|nvenc|qsv|vaapi|none
	FallbackToCPU bool   `yaml:"fallback_to_cpu,omitempty"`
	CRF           int    `yaml:"crf,omitempty"`
	Preset        string `yaml:"preset,omitempty"`
	Bitrate       string `yaml:"bitrate,omitempty"`
}

// AudioTranscode is the audio side of a transcode target.
type AudioTranscode struct {
	Codec   string `yaml:"codec"`
	Bitrate string `yaml:"bitrate,omitempty"`
	// Preserve lists codec patterns copied instead of re-encoded.
	// Patterns support '*' wildcards and alias groups (dts-hd).
	Preserve []string `yaml:"preserve,omitempty,flow"`
	Downmix  *Downmix `yaml:"downmix,omitempty"`
}

// Downmix adds one extra transcoded track fed from the highest-channel
// source.
type Downmix struct {
	Codec    string `yaml:"codec"`
	Channels int    `yaml:"channels"`
	Bitrate  string `yaml:"bitrate,omitempty"`
}

// TimestampPolicy controls the post-run file mtime.
type TimestampPolicy struct {
	Mode     string `yaml:"mode"`               // preserve|release_date|now
	Fallback string `yaml:"fallback,omitempty"` // preserve|now|skip (release_date only)
	Plugin   string `yaml:"plugin,omitempty"`
	Field    string `yaml:"field,omitempty"`
}
