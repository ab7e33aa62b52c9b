// SPDX-License-Identifier: MIT

// Package plan defines the evaluator's output model: an ordered list of
// planned actions plus accumulated warnings, skip flags, and the
// conditional evaluation trace. Plans are immutable once produced and
// trivially serializable; actions reference tracks by index only.
package plan

import (
	"encoding/json"
	"fmt"
)

// ActionKind is the discriminator tag of a planned action.
type ActionKind string

const (
	SetDefault           ActionKind = "SET_DEFAULT"
	ClearDefault         ActionKind = "CLEAR_DEFAULT"
	SetForced            ActionKind = "SET_FORCED"
	ClearForced          ActionKind = "CLEAR_FORCED"
	SetTitle             ActionKind = "SET_TITLE"
	SetLanguage          ActionKind = "SET_LANGUAGE"
	RemoveTrack          ActionKind = "REMOVE_TRACK"
	Reorder              ActionKind = "REORDER"
	SetContainerMetadata ActionKind = "SET_CONTAINER_METADATA"
	TranscodeVideo       ActionKind = "TRANSCODE_VIDEO"
	TranscodeAudio       ActionKind = "TRANSCODE_AUDIO"
	CopyStream           ActionKind = "COPY_STREAM"
	RemuxTo              ActionKind = "REMUX_TO"
	SynthesizeAudio      ActionKind = "SYNTHESIZE_AUDIO"
	SetFileMtime         ActionKind = "SET_FILE_MTIME"
)

// IsValid checks the kind against the closed action set.
func (k ActionKind) IsValid() bool {
	switch k {
	case SetDefault, ClearDefault, SetForced, ClearForced, SetTitle,
		SetLanguage, RemoveTrack, Reorder, SetContainerMetadata,
		TranscodeVideo, TranscodeAudio, CopyStream, RemuxTo,
		SynthesizeAudio, SetFileMtime:
		return true
	default:
		return false
	}
}

// MetadataOnly reports whether the action can be realized without
// touching the media payload (property-editor or stream-copy strategy).
func (k ActionKind) MetadataOnly() bool {
	switch k {
	case SetDefault, ClearDefault, SetForced, ClearForced, SetTitle,
		SetLanguage, SetContainerMetadata, SetFileMtime:
		return true
	default:
		return false
	}
}

// Action is one planned mutation. Fields beyond Kind and TrackIndex are
// populated per kind; consumers always branch on Kind.
type Action struct {
	Kind       ActionKind `json:"kind"`
	TrackIndex int        `json:"track_index,omitempty"`

	// Flag/title/language/container-metadata mutations. For
	// SET_CONTAINER_METADATA, CurrentValue holds the field name and
	// DesiredValue the text (empty string deletes the tag).
	CurrentValue string `json:"current_value,omitempty"`
	DesiredValue string `json:"desired_value,omitempty"`

	// REORDER payload: new stream order as a list of current indexes.
	NewOrder []int `json:"new_order,omitempty"`

	// Transcode payloads.
	Codec   string `json:"codec,omitempty"`
	Encoder string `json:"encoder,omitempty"` // resolved by the executor
	Bitrate string `json:"bitrate,omitempty"`
	CRF     int    `json:"crf,omitempty"`
	Preset  string `json:"preset,omitempty"`

	// Hardware acceleration preference (auto|nvenc|qsv|vaapi|none) and
	// whether a failed hardware encode may retry on the CPU.
	Hardware      string `json:"hardware,omitempty"`
	FallbackToCPU bool   `json:"fallback_to_cpu,omitempty"`

	// SpaceRatio is the expected output/input size ratio, consumed by
	// the executor's disk-space pre-flight.
	SpaceRatio float64 `json:"space_ratio,omitempty"`

	// REMUX_TO payload.
	TargetContainer string `json:"target_container,omitempty"`

	// SYNTHESIZE_AUDIO payload.
	Synthesis *SynthesisSpec `json:"synthesis,omitempty"`

	// SET_FILE_MTIME payload: RFC3339 UTC, empty means leave OS default.
	Mtime string `json:"mtime,omitempty"`
}

// SynthesisSpec carries everything the executor needs to build the
// filter-graph for one synthesized audio track.
type SynthesisSpec struct {
	Name          string `json:"name"`
	SourceIndex   int    `json:"source_index"`
	Codec         string `json:"codec"`
	Channels      int    `json:"channels"`
	Bitrate       string `json:"bitrate,omitempty"`
	DownmixFilter string `json:"downmix_filter,omitempty"`
	Title         string `json:"title,omitempty"`
	Language      string `json:"language,omitempty"`
	// Position: "after_source", "end", or a 1-based index rendered as
	// a decimal string.
	Position string `json:"position,omitempty"`
}

// TraceEntry records one conditional-rule evaluation for debuggability.
type TraceEntry struct {
	Phase   string `json:"phase"`
	Rule    string `json:"rule"`
	Matched bool   `json:"matched"`
	Detail  string `json:"detail,omitempty"`
}

// SkipReason records why a phase was skipped.
type SkipReason struct {
	Phase     string `json:"phase"`
	Predicate string `json:"predicate"`
}

// Plan is the evaluator's deterministic output for one file.
type Plan struct {
	Path            string       `json:"path"`
	SourceContainer string       `json:"source_container"`
	Actions         []Action     `json:"actions"`
	Warnings        []string     `json:"warnings,omitempty"`
	SkippedPhases   []SkipReason `json:"skipped_phases,omitempty"`

	SkipVideoTranscode bool `json:"skip_video_transcode,omitempty"`
	SkipAudioTranscode bool `json:"skip_audio_transcode,omitempty"`
	SkipTrackFilter    bool `json:"skip_track_filter,omitempty"`

	Trace []TraceEntry `json:"trace,omitempty"`
}

// Empty reports whether the plan carries no work: no actions and no
// track-filter removals.
func (p *Plan) Empty() bool {
	return len(p.Actions) == 0
}

// HasKind reports whether any action of the given kind is present.
func (p *Plan) HasKind(kind ActionKind) bool {
	for _, a := range p.Actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// RemovedIndexes returns the track indexes removed by the plan.
func (p *Plan) RemovedIndexes() map[int]bool {
	out := make(map[int]bool)
	for _, a := range p.Actions {
		if a.Kind == RemoveTrack {
			out[a.TrackIndex] = true
		}
	}
	return out
}

// MetadataOnly reports whether every action is metadata-like.
func (p *Plan) MetadataOnly() bool {
	for _, a := range p.Actions {
		if !a.Kind.MetadataOnly() {
			return false
		}
	}
	return true
}

// Marshal serializes the plan to JSON, preserving action order.
func (p *Plan) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Unmarshal re-hydrates a serialized plan, validating action kinds.
func Unmarshal(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	for i, a := range p.Actions {
		if !a.Kind.IsValid() {
			return nil, fmt.Errorf("action %d: invalid kind %q", i, a.Kind)
		}
	}
	return &p, nil
}
