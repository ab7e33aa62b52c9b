// SPDX-License-Identifier: MIT

package policy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/randomparity/vpo-sub005/internal/policy/expr"
)

func parseExpression(src string) (expr.Node, error) {
	return expr.Parse(src)
}

// Validate checks the document against the schema. It is called by
// Load; exported so `vpo policy validate` can report all problems from
// a hand-constructed document too.
func (p *Policy) Validate() error {
	if p.SchemaVersion == 0 {
		return fmt.Errorf("missing schema_version")
	}
	if p.SchemaVersion > CurrentSchemaVersion {
		return fmt.Errorf("schema_version %d is newer than supported version %d", p.SchemaVersion, CurrentSchemaVersion)
	}

	seen := make(map[string]bool, len(p.Phases))
	for i := range p.Phases {
		ph := &p.Phases[i]
		if ph.Name == "" {
			return fmt.Errorf("phase %d: missing name", i)
		}
		if seen[ph.Name] {
			return fmt.Errorf("duplicate phase name %q", ph.Name)
		}
		seen[ph.Name] = true

		switch ph.OnError {
		case "", "fail", "continue":
		default:
			return fmt.Errorf("phase %q: invalid on_error %q", ph.Name, ph.OnError)
		}

		for j, sp := range ph.SkipWhen {
			if err := sp.validate(); err != nil {
				return fmt.Errorf("phase %q skip_when[%d]: %w", ph.Name, j, err)
			}
		}

		if ph.ConditionalRules != nil {
			if err := ph.ConditionalRules.validate(); err != nil {
				return fmt.Errorf("phase %q: %w", ph.Name, err)
			}
		}
		if ph.TrackFilter != nil {
			if err := ph.TrackFilter.validate(); err != nil {
				return fmt.Errorf("phase %q track_filter: %w", ph.Name, err)
			}
		}
		if ph.ContainerConvert != nil {
			if err := ph.ContainerConvert.validate(); err != nil {
				return fmt.Errorf("phase %q container_convert: %w", ph.Name, err)
			}
		}
		for _, syn := range ph.AudioSynthesis {
			if err := syn.validate(); err != nil {
				return fmt.Errorf("phase %q synthesis %q: %w", ph.Name, syn.Name, err)
			}
		}
		if ph.Transcode != nil {
			if err := ph.Transcode.validate(); err != nil {
				return fmt.Errorf("phase %q transcode: %w", ph.Name, err)
			}
		}
		if ph.FileTimestamp != nil {
			if err := ph.FileTimestamp.validate(); err != nil {
				return fmt.Errorf("phase %q file_timestamp: %w", ph.Name, err)
			}
		}
	}
	return nil
}

func (sp *SkipPredicate) validate() error {
	n := 0
	if len(sp.VideoCodec) > 0 {
		n++
	}
	if sp.AudioCodecExists != "" {
		n++
	}
	if sp.SubtitleLanguageExists != "" {
		n++
	}
	if len(sp.Container) > 0 {
		n++
	}
	if sp.Resolution != "" {
		n++
	}
	if sp.ResolutionUnder != "" {
		n++
	}
	if sp.FileSizeUnder != "" {
		n++
	}
	if sp.FileSizeOver != "" {
		n++
	}
	if sp.DurationUnder != "" {
		n++
	}
	if sp.DurationOver != "" {
		n++
	}
	if n == 0 {
		return fmt.Errorf("empty predicate")
	}
	if n > 1 {
		return fmt.Errorf("exactly one predicate per entry")
	}
	return nil
}

func (rs *RuleSet) validate() error {
	switch rs.Mode {
	case "", "first", "all":
	default:
		return fmt.Errorf("invalid rule mode %q (want first or all)", rs.Mode)
	}
	names := make(map[string]bool, len(rs.Rules))
	for i, r := range rs.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule %d: missing name", i)
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate rule name %q", r.Name)
		}
		names[r.Name] = true
		if len(r.Then) == 0 {
			return fmt.Errorf("rule %q: empty then list", r.Name)
		}
	}
	return nil
}

func (tf *TrackFilter) validate() error {
	if tf.Audio != nil {
		switch tf.Audio.Fallback {
		case "", "content_language", "keep_all", "keep_first", "error":
		default:
			return fmt.Errorf("invalid audio fallback %q", tf.Audio.Fallback)
		}
		if tf.Audio.Minimum < 0 {
			return fmt.Errorf("audio minimum must not be negative")
		}
	}
	return nil
}

func (cc *ContainerConvert) validate() error {
	if cc.Target == "" {
		return fmt.Errorf("missing target container")
	}
	switch cc.OnIncompatibleCodec {
	case "", "error", "skip", "ignore":
		return nil
	default:
		return fmt.Errorf("invalid on_incompatible_codec %q", cc.OnIncompatibleCodec)
	}
}

func (s *SynthesisDef) validate() error {
	if s.Name == "" {
		return fmt.Errorf("missing name")
	}
	// Names end up in temp-file paths.
	if strings.ContainsAny(s.Name, `/\`) || strings.Contains(s.Name, "..") {
		return fmt.Errorf("name %q must not contain path separators or '..'", s.Name)
	}
	if s.Codec == "" {
		return fmt.Errorf("missing codec")
	}
	if s.Channels <= 0 {
		return fmt.Errorf("channels must be positive")
	}
	switch s.Position {
	case "", "after_source", "end":
	default:
		if n, err := strconv.Atoi(s.Position); err != nil || n < 1 {
			return fmt.Errorf("position must be after_source, end, or a 1-based index")
		}
	}
	if s.Prefer != nil {
		switch s.Prefer.Channels {
		case "", "max", "min":
		default:
			return fmt.Errorf("prefer.channels must be max or min")
		}
	}
	return nil
}

func (t *TranscodeTarget) validate() error {
	if t.Video == nil && t.Audio == nil {
		return fmt.Errorf("transcode target needs video and/or audio")
	}
	if t.Video != nil {
		if t.Video.Codec == "" {
			return fmt.Errorf("missing video codec")
		}
		switch t.Video.Hardware {
		case "", "auto", "nvenc", "qsv", "vaapi", "none":
		default:
			return fmt.Errorf("invalid hardware mode %q", t.Video.Hardware)
		}
	}
	if t.Audio != nil && t.Audio.Codec == "" {
		return fmt.Errorf("missing audio codec")
	}
	if t.SpaceRatio < 0 {
		return fmt.Errorf("space_ratio must not be negative")
	}
	return nil
}

func (tp *TimestampPolicy) validate() error {
	switch tp.Mode {
	case "preserve", "release_date", "now":
	default:
		return fmt.Errorf("invalid mode %q", tp.Mode)
	}
	if tp.Mode == "release_date" {
		switch tp.Fallback {
		case "", "preserve", "now", "skip":
		default:
			return fmt.Errorf("invalid fallback %q", tp.Fallback)
		}
		if tp.Plugin == "" || tp.Field == "" {
			return fmt.Errorf("release_date mode requires plugin and field")
		}
	}
	return nil
}
