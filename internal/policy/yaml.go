// SPDX-License-Identifier: MIT

package policy

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML accepts either an expression string or a structured
// condition object. Compilation to the expression AST happens in
// compile(), after the whole document is decoded, so errors can carry
// rule names.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		c.Source = s
		return nil
	case yaml.MappingNode:
		var m map[string]any
		if err := node.Decode(&m); err != nil {
			return err
		}
		c.Structured = m
		return nil
	default:
		return fmt.Errorf("condition must be an expression string or a mapping")
	}
}

// MarshalYAML emits the authored form unchanged.
func (c Condition) MarshalYAML() (any, error) {
	if c.Source != "" {
		return c.Source, nil
	}
	return c.Structured, nil
}

// ruleActionPayload is the mapping form shared by the track-targeting
// actions.
type ruleActionPayload struct {
	Kind               string              `yaml:"kind,omitempty"`
	Language           string              `yaml:"language,omitempty"`
	Value              *bool               `yaml:"value,omitempty"`
	Field              string              `yaml:"field,omitempty"`
	TextValue          *string             `yaml:"text,omitempty"`
	FromPluginMetadata *pluginMetadataref  `yaml:"from_plugin_metadata,omitempty"`
}

type pluginMetadataref struct {
	Plugin string `yaml:"plugin"`
	Field  string `yaml:"field"`
}

// UnmarshalYAML accepts a bare action name (for the skip flags) or a
// single-key mapping of action name to payload.
func (a *RuleAction) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		switch ActionKind(s) {
		case ActionSkipVideoTranscode, ActionSkipAudioTranscode, ActionSkipTrackFilter:
			a.Kind = ActionKind(s)
			return nil
		default:
			return fmt.Errorf("unknown rule action %q", s)
		}
	}

	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("rule action must be a name or a single-key mapping")
	}

	var name string
	if err := node.Content[0].Decode(&name); err != nil {
		return err
	}
	payload := node.Content[1]

	switch ActionKind(name) {
	case ActionSkipVideoTranscode, ActionSkipAudioTranscode, ActionSkipTrackFilter:
		a.Kind = ActionKind(name)
		var enabled bool
		if err := payload.Decode(&enabled); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if !enabled {
			return fmt.Errorf("%s: only 'true' is meaningful", name)
		}
		return nil

	case ActionWarn, ActionFail:
		a.Kind = ActionKind(name)
		return payload.Decode(&a.Template)

	case ActionSetForced, ActionSetDefault:
		a.Kind = ActionKind(name)
		var p ruleActionPayload
		if err := payload.Decode(&p); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		a.TrackKind = p.Kind
		a.Language = p.Language
		if p.Value != nil {
			a.Value = *p.Value
		} else {
			a.Value = true
		}
		return nil

	case ActionSetLanguage:
		a.Kind = ActionSetLanguage
		var p ruleActionPayload
		if err := payload.Decode(&p); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		a.TrackKind = p.Kind
		a.NewLanguage = p.Language
		if p.FromPluginMetadata != nil {
			a.FromPlugin = p.FromPluginMetadata.Plugin
			a.FromPluginField = p.FromPluginMetadata.Field
		}
		return nil

	case ActionSetContainerMetadata:
		a.Kind = ActionSetContainerMetadata
		var p ruleActionPayload
		if err := payload.Decode(&p); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		a.Field = p.Field
		if p.TextValue != nil {
			a.TextValue = *p.TextValue
		}
		if p.FromPluginMetadata != nil {
			a.FromPlugin = p.FromPluginMetadata.Plugin
			a.FromPluginField = p.FromPluginMetadata.Field
		}
		return nil

	default:
		return fmt.Errorf("unknown rule action %q", name)
	}
}

// MarshalYAML emits the canonical single-key mapping form.
func (a RuleAction) MarshalYAML() (any, error) {
	switch a.Kind {
	case ActionSkipVideoTranscode, ActionSkipAudioTranscode, ActionSkipTrackFilter:
		return string(a.Kind), nil

	case ActionWarn, ActionFail:
		return map[string]string{string(a.Kind): a.Template}, nil

	case ActionSetForced, ActionSetDefault:
		v := a.Value
		return map[string]ruleActionPayload{string(a.Kind): {
			Kind:     a.TrackKind,
			Language: a.Language,
			Value:    &v,
		}}, nil

	case ActionSetLanguage:
		p := ruleActionPayload{Kind: a.TrackKind, Language: a.NewLanguage}
		if a.FromPlugin != "" {
			p.Language = ""
			p.FromPluginMetadata = &pluginMetadataref{Plugin: a.FromPlugin, Field: a.FromPluginField}
		}
		return map[string]ruleActionPayload{string(a.Kind): p}, nil

	case ActionSetContainerMetadata:
		p := ruleActionPayload{Field: a.Field}
		if a.FromPlugin != "" {
			p.FromPluginMetadata = &pluginMetadataref{Plugin: a.FromPlugin, Field: a.FromPluginField}
		} else {
			tv := a.TextValue
			p.TextValue = &tv
		}
		return map[string]ruleActionPayload{string(a.Kind): p}, nil

	default:
		return nil, fmt.Errorf("unknown rule action kind %q", a.Kind)
	}
}
