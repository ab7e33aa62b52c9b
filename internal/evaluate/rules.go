// SPDX-License-Identifier: MIT

package evaluate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/randomparity/vpo-sub005/internal/plan"
	"github.com/randomparity/vpo-sub005/internal/policy"
	"github.com/randomparity/vpo-sub005/internal/probe"
)

// runRules evaluates the phase's conditional rules in source order.
// Mode "first" stops after the first matched rule; "all" keeps going.
func (e *evaluator) runRules(ph *policy.Phase) error {
	rs := ph.ConditionalRules
	for ri := range rs.Rules {
		rule := &rs.Rules[ri]

		matched, err := e.evalBool(rule.When.Expr())
		if err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		e.plan.Trace = append(e.plan.Trace, plan.TraceEntry{
			Phase:   ph.Name,
			Rule:    rule.Name,
			Matched: matched,
		})

		actions := rule.Then
		if !matched {
			actions = rule.Else
		}
		for ai := range actions {
			if err := e.applyRuleAction(rule.Name, &actions[ai]); err != nil {
				return err
			}
		}

		if matched && rs.Mode != "all" {
			break
		}
	}
	return nil
}

func (e *evaluator) applyRuleAction(ruleName string, a *policy.RuleAction) error {
	switch a.Kind {
	case policy.ActionSkipVideoTranscode:
		e.plan.SkipVideoTranscode = true
	case policy.ActionSkipAudioTranscode:
		e.plan.SkipAudioTranscode = true
	case policy.ActionSkipTrackFilter:
		e.plan.SkipTrackFilter = true

	case policy.ActionWarn:
		e.warnf("%s", e.renderTemplate(a.Template, ruleName))

	case policy.ActionFail:
		return &RuleError{Rule: ruleName, Message: e.renderTemplate(a.Template, ruleName)}

	case policy.ActionSetForced, policy.ActionSetDefault:
		return e.applyFlagAction(a)

	case policy.ActionSetLanguage:
		return e.applyLanguageAction(a)

	case policy.ActionSetContainerMetadata:
		return e.applyMetadataAction(a)

	default:
		return fmt.Errorf("rule %q: unknown action kind %q", ruleName, a.Kind)
	}
	return nil
}

// applyFlagAction emits SET_FORCED / SET_DEFAULT for matching tracks.
// set_default applies to the first match only; set_forced to all.
func (e *evaluator) applyFlagAction(a *policy.RuleAction) error {
	kind, err := trackKind(a.TrackKind)
	if err != nil {
		return err
	}
	wantLang := ""
	if a.Language != "" {
		wantLang = probe.NormalizeLanguage(a.Language)
	}

	for _, t := range e.surviving(kind) {
		if wantLang != "" && t.Language != wantLang {
			continue
		}
		current := t.Forced
		actionKind := plan.SetForced
		clearKind := plan.ClearForced
		if a.Kind == policy.ActionSetDefault {
			current = t.Default
			actionKind = plan.SetDefault
			clearKind = plan.ClearDefault
		}

		if current != a.Value {
			k := actionKind
			if !a.Value {
				k = clearKind
			}
			e.plan.Actions = append(e.plan.Actions, plan.Action{
				Kind:         k,
				TrackIndex:   t.Index,
				CurrentValue: boolString(current),
				DesiredValue: boolString(a.Value),
			})
		}
		if a.Kind == policy.ActionSetDefault {
			break
		}
	}
	return nil
}

// applyLanguageAction emits SET_LANGUAGE, resolving the dynamic plugin
// form against the analysis set. Absent plugin values drop the action
// with a warning rather than failing the run.
func (e *evaluator) applyLanguageAction(a *policy.RuleAction) error {
	kind, err := trackKind(a.TrackKind)
	if err != nil {
		return err
	}

	newLang := a.NewLanguage
	if a.FromPlugin != "" {
		v, ok := e.analyses.PluginFieldString(a.FromPlugin, a.FromPluginField)
		if !ok {
			e.warnf("set_language: plugin %s field %s not available; action dropped",
				a.FromPlugin, a.FromPluginField)
			return nil
		}
		newLang = v
	}
	newLang = probe.NormalizeLanguage(newLang)

	for _, t := range e.surviving(kind) {
		if t.Language == newLang {
			continue
		}
		e.plan.Actions = append(e.plan.Actions, plan.Action{
			Kind:         plan.SetLanguage,
			TrackIndex:   t.Index,
			CurrentValue: t.Language,
			DesiredValue: newLang,
		})
	}
	return nil
}

func (e *evaluator) applyMetadataAction(a *policy.RuleAction) error {
	val := a.TextValue
	if a.FromPlugin != "" {
		v, ok := e.analyses.PluginFieldString(a.FromPlugin, a.FromPluginField)
		if !ok {
			e.warnf("set_container_metadata: plugin %s field %s not available; action dropped",
				a.FromPlugin, a.FromPluginField)
			return nil
		}
		val = v
	}
	e.emitContainerMetadata(a.Field, val)
	return nil
}

// emitContainerMetadata appends a container-level action when the
// current tag value differs. An empty desired value deletes the tag.
func (e *evaluator) emitContainerMetadata(field, desired string) {
	current, exists := e.fi.Tags[strings.ToLower(field)]
	if desired == "" && !exists {
		return
	}
	if exists && current == desired {
		return
	}
	e.plan.Actions = append(e.plan.Actions, plan.Action{
		Kind:         plan.SetContainerMetadata,
		CurrentValue: field,
		DesiredValue: desired,
	})
}

// planContainerMetadata handles the phase-level static metadata map in
// sorted field order for determinism.
func (e *evaluator) planContainerMetadata(meta map[string]string) {
	fields := make([]string, 0, len(meta))
	for f := range meta {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		e.emitContainerMetadata(f, meta[f])
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
