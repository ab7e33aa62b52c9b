// SPDX-License-Identifier: MIT

package evaluate

import "fmt"

// RuleError is raised by a policy fail action. It carries the rule name
// and the rendered template so callers can surface both.
type RuleError struct {
	Rule    string
	Message string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %q failed: %s", e.Rule, e.Message)
}

// FilterError is raised when the track filter's fallback mode is
// "error" and the minimum cannot be met.
type FilterError struct {
	Kind    string
	Minimum int
	Have    int
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("%s filter would keep %d tracks, minimum is %d", e.Kind, e.Have, e.Minimum)
}

// ConditionError is raised when a predicate cannot be evaluated against
// the file, e.g. an unknown identifier or a type mismatch. These are
// configuration-shaped problems surfaced at evaluation time.
type ConditionError struct {
	Detail string
}

func (e *ConditionError) Error() string {
	return "condition: " + e.Detail
}

func condErr(format string, args ...any) error {
	return &ConditionError{Detail: fmt.Sprintf(format, args...)}
}
