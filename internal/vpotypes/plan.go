// SPDX-License-Identifier: MIT

package vpotypes

import "fmt"

// PlanStatus represents the review state of a persisted plan.
type PlanStatus string

const (
	PlanStatusPending  PlanStatus = "pending"
	PlanStatusApproved PlanStatus = "approved"
	PlanStatusRejected PlanStatus = "rejected"
	PlanStatusExecuted PlanStatus = "executed"
	PlanStatusFailed   PlanStatus = "failed"
)

// String implements fmt.Stringer.
func (s PlanStatus) String() string {
	return string(s)
}

// IsValid checks whether the plan status is one of the defined constants.
func (s PlanStatus) IsValid() bool {
	switch s {
	case PlanStatusPending, PlanStatusApproved, PlanStatusRejected, PlanStatusExecuted, PlanStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal checks whether the plan status is immutable.
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanStatusRejected, PlanStatusExecuted, PlanStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks a transition against the allowed plan lifecycle:
// pending → approved|rejected, approved → executed|failed.
func (s PlanStatus) CanTransitionTo(target PlanStatus) bool {
	switch s {
	case PlanStatusPending:
		return target == PlanStatusApproved || target == PlanStatusRejected
	case PlanStatusApproved:
		return target == PlanStatusExecuted || target == PlanStatusFailed
	default:
		return false
	}
}

// ParsePlanStatus parses a string into a PlanStatus, returning an error if invalid.
func ParsePlanStatus(s string) (PlanStatus, error) {
	status := PlanStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid plan status: %q", s)
	}
	return status, nil
}
