// SPDX-License-Identifier: MIT

// Package vpotypes provides type-safe enumerations shared across vpo.
//
// Centralizing job and plan state types prevents string-based typos and
// enables exhaustive switch statements.
package vpotypes

import (
	"encoding/json"
	"fmt"
)

// JobStatus represents the current state of a queued job.
type JobStatus string

const (
	// JobStatusQueued indicates the job is waiting to be claimed.
	JobStatusQueued JobStatus = "queued"

	// JobStatusRunning indicates a worker currently owns the job.
	JobStatusRunning JobStatus = "running"

	// JobStatusCompleted indicates the job finished successfully.
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed indicates the job terminated with an error.
	JobStatusFailed JobStatus = "failed"

	// JobStatusCancelled indicates the job was cancelled before running.
	JobStatusCancelled JobStatus = "cancelled"
)

// String implements fmt.Stringer.
func (s JobStatus) String() string {
	return string(s)
}

// IsValid checks whether the job status is one of the defined constants.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal checks whether the job status represents a final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether this status may transition to target.
//
// Valid transitions:
//   - queued → running, cancelled
//   - running → completed, failed
//   - failed/cancelled → queued (manual requeue)
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return target == JobStatusRunning || target == JobStatusCancelled
	case JobStatusRunning:
		return target == JobStatusCompleted || target == JobStatusFailed
	case JobStatusFailed, JobStatusCancelled:
		return target == JobStatusQueued
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (s JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := JobStatus(str)
	if !status.IsValid() {
		return fmt.Errorf("invalid job status: %q", str)
	}
	*s = status
	return nil
}

// ParseJobStatus parses a string into a JobStatus, returning an error if invalid.
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid job status: %q (valid: queued, running, completed, failed, cancelled)", s)
	}
	return status, nil
}

// JobKind identifies what a job does when it runs.
type JobKind string

const (
	JobKindScan      JobKind = "scan"
	JobKindApply     JobKind = "apply"
	JobKindTranscode JobKind = "transcode"
	JobKindMove      JobKind = "move"
)

// String implements fmt.Stringer.
func (k JobKind) String() string {
	return string(k)
}

// IsValid checks whether the job kind is one of the defined constants.
func (k JobKind) IsValid() bool {
	switch k {
	case JobKindScan, JobKindApply, JobKindTranscode, JobKindMove:
		return true
	default:
		return false
	}
}

// Mutating reports whether the kind rewrites its target file. Mutating
// kinds are exclusive per file in the queue; scans are not.
func (k JobKind) Mutating() bool {
	switch k {
	case JobKindApply, JobKindTranscode, JobKindMove:
		return true
	default:
		return false
	}
}

// ParseJobKind parses a string into a JobKind, returning an error if invalid.
func ParseJobKind(s string) (JobKind, error) {
	kind := JobKind(s)
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid job kind: %q (valid: scan, apply, transcode, move)", s)
	}
	return kind, nil
}
