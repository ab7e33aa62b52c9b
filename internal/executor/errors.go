// SPDX-License-Identifier: MIT

package executor

import "fmt"

// ErrorKind classifies executor failures for job records and retries.
type ErrorKind string

const (
	KindPreflight  ErrorKind = "preflight"
	KindTool       ErrorKind = "tool"
	KindSubprocess ErrorKind = "subprocess"
	KindValidation ErrorKind = "validation"
	KindRestore    ErrorKind = "restore"
)

// Error is the executor's typed failure. Err carries the cause; Kind
// decides how callers react (pre-flight failures never touched the
// file, restore failures mean the original may be gone).
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s %s", e.Kind, e.Op, e.Path)
	}
	return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func errKind(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}
