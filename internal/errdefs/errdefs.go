// Package errdefs defines the error taxonomy shared across the capture
// orchestrator: validation failures, external utility failures, service host
// failures, and state corruption. Callers classify with errors.As.
package errdefs

import "fmt"

// ValidationError reports bad parameters rejected before any state change.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ExternalProcessError reports a non-zero exit (or failed invocation) of the
// native capture utility. Output carries the utility's raw combined output
// verbatim; it is surfaced to the caller, never swallowed.
type ExternalProcessError struct {
	Op     string
	Output string
	Err    error
}

func (e *ExternalProcessError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("capture utility %s failed: %v: %s", e.Op, e.Err, e.Output)
	}
	return fmt.Sprintf("capture utility %s failed: %v", e.Op, e.Err)
}

func (e *ExternalProcessError) Unwrap() error { return e.Err }

// ServiceHostError reports that the OS service failed to reach (or leave) the
// requested state. LogTail holds recent agent log lines to aid diagnosis.
type ServiceHostError struct {
	Msg     string
	LogTail string
	Err     error
}

func (e *ServiceHostError) Error() string {
	if e.LogTail != "" {
		return fmt.Sprintf("%s\nrecent agent log:\n%s", e.Msg, e.LogTail)
	}
	return e.Msg
}

func (e *ServiceHostError) Unwrap() error { return e.Err }

// StateCorruptionError reports an expected file missing mid-session or a
// persisted configuration with empty required fields. Fatal: the session
// terminates cleanly rather than continuing in an undefined state.
type StateCorruptionError struct {
	Msg string
}

func (e *StateCorruptionError) Error() string { return e.Msg }

// Corruptionf builds a StateCorruptionError from a format string.
func Corruptionf(format string, args ...interface{}) error {
	return &StateCorruptionError{Msg: fmt.Sprintf(format, args...)}
}
