// Package errors defines the error taxonomy surfaced by the installer
// core: a small set of named Kinds, each carrying whatever payload a
// caller needs to decide how to react (exit code, captured output, the
// phase and step that failed).
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

const (
	// Validation means an input field failed a precondition.
	Validation Kind = "validation"
	// Ssh means a transport-level failure: connect, auth, or a closed channel.
	Ssh Kind = "ssh"
	// Command means a remote command returned a non-zero exit code.
	Command Kind = "command"
	// Timeout means a command exceeded its per-command deadline.
	Timeout Kind = "timeout"
	// MissingDependency means a required tool was absent and apt could not provide it.
	MissingDependency Kind = "missing_dependency"
	// Io means a local I/O error: reading config, writing a downloaded log.
	Io Kind = "io"
)

// Error is the concrete error type returned by every component in
// this module. Phase and Step name where the failure happened for the
// orchestrator's report; ExitCode/Stdout/Stderr are populated only for
// Kind == Command.
type Error struct {
	Kind     Kind
	Phase    string
	Step     string
	ExitCode int
	Stdout   string
	Stderr   string
	Cause    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case Command:
		return fmt.Sprintf("%s: %s: command failed (exit %d): %s", e.Phase, e.Step, e.ExitCode, firstLine(e.Stderr, e.Cause))
	default:
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %s: %v", e.Phase, e.Step, e.Kind, e.Cause)
		}
		return fmt.Sprintf("%s: %s: %s", e.Phase, e.Step, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

func firstLine(stderr string, cause error) string {
	if stderr != "" {
		return stderr
	}
	if cause != nil {
		return cause.Error()
	}
	return "no output"
}

// New builds an Error of the given kind scoped to phase/step, wrapping cause.
func New(kind Kind, phase, step string, cause error) *Error {
	return &Error{Kind: kind, Phase: phase, Step: step, Cause: cause}
}

// Validationf builds a Validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: Validation, Phase: "validate", Step: "config", Cause: fmt.Errorf(format, args...)}
}

// Command error constructor, populated with the command's captured output.
func NewCommand(phase, step string, exitCode int, stdout, stderr string, cause error) *Error {
	return &Error{Kind: Command, Phase: phase, Step: step, ExitCode: exitCode, Stdout: stdout, Stderr: stderr, Cause: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
