package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestCommandErrorMessageIncludesExitCodeAndStderr(t *testing.T) {
	err := NewCommand("zfs", "create bpool", 1, "", "pool already exists", nil)
	msg := err.Error()
	if !strings.Contains(msg, "zfs") || !strings.Contains(msg, "create bpool") {
		t.Errorf("message %q missing phase/step", msg)
	}
	if !strings.Contains(msg, "exit 1") {
		t.Errorf("message %q missing exit code", msg)
	}
	if !strings.Contains(msg, "pool already exists") {
		t.Errorf("message %q missing stderr", msg)
	}
}

func TestIsMatchesTheWrappedKind(t *testing.T) {
	err := Validationf("hostname cannot be empty")
	if !Is(err, Validation) {
		t.Error("expected Is to match Validation")
	}
	if Is(err, Command) {
		t.Error("expected Is not to match Command")
	}
}

func TestIsFollowsTheChainThroughFmtErrorfWrap(t *testing.T) {
	inner := New(Ssh, "preflight", "dial", stderrors.New("connection refused"))
	wrapped := stderrors.New("preflight: " + inner.Error())
	if Is(wrapped, Ssh) {
		t.Error("Is must not match a plain string-wrapped error, only %w chains")
	}

	properlyWrapped := fmt.Errorf("preflight: %w", inner)
	if !Is(properlyWrapped, Ssh) {
		t.Error("expected Is to see through a %w wrap")
	}
}

func TestUnwrapReturnsTheCause(t *testing.T) {
	cause := stderrors.New("boom")
	err := New(Io, "cleanup", "write log", cause)
	if stderrors.Unwrap(err) != cause {
		t.Error("Unwrap did not return the original cause")
	}
}
