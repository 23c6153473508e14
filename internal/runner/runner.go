// Package runner wraps sshtransport.Transport with logging and failure
// classification. Every phase component issues its
// shell commands through a Runner rather than talking to the
// transport directly, so every command is described, logged, and
// classified into an errors.Kind the same way.
package runner

import (
	"errors"
	"io"
	"strings"

	ierrors "github.com/jdfalk/ubuntu-autoinstall-agent/internal/errors"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/logger"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/sshtransport"
)

// classifyTransportErr maps a transport-level failure to its
// errors.Kind: a per-command timeout is routed through
// errors.Timeout rather than errors.Ssh, and is reported through the
// same failure path as a non-zero exit.
func classifyTransportErr(phase, step string, err error) *ierrors.Error {
	if errors.Is(err, sshtransport.ErrCommandTimeout) {
		return ierrors.New(ierrors.Timeout, phase, step, err)
	}
	return ierrors.New(ierrors.Ssh, phase, step, err)
}

// Transport is the subset of sshtransport.Transport the runner needs;
// an interface so tests can substitute a fake that records commands.
type Transport interface {
	Execute(cmd string) error
	ExecuteWithOutput(cmd string) (string, error)
	ExecuteWithErrorCollection(cmd string) (sshtransport.Result, error)
	ExecuteWithStdin(cmd string, secret io.Reader) error
	CheckSilent(cmd string) bool
}

// Runner executes described commands against a Transport, logging each
// one and classifying failures.
type Runner struct {
	transport Transport
	log       logger.Logger
	phase     string
}

// New builds a Runner bound to phase, used to label every error it raises.
func New(transport Transport, log logger.Logger, phase string) *Runner {
	if log == nil {
		log = logger.NewNull()
	}
	return &Runner{transport: transport, log: log, phase: phase}
}

// WithPhase returns a copy of r scoped to a different phase label.
func (r *Runner) WithPhase(phase string) *Runner {
	return &Runner{transport: r.transport, log: r.log, phase: phase}
}

// Run executes cmd, described by step for logging and error messages.
// A non-zero exit becomes an *errors.Error of Kind Command.
func (r *Runner) Run(step, cmd string) error {
	r.log.Debugf("%s: %s -> %s", r.phase, step, cmd)
	res, err := r.transport.ExecuteWithErrorCollection(cmd)
	if err != nil {
		return classifyTransportErr(r.phase, step, err)
	}
	if res.ExitCode != 0 {
		return ierrors.NewCommand(r.phase, step, res.ExitCode, res.Stdout, res.Stderr, nil)
	}
	return nil
}

// RunBestEffort executes cmd and logs (rather than returns) any failure.
// Used throughout Disk Manager recovery and Final Cleanup.
func (r *Runner) RunBestEffort(step, cmd string) error {
	err := r.Run(step, cmd)
	if err != nil {
		r.log.Warnf("%s: %s: ignored failure: %v", r.phase, step, err)
	}
	return err
}

// Output runs cmd and returns trimmed stdout, failing on non-zero exit.
func (r *Runner) Output(step, cmd string) (string, error) {
	r.log.Debugf("%s: %s -> %s", r.phase, step, cmd)
	out, err := r.transport.ExecuteWithOutput(cmd)
	if err != nil {
		return "", classifyTransportErr(r.phase, step, err)
	}
	return strings.TrimRight(out, "\n"), nil
}

// CheckSilent reports whether cmd exits zero, used for existence checks.
func (r *Runner) CheckSilent(step, cmd string) bool {
	r.log.Tracef("%s: %s (check) -> %s", r.phase, step, cmd)
	return r.transport.CheckSilent(cmd)
}

// RunWithStdin runs cmd with secret streamed on stdin, never on argv.
func (r *Runner) RunWithStdin(step, cmd, secret string) error {
	r.log.Debugf("%s: %s -> %s (stdin secret withheld)", r.phase, step, cmd)
	if err := r.transport.ExecuteWithStdin(cmd, strings.NewReader(secret)); err != nil {
		return classifyTransportErr(r.phase, step, err)
	}
	return nil
}
