package cleanup

import (
	"io"
	"testing"

	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/logger"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/runner"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/sshtransport"
)

type recordingTransport struct {
	commands []string
	fail     map[string]bool
}

func (r *recordingTransport) Execute(cmd string) error { r.commands = append(r.commands, cmd); return nil }

func (r *recordingTransport) ExecuteWithOutput(cmd string) (string, error) {
	r.commands = append(r.commands, cmd)
	return "", nil
}

func (r *recordingTransport) ExecuteWithErrorCollection(cmd string) (sshtransport.Result, error) {
	r.commands = append(r.commands, cmd)
	if r.fail[cmd] {
		return sshtransport.Result{ExitCode: 1, Stderr: "boom"}, nil
	}
	return sshtransport.Result{}, nil
}

func (r *recordingTransport) ExecuteWithStdin(cmd string, secret io.Reader) error {
	r.commands = append(r.commands, cmd)
	_, _ = io.ReadAll(secret)
	return nil
}

func (r *recordingTransport) CheckSilent(cmd string) bool {
	r.commands = append(r.commands, cmd)
	return true
}

func TestRunAggregatesFailuresWithoutStoppingEarly(t *testing.T) {
	rt := &recordingTransport{fail: map[string]bool{
		"umount -R /mnt/targetos/sys || true": true,
		"zpool export bpool || true":          true,
	}}
	run := runner.New(rt, logger.NewNull(), "cleanup")
	c := New(run)

	err := c.Run()
	if err == nil {
		t.Fatal("expected an aggregated error, got nil")
	}

	const wantSteps = 9
	if len(rt.commands) != wantSteps {
		t.Errorf("ran %d commands, want %d (every step must run regardless of earlier failures)", len(rt.commands), wantSteps)
	}
}

func TestRunSucceedsWhenEveryStepSucceeds(t *testing.T) {
	rt := &recordingTransport{fail: map[string]bool{}}
	run := runner.New(rt, logger.NewNull(), "cleanup")
	c := New(run)

	if err := c.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
