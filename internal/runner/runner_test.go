package runner

import (
	"fmt"
	"io"
	"strings"
	"testing"

	ierrors "github.com/jdfalk/ubuntu-autoinstall-agent/internal/errors"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/logger"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/sshtransport"
)

type fakeTransport struct {
	commands  []string
	stdinFed  []string
	exitCode  int
	output    string
	checkTrue bool
	returnErr error
}

func (f *fakeTransport) Execute(cmd string) error { _, err := f.ExecuteWithErrorCollection(cmd); return err }

func (f *fakeTransport) ExecuteWithOutput(cmd string) (string, error) {
	f.commands = append(f.commands, cmd)
	return f.output, f.returnErr
}

func (f *fakeTransport) ExecuteWithErrorCollection(cmd string) (sshtransport.Result, error) {
	f.commands = append(f.commands, cmd)
	return sshtransport.Result{ExitCode: f.exitCode, Stdout: f.output}, f.returnErr
}

func (f *fakeTransport) ExecuteWithStdin(cmd string, secret io.Reader) error {
	f.commands = append(f.commands, cmd)
	b, _ := io.ReadAll(secret)
	f.stdinFed = append(f.stdinFed, string(b))
	return f.returnErr
}

func (f *fakeTransport) CheckSilent(cmd string) bool {
	f.commands = append(f.commands, cmd)
	return f.checkTrue
}

func TestRunReturnsCommandErrorOnNonZeroExit(t *testing.T) {
	ft := &fakeTransport{exitCode: 1, output: "boom"}
	r := New(ft, logger.NewNull(), "disk")

	err := r.Run("partition disk", "sgdisk --zap-all /dev/nvme0n1")
	if err == nil {
		t.Fatal("expected an error on non-zero exit")
	}
	if !strings.Contains(err.Error(), "partition disk") {
		t.Errorf("error %v does not mention the step", err)
	}
}

func TestRunBestEffortNeverPanicsOnFailure(t *testing.T) {
	ft := &fakeTransport{exitCode: 1}
	r := New(ft, logger.NewNull(), "cleanup")
	_ = r.RunBestEffort("best effort step", "false")
}

func TestOutputTrimsTrailingNewline(t *testing.T) {
	ft := &fakeTransport{output: "abc123\n"}
	r := New(ft, logger.NewNull(), "zfs")

	out, err := r.Output("generate uuid", "dd if=/dev/urandom")
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if out != "abc123" {
		t.Errorf("Output = %q, want abc123", out)
	}
}

func TestRunWithStdinNeverPutsSecretOnCommandString(t *testing.T) {
	ft := &fakeTransport{}
	r := New(ft, logger.NewNull(), "disk")

	if err := r.RunWithStdin("open luks", "cryptsetup luksOpen /dev/nvme0n1p4 luks -", "s3cr3t-passphrase"); err != nil {
		t.Fatalf("RunWithStdin: %v", err)
	}
	for _, cmd := range ft.commands {
		if strings.Contains(cmd, "s3cr3t-passphrase") {
			t.Fatal("secret leaked into the command string")
		}
	}
	if len(ft.stdinFed) != 1 || ft.stdinFed[0] != "s3cr3t-passphrase" {
		t.Errorf("stdinFed = %v, want the secret streamed once", ft.stdinFed)
	}
}

func TestWithPhaseScopesACopyWithoutMutatingTheOriginal(t *testing.T) {
	ft := &fakeTransport{}
	r := New(ft, logger.NewNull(), "disk")
	scoped := r.WithPhase("zfs")

	if r.phase != "disk" {
		t.Errorf("original phase mutated: %q", r.phase)
	}
	if scoped.phase != "zfs" {
		t.Errorf("scoped.phase = %q, want zfs", scoped.phase)
	}
}

func TestRunClassifiesACommandTimeoutAsTimeoutKind(t *testing.T) {
	ft := &fakeTransport{returnErr: fmt.Errorf("run %q: %w", "debootstrap", sshtransport.ErrCommandTimeout)}
	r := New(ft, logger.NewNull(), "base")

	err := r.Run("debootstrap", "debootstrap plucky /mnt/targetos")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !ierrors.Is(err, ierrors.Timeout) {
		t.Errorf("expected Kind Timeout, got: %v", err)
	}
}

func TestCheckSilentForwardsOnlyTheCommandNotTheStep(t *testing.T) {
	ft := &fakeTransport{checkTrue: true}
	r := New(ft, logger.NewNull(), "zfs")

	if !r.CheckSilent("dataset exists", "zfs list -H bpool/ROOT") {
		t.Fatal("expected CheckSilent to report true")
	}
	if len(ft.commands) != 1 || ft.commands[0] != "zfs list -H bpool/ROOT" {
		t.Errorf("transport saw %v, want only the cmd argument", ft.commands)
	}
}
