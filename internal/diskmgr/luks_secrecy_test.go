package diskmgr

import (
	"io"
	"strings"
	"testing"

	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/logger"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/runner"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/sshtransport"
)

// recordingTransport implements runner.Transport, recording every
// command string and every stdin secret separately so tests can assert
// a passphrase never reaches a command string.
type recordingTransport struct {
	commands []string
	secrets  []string
}

func (r *recordingTransport) Execute(cmd string) error { r.commands = append(r.commands, cmd); return nil }

func (r *recordingTransport) ExecuteWithOutput(cmd string) (string, error) {
	r.commands = append(r.commands, cmd)
	return "", nil
}

func (r *recordingTransport) ExecuteWithErrorCollection(cmd string) (sshtransport.Result, error) {
	r.commands = append(r.commands, cmd)
	return sshtransport.Result{}, nil
}

func (r *recordingTransport) ExecuteWithStdin(cmd string, secret io.Reader) error {
	r.commands = append(r.commands, cmd)
	b, _ := io.ReadAll(secret)
	r.secrets = append(r.secrets, string(b))
	return nil
}

func (r *recordingTransport) CheckSilent(cmd string) bool {
	r.commands = append(r.commands, cmd)
	return true
}

func TestSetupLuksEncryptionNeverPutsPassphraseOnArgv(t *testing.T) {
	rt := &recordingTransport{}
	run := runner.New(rt, logger.NewNull(), "disk")
	mgr := &Manager{run: run}

	const passphrase = "correct-horse-battery-staple"
	if err := mgr.SetupLuksEncryption("/dev/nvme0n1", passphrase); err != nil {
		t.Fatalf("SetupLuksEncryption: %v", err)
	}

	for _, cmd := range rt.commands {
		if strings.Contains(cmd, passphrase) {
			t.Fatalf("passphrase leaked into command string: %q", cmd)
		}
	}
	if len(rt.secrets) != 2 {
		t.Fatalf("want 2 stdin-fed secrets (luksFormat, luksOpen), got %d", len(rt.secrets))
	}
	for _, s := range rt.secrets {
		if s != passphrase {
			t.Fatalf("stdin secret = %q, want %q", s, passphrase)
		}
	}
}
