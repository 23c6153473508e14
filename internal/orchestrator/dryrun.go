package orchestrator

import (
	"io"

	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/logger"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/sshtransport"
)

// dryRunTransport implements runner.Transport without ever reaching
// the target: every command is logged and reported as having
// succeeded, matching the CLI's --dry-run contract.
// CheckSilent always answers false, so phase managers take their
// "create" branch and their commands are still visible in the log.
type dryRunTransport struct {
	log logger.Logger
}

func (d *dryRunTransport) Execute(cmd string) error {
	d.log.Infof("[dry-run] %s", cmd)
	return nil
}

// ExecuteWithOutput answers "dryrun" for every query. The literal was
// chosen because it also satisfies the installation-UUID shape
// (^[a-z0-9]{6}$), so a dry run proceeds through the zfs phase instead
// of tripping over an empty UUID.
func (d *dryRunTransport) ExecuteWithOutput(cmd string) (string, error) {
	d.log.Infof("[dry-run] %s", cmd)
	return "dryrun", nil
}

func (d *dryRunTransport) ExecuteWithErrorCollection(cmd string) (sshtransport.Result, error) {
	d.log.Infof("[dry-run] %s", cmd)
	return sshtransport.Result{ExitCode: 0}, nil
}

func (d *dryRunTransport) ExecuteWithStdin(cmd string, secret io.Reader) error {
	d.log.Infof("[dry-run] %s (stdin secret withheld)", cmd)
	_, _ = io.ReadAll(secret)
	return nil
}

func (d *dryRunTransport) CheckSilent(cmd string) bool {
	d.log.Debugf("[dry-run] (check) %s", cmd)
	return false
}

// CollectDebugInfo satisfies the optional debug-collection interface
// collectAndDownloadDebugInfo probes for, so --dry-run runs never
// attempt to touch a real target when a phase is made to fail in tests.
func (d *dryRunTransport) CollectDebugInfo() string {
	return "[dry-run] no debug info collected"
}
