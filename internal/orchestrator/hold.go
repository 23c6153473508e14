package orchestrator

import (
	"bufio"
	"fmt"
	"os"

	vfs "github.com/twpayne/go-vfs"

	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/runner"
)

// collectAndDownloadDebugInfo runs the fixed diagnostic script, writes
// it to the target's log archive path, and copies it to the local
// filesystem under localLogDir. It is best-effort: any
// failure here is logged and an empty path is returned, never fatal to
// the already-failed run it is diagnosing.
func (o *Orchestrator) collectAndDownloadDebugInfo() string {
	st, ok := o.transport.(interface{ CollectDebugInfo() string })
	if !ok {
		return ""
	}
	info := st.CollectDebugInfo()

	ts := o.now()
	remotePath := fmt.Sprintf("/var/tmp/uaalogs/install-debug-%d.log", ts)
	run := runner.New(o.transport, o.log, "debug")
	writeCmd := fmt.Sprintf("mkdir -p /var/tmp/uaalogs && cat > %s << 'EOF'\n%s\nEOF", remotePath, info)
	if err := run.RunBestEffort("write debug archive", writeCmd); err != nil {
		o.log.Warnf("collectAndDownloadDebugInfo: failed to write remote archive: %v", err)
	}

	if err := vfs.MkdirAll(o.fs, o.localLogDir, 0o755); err != nil {
		o.log.Warnf("collectAndDownloadDebugInfo: failed to create %s: %v", o.localLogDir, err)
		return ""
	}
	localPath := fmt.Sprintf("%s/install-debug-%d.log", o.localLogDir, ts)
	if err := o.fs.WriteFile(localPath, []byte(info), 0o644); err != nil {
		o.log.Warnf("collectAndDownloadDebugInfo: failed to write %s: %v", localPath, err)
		return ""
	}
	return localPath
}

// enterHoldMode parks the target in a keep-alive state for operator
// inspection, without unmounting anything. The loop is launched
// detached on the target rather than blocking this call: a foreground
// `while true; do sleep 3600; done` would hang the single SSH session
// this Orchestrator still needs for its own report/debug work, and
// would hang any caller (including tests) indefinitely. The detached
// process keeps the target parked while letting the driver return
// control to the operator.
func (o *Orchestrator) enterHoldMode() {
	run := runner.New(o.transport, o.log, "hold")
	cmd := "setsid sh -c 'while true; do sleep 3600; done' < /dev/null > /dev/null 2>&1 &"
	_ = run.RunBestEffort("park target in hold mode", cmd)
	o.log.Warn("hold-on-failure: target parked; SSH session left intact for inspection")
}

// pauseForOperator implements pause-after-storage mode:
// after phase 3 (ZFS) succeeds, print the next manual commands and
// block on operator confirmation before continuing.
func (o *Orchestrator) pauseForOperator() {
	fmt.Println("=== PAUSE AFTER STORAGE ===")
	fmt.Println("Storage is prepared. You may now inspect the target, e.g.:")
	fmt.Println("  zpool status; zfs list; cryptsetup status luks")
	fmt.Println("Press Enter to continue with base system installation...")
	o.confirm()
}

// confirmOnStdin is the default pause-after-storage confirmation: it
// blocks until the operator presses Enter.
func confirmOnStdin() bool {
	reader := bufio.NewReader(os.Stdin)
	_, _ = reader.ReadString('\n')
	return true
}
