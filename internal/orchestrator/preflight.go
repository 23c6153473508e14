package orchestrator

import (
	"fmt"
	"strings"

	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/config"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/diskmgr"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/investigator"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/runner"
)

// preflight verifies connectivity, mirror reachability, creates the
// staging root, and recovers any residual state the Investigator
// found. Only the staging-root creation is fatal; every
// other check is best-effort and logged.
func (o *Orchestrator) preflight(run *runner.Runner, info investigator.SystemInfo) error {
	pf := run.WithPhase("preflight")

	if !pf.CheckSilent("ping 1.1.1.1", "ping -c1 -W2 1.1.1.1 >/dev/null 2>&1") &&
		!pf.CheckSilent("ping 8.8.8.8", "ping -c1 -W2 8.8.8.8 >/dev/null 2>&1") {
		o.log.Warn("preflight: target has no ICMP reachability to 1.1.1.1 or 8.8.8.8")
	}

	o.resolveMirror(pf)

	if err := pf.Run("create staging root", fmt.Sprintf("mkdir -p %s", stagingRoot)); err != nil {
		return err
	}
	listing, _ := pf.Output("list staging root", fmt.Sprintf("ls -A %s 2>/dev/null", stagingRoot))
	if strings.TrimSpace(listing) != "" {
		o.log.Warnf("preflight: %s is not empty: %s", stagingRoot, listing)
	}

	if info.HasResidualState() {
		o.log.Warn("preflight: residual pool/mapper/mount state detected, recovering")
		diskRun := runner.New(o.transport, o.log, PhaseDisk)
		if err := diskmgr.New(diskRun).RecoverAfterFailureAndWipe(o.cfg.DiskDevice); err != nil {
			o.log.Warnf("preflight: recovery reported ignored failures: %v", err)
		}
	}

	return nil
}

const stagingRoot = "/mnt/targetos"

// resolveMirror HEADs the primary debootstrap mirror and falls back to
// old-releases if unreachable, mutating o.cfg so every later phase
// (including phaseBase's debootstrap) sees the resolved mirror.
func (o *Orchestrator) resolveMirror(pf *runner.Runner) {
	primary := fmt.Sprintf("curl -fsI %sdists/%s/Release >/dev/null 2>&1", o.cfg.DebootstrapMirror, o.cfg.DebootstrapRelease)
	if pf.CheckSilent("check primary mirror", primary) {
		return
	}
	fallback := config.OldReleasesMirror()
	check := fmt.Sprintf("curl -fsI %sdists/%s/Release >/dev/null 2>&1", fallback, o.cfg.DebootstrapRelease)
	if pf.CheckSilent("check old-releases mirror", check) {
		o.log.Warnf("preflight: primary mirror unreachable, falling back to %s", fallback)
		o.cfg.DebootstrapMirror = fallback
	} else {
		o.log.Warn("preflight: neither primary nor old-releases mirror responded; proceeding with primary")
	}
}
