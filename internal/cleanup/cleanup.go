// Package cleanup implements Final Cleanup: unmounting
// chroot bindings and the ESP, exporting both ZFS pools, and closing
// any LUKS mapper left open. Every step is best-effort and every
// ignored failure is still aggregated and returned, never dropped
// silently, mirroring diskmgr's recovery cascade.
package cleanup

import (
	"github.com/hashicorp/go-multierror"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/runner"
)

// Cleaner performs the final teardown of chroot bindings and storage over a Runner.
type Cleaner struct {
	run *runner.Runner
}

// New builds a Cleaner bound to phase "cleanup".
func New(run *runner.Runner) *Cleaner {
	return &Cleaner{run: run.WithPhase("cleanup")}
}

// Run executes the full teardown sequence and returns an aggregated
// error for every step that failed, or nil if all succeeded.
func (c *Cleaner) Run() error {
	var merr *multierror.Error

	steps := []struct{ step, cmd string }{
		{"unmount /sys (recursive)", "umount -R /mnt/targetos/sys || true"},
		{"unmount /proc (recursive)", "umount -R /mnt/targetos/proc || true"},
		{"unmount /dev (recursive)", "umount -R /mnt/targetos/dev || true"},
		{"unmount /run (recursive)", "umount -R /mnt/targetos/run || true"},
		{"unmount ESP", "umount /mnt/targetos/boot/efi || true"},
		{"export bpool", "zpool export bpool || true"},
		{"export rpool", "zpool export rpool || true"},
		{"unmount /mnt/luks if mounted", "mountpoint -q /mnt/luks && umount -lf /mnt/luks || true"},
		{"close luks mapper if open", "cryptsetup status luks >/dev/null 2>&1 && cryptsetup close luks || true"},
	}

	for _, s := range steps {
		if err := c.run.RunBestEffort(s.step, s.cmd); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	return merr.ErrorOrNil()
}
