// Package diskmgr prepares the target disk: recovery of prior state,
// wipe, GPT partitioning, ESP/RESET formatting, and LUKS keying of
// the final partition.
package diskmgr

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/runner"
)

// MapperName is the fixed LUKS mapper name; at most one mapper of
// this name exists on the target during a run.
const MapperName = "luks"

// Manager drives disk preparation over a Runner.
type Manager struct {
	run *runner.Runner
}

// New builds a Manager bound to phase "disk".
func New(run *runner.Runner) *Manager {
	return &Manager{run: run.WithPhase("disk")}
}

// Partition device paths for disk, NVMe-style.
func ESPPartition(disk string) string   { return disk + "p1" }
func ResetPartition(disk string) string { return disk + "p2" }
func BpoolPartition(disk string) string { return disk + "p3" }
func LuksPartition(disk string) string  { return disk + "p4" }

// PrepareDisk runs the full sequence: recovery, wipe, partition,
// format, LUKS.
func (m *Manager) PrepareDisk(disk, passphrase string) error {
	if err := m.CleanupExistingMounts(disk); err != nil {
		return err
	}
	if err := m.DestroyExistingZFSPools(); err != nil {
		return err
	}
	if err := m.WipeDisk(disk); err != nil {
		return err
	}
	if err := m.CreatePartitions(disk); err != nil {
		return err
	}
	if err := m.FormatPartitions(disk); err != nil {
		return err
	}
	return m.SetupLuksEncryption(disk, passphrase)
}

// RecoverAfterFailureAndWipe performs the best-effort recovery
// cascade: unmount chroot binds, unmount anything under
// /mnt/targetos deepest-first, unmount/export/destroy ZFS state,
// unmount /mnt/luks, close LUKS mappers, then wipe. Every step runs
// regardless of earlier steps' outcome; ignored failures are
// aggregated (not dropped) via go-multierror.
func (m *Manager) RecoverAfterFailureAndWipe(disk string) error {
	var merr *multierror.Error

	steps := []struct{ step, cmd string }{
		{"umount /mnt/targetos/sys", "umount -lf /mnt/targetos/sys 2>/dev/null || true"},
		{"umount /mnt/targetos/proc", "umount -lf /mnt/targetos/proc 2>/dev/null || true"},
		{"umount /mnt/targetos/dev", "umount -lf /mnt/targetos/dev 2>/dev/null || true"},
		{"umount /mnt/targetos/boot/efi", "umount -lf /mnt/targetos/boot/efi 2>/dev/null || true"},
		{"unmount all under /mnt/targetos", "mount | awk '$3 ~ /^\\/mnt\\/targetos/ {print $3}' | sort -r | xargs -r -n1 umount -lf 2>/dev/null || true"},
		{"zfs unmount -a", "zfs unmount -a 2>/dev/null || true"},
		{"zpool export -a", "zpool export -a 2>/dev/null || true"},
		{"destroy bpool", "zpool destroy bpool 2>/dev/null || true"},
		{"destroy rpool", "zpool destroy rpool 2>/dev/null || true"},
		{"unmount /mnt/luks if mounted", "mountpoint -q /mnt/luks && umount -lf /mnt/luks || true"},
		{"close luks", fmt.Sprintf("cryptsetup close %s 2>/dev/null || true", MapperName)},
		{"close any crypt mappers", "for m in $(ls /dev/mapper 2>/dev/null | grep -E '^(luks|crypt)' || true); do cryptsetup close \"$m\" 2>/dev/null || true; done"},
	}
	for _, s := range steps {
		if err := m.run.RunBestEffort(s.step, s.cmd); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	if err := m.WipeDisk(disk); err != nil {
		merr = multierror.Append(merr, err)
	}

	return merr.ErrorOrNil()
}

// CleanupExistingMounts unmounts anything on disk's partitions and
// closes any existing LUKS mapper.
func (m *Manager) CleanupExistingMounts(disk string) error {
	mounted, err := m.run.Output("find mounted partitions", fmt.Sprintf("mount | grep '%s' | awk '{print $1}' || true", disk))
	if err != nil {
		return err
	}
	for _, line := range splitNonEmptyLines(mounted) {
		if err := m.run.RunBestEffort("unmount "+line, fmt.Sprintf("umount -f %s || true", line)); err != nil {
			return err
		}
	}
	if err := m.run.RunBestEffort("close luks devices", fmt.Sprintf("cryptsetup close %s || true", MapperName)); err != nil {
		return err
	}
	return m.run.RunBestEffort("unmount /mnt/luks if mounted", "mountpoint -q /mnt/luks && umount -lf /mnt/luks || true")
}

// DestroyExistingZFSPools destroys every currently-imported pool.
func (m *Manager) DestroyExistingZFSPools() error {
	pools, err := m.run.Output("list zfs pools", "zpool list -H -o name 2>/dev/null || true")
	if err != nil {
		return err
	}
	for _, pool := range splitNonEmptyLines(pools) {
		if err := m.run.RunBestEffort("destroy pool "+pool, fmt.Sprintf("zpool destroy %s || true", pool)); err != nil {
			return err
		}
	}
	return nil
}

// WipeDisk wipes filesystem signatures, discards blocks, and zaps the
// GPT structures on the whole-disk device.
func (m *Manager) WipeDisk(disk string) error {
	if err := m.run.Run("wipe disk signatures", fmt.Sprintf("wipefs -a %s", disk)); err != nil {
		return err
	}
	if err := m.run.RunBestEffort("discard blocks", fmt.Sprintf("blkdiscard -f %s || true", disk)); err != nil {
		return err
	}
	return m.run.Run("zap gpt structures", fmt.Sprintf("sgdisk --zap-all %s", disk))
}

// CreatePartitions builds the fixed four-partition GPT layout.
func (m *Manager) CreatePartitions(disk string) error {
	for _, cmd := range SgdiskPartitionCommands(disk) {
		if err := m.run.Run(cmd.step, cmd.cmd); err != nil {
			return err
		}
	}
	if err := m.run.RunBestEffort("reload partition table", fmt.Sprintf("partprobe %s || true", disk)); err != nil {
		return err
	}
	return m.run.RunBestEffort("settle udev", "udevadm settle || true")
}

// FormatPartitions formats the ESP (FAT32) and RESET (ext4) partitions.
func (m *Manager) FormatPartitions(disk string) error {
	if err := m.run.Run("format ESP (vfat)", BuildMkfsESP(disk)); err != nil {
		return err
	}
	return m.run.Run("format RESET (ext4)", BuildMkfsReset(disk))
}

// SetupLuksEncryption formats and opens the LUKS container, streaming
// the passphrase on stdin both times - never as `echo '<key>' | cmd`
//.
func (m *Manager) SetupLuksEncryption(disk, passphrase string) error {
	luksPart := LuksPartition(disk)
	formatCmd := fmt.Sprintf("cryptsetup luksFormat --batch-mode %s", luksPart)
	if err := m.run.RunWithStdin("luksFormat", formatCmd, passphrase); err != nil {
		return err
	}
	openCmd := fmt.Sprintf("cryptsetup open %s %s", luksPart, MapperName)
	return m.run.RunWithStdin("luksOpen", openCmd, passphrase)
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
