// Package investigator is the read-only probe of the target: it
// enumerates kernel, tools, disks, pools, mappers, mounts, memory,
// CPU, and network and never fails the pipeline - an absent tool is
// recorded as an absence, not an error.
package investigator

import (
	"strings"

	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/logger"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/runner"
)

// SystemInfo is the Investigator's output.
type SystemInfo struct {
	Hostname       string
	KernelVersion  string
	OSRelease      string
	AvailableTools map[string]bool
	MemoryInfo     string
	CPUInfo        string
	DiskInfo       string
	NetworkInfo    string

	ResidualBpool       bool
	ResidualRpool       bool
	ResidualLuksMapper  bool
	ResidualTargetMount bool
	ResidualLuksMount   bool
}

// Investigator runs the read-only probe commands over a Runner.
type Investigator struct {
	run *runner.Runner
	log logger.Logger
}

// New builds an Investigator bound to the given phase-scoped runner.
func New(run *runner.Runner, log logger.Logger) *Investigator {
	return &Investigator{run: run.WithPhase("investigate"), log: log}
}

var probedTools = []string{
	"zfs", "zpool", "cryptsetup", "sgdisk", "partprobe", "debootstrap",
	"mkfs.vfat", "mkfs.ext4", "grub-install", "update-grub", "efibootmgr",
	"wipefs", "blkdiscard", "curl", "apt",
}

// Investigate probes the target and returns SystemInfo. It never
// returns an error for a missing tool or absent pool/mapper; those are
// recorded as fields on SystemInfo instead.
func (inv *Investigator) Investigate() SystemInfo {
	info := SystemInfo{AvailableTools: map[string]bool{}}

	info.Hostname, _ = inv.run.Output("hostname", "hostname")
	info.KernelVersion, _ = inv.run.Output("kernel version", "uname -r")
	info.OSRelease, _ = inv.run.Output("os release", "cat /etc/os-release")

	info.DiskInfo = inv.investigateDisks()
	info.NetworkInfo = inv.investigateNetwork()

	for _, tool := range probedTools {
		info.AvailableTools[tool] = inv.run.CheckSilent("tool: "+tool, "command -v "+tool+" >/dev/null 2>&1")
	}

	info.MemoryInfo, _ = inv.run.Output("memory info", "free -h")
	info.CPUInfo, _ = inv.run.Output("cpu info", "lscpu")

	info.ResidualBpool = inv.run.CheckSilent("residual bpool", "zpool list -H bpool >/dev/null 2>&1")
	info.ResidualRpool = inv.run.CheckSilent("residual rpool", "zpool list -H rpool >/dev/null 2>&1")
	info.ResidualLuksMapper = inv.run.CheckSilent("residual luks mapper", "cryptsetup status luks >/dev/null 2>&1")
	info.ResidualTargetMount = inv.run.CheckSilent("residual /mnt/targetos mount", "mountpoint -q /mnt/targetos")
	info.ResidualLuksMount = inv.run.CheckSilent("residual /mnt/luks mount", "mountpoint -q /mnt/luks")

	return info
}

func (inv *Investigator) investigateDisks() string {
	lsblk, _ := inv.run.Output("lsblk", "lsblk -a 2>/dev/null || true")
	fdisk, _ := inv.run.Output("fdisk -l", "fdisk -l 2>/dev/null || true")
	var b strings.Builder
	b.WriteString(lsblk)
	b.WriteString("\n")
	b.WriteString(fdisk)
	return b.String()
}

func (inv *Investigator) investigateNetwork() string {
	out, _ := inv.run.Output("ip addr", "ip addr show 2>/dev/null || true")
	return out
}

// HasResidualState reports whether any disk/pool/mount state from a
// prior run is present, used by Preflight to trigger Disk Manager
// recovery.
func (info SystemInfo) HasResidualState() bool {
	return info.ResidualBpool || info.ResidualRpool || info.ResidualLuksMapper ||
		info.ResidualTargetMount || info.ResidualLuksMount
}
