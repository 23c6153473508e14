// Package zfsmgr creates bpool/rpool with fixed names, altroot, and
// property sets, then builds the full Ubuntu/zsys-compatible dataset
// tree. Every create step is guarded by an existence check so
// re-running against already-populated state is a no-op.
package zfsmgr

import (
	"fmt"
	"regexp"

	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/diskmgr"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/errors"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/runner"
)

// AltRoot is the shared staging root for every dataset during install.
const AltRoot = "/mnt/targetos"

// MapperDevice is the block device backing rpool.
const MapperDevice = "/dev/mapper/" + diskmgr.MapperName

// UUIDPattern validates the installation UUID format.
var UUIDPattern = regexp.MustCompile(`^[a-z0-9]{6}$`)

// Manager drives ZFS pool/dataset creation over a Runner.
type Manager struct {
	run *runner.Runner
}

// New builds a Manager bound to phase "zfs".
func New(run *runner.Runner) *Manager {
	return &Manager{run: run.WithPhase("zfs")}
}

// GenerateUUID runs a shell pipeline ON THE TARGET to derive a
// six-character lowercase-alphanumeric installation tag from 100
// bytes of system randomness. Generating it remotely (rather than
// locally in the driver process) keeps the tag tied to the target
// being installed.
func (m *Manager) GenerateUUID() (string, error) {
	const pipeline = `dd if=/dev/urandom bs=1 count=100 2>/dev/null | tr -dc 'a-z0-9' | cut -c-6`
	uuid, err := m.run.Output("generate installation uuid", pipeline)
	if err != nil {
		return "", err
	}
	if !UUIDPattern.MatchString(uuid) {
		return "", errors.Validationf("generated uuid %q does not match ^[a-z0-9]{6}$", uuid)
	}
	return uuid, nil
}

// CreatePools creates bpool (on disk's partition 3) and rpool (on the
// LUKS mapper), each idempotently.
func (m *Manager) CreatePools(disk string) error {
	if !m.run.CheckSilent("bpool exists", "zpool list -H bpool >/dev/null 2>&1") {
		if err := m.run.Run("create bpool", BuildBpoolCreateCommand(disk)); err != nil {
			return err
		}
	}
	if !m.run.CheckSilent("rpool exists", "zpool list -H rpool >/dev/null 2>&1") {
		if err := m.run.Run("create rpool", BuildRpoolCreateCommand()); err != nil {
			return err
		}
	}
	return nil
}

// BuildBpoolCreateCommand returns the zpool create invocation for the
// GRUB-compatible boot pool, backed by
// disk's partition 3.
func BuildBpoolCreateCommand(disk string) string {
	return fmt.Sprintf(
		"zpool create -f "+
			"-o ashift=12 -o autotrim=on "+
			"-o cachefile=/etc/zfs/zpool.cache "+
			"-o compatibility=grub2 "+
			"-o feature@livelist=enabled -o feature@zpool_checkpoint=enabled "+
			"-O devices=off "+
			"-O acltype=posixacl -O xattr=sa -O compression=lz4 "+
			"-O normalization=formD -O relatime=on "+
			"-O canmount=off -O mountpoint=none "+
			"-R %s "+
			"bpool %s",
		AltRoot, diskmgr.BpoolPartition(disk))
}

// BuildRpoolCreateCommand returns the zpool create invocation for the
// root pool, backed by the LUKS mapper.
// ZFS native encryption is intentionally absent: LUKS already encrypts
// the backing device.
func BuildRpoolCreateCommand() string {
	return fmt.Sprintf(
		"zpool create -f "+
			"-o ashift=12 -o autotrim=on "+
			"-O acltype=posixacl -O xattr=sa -O dnodesize=auto "+
			"-O compression=lz4 -O normalization=formD -O relatime=on "+
			"-O canmount=off -O mountpoint=none "+
			"-R %s "+
			"rpool %s",
		AltRoot, MapperDevice)
}

// dataset pairs a full dataset name suffix with the zfs create flags for it.
type dataset struct {
	name  string
	flags string
}

// bpoolDatasets returns the bpool/BOOT tree for installation uuid u.
func bpoolDatasets(u string) []dataset {
	return []dataset{
		{"bpool/BOOT", "-o canmount=off -o mountpoint=none"},
		{fmt.Sprintf("bpool/BOOT/ubuntu_%s", u), "-o mountpoint=/boot"},
	}
}

// rpoolDatasets returns the full rpool/ROOT + rpool/USERDATA tree for
// installation uuid u at unix time now.
func rpoolDatasets(u string, now int64) []dataset {
	root := fmt.Sprintf("rpool/ROOT/ubuntu_%s", u)
	return []dataset{
		{"rpool/ROOT", "-o canmount=off -o mountpoint=none"},
		{root, fmt.Sprintf("-o mountpoint=/ -o com.ubuntu.zsys:bootfs=yes -o com.ubuntu.zsys:last-used=%d", now)},
		{root + "/usr", "-o com.ubuntu.zsys:bootfs=no -o canmount=off"},
		{root + "/var", "-o com.ubuntu.zsys:bootfs=no -o canmount=off"},
		{root + "/var/lib", ""},
		{root + "/var/log", ""},
		{root + "/var/spool", ""},
		{root + "/var/cache", ""},
		{root + "/var/lib/nfs", ""},
		{root + "/var/tmp", ""},
		{root + "/var/lib/apt", ""},
		{root + "/var/lib/dpkg", ""},
		{root + "/srv", "-o com.ubuntu.zsys:bootfs=no"},
		{root + "/usr/local", ""},
		{root + "/var/games", ""},
		{root + "/var/lib/AccountsService", ""},
		{"rpool/USERDATA", "-o canmount=off -o mountpoint=/"},
		{fmt.Sprintf("rpool/USERDATA/root_%s", u), fmt.Sprintf("-o mountpoint=/root -o canmount=on -o com.ubuntu.zsys:bootfs-datasets=%s", root)},
	}
}

// CreateBpoolDatasets creates the bpool/BOOT tree, idempotently.
func (m *Manager) CreateBpoolDatasets(uuid string) error {
	return m.createDatasets(bpoolDatasets(uuid))
}

// CreateRpoolDatasets creates the rpool/ROOT + rpool/USERDATA tree,
// idempotently, for the given installation uuid and creation
// timestamp (unix seconds, stamped into zsys:last-used).
func (m *Manager) CreateRpoolDatasets(uuid string, now int64) error {
	return m.createDatasets(rpoolDatasets(uuid, now))
}

func (m *Manager) createDatasets(datasets []dataset) error {
	for _, ds := range datasets {
		if m.run.CheckSilent("dataset exists: "+ds.name, fmt.Sprintf("zfs list -H %s >/dev/null 2>&1", ds.name)) {
			continue
		}
		cmd := "zfs create " + ds.name
		if ds.flags != "" {
			cmd = fmt.Sprintf("zfs create %s %s", ds.flags, ds.name)
		}
		if err := m.run.Run("create dataset "+ds.name, cmd); err != nil {
			return err
		}
	}
	return nil
}

// PersistUUID writes /uuid at the altroot with the UUID= and DISK=
// lines consumed by later tooling.
func (m *Manager) PersistUUID(uuid, disk string) error {
	content := fmt.Sprintf("UUID=%s\nDISK=%s\n", uuid, disk)
	cmd := fmt.Sprintf("cat > %s/uuid <<'EOF'\n%sEOF", AltRoot, content)
	return m.run.Run("persist uuid file", cmd)
}

// FixPermissions chmods /root to 0700 and /var/tmp to 1777 under the
// altroot.
func (m *Manager) FixPermissions() error {
	if err := m.run.Run("chmod /root", fmt.Sprintf("chmod 0700 %s/root", AltRoot)); err != nil {
		return err
	}
	return m.run.Run("chmod /var/tmp", fmt.Sprintf("chmod 1777 %s/var/tmp", AltRoot))
}
