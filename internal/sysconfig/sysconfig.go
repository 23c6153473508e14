// Package sysconfig installs and configures the target's base system:
// debootstrap, base file layout, netplan, chroot preparation, package
// installation, GRUB, and LUKS key-in-initramfs wiring.
package sysconfig

import (
	"fmt"
	"strings"

	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/config"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/diskmgr"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/runner"
	"gopkg.in/yaml.v3"
)

// AltRoot is the staging root debootstrap and chroot operate on.
const AltRoot = "/mnt/targetos"

const oldReleasesMirror = "http://old-releases.ubuntu.com/ubuntu/"

// Configurator drives base-system install and in-chroot configuration over a Runner.
type Configurator struct {
	run *runner.Runner
}

// New builds a Configurator bound to phase "sysconfig".
func New(run *runner.Runner) *Configurator {
	return &Configurator{run: run.WithPhase("sysconfig")}
}

// Extras carries the optional declarative additions layered on top of
// InstallationConfig's env-driven fields: extra packages and extra
// user accounts. A nil *Extras means none.
type Extras struct {
	Packages []string
	Users    []config.UserConfig
}

// InstallBaseSystem mounts the ESP, debootstraps (falling back to
// old-releases on failure), then lays down basic files and runs
// in-chroot configuration.
func (c *Configurator) InstallBaseSystem(cfg config.InstallationConfig, extras *Extras) error {
	if err := c.run.Run("create ESP mountpoint", fmt.Sprintf("mkdir -p %s/boot/efi", AltRoot)); err != nil {
		return err
	}
	if err := c.run.Run("mount ESP", fmt.Sprintf("mount %s %s/boot/efi", diskmgr.ESPPartition(cfg.DiskDevice), AltRoot)); err != nil {
		return err
	}

	cfg = cfg.WithDefaults()
	primary := fmt.Sprintf("debootstrap %s %s %s", cfg.DebootstrapRelease, AltRoot, cfg.DebootstrapMirror)
	if err := c.run.Run("run debootstrap", primary); err != nil {
		if cfg.DebootstrapMirror == oldReleasesMirror {
			return err
		}
		fallback := fmt.Sprintf("debootstrap %s %s %s", cfg.DebootstrapRelease, AltRoot, oldReleasesMirror)
		if err := c.run.Run("run debootstrap (fallback old-releases)", fallback); err != nil {
			return err
		}
	}

	if err := c.setupBasicSystemFiles(cfg); err != nil {
		return err
	}
	return c.configureSystemInChroot(cfg, extras)
}

func (c *Configurator) setupBasicSystemFiles(cfg config.InstallationConfig) error {
	if err := c.run.Run("write hostname", fmt.Sprintf("echo '%s' > %s/etc/hostname", cfg.Hostname, AltRoot)); err != nil {
		return err
	}

	hosts := fmt.Sprintf(
		"127.0.0.1 localhost\n127.0.1.1 %s\n::1 localhost ip6-localhost ip6-loopback\nff02::1 ip6-allnodes\nff02::2 ip6-allrouters",
		cfg.Hostname,
	)
	if err := c.run.Run("write /etc/hosts", fmt.Sprintf("cat > %s/etc/hosts << 'EOF'\n%s\nEOF", AltRoot, hosts)); err != nil {
		return err
	}

	if err := c.setupNetworkConfiguration(cfg); err != nil {
		return err
	}

	return c.run.Run("symlink localtime", fmt.Sprintf("ln -sf /usr/share/zoneinfo/%s %s/etc/localtime", cfg.Timezone, AltRoot))
}

// netplanConfig mirrors the netplan v2 schema fields this installer emits.
type netplanConfig struct {
	Network netplanNetwork `yaml:"network"`
}

type netplanNetwork struct {
	Version   int                        `yaml:"version"`
	Renderer  string                     `yaml:"renderer"`
	Ethernets map[string]netplanEthernet `yaml:"ethernets"`
}

type netplanEthernet struct {
	DHCP4       bool               `yaml:"dhcp4,omitempty"`
	Addresses   []string           `yaml:"addresses,omitempty"`
	Routes      []netplanRoute     `yaml:"routes,omitempty"`
	Nameservers netplanNameservers `yaml:"nameservers,omitempty"`
}

type netplanRoute struct {
	To  string `yaml:"to"`
	Via string `yaml:"via"`
}

type netplanNameservers struct {
	Search    []string `yaml:"search,omitempty"`
	Addresses []string `yaml:"addresses,omitempty"`
}

// RenderNetplan builds the single-interface netplan YAML document for
// cfg. The address field accepts either the literal
// "dhcp" or a CIDR address; the gateway accepts "auto" (no explicit
// default route) or an IP.
func RenderNetplan(cfg config.InstallationConfig) (string, error) {
	eth := netplanEthernet{
		Nameservers: netplanNameservers{
			Search:    []string{cfg.NetworkSearch},
			Addresses: cfg.NetworkNameservers,
		},
	}
	if cfg.NetworkSearch == "" {
		eth.Nameservers.Search = nil
	}
	if cfg.NetworkAddress == "dhcp" {
		eth.DHCP4 = true
	} else {
		eth.Addresses = []string{cfg.NetworkAddress}
		if cfg.NetworkGateway != "" && cfg.NetworkGateway != "auto" {
			eth.Routes = []netplanRoute{{To: "default", Via: cfg.NetworkGateway}}
		}
	}
	doc := netplanConfig{Network: netplanNetwork{
		Version:   2,
		Renderer:  "networkd",
		Ethernets: map[string]netplanEthernet{cfg.NetworkInterface: eth},
	}}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c *Configurator) setupNetworkConfiguration(cfg config.InstallationConfig) error {
	netplan, err := RenderNetplan(cfg)
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("cat > %s/etc/netplan/01-netcfg.yaml << 'EOF'\n%s\nEOF", AltRoot, netplan)
	return c.run.Run("write netplan config", cmd)
}

// chroot wraps cmd for execution inside the target root via bash -lc.
func chroot(cmd string) string {
	return fmt.Sprintf("chroot %s bash -lc '%s'", AltRoot, cmd)
}

// essentialPackages are installed in the chroot before any
// caller-supplied extra packages.
var essentialPackages = []string{
	"grub-efi-amd64", "grub-efi-amd64-signed", "linux-image-generic",
	"shim-signed", "zfs-initramfs", "zfsutils-linux", "zsys", "efibootmgr",
}

func (c *Configurator) configureSystemInChroot(cfg config.InstallationConfig, extras *Extras) error {
	binds := []struct{ step, cmd string }{
		{"bind /dev (rbind)", fmt.Sprintf("[ -d %s/dev ] || mkdir -p %s/dev; mountpoint -q %s/dev || mount --rbind /dev %s/dev; mount --make-rslave %s/dev", AltRoot, AltRoot, AltRoot, AltRoot, AltRoot)},
		{"ensure /dev/pts", fmt.Sprintf("[ -d %s/dev/pts ] || mkdir -p %s/dev/pts; mountpoint -q %s/dev/pts || mount -t devpts devpts %s/dev/pts || true", AltRoot, AltRoot, AltRoot, AltRoot)},
		{"bind /proc (rbind)", fmt.Sprintf("[ -d %s/proc ] || mkdir -p %s/proc; mountpoint -q %s/proc || mount --rbind /proc %s/proc; mount --make-rslave %s/proc", AltRoot, AltRoot, AltRoot, AltRoot, AltRoot)},
		{"bind /sys (rbind)", fmt.Sprintf("[ -d %s/sys ] || mkdir -p %s/sys; mountpoint -q %s/sys || mount --rbind /sys %s/sys; mount --make-rslave %s/sys", AltRoot, AltRoot, AltRoot, AltRoot, AltRoot)},
		{"bind /run (rbind)", fmt.Sprintf("[ -d %s/run ] || mkdir -p %s/run; mountpoint -q %s/run || mount --rbind /run %s/run; mount --make-rslave %s/run", AltRoot, AltRoot, AltRoot, AltRoot, AltRoot)},
		{"reset chroot resolv.conf", fmt.Sprintf("[ -e %s/etc/resolv.conf ] && rm -f %s/etc/resolv.conf; echo 'nameserver 1.1.1.1' > %s/etc/resolv.conf", AltRoot, AltRoot, AltRoot)},
	}
	for _, b := range binds {
		_ = c.run.RunBestEffort(b.step, b.cmd)
	}

	chrootCmds := []string{"apt update"}
	chrootCmds = append(chrootCmds, fmt.Sprintf("DEBIAN_FRONTEND=noninteractive apt install -y %s", strings.Join(essentialPackages, " ")))
	chrootCmds = append(chrootCmds, "DEBIAN_FRONTEND=noninteractive apt install -y linux-headers-generic")
	chrootCmds = append(chrootCmds, "DEBIAN_FRONTEND=noninteractive apt install -y openssh-server vim htop curl")
	if extras != nil && len(extras.Packages) > 0 {
		chrootCmds = append(chrootCmds, fmt.Sprintf("DEBIAN_FRONTEND=noninteractive apt install -y %s", strings.Join(extras.Packages, " ")))
	}
	for _, cmd := range chrootCmds {
		if err := c.run.Run("chroot: "+cmd, chroot(cmd)); err != nil {
			return err
		}
	}

	if extras != nil {
		for _, u := range extras.Users {
			if err := c.createUser(u); err != nil {
				return err
			}
		}
	}

	if err := c.run.RunWithStdin("set root password", chroot("chpasswd"), fmt.Sprintf("root:%s", cfg.RootPassword)); err != nil {
		return err
	}

	// systemd may not be fully up inside a fresh chroot; an enable
	// failure here must not fail the phase.
	_ = c.run.RunBestEffort("enable ssh", chroot("systemctl enable ssh"))
	return nil
}

// createUser adds u inside the chroot: useradd, optional sudo group
// membership, and any authorized SSH keys.
func (c *Configurator) createUser(u config.UserConfig) error {
	useradd := fmt.Sprintf("id -u %s >/dev/null 2>&1 || useradd -m -s %s %s", u.Name, u.ShellOrDefault(), u.Name)
	if err := c.run.Run("create user "+u.Name, chroot(useradd)); err != nil {
		return err
	}
	if u.Sudo {
		if err := c.run.RunBestEffort("grant sudo to "+u.Name, chroot(fmt.Sprintf("usermod -aG sudo %s", u.Name))); err != nil {
			return err
		}
	}
	if len(u.SSHKeys) == 0 {
		return nil
	}
	home := fmt.Sprintf("/home/%s", u.Name)
	keys := strings.Join(u.SSHKeys, "\n")
	setup := fmt.Sprintf(
		"mkdir -p %s/.ssh && cat > %s/.ssh/authorized_keys << 'EOF'\n%s\nEOF\nchown -R %s:%s %s/.ssh && chmod 700 %s/.ssh && chmod 600 %s/.ssh/authorized_keys",
		home, home, keys, u.Name, u.Name, home, home, home,
	)
	return c.run.Run("install ssh keys for "+u.Name, chroot(setup))
}

// ConfigureZFSInChroot enables the zsys/zfs boot services and
// refreshes the initramfs. Every step is best-effort:
// the services may not exist until the essential packages finish
// installing.
func (c *Configurator) ConfigureZFSInChroot() error {
	cmds := []string{
		"systemctl enable zfs-import-cache",
		"systemctl enable zfs-mount",
		"systemctl enable zfs-import.target",
		"update-initramfs -u -k all",
	}
	for _, cmd := range cmds {
		_ = c.run.RunBestEffort("zfs: "+cmd, chroot(cmd))
	}
	return nil
}

// ConfigureGrubInChroot installs GRUB with a three-tier fallback
// (normal, --no-nvram, --removable) and runs update-grub, which is
// fatal.
func (c *Configurator) ConfigureGrubInChroot(cfg config.InstallationConfig) error {
	_ = c.run.RunBestEffort("ensure ESP mountpoint", fmt.Sprintf("[ -d %s/boot/efi ] || mkdir -p %s/boot/efi", AltRoot, AltRoot))
	_ = c.run.RunBestEffort("mount ESP if not mounted", fmt.Sprintf("mountpoint -q %s/boot/efi || mount %s %s/boot/efi || true", AltRoot, diskmgr.ESPPartition(cfg.DiskDevice), AltRoot))
	_ = c.run.RunBestEffort("ensure efivarfs", chroot("[ -d /sys/firmware/efi/efivars ] || mkdir -p /sys/firmware/efi/efivars; mountpoint -q /sys/firmware/efi/efivars || mount -t efivarfs efivarfs /sys/firmware/efi/efivars || true"))

	normal := chroot("grub-install --target=x86_64-efi --efi-directory=/boot/efi --bootloader-id=ubuntu --recheck")
	noNvram := chroot("grub-install --target=x86_64-efi --efi-directory=/boot/efi --bootloader-id=ubuntu --recheck --no-nvram")
	removable := chroot("grub-install --target=x86_64-efi --efi-directory=/boot/efi --bootloader-id=ubuntu --recheck --removable")

	if err := c.run.Run("install grub to ESP", normal); err != nil {
		if err := c.run.Run("install grub to ESP (no-nvram fallback)", noNvram); err != nil {
			if err := c.run.Run("install grub to ESP (removable fallback)", removable); err != nil {
				return err
			}
		}
	}

	return c.run.Run("update grub config", chroot("update-grub"))
}

// SetupLuksKeyInChroot writes the initramfs keyfile (streamed on
// stdin, never as a literal in the command string) and the crypttab
// entry referencing it.
func (c *Configurator) SetupLuksKeyInChroot(cfg config.InstallationConfig) error {
	keyfilePath := fmt.Sprintf("%s/etc/luks.key", AltRoot)
	writeKey := fmt.Sprintf("cat > %s", keyfilePath)
	if err := c.run.RunWithStdin("create luks keyfile", writeKey, cfg.LuksPassphrase); err != nil {
		return err
	}
	if err := c.run.Run("set keyfile permissions", fmt.Sprintf("chmod 600 %s", keyfilePath)); err != nil {
		return err
	}

	crypttabEntry := fmt.Sprintf("luks %s /etc/luks.key luks", diskmgr.LuksPartition(cfg.DiskDevice))
	cmd := fmt.Sprintf("[ -d %s/etc ] || mkdir -p %s/etc; echo '%s' > %s/etc/crypttab", AltRoot, AltRoot, crypttabEntry, AltRoot)
	return c.run.Run("write crypttab", cmd)
}
