// Package config holds the installer's input contracts -
// InstallationConfig (the SSH-run input) and the optional
// declarative TargetConfig form - plus their validation rules.
package config

import (
	"fmt"
	"regexp"
	"strings"

	ierrors "github.com/jdfalk/ubuntu-autoinstall-agent/internal/errors"
)

var nvmeDiskPattern = regexp.MustCompile(`^/dev/nvme\d+n\d+$`)
var passphraseTemplatePattern = regexp.MustCompile(`^\$\{[^}]+\}$`)

// InstallationConfig is the immutable input contract for one SSH-driven run.
type InstallationConfig struct {
	Hostname           string   `yaml:"HOSTNAME" mapstructure:"HOSTNAME"`
	DiskDevice         string   `yaml:"DISK" mapstructure:"DISK"`
	Timezone           string   `yaml:"TIMEZONE" mapstructure:"TIMEZONE"`
	LuksPassphrase     string   `yaml:"LUKS_KEY" mapstructure:"LUKS_KEY"`
	RootPassword       string   `yaml:"ROOT_PASSWORD" mapstructure:"ROOT_PASSWORD"`
	NetworkInterface   string   `yaml:"NET_ET_INTERFACE" mapstructure:"NET_ET_INTERFACE"`
	NetworkAddress     string   `yaml:"NET_ET_ADDRESS" mapstructure:"NET_ET_ADDRESS"`
	NetworkGateway     string   `yaml:"NET_ET_GATEWAY" mapstructure:"NET_ET_GATEWAY"`
	NetworkSearch      string   `yaml:"NET_ET_SEARCH" mapstructure:"NET_ET_SEARCH"`
	NetworkNameservers []string `yaml:"NET_ET_NAMESERVERS" mapstructure:"NET_ET_NAMESERVERS"`
	DebootstrapRelease string   `yaml:"DEBOOTSTRAP_RELEASE,omitempty" mapstructure:"DEBOOTSTRAP_RELEASE"`
	DebootstrapMirror  string   `yaml:"DEBOOTSTRAP_MIRROR,omitempty" mapstructure:"DEBOOTSTRAP_MIRROR"`
}

const (
	defaultRelease = "plucky"
	defaultMirror  = "http://archive.ubuntu.com/ubuntu/"
	oldReleasesURL = "http://old-releases.ubuntu.com/ubuntu/"
)

// WithDefaults returns a copy of c with DebootstrapRelease/Mirror defaulted.
func (c InstallationConfig) WithDefaults() InstallationConfig {
	if c.DebootstrapRelease == "" {
		c.DebootstrapRelease = defaultRelease
	}
	if c.DebootstrapMirror == "" {
		c.DebootstrapMirror = defaultMirror
	}
	return c
}

// ForLenServ003 is the canonical end-to-end test fixture.
func ForLenServ003() InstallationConfig {
	return InstallationConfig{
		Hostname:           "len-serv-003",
		DiskDevice:         "/dev/nvme0n1",
		Timezone:           "America/New_York",
		LuksPassphrase:     "defaultLUKSkey123",
		RootPassword:       "defaultPassword123",
		NetworkInterface:   "enp1s0f0",
		NetworkAddress:     "172.16.3.96/23",
		NetworkGateway:     "172.16.2.1",
		NetworkSearch:      "jf.local",
		NetworkNameservers: []string{"172.16.2.1", "1.1.1.1", "8.8.8.8"},
		DebootstrapRelease: defaultRelease,
		DebootstrapMirror:  defaultMirror,
	}
}

// OldReleasesMirror is the fallback mirror used when the primary fails preflight.
func OldReleasesMirror() string { return oldReleasesURL }

// Validate enforces the acceptance rules for one installation run.
func (c InstallationConfig) Validate() error {
	if strings.TrimSpace(c.Hostname) == "" {
		return ierrors.Validationf("hostname cannot be empty")
	}
	if !strings.HasPrefix(c.DiskDevice, "/dev/") {
		return ierrors.Validationf("disk device %q must begin with /dev/", c.DiskDevice)
	}
	if !nvmeDiskPattern.MatchString(c.DiskDevice) {
		return ierrors.Validationf("disk device %q must be NVMe-style (/dev/nvmeNnM)", c.DiskDevice)
	}
	if err := validatePassphrase(c.LuksPassphrase); err != nil {
		return err
	}
	if strings.TrimSpace(c.RootPassword) == "" {
		return ierrors.Validationf("root password cannot be empty")
	}
	if strings.TrimSpace(c.NetworkInterface) == "" {
		return ierrors.Validationf("network interface cannot be empty")
	}
	return nil
}

func validatePassphrase(p string) error {
	if len(p) >= 8 {
		return nil
	}
	if passphraseTemplatePattern.MatchString(p) {
		return nil
	}
	return ierrors.Validationf("luks passphrase must be at least 8 characters or a ${...} template, got %q", p)
}

// Allow-lists for LuksConfig overrides.
var (
	AllowedCiphers  = []string{"aes-xts-plain64", "aes-cbc-essiv:sha256"}
	AllowedHashes   = []string{"sha1", "sha256", "sha512"}
	AllowedKeySizes = []uint{128, 256, 512}
)

// LuksConfig overrides the LUKS cipher/hash/keysize defaults.
type LuksConfig struct {
	Passphrase string `yaml:"passphrase" mapstructure:"passphrase"`
	Cipher     string `yaml:"cipher" mapstructure:"cipher"`
	KeySize    uint   `yaml:"key_size" mapstructure:"key_size"`
	Hash       string `yaml:"hash" mapstructure:"hash"`
}

// DefaultLuksConfig returns the cipher/keysize/hash defaults.
func DefaultLuksConfig() LuksConfig {
	return LuksConfig{Cipher: "aes-xts-plain64", KeySize: 512, Hash: "sha256"}
}

func (l LuksConfig) Validate() error {
	if err := validatePassphrase(l.Passphrase); err != nil {
		return err
	}
	if !contains(AllowedCiphers, l.Cipher) {
		return ierrors.Validationf("cipher %q not in allow-list %v", l.Cipher, AllowedCiphers)
	}
	if !contains(AllowedHashes, l.Hash) {
		return ierrors.Validationf("hash %q not in allow-list %v", l.Hash, AllowedHashes)
	}
	if !containsUint(AllowedKeySizes, l.KeySize) {
		return ierrors.Validationf("key size %d not in allow-list %v", l.KeySize, AllowedKeySizes)
	}
	return nil
}

// NetworkConfig is the declarative network form used by TargetConfig.
type NetworkConfig struct {
	Interface  string   `yaml:"interface" mapstructure:"interface"`
	IPAddress  string   `yaml:"ip_address,omitempty" mapstructure:"ip_address"`
	Gateway    string   `yaml:"gateway,omitempty" mapstructure:"gateway"`
	DNSServers []string `yaml:"dns_servers" mapstructure:"dns_servers"`
	DHCP       bool     `yaml:"dhcp" mapstructure:"dhcp"`
}

func (n NetworkConfig) Validate() error {
	if strings.TrimSpace(n.Interface) == "" {
		return ierrors.Validationf("network interface cannot be empty")
	}
	if !n.DHCP {
		if n.IPAddress == "" {
			return ierrors.Validationf("ip address required when dhcp is disabled")
		}
		if n.Gateway == "" {
			return ierrors.Validationf("gateway required when dhcp is disabled")
		}
	}
	return nil
}

// UserConfig describes one account to create during system configuration.
type UserConfig struct {
	Name    string   `yaml:"name" mapstructure:"name"`
	Sudo    bool     `yaml:"sudo" mapstructure:"sudo"`
	SSHKeys []string `yaml:"ssh_keys" mapstructure:"ssh_keys"`
	Shell   *string  `yaml:"shell,omitempty" mapstructure:"shell"`
}

// ShellOrDefault returns the configured shell or /bin/bash.
func (u UserConfig) ShellOrDefault() string {
	if u.Shell != nil && *u.Shell != "" {
		return *u.Shell
	}
	return "/bin/bash"
}

// TargetConfig is the optional declarative form used by the image deployer.
type TargetConfig struct {
	Hostname     string        `yaml:"hostname" mapstructure:"hostname"`
	Architecture string        `yaml:"architecture" mapstructure:"architecture"`
	DiskDevice   string        `yaml:"disk_device" mapstructure:"disk_device"`
	Timezone     string        `yaml:"timezone" mapstructure:"timezone"`
	Network      NetworkConfig `yaml:"network" mapstructure:"network"`
	Users        []UserConfig  `yaml:"users" mapstructure:"users"`
	Luks         LuksConfig    `yaml:"luks_config" mapstructure:"luks_config"`
	Packages     []string      `yaml:"packages" mapstructure:"packages"`
}

// Validate enforces TargetConfig's acceptance rules.
func (t TargetConfig) Validate() error {
	if strings.TrimSpace(t.Hostname) == "" {
		return ierrors.Validationf("hostname cannot be empty")
	}
	if !strings.HasPrefix(t.DiskDevice, "/dev/") {
		return ierrors.Validationf("invalid disk device: %s", t.DiskDevice)
	}
	if len(t.Users) == 0 {
		return ierrors.Validationf("at least one user must be configured")
	}
	hasSudo := false
	for _, u := range t.Users {
		if u.Sudo {
			hasSudo = true
			break
		}
	}
	if !hasSudo {
		return ierrors.Validationf("at least one user must have sudo privileges")
	}
	if err := t.Network.Validate(); err != nil {
		return err
	}
	if t.Architecture != "amd64" && t.Architecture != "arm64" {
		return ierrors.Validationf("architecture must be amd64 or arm64, got %q", t.Architecture)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsUint(list []uint, v uint) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer without ever printing secret fields,
// so accidental logging of a Config never leaks the passphrase/password.
func (c InstallationConfig) String() string {
	return fmt.Sprintf("InstallationConfig{Hostname:%s Disk:%s Timezone:%s Interface:%s Address:%s}",
		c.Hostname, c.DiskDevice, c.Timezone, c.NetworkInterface, c.NetworkAddress)
}
