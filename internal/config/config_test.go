package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	vfs "github.com/twpayne/go-vfs"
)

func TestValidateRejectsNonNVMeDisk(t *testing.T) {
	cfg := ForLenServ003()
	cfg.DiskDevice = "/dev/sda"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject a non-NVMe disk device")
	}
}

func TestValidateAcceptsTemplatedPassphrase(t *testing.T) {
	cfg := ForLenServ003()
	cfg.LuksPassphrase = "${VAULT_LUKS_KEY}"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate rejected a templated passphrase: %v", err)
	}
}

func TestValidateRejectsShortPassphrase(t *testing.T) {
	cfg := ForLenServ003()
	cfg.LuksPassphrase = "short"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject a passphrase under 8 characters")
	}
}

func TestWithDefaultsFillsReleaseAndMirror(t *testing.T) {
	cfg := InstallationConfig{Hostname: "h", DiskDevice: "/dev/nvme0n1"}.WithDefaults()
	if cfg.DebootstrapRelease != defaultRelease {
		t.Errorf("DebootstrapRelease = %q, want %q", cfg.DebootstrapRelease, defaultRelease)
	}
	if cfg.DebootstrapMirror != defaultMirror {
		t.Errorf("DebootstrapMirror = %q, want %q", cfg.DebootstrapMirror, defaultMirror)
	}
}

func TestStringNeverIncludesSecrets(t *testing.T) {
	cfg := ForLenServ003()
	s := cfg.String()
	if strings.Contains(s, cfg.LuksPassphrase) {
		t.Fatal("String() leaked the luks passphrase")
	}
	if strings.Contains(s, cfg.RootPassword) {
		t.Fatal("String() leaked the root password")
	}
}

func TestLoadEnvFileParsesNameserverList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "install.env")
	content := "HOSTNAME=len-serv-003\n" +
		"DISK=/dev/nvme0n1\n" +
		"TIMEZONE=America/New_York\n" +
		"LUKS_KEY=defaultLUKSkey123\n" +
		"ROOT_PASSWORD=defaultPassword123\n" +
		"NET_ET_INTERFACE=enp1s0f0\n" +
		"NET_ET_ADDRESS=172.16.3.96/23\n" +
		"NET_ET_GATEWAY=172.16.2.1\n" +
		"NET_ET_SEARCH=jf.local\n" +
		"NET_ET_NAMESERVERS=172.16.2.1 1.1.1.1 8.8.8.8\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadEnvFile(vfs.OSFS, path)
	if err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if cfg.Hostname != "len-serv-003" {
		t.Errorf("Hostname = %q", cfg.Hostname)
	}
	want := []string{"172.16.2.1", "1.1.1.1", "8.8.8.8"}
	if len(cfg.NetworkNameservers) != len(want) {
		t.Fatalf("NetworkNameservers = %v, want %v", cfg.NetworkNameservers, want)
	}
	for i, ns := range want {
		if cfg.NetworkNameservers[i] != ns {
			t.Errorf("NetworkNameservers[%d] = %q, want %q", i, cfg.NetworkNameservers[i], ns)
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config failed Validate: %v", err)
	}
}

func validTargetConfig() TargetConfig {
	return TargetConfig{
		Hostname:     "len-serv-003",
		Architecture: "amd64",
		DiskDevice:   "/dev/nvme0n1",
		Timezone:     "America/New_York",
		Network: NetworkConfig{
			Interface:  "enp1s0f0",
			IPAddress:  "172.16.3.96/23",
			Gateway:    "172.16.2.1",
			DNSServers: []string{"1.1.1.1"},
		},
		Users: []UserConfig{{Name: "admin", Sudo: true}},
		Luks:  DefaultLuksConfig(),
	}
}

func TestTargetConfigValidateRequiresASudoer(t *testing.T) {
	cfg := validTargetConfig()
	cfg.Users = []UserConfig{{Name: "viewer"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to require at least one sudo user")
	}
}

func TestTargetConfigValidateRequiresAtLeastOneUser(t *testing.T) {
	cfg := validTargetConfig()
	cfg.Users = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to require at least one user")
	}
}

func TestTargetConfigValidateAcceptsAWellFormedConfig(t *testing.T) {
	if err := validTargetConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLuksConfigValidateEnforcesAllowLists(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*LuksConfig)
	}{
		{"unknown cipher", func(l *LuksConfig) { l.Cipher = "rot13" }},
		{"unknown hash", func(l *LuksConfig) { l.Hash = "md5" }},
		{"unknown key size", func(l *LuksConfig) { l.KeySize = 1024 }},
	}
	for _, tc := range cases {
		l := DefaultLuksConfig()
		l.Passphrase = "defaultLUKSkey123"
		tc.mutate(&l)
		if err := l.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", tc.name)
		}
	}
}

func TestLuksConfigValidateAcceptsEveryAllowListedCombination(t *testing.T) {
	for _, cipher := range AllowedCiphers {
		for _, hash := range AllowedHashes {
			for _, size := range AllowedKeySizes {
				l := LuksConfig{Passphrase: "defaultLUKSkey123", Cipher: cipher, Hash: hash, KeySize: size}
				if err := l.Validate(); err != nil {
					t.Errorf("cipher=%s hash=%s size=%d: %v", cipher, hash, size, err)
				}
			}
		}
	}
}
