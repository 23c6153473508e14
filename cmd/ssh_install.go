package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	vfs "github.com/twpayne/go-vfs"

	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/config"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/orchestrator"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/sshtransport"
)

// NewSSHInstallCmd drives the full installation over a real SSH
// connection to a live/rescue target.
func NewSSHInstallCmd(root *cobra.Command) *cobra.Command {
	c := &cobra.Command{
		Use:   "ssh-install",
		Short: "Install Ubuntu on ZFS-on-LUKS over SSH to a live/rescue target",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := loggerFromFlags(cmd)

			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			host, _ := cmd.Flags().GetString("host")
			port, _ := cmd.Flags().GetInt("port")
			user, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			insecure, _ := cmd.Flags().GetBool("insecure-ignore-hostkey")

			transport, closer, err := sshtransport.Connect(sshtransport.Config{
				Host:                  host,
				Port:                  port,
				User:                  user,
				Timeout:               30 * time.Second,
				Auth:                  sshAuth(password),
				InsecureIgnoreHostKey: insecure,
			})
			if err != nil {
				return fmt.Errorf("dial %s: %w", host, err)
			}
			defer closer()

			opts, err := execModeOptions(cmd)
			if err != nil {
				return err
			}
			opts = append(opts, orchestrator.WithLogger(log), orchestrator.WithLocalFS(vfs.OSFS))

			o := orchestrator.New(transport, cfg, opts...)
			report, runErr := o.Run(context.Background())
			if report != nil {
				fmt.Println(report.String())
			}
			return runErr
		},
	}

	c.Flags().String("host", "", "target hostname or IP (required)")
	c.Flags().Int("port", 22, "target SSH port")
	c.Flags().String("username", "root", "SSH username")
	c.Flags().String("password", "", "SSH password (omit to use ssh-agent)")
	c.Flags().Bool("insecure-ignore-hostkey", true, "skip host key verification (live/rescue targets have no known host key)")
	addConfigFlags(c)
	addExecModeFlags(c)
	_ = c.MarkFlagRequired("host")
	_ = viper.BindPFlags(c.Flags())

	root.AddCommand(c)
	return c
}

var _ = NewSSHInstallCmd(rootCmd)

func sshAuth(password string) sshtransport.Auth {
	if password != "" {
		return sshtransport.AuthPassword(password)
	}
	return sshtransport.AuthAgent()
}

// addConfigFlags registers the InstallationConfig fields as flags, in
// addition to the --config env-file path already bound on the root
// command; explicit flags always win over the env file.
func addConfigFlags(c *cobra.Command) {
	c.Flags().String("hostname", "", "hostname to assign the installed system")
	c.Flags().String("disk", "", "target NVMe disk device, e.g. /dev/nvme0n1")
	c.Flags().String("timezone", "UTC", "system timezone")
	c.Flags().String("luks-key", "", "LUKS passphrase (min 8 chars, or a ${...} template)")
	c.Flags().String("root-password", "", "root account password")
	c.Flags().String("net-interface", "", "network interface name")
	c.Flags().String("net-address", "", "static address in CIDR form")
	c.Flags().String("net-gateway", "", "default gateway")
	c.Flags().String("net-search", "", "DNS search domain")
	c.Flags().StringSlice("net-nameservers", nil, "DNS nameserver addresses")
	c.Flags().String("debootstrap-release", "", "Ubuntu release codename")
	c.Flags().String("debootstrap-mirror", "", "primary debootstrap mirror URL")
}

func addExecModeFlags(c *cobra.Command) {
	c.Flags().Bool("investigate-only", false, "run only the read-only probe and exit")
	c.Flags().Bool("dry-run", false, "log every command without touching the target")
	c.Flags().Bool("hold-on-failure", false, "park the target on first failure instead of continuing")
	c.Flags().Bool("pause-after-storage", false, "pause for operator confirmation after the zfs phase")
}

func execModeOptions(cmd *cobra.Command) ([]orchestrator.Option, error) {
	var opts []orchestrator.Option
	investigateOnly, _ := cmd.Flags().GetBool("investigate-only")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	holdOnFailure, _ := cmd.Flags().GetBool("hold-on-failure")
	pauseAfterStorage, _ := cmd.Flags().GetBool("pause-after-storage")

	if holdOnFailure && pauseAfterStorage {
		return nil, fmt.Errorf("--hold-on-failure and --pause-after-storage are mutually exclusive")
	}

	opts = append(opts,
		orchestrator.WithInvestigateOnly(investigateOnly),
		orchestrator.WithDryRun(dryRun),
		orchestrator.WithHoldOnFailure(holdOnFailure),
		orchestrator.WithPauseAfterStorage(pauseAfterStorage),
	)
	return opts, nil
}

// resolveConfig builds an InstallationConfig from, in increasing
// priority: the --config env file, then any explicit flags set on the
// invoking command.
func resolveConfig(cmd *cobra.Command) (config.InstallationConfig, error) {
	var cfg config.InstallationConfig

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadEnvFile(vfs.OSFS, path)
		if err != nil {
			return cfg, fmt.Errorf("load %s: %w", path, err)
		}
		cfg = loaded
	}

	applyFlagOverride(cmd, "hostname", &cfg.Hostname)
	applyFlagOverride(cmd, "disk", &cfg.DiskDevice)
	applyFlagOverride(cmd, "timezone", &cfg.Timezone)
	applyFlagOverride(cmd, "luks-key", &cfg.LuksPassphrase)
	applyFlagOverride(cmd, "root-password", &cfg.RootPassword)
	applyFlagOverride(cmd, "net-interface", &cfg.NetworkInterface)
	applyFlagOverride(cmd, "net-address", &cfg.NetworkAddress)
	applyFlagOverride(cmd, "net-gateway", &cfg.NetworkGateway)
	applyFlagOverride(cmd, "net-search", &cfg.NetworkSearch)
	applyFlagOverride(cmd, "debootstrap-release", &cfg.DebootstrapRelease)
	applyFlagOverride(cmd, "debootstrap-mirror", &cfg.DebootstrapMirror)

	if cmd.Flags().Changed("net-nameservers") {
		cfg.NetworkNameservers, _ = cmd.Flags().GetStringSlice("net-nameservers")
	}

	return cfg.WithDefaults(), nil
}

func applyFlagOverride(cmd *cobra.Command, name string, dst *string) {
	if cmd.Flags().Changed(name) {
		*dst, _ = cmd.Flags().GetString(name)
	}
}
