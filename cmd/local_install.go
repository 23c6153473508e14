package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	vfs "github.com/twpayne/go-vfs"

	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/orchestrator"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/sshtransport"
)

// NewLocalInstallCmd runs the same orchestrator over a loopback SSH
// connection to localhost, rather than a structurally different code
// path - so a machine can install itself with the exact commands a
// remote target would receive.
func NewLocalInstallCmd(root *cobra.Command) *cobra.Command {
	c := &cobra.Command{
		Use:   "local-install",
		Short: "Install Ubuntu on ZFS-on-LUKS against the local machine, via loopback SSH",
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				return fmt.Errorf("local-install reformats this machine's disk; re-run with --force to confirm")
			}

			log := loggerFromFlags(cmd)
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			port, _ := cmd.Flags().GetInt("port")
			user, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")

			transport, closer, err := sshtransport.Connect(sshtransport.Config{
				Host:                  "localhost",
				Port:                  port,
				User:                  user,
				Timeout:               30 * time.Second,
				Auth:                  sshAuth(password),
				InsecureIgnoreHostKey: true,
			})
			if err != nil {
				return fmt.Errorf("dial localhost: %w", err)
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

	c.Flags().Int("port", 22, "local sshd port")
	c.Flags().String("username", "root", "SSH username")
	c.Flags().String("password", "", "SSH password (omit to use ssh-agent)")
	c.Flags().Bool("force", false, "confirm reformatting this machine's disk")
	addConfigFlags(c)
	addExecModeFlags(c)
	_ = viper.BindPFlags(c.Flags())

	root.AddCommand(c)
	return c
}

var _ = NewLocalInstallCmd(rootCmd)
