// Package cmd wires the installer's cobra command tree: each
// subcommand registers itself on the root command at package init.
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/logger"
)

// NewRootCmd builds the bare root command and binds its persistent
// flags into viper.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ubuntu-autoinstall-agent",
		Short: "SSH-driven Ubuntu ZFS-on-LUKS installer",
	}
	cmd.PersistentFlags().Bool("debug", false, "enable debug-level logging")
	cmd.PersistentFlags().String("config", "", "path to a KEY=value env file")
	_ = viper.BindPFlag("debug", cmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	return cmd
}

var rootCmd = NewRootCmd()

// Execute adds all child commands to the root command and runs it.
// Called by main.main(); only needs to happen once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loggerFromFlags builds a Logger honoring the persistent --debug flag.
func loggerFromFlags(cmd *cobra.Command) logger.Logger {
	log := logger.New()
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}
