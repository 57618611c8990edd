package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gauntlet",
		Short: "Benchmark harness for AI coding agents",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "gauntlet.yaml", "config file path")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newValidateCmd())
	return root
}
