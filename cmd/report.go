package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/report"
)

var flagFormat string

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [run-dir]",
		Short: "Summarize stored run records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var runDir string
			if len(args) > 0 {
				runDir = args[0]
			} else {
				cfg, err := config.Load(cfgFile)
				if err != nil {
					return err
				}
				runDir = filepath.Join(cfg.Results.Dir, "latest")
			}
			return report.Generate(runDir, flagFormat, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format: table, markdown, json")
	return cmd
}
