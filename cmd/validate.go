package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalnine/gauntlet/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and scenario fixtures",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			var problems int
			for _, s := range cfg.Scenarios {
				if info, err := os.Stat(s.Fixture); err != nil || !info.IsDir() {
					fmt.Printf("scenario %s: fixture %s is not a readable directory\n", s.ID, s.Fixture)
					problems++
				}
				for tier, path := range s.Prompts {
					if _, err := os.Stat(path); err != nil {
						fmt.Printf("scenario %s: %s prompt %s missing\n", s.ID, tier, path)
						problems++
					}
				}
			}
			if problems > 0 {
				return fmt.Errorf("%d problems found", problems)
			}
			fmt.Printf("ok: %d scenarios, %d agents\n", len(cfg.Scenarios), len(cfg.Agents))
			return nil
		},
	}
}
