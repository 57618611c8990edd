package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalnine/gauntlet/internal/config"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured scenarios and agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCENARIO\tTIERS\tCOMMANDS\tMANAGERS")
			for _, s := range cfg.Scenarios {
				tiers := make([]string, 0, len(s.Prompts))
				for _, tier := range config.Tiers {
					if _, ok := s.Prompts[tier]; ok {
						tiers = append(tiers, tier)
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
					s.ID, strings.Join(tiers, ","), len(s.ValidationCommands), strings.Join(s.ManagersAllowed, ","))
			}
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "AGENT\tBACKEND\tMODEL")
			for _, a := range cfg.Agents {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Name, a.Backend, a.Model)
			}
			return tw.Flush()
		},
	}
}
