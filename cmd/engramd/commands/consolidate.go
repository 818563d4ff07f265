package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run one consolidation pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Stop() }()

		report, err := eng.RunConsolidation(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("run %s: claimed %d, clusters %d, insights %d, archived %d, released %d\n",
			report.RunID, report.Claimed, report.Clusters, report.Insights,
			report.Archived, report.Released)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(consolidateCmd)
}
