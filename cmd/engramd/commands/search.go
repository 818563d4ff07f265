package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quietloop/engram/internal/engine"
)

var (
	searchLimit    int
	searchCategory string
	searchDeep     bool
	searchHistory  bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search stored memory",
	Args:  cobra.MinimumNArgs(1),
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

		results, err := eng.Search(cmd.Context(), engine.SearchOptions{
			Query:          strings.Join(args, " "),
			Limit:          searchLimit,
			Category:       searchCategory,
			Deep:           searchDeep,
			IncludeHistory: searchHistory,
		})
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%.3f  [%s]  %s\n", r.Score, r.Entry.Category, r.Entry.Content)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	searchCmd.Flags().StringVar(&searchCategory, "category", "", "restrict to one category")
	searchCmd.Flags().BoolVar(&searchDeep, "deep", false, "include archived entries")
	searchCmd.Flags().BoolVar(&searchHistory, "history", false, "include superseded entries")
	rootCmd.AddCommand(searchCmd)
}
