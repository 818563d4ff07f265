package commands

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var ingestSource string

var ingestCmd = &cobra.Command{
	Use:   "ingest [text]",
	Short: "Run one message through the write path",
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

		result, err := eng.Ingest(cmd.Context(), strings.Join(args, " "), ingestSource)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "cli", "source channel recorded on stored entries")
	rootCmd.AddCommand(ingestCmd)
}
