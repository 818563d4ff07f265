// Package commands implements the engramd CLI.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/quietloop/engram/internal/config"
	"github.com/quietloop/engram/internal/engine"
	"github.com/quietloop/engram/internal/llm"
	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/internal/storage/postgres"
	"github.com/quietloop/engram/internal/storage/sqlite"
	"github.com/quietloop/engram/pkg/types"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "engramd",
	Short: "Durable working memory for conversational assistants",
	Long: `engramd runs the Engram memory engine: gated ingest, hybrid
retrieval, commitment tracking, context snapshots, and scheduled
consolidation over a SQLite or Postgres store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "engram.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// offlineClient satisfies llm.Client when no provider is configured.
// Every call reports the provider unavailable, so ingest degrades to
// gate-only and search to keyword-only.
type offlineClient struct{}

func (offlineClient) Extract(ctx context.Context, excerpt string) ([]types.ExtractedCandidate, error) {
	return nil, llm.ErrUnavailable
}

func (offlineClient) Summarize(ctx context.Context, contents []string) (string, error) {
	return "", llm.ErrUnavailable
}

func (offlineClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, llm.ErrUnavailable
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.Open(cfg.Storage.PostgresDSN)
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return sqlite.Open(filepath.Join(cfg.Storage.DataPath, "engram.db"))
	}
}

func buildLLMClient(cfg *config.Config) llm.Client {
	if cfg.LLM.OpenAIAPIKey == "" {
		slog.Warn("no OpenAI API key configured, running with degraded extraction and keyword-only search")
		return offlineClient{}
	}
	client, err := llm.NewOpenAIClient(llm.OpenAIOptions{
		APIKey:         cfg.LLM.OpenAIAPIKey,
		BaseURL:        cfg.LLM.OpenAIBaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		RequestTimeout: cfg.LLM.RequestTimeout,
		MaxRetries:     cfg.LLM.MaxRetries,
		RatePerMinute:  cfg.LLM.RatePerMinute,
	})
	if err != nil {
		slog.Warn("llm client unavailable", "error", err)
		return offlineClient{}
	}
	return llm.NewBreakerClient(client, llm.BreakerConfig{})
}

// buildEngine assembles the engine from the resolved config.
func buildEngine(cfg *config.Config) (*engine.Engine, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	eng := engine.New(store, buildLLMClient(cfg), engine.SystemClock(), engine.Config{
		GateThreshold:       cfg.Engine.GateThreshold,
		TopK:                cfg.Engine.TopK,
		KeywordWeight:       cfg.Engine.KeywordWeight,
		EmbeddingWeight:     cfg.Engine.EmbeddingWeight,
		ImportanceWeight:    cfg.Engine.ImportanceWeight,
		SimilarityThreshold: cfg.Engine.SimilarityThreshold,
		TokenBudget:         cfg.Engine.TokenBudget,
		AssembleTimeout:     cfg.Engine.AssembleTimeout,
		BackfillWorkers:     cfg.Engine.BackfillWorkers,
		DueSoonWindow:       cfg.Engine.DueSoonWindow,
		SnapshotStaleAfter:  cfg.Engine.SnapshotStaleAfter,
		SnapshotExpiry:      cfg.Engine.SnapshotExpiry,

		ConsolidationEnabled: cfg.Consolidation.Enabled,
		Consolidation: engine.ConsolidationConfig{
			Schedule:        cfg.Consolidation.Schedule,
			RetentionWindow: time.Duration(cfg.Consolidation.RetentionDays) * 24 * time.Hour,
			BatchLimit:      cfg.Consolidation.BatchLimit,
			ClaimStaleAfter: cfg.Consolidation.ClaimStaleAfter,
		},
	})
	return eng, nil
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(configPath)
}
