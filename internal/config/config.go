// Package config provides configuration management for Engram.
// Settings come from three layers: built-in defaults, an optional YAML
// file, and environment variables with the ENGRAM_ prefix. Later layers
// win, so an env var always overrides the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Engram engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	LLM           LLMConfig           `yaml:"llm"`
	Engine        EngineConfig        `yaml:"engine"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // default 7171
	Host string `yaml:"host"` // default 127.0.0.1
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	// Engine selects the backend: sqlite or postgres (default sqlite).
	Engine string `yaml:"engine"`

	// DataPath is the directory holding the SQLite database file.
	DataPath string `yaml:"data_path"`

	// PostgresDSN is the connection string used when Engine is postgres.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LLMConfig contains the extraction and embedding provider settings.
type LLMConfig struct {
	OpenAIAPIKey   string        `yaml:"openai_api_key"`
	OpenAIBaseURL  string        `yaml:"openai_base_url"` // empty means the public API
	Model          string        `yaml:"model"`           // default gpt-4o-mini
	EmbeddingModel string        `yaml:"embedding_model"` // default text-embedding-3-small
	RequestTimeout time.Duration `yaml:"request_timeout"` // default 30s
	MaxRetries     int           `yaml:"max_retries"`     // default 2
	RatePerMinute  int           `yaml:"rate_per_minute"` // default 60
}

// EngineConfig tunes the ingest and retrieval pipeline.
type EngineConfig struct {
	// GateThreshold is the minimum signal score for a message to reach
	// the extractor (default 0.3).
	GateThreshold float64 `yaml:"gate_threshold"`

	// TopK is the default number of search results (default 10).
	TopK int `yaml:"top_k"`

	// KeywordWeight and EmbeddingWeight blend the two retrieval scores
	// (defaults 0.7 and 0.3). They should sum to 1.
	KeywordWeight   float64 `yaml:"keyword_weight"`
	EmbeddingWeight float64 `yaml:"embedding_weight"`

	// ImportanceWeight scales the stored importance boost applied to
	// blended scores (default 0.3).
	ImportanceWeight float64 `yaml:"importance_weight"`

	// SimilarityThreshold is the cosine similarity above which two
	// entries are treated as being about the same thing (default 0.82).
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// TokenBudget caps assembled context size (default 1000).
	TokenBudget int `yaml:"token_budget"`

	// AssembleTimeout bounds context assembly (default 200ms).
	AssembleTimeout time.Duration `yaml:"assemble_timeout"`

	// BackfillWorkers is the embedding backfill pool size (default 2).
	BackfillWorkers int `yaml:"backfill_workers"`

	// DueSoonWindow is how far ahead commitments count as due soon
	// (default 48h).
	DueSoonWindow time.Duration `yaml:"due_soon_window"`

	// SnapshotStaleAfter marks resumed snapshots as stale (default 168h).
	SnapshotStaleAfter time.Duration `yaml:"snapshot_stale_after"`

	// SnapshotExpiry is snapshot time-to-live (default 720h).
	SnapshotExpiry time.Duration `yaml:"snapshot_expiry"`
}

// ConsolidationConfig tunes the scheduled consolidation daemon.
type ConsolidationConfig struct {
	// Enabled turns the cron schedule on (default true).
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression (default "0 3 * * *", daily 03:00).
	Schedule string `yaml:"schedule"`

	// RetentionDays is the hot-tier window; entries older than this are
	// eligible for consolidation (default 90).
	RetentionDays int `yaml:"retention_days"`

	// BatchLimit caps entries claimed per run (default 500).
	BatchLimit int `yaml:"batch_limit"`

	// ClaimStaleAfter frees claims abandoned by a crashed run
	// (default 6h).
	ClaimStaleAfter time.Duration `yaml:"claim_stale_after"`
}

// LoadConfig builds the configuration from defaults, the YAML file at
// path (skipped when path is empty or the file does not exist), and
// ENGRAM_ environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// missing file is fine, defaults and env apply
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	if c.Storage.Engine != "sqlite" && c.Storage.Engine != "postgres" {
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres engine requires a DSN")
	}
	if c.Engine.GateThreshold < 0 || c.Engine.GateThreshold > 1 {
		return fmt.Errorf("config: gate threshold %f out of [0,1]", c.Engine.GateThreshold)
	}
	if c.Engine.KeywordWeight < 0 || c.Engine.EmbeddingWeight < 0 {
		return fmt.Errorf("config: retrieval weights must be non-negative")
	}
	if c.Engine.TokenBudget < 1 {
		return fmt.Errorf("config: token budget must be positive")
	}
	if c.Consolidation.RetentionDays < 1 {
		return fmt.Errorf("config: retention days must be positive")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 7171,
			Host: "127.0.0.1",
		},
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		LLM: LLMConfig{
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			RequestTimeout: 30 * time.Second,
			MaxRetries:     2,
			RatePerMinute:  60,
		},
		Engine: EngineConfig{
			GateThreshold:       0.3,
			TopK:                10,
			KeywordWeight:       0.7,
			EmbeddingWeight:     0.3,
			ImportanceWeight:    0.3,
			SimilarityThreshold: 0.82,
			TokenBudget:         1000,
			AssembleTimeout:     200 * time.Millisecond,
			BackfillWorkers:     2,
			DueSoonWindow:       48 * time.Hour,
			SnapshotStaleAfter:  7 * 24 * time.Hour,
			SnapshotExpiry:      30 * 24 * time.Hour,
		},
		Consolidation: ConsolidationConfig{
			Enabled:         true,
			Schedule:        "0 3 * * *",
			RetentionDays:   90,
			BatchLimit:      500,
			ClaimStaleAfter: 6 * time.Hour,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("ENGRAM_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("ENGRAM_HOST", cfg.Server.Host)

	cfg.Storage.Engine = getEnv("ENGRAM_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("ENGRAM_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("ENGRAM_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.LLM.OpenAIAPIKey = getEnv("ENGRAM_OPENAI_API_KEY", cfg.LLM.OpenAIAPIKey)
	cfg.LLM.OpenAIBaseURL = getEnv("ENGRAM_OPENAI_BASE_URL", cfg.LLM.OpenAIBaseURL)
	cfg.LLM.Model = getEnv("ENGRAM_MODEL", cfg.LLM.Model)
	cfg.LLM.EmbeddingModel = getEnv("ENGRAM_EMBEDDING_MODEL", cfg.LLM.EmbeddingModel)
	cfg.LLM.RequestTimeout = getEnvDuration("ENGRAM_LLM_TIMEOUT", cfg.LLM.RequestTimeout)
	cfg.LLM.MaxRetries = getEnvInt("ENGRAM_LLM_MAX_RETRIES", cfg.LLM.MaxRetries)
	cfg.LLM.RatePerMinute = getEnvInt("ENGRAM_LLM_RATE_PER_MINUTE", cfg.LLM.RatePerMinute)

	cfg.Engine.GateThreshold = getEnvFloat("ENGRAM_GATE_THRESHOLD", cfg.Engine.GateThreshold)
	cfg.Engine.TopK = getEnvInt("ENGRAM_TOP_K", cfg.Engine.TopK)
	cfg.Engine.KeywordWeight = getEnvFloat("ENGRAM_KEYWORD_WEIGHT", cfg.Engine.KeywordWeight)
	cfg.Engine.EmbeddingWeight = getEnvFloat("ENGRAM_EMBEDDING_WEIGHT", cfg.Engine.EmbeddingWeight)
	cfg.Engine.ImportanceWeight = getEnvFloat("ENGRAM_IMPORTANCE_WEIGHT", cfg.Engine.ImportanceWeight)
	cfg.Engine.SimilarityThreshold = getEnvFloat("ENGRAM_SIMILARITY_THRESHOLD", cfg.Engine.SimilarityThreshold)
	cfg.Engine.TokenBudget = getEnvInt("ENGRAM_TOKEN_BUDGET", cfg.Engine.TokenBudget)
	cfg.Engine.AssembleTimeout = getEnvDuration("ENGRAM_ASSEMBLE_TIMEOUT", cfg.Engine.AssembleTimeout)
	cfg.Engine.BackfillWorkers = getEnvInt("ENGRAM_BACKFILL_WORKERS", cfg.Engine.BackfillWorkers)
	cfg.Engine.DueSoonWindow = getEnvDuration("ENGRAM_DUE_SOON_WINDOW", cfg.Engine.DueSoonWindow)
	cfg.Engine.SnapshotStaleAfter = getEnvDuration("ENGRAM_SNAPSHOT_STALE_AFTER", cfg.Engine.SnapshotStaleAfter)
	cfg.Engine.SnapshotExpiry = getEnvDuration("ENGRAM_SNAPSHOT_EXPIRY", cfg.Engine.SnapshotExpiry)

	cfg.Consolidation.Enabled = getEnvBool("ENGRAM_CONSOLIDATION_ENABLED", cfg.Consolidation.Enabled)
	cfg.Consolidation.Schedule = getEnv("ENGRAM_CONSOLIDATION_SCHEDULE", cfg.Consolidation.Schedule)
	cfg.Consolidation.RetentionDays = getEnvInt("ENGRAM_RETENTION_DAYS", cfg.Consolidation.RetentionDays)
	cfg.Consolidation.BatchLimit = getEnvInt("ENGRAM_CONSOLIDATION_BATCH", cfg.Consolidation.BatchLimit)
	cfg.Consolidation.ClaimStaleAfter = getEnvDuration("ENGRAM_CLAIM_STALE_AFTER", cfg.Consolidation.ClaimStaleAfter)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" and "false", "0", "no".
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "30s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
