// Package config loads cml's layered configuration: defaults, an optional
// config.yaml in the project's .cml directory, and CML_-prefixed
// environment variable overrides, modeled on the teacher's viper-backed
// config.yaml handling (internal/config/yaml_config.go,
// cmd/bd/config.go).
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable named in the specification (§4) with its
// default value. Field names mirror the spec's snake_case knobs via
// mapstructure tags so a config.yaml can override them directly.
type Config struct {
	// Event store
	BusyTimeoutMS    int   `mapstructure:"busy_timeout_ms"`
	MaxContentBytes  int   `mapstructure:"max_content_bytes"`
	DedupeBucketSecs int   `mapstructure:"dedupe_bucket_seconds"`
	FutureSkewMax    time.Duration `mapstructure:"future_skew_max"`

	// Outbox / vector worker
	OutboxBatchSize   int           `mapstructure:"outbox_batch_size"`
	PollIntervalMS    int           `mapstructure:"poll_interval_ms"`
	MaxRetries        int           `mapstructure:"max_retries"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	VectorBackend     string        `mapstructure:"vector_backend"` // "local" | "qdrant"
	QdrantAddr        string        `mapstructure:"qdrant_addr"`
	QdrantCollection  string        `mapstructure:"qdrant_collection"`

	// Working set / consolidation
	MaxWorkingSetEvents int           `mapstructure:"max_working_set_events"`
	WorkingSetWindow    time.Duration `mapstructure:"working_set_time_window"`
	TriggerEventCount   int           `mapstructure:"trigger_event_count"`
	TriggerInterval     time.Duration `mapstructure:"trigger_interval"`
	TriggerIdle         time.Duration `mapstructure:"trigger_idle"`
	MinSimilarity       float64       `mapstructure:"min_similarity"`
	RuleThreshold       float64       `mapstructure:"rule_threshold"`
	MinRecurrences      int           `mapstructure:"min_recurrences"`
	MinCoverage         float64       `mapstructure:"min_coverage"`
	RedisAddr           string        `mapstructure:"redis_addr"`

	// Shared store / promotion
	MinConfidenceForPromotion float64 `mapstructure:"min_confidence_for_promotion"`
	GraphBackend              string  `mapstructure:"graph_backend"` // "sqlite" | "neo4j"
	Neo4jURI                  string  `mapstructure:"neo4j_uri"`

	// Embedder
	EmbedderEndpoint   string `mapstructure:"embedder_endpoint"`
	EmbedderModel      string `mapstructure:"embedder_model"`
	EmbedderAPIKey     string `mapstructure:"embedder_api_key"`
	EmbedderDimensions int    `mapstructure:"embedder_dimensions"`

	// Retriever
	TopKDefault    int     `mapstructure:"top_k_default"`
	MinScore       float64 `mapstructure:"min_score"`
	HighThreshold  float64 `mapstructure:"high_threshold"`

	// Continuity
	DecayHours            float64 `mapstructure:"decay_hours"`
	MinScoreForSeamless   float64 `mapstructure:"min_score_for_seamless"`

	// Hook binaries
	ExcludedTools      []string `mapstructure:"excluded_tools"`
	StoreOnlyOnSuccess bool     `mapstructure:"store_only_on_success"`

	// Markdown mirror (optional best-effort side output)
	MirrorEnabled bool   `mapstructure:"mirror_enabled"`
	MirrorDir     string `mapstructure:"mirror_dir"`

	// NATS (optional, off by default)
	NATSURL string `mapstructure:"nats_url"`

	// Paths
	DBPath string `mapstructure:"db_path"`
}

// Defaults returns a Config populated with the spec's documented defaults.
func Defaults() Config {
	return Config{
		BusyTimeoutMS:    5000,
		MaxContentBytes:  1 << 20,
		DedupeBucketSecs: 60,
		FutureSkewMax:    time.Hour,

		OutboxBatchSize:  32,
		PollIntervalMS:   1000,
		MaxRetries:       5,
		StaleAfter:       5 * time.Minute,
		VectorBackend:    "local",
		QdrantCollection: "cml_events",

		MaxWorkingSetEvents: 500,
		WorkingSetWindow:    24 * time.Hour,
		TriggerEventCount:   25,
		TriggerInterval:     15 * time.Minute,
		TriggerIdle:         5 * time.Minute,
		MinSimilarity:       0.3,
		RuleThreshold:       0.85,
		MinRecurrences:      3,
		MinCoverage:         0.6,

		MinConfidenceForPromotion: 0.8,
		GraphBackend:              "sqlite",

		EmbedderEndpoint:   "http://localhost:11434/v1/embeddings",
		EmbedderModel:      "nomic-embed-text",
		EmbedderDimensions: 768,

		TopKDefault:   10,
		MinScore:      0.5,
		HighThreshold: 0.85,

		DecayHours:          6,
		MinScoreForSeamless: 0.7,

		ExcludedTools:      []string{"TodoRead", "TodoWrite"},
		StoreOnlyOnSuccess: false,

		MirrorEnabled: false,
		MirrorDir:     "memory",
	}
}

// Load reads defaults, then a <projectDir>/config.yaml if present, then
// CML_-prefixed environment overrides, modeled on the teacher's layered
// viper setup (cmd/bd/config.go) and BEADS_-style env prefix convention.
func Load(projectDir string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CML")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, val := range structToMap(cfg) {
		v.SetDefault(key, val)
	}

	configPath := filepath.Join(projectDir, "config.yaml")
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		if !isFileNotExist(err) {
			return cfg, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func isFileNotExist(err error) bool {
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok
}
