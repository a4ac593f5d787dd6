// Package config loads the mesh's YAML configuration file and applies the
// defaults spec.md §6 specifies for each recognized key.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document, grounded on the teacher's
// `Config`/`Load(filename)` shape with the cell/pool/broker deployment
// fields replaced by the mesh's cache/fanout/hybrid/routing/embedder/log
// sections.
type Config struct {
	AppName string `yaml:"app_name"`
	Debug   bool   `yaml:"debug"`

	Cache    CacheConfig    `yaml:"cache"`
	Fanout   FanoutConfig   `yaml:"fanout"`
	Hybrid   HybridConfig   `yaml:"hybrid"`
	Routing  RoutingConfig  `yaml:"routing"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Log      LogConfig      `yaml:"log"`
}

// CacheConfig holds the ResultCache's TTL and size cap.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	MaxEntries int `yaml:"max_entries"`
}

// FanoutConfig holds per-agent query timeout and retry/backoff parameters.
type FanoutConfig struct {
	TimeoutSeconds     int `yaml:"timeout_seconds"`
	MaxRetries         int `yaml:"max_retries"`
	BackoffBaseSeconds int `yaml:"backoff_base_seconds"`
}

// HybridConfig holds the hybrid search scoring weights and over-fetch
// multiplier.
type HybridConfig struct {
	SemanticWeight      float64 `yaml:"semantic_weight"`
	KeywordWeight       float64 `yaml:"keyword_weight"`
	OverfetchMultiplier int     `yaml:"overfetch_multiplier"`
}

// RoutingConfig selects and configures the active RoutingStrategy.
type RoutingConfig struct {
	Strategy        string              `yaml:"strategy"`
	KeywordTriggers map[string][]string `yaml:"keyword_triggers"`
}

// EmbedderConfig selects the model the EmbedderPool resolves by default
// and the batch size used for bulk indexing.
type EmbedderConfig struct {
	ModelName string `yaml:"model_name"`
	BatchSize int    `yaml:"batch_size"`
}

// LogConfig controls the query log's destination and whether it's enabled
// at all. EnableLogging is a pointer so an absent key can default to true
// while an explicit `false` is still honored.
type LogConfig struct {
	QueryLogPath  string `yaml:"query_log_path"`
	EnableLogging *bool  `yaml:"enable_query_logging"`
}

// EnableQueryLogging reports whether query logging is on, honoring an
// explicit `false` in the file while defaulting to true when the key is
// absent (spec.md §6: "default true").
func (l LogConfig) EnableQueryLogging() bool {
	if l.EnableLogging == nil {
		return true
	}
	return *l.EnableLogging
}

// Load reads and parses filename, then fills in every default spec.md §6
// documents for a key left unset.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 3600
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 1000
	}

	if cfg.Fanout.TimeoutSeconds == 0 {
		cfg.Fanout.TimeoutSeconds = 5
	}
	if cfg.Fanout.MaxRetries == 0 {
		cfg.Fanout.MaxRetries = 3
	}
	if cfg.Fanout.BackoffBaseSeconds == 0 {
		cfg.Fanout.BackoffBaseSeconds = 1
	}

	if cfg.Hybrid.SemanticWeight == 0 {
		cfg.Hybrid.SemanticWeight = 0.7
	}
	if cfg.Hybrid.KeywordWeight == 0 {
		cfg.Hybrid.KeywordWeight = 0.3
	}
	if cfg.Hybrid.OverfetchMultiplier == 0 {
		cfg.Hybrid.OverfetchMultiplier = 3
	}

	if cfg.Routing.Strategy == "" {
		cfg.Routing.Strategy = "silo"
	}

	if cfg.Embedder.ModelName == "" {
		cfg.Embedder.ModelName = "all-MiniLM-L6-v2"
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 32
	}

	if cfg.Log.QueryLogPath == "" {
		cfg.Log.QueryLogPath = "querylog.jsonl"
	}
}

func validate(cfg *Config) error {
	if cfg.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds cannot be negative: %d", cfg.Cache.TTLSeconds)
	}
	if cfg.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries cannot be negative: %d", cfg.Cache.MaxEntries)
	}
	if cfg.Fanout.TimeoutSeconds <= 0 {
		return fmt.Errorf("fanout.timeout_seconds must be positive: %d", cfg.Fanout.TimeoutSeconds)
	}
	if cfg.Fanout.MaxRetries < 0 {
		return fmt.Errorf("fanout.max_retries cannot be negative: %d", cfg.Fanout.MaxRetries)
	}
	switch cfg.Routing.Strategy {
	case "silo", "keyword", "broadcast", "rendezvous":
	default:
		return fmt.Errorf("routing.strategy %q is not one of silo/keyword/broadcast/rendezvous", cfg.Routing.Strategy)
	}
	return nil
}
