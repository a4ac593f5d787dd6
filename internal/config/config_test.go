package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mesh.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "app_name: grantmesh\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.TTLSeconds != 3600 || cfg.Cache.MaxEntries != 1000 {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Fanout.TimeoutSeconds != 5 || cfg.Fanout.MaxRetries != 3 || cfg.Fanout.BackoffBaseSeconds != 1 {
		t.Fatalf("unexpected fanout defaults: %+v", cfg.Fanout)
	}
	if cfg.Hybrid.SemanticWeight != 0.7 || cfg.Hybrid.KeywordWeight != 0.3 || cfg.Hybrid.OverfetchMultiplier != 3 {
		t.Fatalf("unexpected hybrid defaults: %+v", cfg.Hybrid)
	}
	if cfg.Routing.Strategy != "silo" {
		t.Fatalf("expected default routing strategy silo, got %s", cfg.Routing.Strategy)
	}
	if cfg.Embedder.ModelName != "all-MiniLM-L6-v2" || cfg.Embedder.BatchSize != 32 {
		t.Fatalf("unexpected embedder defaults: %+v", cfg.Embedder)
	}
	if !cfg.Log.EnableQueryLogging() {
		t.Fatalf("expected query logging to default to true")
	}
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
cache:
  ttl_seconds: 120
  max_entries: 50
routing:
  strategy: keyword
  keyword_triggers:
    horizon_europe: ["horizon", "eu consortium"]
log:
  enable_query_logging: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.TTLSeconds != 120 || cfg.Cache.MaxEntries != 50 {
		t.Fatalf("unexpected cache values: %+v", cfg.Cache)
	}
	if cfg.Routing.Strategy != "keyword" {
		t.Fatalf("expected keyword strategy, got %s", cfg.Routing.Strategy)
	}
	if len(cfg.Routing.KeywordTriggers["horizon_europe"]) != 2 {
		t.Fatalf("unexpected keyword triggers: %+v", cfg.Routing.KeywordTriggers)
	}
	if cfg.Log.EnableQueryLogging() {
		t.Fatalf("expected query logging to be disabled")
	}
}

func TestLoadRejectsUnknownRoutingStrategy(t *testing.T) {
	path := writeConfig(t, "routing:\n  strategy: made_up\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown routing strategy")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
