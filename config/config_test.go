package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.SQL.MaxQueries != 3 {
		t.Errorf("MaxQueries = %d, want 3", cfg.SQL.MaxQueries)
	}
	if cfg.SQL.MaxRows != 200 {
		t.Errorf("MaxRows = %d, want 200", cfg.SQL.MaxRows)
	}
	if cfg.SQL.TimeoutMS != 5000 {
		t.Errorf("TimeoutMS = %d, want 5000", cfg.SQL.TimeoutMS)
	}
	if cfg.SQL.PlannerRetryLimit != 2 {
		t.Errorf("PlannerRetryLimit = %d, want 2", cfg.SQL.PlannerRetryLimit)
	}
	if cfg.SQL.SelectRounds != 3 {
		t.Errorf("SelectRounds = %d, want 3", cfg.SQL.SelectRounds)
	}
	if cfg.SQL.Dialect != "postgres" {
		t.Errorf("Dialect = %q, want postgres", cfg.SQL.Dialect)
	}
	if cfg.RAG.TopK != 5 {
		t.Errorf("TopK = %d, want 5", cfg.RAG.TopK)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database url", func(c *Config) { c.Database.URL = "" }},
		{"zero cache size", func(c *Config) { c.Database.EngineCacheSize = 0 }},
		{"missing planner model", func(c *Config) { c.LLM.PlannerModel = "" }},
		{"missing responder model", func(c *Config) { c.LLM.ResponderModel = "" }},
		{"temperature out of range", func(c *Config) { c.LLM.Temperature = 1.5 }},
		{"zero max queries", func(c *Config) { c.SQL.MaxQueries = 0 }},
		{"zero max rows", func(c *Config) { c.SQL.MaxRows = 0 }},
		{"zero select rounds", func(c *Config) { c.SQL.SelectRounds = 0 }},
		{"negative retry limit", func(c *Config) { c.SQL.PlannerRetryLimit = -1 }},
		{"zero top k", func(c *Config) { c.RAG.TopK = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation failure")
			}
		})
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "atlasrag.yaml")

	cfg := DefaultConfig()
	cfg.SQL.MaxRows = 50
	cfg.LLM.PlannerModel = "gpt-4o"
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SQL.MaxRows != 50 {
		t.Errorf("MaxRows = %d, want 50", loaded.SQL.MaxRows)
	}
	if loaded.LLM.PlannerModel != "gpt-4o" {
		t.Errorf("PlannerModel = %q, want gpt-4o", loaded.LLM.PlannerModel)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "atlasrag.yaml")
	partial := []byte("sql:\n  max_rows: 25\n")
	if err := os.WriteFile(path, partial, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SQL.MaxRows != 25 {
		t.Errorf("MaxRows = %d, want 25", cfg.SQL.MaxRows)
	}
	if cfg.SQL.MaxQueries != 3 {
		t.Errorf("MaxQueries = %d, default should survive", cfg.SQL.MaxQueries)
	}
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	other := &Config{}
	other.SQL.MaxRows = 99
	other.LLM.Provider = "ollama"

	base.Merge(other)

	if base.SQL.MaxRows != 99 {
		t.Errorf("MaxRows = %d, want 99", base.SQL.MaxRows)
	}
	if base.LLM.Provider != "ollama" {
		t.Errorf("Provider = %q, want ollama", base.LLM.Provider)
	}
	if base.SQL.MaxQueries != 3 {
		t.Errorf("MaxQueries = %d, zero values must not override", base.SQL.MaxQueries)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("ATLASRAG_DATABASE_URL", "postgres://env")
	t.Setenv("ATLASRAG_ENVIRONMENT", "Production")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.Database.URL != "postgres://env" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.App.Environment != "production" {
		t.Errorf("Environment = %q, want lowercased", cfg.App.Environment)
	}
}
