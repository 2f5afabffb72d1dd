package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Search.Provider != "duckduckgo" {
		t.Errorf("search provider = %q, want duckduckgo", cfg.Search.Provider)
	}
	if cfg.Fetch.Concurrency != 8 {
		t.Errorf("fetch concurrency = %d, want 8", cfg.Fetch.Concurrency)
	}
	if cfg.Fetch.PerHostDelay != 2*time.Second {
		t.Errorf("per-host delay = %v, want 2s", cfg.Fetch.PerHostDelay)
	}
	if len(cfg.Fetch.UserAgents) == 0 {
		t.Errorf("no default user agents")
	}
	if cfg.Research.MaxIterations != 3 {
		t.Errorf("max iterations = %d, want 3", cfg.Research.MaxIterations)
	}
	if cfg.Storage.History != "inmemory" {
		t.Errorf("history store = %q, want inmemory", cfg.Storage.History)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"empty model", func(c *Config) { c.LLM.Model = "" }},
		{"temperature out of range", func(c *Config) { c.LLM.Temperature = 3.5 }},
		{"unknown search provider", func(c *Config) { c.Search.Provider = "altavista" }},
		{"brave without key", func(c *Config) { c.Search.Provider = "brave"; c.Search.APIKey = "" }},
		{"unknown fetcher", func(c *Config) { c.Fetch.Fetcher = "wget" }},
		{"zero concurrency", func(c *Config) { c.Fetch.Concurrency = 0 }},
		{"zero iterations", func(c *Config) { c.Research.MaxIterations = 0 }},
		{"unknown history store", func(c *Config) { c.Storage.History = "postgres" }},
	}
	for _, tc := range cases {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("%s: LoadConfig: %v", tc.name, err)
		}
		tc.mut(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate accepted a bad config", tc.name)
		}
	}
}
