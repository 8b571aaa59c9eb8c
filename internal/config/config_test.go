package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://test@localhost/test")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.MaxDepthDefault != 3 || cfg.Crawler.MaxPagesDefault != 200 {
		t.Fatalf("unexpected crawler defaults: depth=%d pages=%d",
			cfg.Crawler.MaxDepthDefault, cfg.Crawler.MaxPagesDefault)
	}
	if cfg.Database.DSN != "postgres://test@localhost/test" {
		t.Fatalf("DATABASE_URL not applied, got %q", cfg.Database.DSN)
	}
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `database:
  dsn: postgres://file@localhost/file
crawler:
  maxDepthDefault: 2
worker:
  maxAttempts: 3
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TASK_MAX_ATTEMPTS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.DSN != "postgres://file@localhost/file" {
		t.Fatalf("file dsn not applied, got %q", cfg.Database.DSN)
	}
	if cfg.Crawler.MaxDepthDefault != 2 {
		t.Fatalf("file depth not applied, got %d", cfg.Crawler.MaxDepthDefault)
	}
	if cfg.Worker.MaxAttempts != 7 {
		t.Fatalf("env should override file, got %d", cfg.Worker.MaxAttempts)
	}
}

func TestLoadRejectsMissingDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error without a database DSN")
	}
}

func TestLoadRejectsBadIntEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://test@localhost/test")
	t.Setenv("MAX_CRAWL_PAGES", "lots")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric MAX_CRAWL_PAGES")
	}
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"depth too high", func(c *Config) { c.Crawler.MaxDepthDefault = 6 }},
		{"pages too low", func(c *Config) { c.Crawler.MaxPagesDefault = 10 }},
		{"zero concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }},
		{"zero lease", func(c *Config) { c.Worker.LeaseSeconds = 0 }},
		{"zero attempts", func(c *Config) { c.Worker.MaxAttempts = 0 }},
	}
	for _, tc := range cases {
		cfg := Default()
		cfg.Database.DSN = "postgres://test@localhost/test"
		tc.mutate(cfg)
		if err := cfg.validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
