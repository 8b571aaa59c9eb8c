package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type CrawlerConfig struct {
	UserAgent       string  `yaml:"userAgent"`
	MaxDepthDefault int     `yaml:"maxDepthDefault"`
	MaxPagesDefault int     `yaml:"maxPagesDefault"`
	Concurrency     int     `yaml:"concurrency"`
	FetchTimeoutSec int     `yaml:"fetchTimeoutSec"`
	HostRatePerSec  float64 `yaml:"hostRatePerSec"`
	HostBurst       int     `yaml:"hostBurst"`
	RespectRobots   bool    `yaml:"respectRobots"`
}

type RenderConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BrowserURL string `yaml:"browserURL"`
}

type WorkerConfig struct {
	ID                 string `yaml:"id"`
	PollIntervalMs     int    `yaml:"pollIntervalMs"`
	MaxConcurrentTasks int    `yaml:"maxConcurrentTasks"`
	LeaseSeconds       int    `yaml:"leaseSeconds"`
	HeartbeatSeconds   int    `yaml:"heartbeatSeconds"`
	MaxAttempts        int    `yaml:"maxAttempts"`
	CrawlTimeoutMin    int    `yaml:"crawlTimeoutMin"`
}

type SchedulerConfig struct {
	Enabled     bool `yaml:"enabled"`
	TickSeconds int  `yaml:"tickSeconds"`
}

type LLMConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type RateLimitConfig struct {
	PerMinute int `yaml:"perMinute"`
}

type StreamConfig struct {
	PollIntervalMs   int `yaml:"pollIntervalMs"`
	KeepaliveSeconds int `yaml:"keepaliveSeconds"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Render    RenderConfig    `yaml:"render"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	LLM       LLMConfig       `yaml:"llm"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Stream    StreamConfig    `yaml:"stream"`
}

// Default returns a Config with the documented defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Crawler: CrawlerConfig{
			UserAgent:       "LlmsTxtGenerator/1.0",
			MaxDepthDefault: 3,
			MaxPagesDefault: 200,
			Concurrency:     20,
			FetchTimeoutSec: 20,
			HostRatePerSec:  2,
			HostBurst:       4,
			RespectRobots:   true,
		},
		Worker: WorkerConfig{
			ID:                 "worker-1",
			PollIntervalMs:     2000,
			MaxConcurrentTasks: 1,
			LeaseSeconds:       60,
			HeartbeatSeconds:   10,
			MaxAttempts:        5,
			CrawlTimeoutMin:    30,
		},
		Scheduler: SchedulerConfig{TickSeconds: 30},
		LLM:       LLMConfig{Model: "gpt-5.2"},
		Stream:    StreamConfig{PollIntervalMs: 1000, KeepaliveSeconds: 15},
	}
}

// Load reads the YAML config at path (if it exists), applies environment
// overrides, and validates. A missing file is fine; env alone can carry a
// full configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the recognized environment keys onto the config.
func (c *Config) applyEnv() error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("WORKER_ID"); v != "" {
		c.Worker.ID = v
	}

	intKeys := []struct {
		env string
		dst *int
	}{
		{"MAX_CRAWL_PAGES", &c.Crawler.MaxPagesDefault},
		{"MAX_CRAWL_DEPTH", &c.Crawler.MaxDepthDefault},
		{"CRAWL_CONCURRENCY", &c.Crawler.Concurrency},
		{"TASK_LEASE_SECONDS", &c.Worker.LeaseSeconds},
		{"TASK_MAX_ATTEMPTS", &c.Worker.MaxAttempts},
	}
	for _, k := range intKeys {
		v := os.Getenv(k.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", k.env, v)
		}
		*k.dst = n
	}

	if v := os.Getenv("RUN_SCHEDULER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RUN_SCHEDULER: %q", v)
		}
		c.Scheduler.Enabled = b
	}
	return nil
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required (database.dsn or DATABASE_URL)")
	}
	if c.Crawler.MaxDepthDefault < 1 || c.Crawler.MaxDepthDefault > 5 {
		return fmt.Errorf("crawler maxDepthDefault must be in [1,5], got %d", c.Crawler.MaxDepthDefault)
	}
	if c.Crawler.MaxPagesDefault < 50 || c.Crawler.MaxPagesDefault > 500 {
		return fmt.Errorf("crawler maxPagesDefault must be in [50,500], got %d", c.Crawler.MaxPagesDefault)
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler concurrency must be positive, got %d", c.Crawler.Concurrency)
	}
	if c.Worker.LeaseSeconds <= 0 {
		return fmt.Errorf("worker leaseSeconds must be positive, got %d", c.Worker.LeaseSeconds)
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker maxAttempts must be positive, got %d", c.Worker.MaxAttempts)
	}
	return nil
}
