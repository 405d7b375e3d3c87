// ============================================================================
// Configuration - YAML config file plus environment secrets
// ============================================================================
//
// Package: internal/cli
// File: config.go
// Purpose: Load and validate the engine configuration.
//
// Configuration sources, in order:
//   1. Built-in defaults (DefaultConfig)
//   2. YAML config file (default: configs/default.yaml)
//   3. Environment variables for secrets only, loaded via .env if present:
//      - DESCRIBE_API_KEY      description service credential
//      - STOREFRONT_API_TOKEN  storefront publish credential
//
// Secrets never appear in the YAML file or in logs.
//
// ============================================================================

package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration, mapped from YAML.
type Config struct {
	Engine struct {
		PollIntervalMs int `yaml:"poll_interval_ms"`
		ItemDelayMs    int `yaml:"item_delay_ms"`
	} `yaml:"engine"`

	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`

	Journal struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"journal"`

	ImageCache struct {
		Dir string `yaml:"dir"`
	} `yaml:"image_cache"`

	Catalog struct {
		BaseURL string       `yaml:"base_url"`
		Budget  BudgetConfig `yaml:"budget"`
	} `yaml:"catalog"`

	Describe struct {
		BaseURL string       `yaml:"base_url"`
		Model   string       `yaml:"model"`
		Budget  BudgetConfig `yaml:"budget"`

		APIKey string `yaml:"-"` // from DESCRIBE_API_KEY
	} `yaml:"describe"`

	Storefront struct {
		BaseURL string       `yaml:"base_url"`
		Budget  BudgetConfig `yaml:"budget"`

		APIToken string `yaml:"-"` // from STOREFRONT_API_TOKEN
	} `yaml:"storefront"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

// BudgetConfig is a per-service rate budget in config form.
type BudgetConfig struct {
	MaxCalls      int     `yaml:"max_calls"`
	WindowSeconds int     `yaml:"window_seconds"`
	MaxUnits      float64 `yaml:"max_units"` // 0 = untracked
}

// Window returns the budget window as a duration.
func (b BudgetConfig) Window() time.Duration {
	return time.Duration(b.WindowSeconds) * time.Second
}

// DefaultConfig returns the built-in defaults, matched to the public Met
// collection API's documented fair-use limit for the catalog service.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Engine.PollIntervalMs = 5000
	cfg.Engine.ItemDelayMs = 500
	cfg.Store.Path = "data/importer.db"
	cfg.Journal.Enabled = true
	cfg.Journal.Path = "data/transitions.log"
	cfg.ImageCache.Dir = "data/images"
	cfg.Catalog.BaseURL = "https://collectionapi.metmuseum.org/public/collection/v1"
	cfg.Catalog.Budget = BudgetConfig{MaxCalls: 70, WindowSeconds: 1}
	cfg.Describe.Budget = BudgetConfig{MaxCalls: 50, WindowSeconds: 60, MaxUnits: 90000}
	cfg.Storefront.Budget = BudgetConfig{MaxCalls: 2, WindowSeconds: 1}
	cfg.Metrics.Enabled = false
	cfg.Metrics.Port = 9090
	return cfg
}

// LoadConfig reads the YAML file over the defaults, then pulls secrets from
// the environment (a .env file in the working directory is honored). A
// missing config file is not an error; the defaults apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	// .env is optional; real environment variables win either way.
	_ = godotenv.Load()
	cfg.Describe.APIKey = os.Getenv("DESCRIBE_API_KEY")
	cfg.Storefront.APIToken = os.Getenv("STOREFRONT_API_TOKEN")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.PollIntervalMs <= 0 {
		return fmt.Errorf("engine.poll_interval_ms must be positive")
	}
	if c.Engine.ItemDelayMs < 0 {
		return fmt.Errorf("engine.item_delay_ms must not be negative")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	for name, b := range map[string]BudgetConfig{
		"catalog":    c.Catalog.Budget,
		"describe":   c.Describe.Budget,
		"storefront": c.Storefront.Budget,
	} {
		if b.MaxCalls <= 0 || b.WindowSeconds <= 0 {
			return fmt.Errorf("%s.budget requires positive max_calls and window_seconds", name)
		}
	}
	return nil
}

// PollInterval returns the scheduler poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Engine.PollIntervalMs) * time.Millisecond
}

// ItemDelay returns the courtesy delay between items.
func (c *Config) ItemDelay() time.Duration {
	return time.Duration(c.Engine.ItemDelayMs) * time.Millisecond
}
