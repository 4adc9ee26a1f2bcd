package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cryptogate/cryptogate/internal/arbiter"
	"github.com/cryptogate/cryptogate/internal/breaker"
	"github.com/cryptogate/cryptogate/internal/compliance"
	"github.com/cryptogate/cryptogate/internal/lifecycle"
	"github.com/cryptogate/cryptogate/internal/pipeline"
	"github.com/cryptogate/cryptogate/internal/ratebudget"
	"github.com/cryptogate/cryptogate/internal/router"
	"github.com/cryptogate/cryptogate/internal/sizing"
)

// VenueConfig describes one HTTP venue adapter.
type VenueConfig struct {
	Name      string        `yaml:"name"`
	BaseURL   string        `yaml:"base_url"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second
	Burst     int           `yaml:"burst"`
	Timeout   time.Duration `yaml:"timeout"`
}

// FeedConfig selects the price feed.
type FeedConfig struct {
	WebsocketURL string        `yaml:"websocket_url"` // empty: no streaming feed
	RedisAddr    string        `yaml:"redis_addr"`    // empty: no shared cache
	RedisTTL     time.Duration `yaml:"redis_ttl"`
}

// OpsConfig controls the operational HTTP server.
type OpsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// OutcomeConfig controls outcome persistence.
type OutcomeConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"` // empty: log sink only
}

// PaperConfig seeds the simulated ledger.
type PaperConfig struct {
	StartingCashUSD float64       `yaml:"starting_cash_usd"`
	TickInterval    time.Duration `yaml:"tick_interval"`
}

// Config is the full runtime configuration, one section per component.
type Config struct {
	Arbiter    arbiter.Config    `yaml:"arbiter"`
	RateBudget ratebudget.Config `yaml:"rate_budget"`
	Breaker    breaker.Config    `yaml:"breaker"`
	Compliance compliance.Config `yaml:"compliance"`
	Sizing     sizing.Config     `yaml:"sizing"`
	Lifecycle  lifecycle.Config  `yaml:"lifecycle"`
	Pipeline   pipeline.Config   `yaml:"pipeline"`

	Venues  []VenueConfig `yaml:"venues"`
	Feed    FeedConfig    `yaml:"feed"`
	Ops     OpsConfig     `yaml:"ops"`
	Outcome OutcomeConfig `yaml:"outcome"`
	Paper   PaperConfig   `yaml:"paper"`
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		Arbiter:    arbiter.DefaultConfig(),
		RateBudget: ratebudget.DefaultConfig(),
		Breaker:    breaker.DefaultConfig(),
		Compliance: compliance.DefaultConfig(),
		Sizing:     sizing.DefaultConfig(),
		Lifecycle:  lifecycle.DefaultConfig(),
		Pipeline:   pipeline.DefaultConfig(),
		Ops:        OpsConfig{ListenAddr: ":8090"},
		Paper: PaperConfig{
			StartingCashUSD: 10000,
			TickInterval:    2 * time.Second,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: file not found: %s", path)
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the components would silently coerce.
func (c Config) Validate() error {
	if c.Pipeline.Mode != "" && c.Pipeline.Mode != router.ModePaper && c.Pipeline.Mode != router.ModeReal {
		return fmt.Errorf("config: pipeline.mode %q must be %s or %s", c.Pipeline.Mode, router.ModePaper, router.ModeReal)
	}
	if c.Sizing.MaxKelly < 0 || c.Sizing.MaxKelly > 1 {
		return fmt.Errorf("config: sizing.max_kelly %.3f outside [0,1]", c.Sizing.MaxKelly)
	}
	if c.Sizing.RiskPerTrade < 0 || c.Sizing.RiskPerTrade > 1 {
		return fmt.Errorf("config: sizing.risk_per_trade %.3f outside [0,1]", c.Sizing.RiskPerTrade)
	}
	if c.Paper.StartingCashUSD < 0 {
		return fmt.Errorf("config: paper.starting_cash_usd must not be negative")
	}
	if _, err := c.Lifecycle.Ladder(); err != nil {
		return fmt.Errorf("config: lifecycle.targets: %w", err)
	}
	for i, v := range c.Venues {
		if v.Name == "" {
			return fmt.Errorf("config: venues[%d]: name required", i)
		}
		if v.BaseURL == "" {
			return fmt.Errorf("config: venues[%d] (%s): base_url required", i, v.Name)
		}
	}
	return nil
}
