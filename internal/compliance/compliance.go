package compliance

import (
	"fmt"
	"time"
)

// Config holds the policy thresholds.
type Config struct {
	MaxDailyTrades int           `yaml:"max_daily_trades"`
	MinConfidence  float64       `yaml:"min_confidence"`
	MinNotionalUSD float64       `yaml:"min_notional_usd"`
	TradeSpacing   time.Duration `yaml:"trade_spacing"` // minimum gap between trades
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxDailyTrades: 30,
		MinConfidence:  0.55,
		MinNotionalUSD: 10.0,
		TradeSpacing:   60 * time.Second,
	}
}

// Input carries everything a single evaluation needs. The gate itself holds
// no state; callers track daily counts and last-trade times.
type Input struct {
	Confidence     float64
	NotionalUSD    float64
	DailyTrades    int
	SinceLastTrade time.Duration
}

// Decision is the evaluation result. The first failing check is reported;
// callers must not retry in a way that bypasses the reason.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// Gate is a stateless per-attempt policy check.
type Gate struct {
	cfg Config
}

// New creates a compliance gate.
func New(cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.MaxDailyTrades <= 0 {
		cfg.MaxDailyTrades = def.MaxDailyTrades
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.MinNotionalUSD <= 0 {
		cfg.MinNotionalUSD = def.MinNotionalUSD
	}
	if cfg.TradeSpacing <= 0 {
		cfg.TradeSpacing = def.TradeSpacing
	}
	return &Gate{cfg: cfg}
}

// Evaluate runs the checks in a fixed order and short-circuits on the first
// failure: daily cap, confidence floor, notional floor, trade spacing.
func (g *Gate) Evaluate(in Input) Decision {
	if in.DailyTrades >= g.cfg.MaxDailyTrades {
		return Decision{Reason: fmt.Sprintf("daily_cap: %d trades today, cap %d", in.DailyTrades, g.cfg.MaxDailyTrades)}
	}
	if in.Confidence < g.cfg.MinConfidence {
		return Decision{Reason: fmt.Sprintf("low_confidence: %.3f below minimum %.3f", in.Confidence, g.cfg.MinConfidence)}
	}
	if in.NotionalUSD < g.cfg.MinNotionalUSD {
		return Decision{Reason: fmt.Sprintf("low_notional: $%.2f below minimum $%.2f", in.NotionalUSD, g.cfg.MinNotionalUSD)}
	}
	if in.SinceLastTrade < g.cfg.TradeSpacing {
		return Decision{Reason: fmt.Sprintf("trade_spacing: %s since last trade, need %s",
			in.SinceLastTrade.Round(time.Second), g.cfg.TradeSpacing)}
	}
	return Decision{Allow: true}
}
