package sizing

import (
	"fmt"
)

// Config bounds the Kelly output.
type Config struct {
	MaxKelly     float64 `yaml:"max_kelly"`      // clamp on the raw Kelly fraction
	RiskPerTrade float64 `yaml:"risk_per_trade"` // cap on capital fraction committed per trade
}

// DefaultConfig returns conservative production defaults.
func DefaultConfig() Config {
	return Config{
		MaxKelly:     0.25,
		RiskPerTrade: 0.05,
	}
}

// Input holds the per-trade sizing parameters.
type Input struct {
	WinProbability float64 // p
	WinLossRatio   float64 // b, average win / average loss
	CapitalUSD     float64
	RiskPerTrade   float64 // optional per-call override of Config.RiskPerTrade
}

// Result is the sizing recommendation. Fraction is half-Kelly: roughly 75% of
// full Kelly's long-run growth at about half the variance. FullFraction is
// exposed for callers who explicitly want the aggressive figure.
type Result struct {
	Fraction     float64 `json:"fraction"`      // recommended (half-Kelly, clamped)
	FullFraction float64 `json:"full_fraction"` // clamped full Kelly
	SizeUSD      float64 `json:"size_usd"`
	Reason       string  `json:"reason,omitempty"` // set when fraction is zero
}

// Sizer computes Kelly-based position sizes. Pure: no state beyond config.
type Sizer struct {
	cfg Config
}

// New creates a sizer.
func New(cfg Config) *Sizer {
	def := DefaultConfig()
	if cfg.MaxKelly <= 0 || cfg.MaxKelly > 1 {
		cfg.MaxKelly = def.MaxKelly
	}
	if cfg.RiskPerTrade <= 0 || cfg.RiskPerTrade > 1 {
		cfg.RiskPerTrade = def.RiskPerTrade
	}
	return &Sizer{cfg: cfg}
}

// RiskEnvelope reports the configured cap on the capital fraction a single
// trade may commit.
func (s *Sizer) RiskEnvelope() float64 {
	return s.cfg.RiskPerTrade
}

// Size computes the Kelly fraction f* = (b·p − q)/b, clamps it to
// [0, MaxKelly], and recommends half of it. A non-positive edge yields a zero
// fraction with reason "no edge", which is a valid sizing outcome, not an error.
func (s *Sizer) Size(in Input) (Result, error) {
	if in.WinProbability < 0 || in.WinProbability > 1 {
		return Result{}, fmt.Errorf("sizing: win probability %.3f outside [0,1]", in.WinProbability)
	}
	if in.WinLossRatio <= 0 {
		return Result{}, fmt.Errorf("sizing: win/loss ratio %.3f must be positive", in.WinLossRatio)
	}
	if in.CapitalUSD < 0 {
		return Result{}, fmt.Errorf("sizing: negative capital %.2f", in.CapitalUSD)
	}

	p := in.WinProbability
	q := 1 - p
	b := in.WinLossRatio

	edge := b*p - q
	if edge <= 0 {
		return Result{Reason: "no edge"}, nil
	}

	full := edge / b
	if full > s.cfg.MaxKelly {
		full = s.cfg.MaxKelly
	}
	half := full / 2

	risk := in.RiskPerTrade
	if risk <= 0 || risk > 1 {
		risk = s.cfg.RiskPerTrade
	}

	size := in.CapitalUSD * half
	if envelope := in.CapitalUSD * risk; size > envelope {
		size = envelope
	}

	return Result{
		Fraction:     half,
		FullFraction: full,
		SizeUSD:      size,
	}, nil
}
