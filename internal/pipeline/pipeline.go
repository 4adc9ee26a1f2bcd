package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryptogate/cryptogate/internal/arbiter"
	"github.com/cryptogate/cryptogate/internal/breaker"
	"github.com/cryptogate/cryptogate/internal/compliance"
	"github.com/cryptogate/cryptogate/internal/lifecycle"
	"github.com/cryptogate/cryptogate/internal/metrics"
	"github.com/cryptogate/cryptogate/internal/ratebudget"
	"github.com/cryptogate/cryptogate/internal/router"
	"github.com/cryptogate/cryptogate/internal/signal"
	"github.com/cryptogate/cryptogate/internal/sizing"
	"github.com/cryptogate/cryptogate/internal/venue"
)

// Stage names reported in denials.
const (
	StageHold       = "hold"
	StageArbiter    = "arbiter"
	StageCompliance = "compliance"
	StageRateBudget = "rate_budget"
	StageBreaker    = "breaker"
	StageSizing     = "sizing"
	StageSlots      = "slots"
	StageExecution  = "execution"
)

// Config controls orchestration.
type Config struct {
	Mode         router.Mode `yaml:"mode"`           // PAPER or REAL
	WinLossRatio float64     `yaml:"win_loss_ratio"` // b for Kelly sizing
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Mode:         router.ModePaper,
		WinLossRatio: 1.5,
	}
}

// Decision is the per-signal admission outcome. A denial is expected
// behavior, not an error: it always names the stage and a reason.
type Decision struct {
	Admitted bool                    `json:"admitted"`
	Stage    string                  `json:"stage,omitempty"`
	Reason   string                  `json:"reason,omitempty"`
	SizeUSD  float64                 `json:"size_usd,omitempty"`
	Result   *router.ExecutionResult `json:"result,omitempty"`
}

// Pipeline walks an incoming signal through every admission gate and, when
// all pass, sizes the bet, routes the order and hands the position to the
// lifecycle manager. Stages are composed, not inherited: each returns its
// own typed result and knows nothing of the others.
type Pipeline struct {
	cfg       Config
	log       zerolog.Logger
	arb       *arbiter.Arbiter
	gate      *compliance.Gate
	budget    *ratebudget.Budget
	brk       *breaker.Breaker
	sizer     *sizing.Sizer
	route     *router.Router
	manager   *lifecycle.Manager
	capital   func() float64
	ladderCfg lifecycle.Config
	metrics   *metrics.Registry

	mu         sync.Mutex
	day        time.Time
	dailyCount int
	lastTrade  time.Time

	now func() time.Time // overridable for tests
}

// New wires the pipeline. capital reports available capital in USD (the paper
// ledger balance, or configured account equity in real mode). reg may be nil.
func New(
	cfg Config,
	arb *arbiter.Arbiter,
	gate *compliance.Gate,
	budget *ratebudget.Budget,
	brk *breaker.Breaker,
	sizer *sizing.Sizer,
	route *router.Router,
	manager *lifecycle.Manager,
	capital func() float64,
	ladderCfg lifecycle.Config,
	reg *metrics.Registry,
	log zerolog.Logger,
) *Pipeline {
	if cfg.WinLossRatio <= 0 {
		cfg.WinLossRatio = DefaultConfig().WinLossRatio
	}
	if cfg.Mode == "" {
		cfg.Mode = router.ModePaper
	}
	return &Pipeline{
		cfg:       cfg,
		log:       log.With().Str("component", "pipeline").Logger(),
		arb:       arb,
		gate:      gate,
		budget:    budget,
		brk:       brk,
		sizer:     sizer,
		route:     route,
		manager:   manager,
		capital:   capital,
		ladderCfg: ladderCfg,
		metrics:   reg,
		now:       time.Now,
	}
}

// Submit runs one signal through the admission gates. Admission is
// all-or-nothing at each gate; nothing is reserved speculatively except the
// position slot, which is released if execution fails after admission.
func (p *Pipeline) Submit(ctx context.Context, sig signal.Signal) Decision {
	if p.metrics != nil {
		p.metrics.SignalsReceived.WithLabelValues(string(sig.Direction)).Inc()
	}

	p.arb.Register(sig)

	if sig.Direction == signal.Hold {
		return p.deny(StageHold, "hold_signal: no directional intent")
	}

	// Conflict arbitration: a blocked symbol or a losing side stops here.
	conflict := p.arb.CheckConflict(sig.Symbol)
	if conflict.Conflict {
		switch {
		case conflict.Resolution == arbiter.ResolutionBlock:
			return p.deny(StageArbiter, fmt.Sprintf(
				"conflict_block: buy %.3f vs sell %.3f too close to call", conflict.BuyMean, conflict.SellMean))
		case conflict.Resolution == arbiter.ResolutionBuy && sig.Direction != signal.Buy,
			conflict.Resolution == arbiter.ResolutionSell && sig.Direction != signal.Sell:
			return p.deny(StageArbiter, fmt.Sprintf(
				"conflict_lost: %s side outweighed by %s consensus", sig.Direction, conflict.Resolution))
		}
	}

	// The compliance notional check runs before Kelly sizing, so it sees the
	// risk envelope: the largest amount this trade could commit.
	capital := p.capital()
	provisionalNotional := capital * p.sizer.RiskEnvelope()

	daily, sinceLast := p.tradeStats()
	if dec := p.gate.Evaluate(compliance.Input{
		Confidence:     sig.Confidence,
		NotionalUSD:    provisionalNotional,
		DailyTrades:    daily,
		SinceLastTrade: sinceLast,
	}); !dec.Allow {
		return p.deny(StageCompliance, dec.Reason)
	}

	if dec := p.budget.TryConsume(); !dec.Allowed {
		return p.deny(StageRateBudget, dec.Reason)
	}

	if status := p.brk.Check(); !status.TradingAllowed {
		return p.deny(StageBreaker, fmt.Sprintf(
			"circuit_open: %s remaining of cooldown", status.CooldownRemaining.Round(time.Second)))
	}

	sized, err := p.sizer.Size(sizing.Input{
		WinProbability: sig.Confidence,
		WinLossRatio:   p.cfg.WinLossRatio,
		CapitalUSD:     capital,
	})
	if err != nil {
		return p.deny(StageSizing, err.Error())
	}
	if sized.Fraction == 0 {
		return p.deny(StageSizing, sized.Reason)
	}

	// Slot admission is a single atomic check-and-open; from here on a
	// failure must release the slot.
	if dec := p.arb.AdmitSlot(sig.Symbol); !dec.Allowed {
		return p.deny(StageSlots, dec.Reason)
	}

	ladder, err := p.ladderCfg.Ladder()
	if err != nil {
		p.arb.CloseSlot(sig.Symbol)
		return p.deny(StageExecution, err.Error())
	}

	result := p.route.Execute(ctx, router.Request{
		Symbol:    sig.Symbol,
		Side:      sideOf(sig.Direction),
		AmountUSD: sized.SizeUSD,
		Mode:      p.cfg.Mode,
		Ladder:    ladder,
	})
	if p.metrics != nil {
		p.metrics.Executions.WithLabelValues(string(result.Status)).Inc()
	}
	if result.Status != router.StatusFilled {
		p.arb.CloseSlot(sig.Symbol)
		p.brk.RecordFailure(breaker.FailureExecution)
		p.log.Error().Str("symbol", sig.Symbol).Str("reason", result.Reason).Msg("execution failed")
		dec := p.deny(StageExecution, result.Reason)
		dec.Result = &result
		return dec
	}

	if err := p.manager.Track(result.Position); err != nil {
		p.arb.CloseSlot(sig.Symbol)
		p.brk.RecordFailure(breaker.FailureInternal)
		return p.deny(StageExecution, err.Error())
	}

	p.recordTrade()
	if p.metrics != nil {
		p.metrics.Admissions.Inc()
		p.metrics.OpenPositions.Set(float64(p.arb.OpenPositions()))
	}
	p.log.Info().Str("symbol", sig.Symbol).Str("side", string(sig.Direction)).
		Float64("size_usd", sized.SizeUSD).Str("venue", result.Venue).
		Bool("degraded", result.Degraded).Msg("signal admitted and executed")

	return Decision{Admitted: true, SizeUSD: sized.SizeUSD, Result: &result}
}

// ObserveGauges refreshes the slow-moving gauges; call it from the tick loop.
func (p *Pipeline) ObserveGauges() {
	if p.metrics == nil {
		return
	}
	rates := p.budget.GetSnapshot()
	p.metrics.RateSecondUsed.Set(float64(rates.SecondUsed))
	p.metrics.RateMinuteUsed.Set(float64(rates.MinuteUsed))
	if p.brk.Check().TradingAllowed {
		p.metrics.BreakerState.Set(0)
	} else {
		p.metrics.BreakerState.Set(1)
	}
	p.metrics.OpenPositions.Set(float64(p.arb.OpenPositions()))
}

func (p *Pipeline) deny(stage, reason string) Decision {
	if p.metrics != nil {
		p.metrics.Denials.WithLabelValues(stage).Inc()
	}
	p.log.Debug().Str("stage", stage).Str("reason", reason).Msg("signal denied")
	return Decision{Stage: stage, Reason: reason}
}

// tradeStats returns today's trade count and the gap since the last trade,
// rolling the daily counter at midnight UTC.
func (p *Pipeline) tradeStats() (int, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(p.day) {
		p.day = day
		p.dailyCount = 0
	}

	since := time.Duration(1<<62 - 1)
	if !p.lastTrade.IsZero() {
		since = now.Sub(p.lastTrade)
	}
	return p.dailyCount, since
}

func (p *Pipeline) recordTrade() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(p.day) {
		p.day = day
		p.dailyCount = 0
	}
	p.dailyCount++
	p.lastTrade = now
}

func sideOf(d signal.Direction) venue.Side {
	if d == signal.Sell {
		return venue.SideSell
	}
	return venue.SideBuy
}
