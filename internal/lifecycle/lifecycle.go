package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryptogate/cryptogate/internal/breaker"
	"github.com/cryptogate/cryptogate/internal/feed"
	"github.com/cryptogate/cryptogate/internal/outcome"
	"github.com/cryptogate/cryptogate/internal/position"
	"github.com/cryptogate/cryptogate/internal/venue"
)

// Exit reasons emitted with lifecycle events.
const (
	ReasonBreakevenStop   = "breakeven_stop"
	ReasonTrailingStop    = "trailing_stop"
	ReasonTargetsComplete = "targets_complete"
	ReasonManualClose     = "manual_close"
)

// Config controls the stop and target state machines.
type Config struct {
	BreakevenTriggerPct float64      `yaml:"breakeven_trigger_pct"` // unrealized gain that arms the breakeven stop
	BreakevenOffsetPct  float64      `yaml:"breakeven_offset_pct"`  // stop offset from entry, in the profitable direction
	TrailingPct         float64      `yaml:"trailing_pct"`          // distance from the watermark
	Targets             []TargetSpec `yaml:"targets"`               // default profit ladder for new positions
}

// TargetSpec is one configured profit-target rung.
type TargetSpec struct {
	GainPct  float64 `yaml:"gain_pct"`
	Fraction float64 `yaml:"fraction"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BreakevenTriggerPct: 1.5,
		BreakevenOffsetPct:  0.1,
		TrailingPct:         5.0,
		Targets: []TargetSpec{
			{GainPct: 3.0, Fraction: 0.5},
			{GainPct: 6.0, Fraction: 0.3},
			{GainPct: 10.0, Fraction: 0.2},
		},
	}
}

// Ladder builds the configured default target ladder.
func (c Config) Ladder() (position.TargetLadder, error) {
	rungs := make([]position.Rung, len(c.Targets))
	for i, t := range c.Targets {
		rungs[i] = position.Rung{GainPct: t.GainPct, Fraction: t.Fraction}
	}
	return position.NewTargetLadder(rungs)
}

// EventType distinguishes partial from full exits.
type EventType string

const (
	EventPartialExit EventType = "partial_exit"
	EventExit        EventType = "exit"
)

// Event is an exit instruction produced by a tick.
type Event struct {
	Type       EventType  `json:"type"`
	PositionID string     `json:"position_id"`
	Symbol     string     `json:"symbol"`
	Side       venue.Side `json:"side"`
	Price      float64    `json:"price"`
	AmountUSD  float64    `json:"amount_usd"`
	PnLUSD     float64    `json:"pnl_usd"`
	Reason     string     `json:"reason"`
	Time       time.Time  `json:"time"`
}

// SlotCloser releases a symbol's position slot on full exit.
type SlotCloser interface {
	CloseSlot(symbol string)
}

// OutcomeRecorder receives the closed position's result for circuit-breaking.
type OutcomeRecorder interface {
	RecordSuccess()
	RecordFailure(kind breaker.FailureKind)
}

// Manager owns open positions from creation until close and drives their
// stop/target state machines off a polled price feed. Each position's
// machines are independent; a tick with an unchanged price produces no new
// events.
type Manager struct {
	cfg    Config
	log    zerolog.Logger
	feed   feed.PriceFeed
	closer SlotCloser
	sink   outcome.Sink
	rec    OutcomeRecorder

	mu        sync.Mutex
	positions map[string]*position.Position // keyed by symbol, at most one each
}

// New creates a lifecycle manager. closer, sink and rec may not be nil.
func New(cfg Config, priceFeed feed.PriceFeed, closer SlotCloser, sink outcome.Sink, rec OutcomeRecorder, log zerolog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.BreakevenTriggerPct <= 0 {
		cfg.BreakevenTriggerPct = def.BreakevenTriggerPct
	}
	if cfg.BreakevenOffsetPct <= 0 {
		cfg.BreakevenOffsetPct = def.BreakevenOffsetPct
	}
	if cfg.TrailingPct <= 0 {
		cfg.TrailingPct = def.TrailingPct
	}
	return &Manager{
		cfg:       cfg,
		log:       log.With().Str("component", "lifecycle").Logger(),
		feed:      priceFeed,
		closer:    closer,
		sink:      sink,
		rec:       rec,
		positions: make(map[string]*position.Position),
	}
}

// Track takes ownership of a newly opened position.
func (m *Manager) Track(pos *position.Position) error {
	if pos == nil {
		return fmt.Errorf("lifecycle: nil position")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.positions[pos.Symbol]; exists {
		return fmt.Errorf("lifecycle: position already tracked for %s", pos.Symbol)
	}
	m.positions[pos.Symbol] = pos
	m.log.Info().Str("symbol", pos.Symbol).Str("side", string(pos.Side)).
		Float64("entry_price", pos.EntryPrice).Float64("size_usd", pos.SizeUSD).
		Msg("tracking position")
	return nil
}

// Open reports how many positions are currently tracked.
func (m *Manager) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// Positions returns a snapshot copy of tracked positions.
func (m *Manager) Positions() []position.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]position.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// TickAll polls the feed for every tracked symbol and evaluates each
// position. Feed misses are skipped, not fatal.
func (m *Manager) TickAll(ctx context.Context) []Event {
	m.mu.Lock()
	symbols := make([]string, 0, len(m.positions))
	for sym := range m.positions {
		symbols = append(symbols, sym)
	}
	m.mu.Unlock()
	sort.Strings(symbols)

	var events []Event
	for _, sym := range symbols {
		price, err := m.feed.LastPrice(sym)
		if err != nil {
			m.log.Debug().Err(err).Str("symbol", sym).Msg("no price this tick")
			continue
		}
		evs, err := m.OnTick(ctx, sym, price, time.Now())
		if err != nil {
			m.log.Error().Err(err).Str("symbol", sym).Msg("tick evaluation failed")
			continue
		}
		events = append(events, evs...)
	}
	return events
}

// OnTick evaluates one position against a new price. State machine order:
// watermark and stop updates, then stop-crossing (full exit), then the
// profit-target ladder (partial exits, full exit when consumed).
func (m *Manager) OnTick(ctx context.Context, symbol string, price float64, now time.Time) ([]Event, error) {
	if price <= 0 {
		return nil, fmt.Errorf("lifecycle: non-positive price %.6f for %s", price, symbol)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		return nil, nil
	}

	if err := m.updateStops(pos, price); err != nil {
		// Invariant violations abort the tick rather than persist corruption.
		return nil, err
	}

	if crossed(pos, price) {
		reason := ReasonTrailingStop
		if pos.Stop.Kind == position.StopBreakeven {
			reason = ReasonBreakevenStop
		}
		ev := m.closeLocked(ctx, pos, price, reason, now)
		return []Event{ev}, nil
	}

	events := m.checkLadderLocked(pos, price, now)
	if pos.Ladder.Consumed() {
		events = append(events, m.closeLocked(ctx, pos, price, ReasonTargetsComplete, now))
	}
	return events, nil
}

// Close exits a position at the given price regardless of machine state.
func (m *Manager) Close(ctx context.Context, symbol string, price float64, reason string) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		return Event{}, fmt.Errorf("lifecycle: no tracked position for %s", symbol)
	}
	if reason == "" {
		reason = ReasonManualClose
	}
	return m.closeLocked(ctx, pos, price, reason, time.Now()), nil
}

// updateStops advances the watermark, the trailing stop, and the breakeven
// machine. Stop candidates are only applied when they improve the trigger,
// so the monotonic invariant holds by construction; Improve still verifies.
func (m *Manager) updateStops(pos *position.Position, price float64) error {
	long := pos.Side == venue.SideBuy

	// Watermark: highest price since entry for longs, lowest for shorts.
	if long && price > pos.Stop.Watermark {
		pos.Stop.Watermark = price
	} else if !long && price < pos.Stop.Watermark {
		pos.Stop.Watermark = price
	}

	// Trailing stop: only once there is profit to protect.
	profitable := (long && pos.Stop.Watermark > pos.EntryPrice) ||
		(!long && pos.Stop.Watermark < pos.EntryPrice)
	if profitable {
		trail := m.cfg.TrailingPct / 100
		var trailStop float64
		if long {
			trailStop = pos.Stop.Watermark * (1 - trail)
		} else {
			trailStop = pos.Stop.Watermark * (1 + trail)
		}
		if improves(pos, trailStop) {
			if err := pos.Stop.Improve(pos.Side, position.StopTrailing, trailStop); err != nil {
				return err
			}
		}
	}

	// Breakeven: arm once, never disarm.
	if !pos.Stop.BreakevenOn && pos.GainPct(price) >= m.cfg.BreakevenTriggerPct {
		pos.Stop.BreakevenOn = true
		offset := m.cfg.BreakevenOffsetPct / 100
		var beStop float64
		if long {
			beStop = pos.EntryPrice * (1 + offset)
		} else {
			beStop = pos.EntryPrice * (1 - offset)
		}
		if improves(pos, beStop) {
			if err := pos.Stop.Improve(pos.Side, position.StopBreakeven, beStop); err != nil {
				return err
			}
		}
		m.log.Debug().Str("symbol", pos.Symbol).Float64("stop", pos.Stop.TriggerPrice).
			Msg("breakeven stop armed")
	}
	return nil
}

// checkLadderLocked fires pending rungs in ascending order. Fractions apply
// to the original size so the ladder consumes exactly the whole position.
func (m *Manager) checkLadderLocked(pos *position.Position, price float64, now time.Time) []Event {
	gain := pos.GainPct(price)
	var events []Event

	for i := range pos.Ladder.Rungs {
		rung := &pos.Ladder.Rungs[i]
		if rung.Status == position.RungHit || gain < rung.GainPct {
			continue
		}
		rung.Status = position.RungHit

		amount := rung.Fraction * pos.SizeUSD
		if amount > pos.RemainingUSD {
			amount = pos.RemainingUSD
		}
		pnl := amount * gain / 100
		pos.RemainingUSD -= amount
		pos.RealizedPnLUSD += pnl

		m.log.Info().Str("symbol", pos.Symbol).Float64("gain_pct", rung.GainPct).
			Float64("amount_usd", amount).Float64("pnl_usd", pnl).Msg("profit target hit")

		events = append(events, Event{
			Type:       EventPartialExit,
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Side:       pos.Side,
			Price:      price,
			AmountUSD:  amount,
			PnLUSD:     pnl,
			Reason:     fmt.Sprintf("target_%.1fpct", rung.GainPct),
			Time:       now,
		})
	}
	return events
}

// closeLocked performs the full exit: realize remaining PnL, drop the
// position, release the slot, record the outcome.
func (m *Manager) closeLocked(ctx context.Context, pos *position.Position, price float64, reason string, now time.Time) Event {
	gain := pos.GainPct(price)
	amount := pos.RemainingUSD
	pnl := amount * gain / 100
	pos.RemainingUSD = 0
	pos.RealizedPnLUSD += pnl

	delete(m.positions, pos.Symbol)
	m.closer.CloseSlot(pos.Symbol)

	if pos.RealizedPnLUSD >= 0 {
		m.rec.RecordSuccess()
	} else {
		m.rec.RecordFailure(breaker.FailureLoss)
	}

	o := outcome.Outcome{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		PnLUSD:     pos.RealizedPnLUSD,
		ExitReason: reason,
		ClosedAt:   now,
	}
	if err := m.sink.Record(ctx, o); err != nil {
		m.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("outcome sink failed")
	}

	return Event{
		Type:       EventExit,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Price:      price,
		AmountUSD:  amount,
		PnLUSD:     pnl,
		Reason:     reason,
		Time:       now,
	}
}

// crossed reports whether the price has hit the stop trigger.
func crossed(pos *position.Position, price float64) bool {
	if pos.Stop.Kind == position.StopNone {
		return false
	}
	if pos.Side == venue.SideBuy {
		return price <= pos.Stop.TriggerPrice
	}
	return price >= pos.Stop.TriggerPrice
}

// improves reports whether the candidate beats the current trigger.
func improves(pos *position.Position, candidate float64) bool {
	if pos.Stop.Kind == position.StopNone || pos.Stop.TriggerPrice == 0 {
		return true
	}
	if pos.Side == venue.SideBuy {
		return candidate > pos.Stop.TriggerPrice
	}
	return candidate < pos.Stop.TriggerPrice
}
