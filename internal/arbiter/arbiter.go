package arbiter

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryptogate/cryptogate/internal/signal"
)

// Resolution is the outcome of conflict arbitration for a symbol.
type Resolution string

const (
	ResolutionNone  Resolution = "none"  // no competing signals
	ResolutionBuy   Resolution = "buy"   // buy side wins
	ResolutionSell  Resolution = "sell"  // sell side wins
	ResolutionBlock Resolution = "block" // too close to call, favor inaction
)

// Config controls arbitration and slot admission.
type Config struct {
	SignalTTL              time.Duration `yaml:"signal_ttl"`               // eviction age for registered signals
	MaxSignalsPerSymbol    int           `yaml:"max_signals_per_symbol"`   // bounded arbitration cost
	MaxConcurrentPositions int           `yaml:"max_concurrent_positions"` // system-wide open slot cap
	ConfidenceGap          float64       `yaml:"confidence_gap"`           // below this gap arbitration blocks
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SignalTTL:              signal.DefaultTTL,
		MaxSignalsPerSymbol:    20,
		MaxConcurrentPositions: 4,
		ConfidenceGap:          0.1,
	}
}

// ConflictResult is the outcome of CheckConflict.
type ConflictResult struct {
	Symbol     string     `json:"symbol"`
	Conflict   bool       `json:"conflict"`
	Resolution Resolution `json:"resolution"`
	BuyMean    float64    `json:"buy_mean"`
	SellMean   float64    `json:"sell_mean"`
	BuyCount   int        `json:"buy_count"`
	SellCount  int        `json:"sell_count"`
}

// SlotDecision is the outcome of CanOpen / AdmitSlot.
type SlotDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Snapshot reports registry occupancy for observability.
type Snapshot struct {
	OpenPositions  int      `json:"open_positions"`
	MaxPositions   int      `json:"max_positions"`
	TrackedSymbols int      `json:"tracked_symbols"`
	OpenSymbols    []string `json:"open_symbols"`
}

type symbolState struct {
	signals []signal.Signal // newest last, bounded by MaxSignalsPerSymbol
	open    bool
}

// Arbiter holds recent signals and open-position slots per symbol. All
// mutation goes through a single mutex so slot admission is check-then-act
// atomic: two concurrent callers can never both pass the open-count check.
type Arbiter struct {
	cfg     Config
	log     zerolog.Logger
	mu      sync.Mutex
	symbols map[string]*symbolState
	open    int

	now func() time.Time // overridable for tests
}

// New creates an arbiter with the given configuration.
func New(cfg Config, log zerolog.Logger) *Arbiter {
	if cfg.MaxSignalsPerSymbol <= 0 {
		cfg.MaxSignalsPerSymbol = DefaultConfig().MaxSignalsPerSymbol
	}
	if cfg.MaxConcurrentPositions <= 0 {
		cfg.MaxConcurrentPositions = DefaultConfig().MaxConcurrentPositions
	}
	if cfg.SignalTTL <= 0 {
		cfg.SignalTTL = DefaultConfig().SignalTTL
	}
	if cfg.ConfidenceGap <= 0 {
		cfg.ConfidenceGap = DefaultConfig().ConfidenceGap
	}
	return &Arbiter{
		cfg:     cfg,
		log:     log.With().Str("component", "arbiter").Logger(),
		symbols: make(map[string]*symbolState),
		now:     time.Now,
	}
}

// Register appends a signal to its symbol's bounded recent list, evicting the
// oldest entry beyond the cap. Expired signals are dropped on the way in.
func (a *Arbiter) Register(sig signal.Signal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if sig.Expired(now, a.cfg.SignalTTL) {
		a.log.Debug().Str("symbol", sig.Symbol).Str("producer", sig.ProducerID).
			Msg("dropping expired signal at registration")
		return
	}

	st := a.state(sig.Symbol)
	st.signals = append(st.signals, sig)
	if len(st.signals) > a.cfg.MaxSignalsPerSymbol {
		st.signals = st.signals[len(st.signals)-a.cfg.MaxSignalsPerSymbol:]
	}
}

// CheckConflict partitions the symbol's live signals into BUY and SELL and
// arbitrates between them. An empty or missing signal set is not a conflict.
// Deterministic: the same ordered signal list always yields the same result.
func (a *Arbiter) CheckConflict(symbol string) ConflictResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkConflictLocked(symbol)
}

func (a *Arbiter) checkConflictLocked(symbol string) ConflictResult {
	res := ConflictResult{Symbol: symbol, Resolution: ResolutionNone}

	st, ok := a.symbols[symbol]
	if !ok {
		return res
	}
	a.pruneLocked(st)

	var buySum, buyWeight, sellSum, sellWeight float64
	for _, sig := range st.signals {
		switch sig.Direction {
		case signal.Buy:
			buySum += sig.Confidence * sig.Confidence
			buyWeight += sig.Confidence
			res.BuyCount++
		case signal.Sell:
			sellSum += sig.Confidence * sig.Confidence
			sellWeight += sig.Confidence
			res.SellCount++
		}
		// HOLD signals carry no directional vote.
	}

	if res.BuyCount == 0 || res.SellCount == 0 {
		return res
	}

	res.Conflict = true
	res.BuyMean = buySum / buyWeight
	res.SellMean = sellSum / sellWeight

	if math.Abs(res.BuyMean-res.SellMean) < a.cfg.ConfidenceGap {
		res.Resolution = ResolutionBlock
	} else if res.BuyMean > res.SellMean {
		res.Resolution = ResolutionBuy
	} else {
		res.Resolution = ResolutionSell
	}
	return res
}

// CanOpen is a read-only preview of slot admission. It never reserves
// anything; use AdmitSlot for the atomic check-and-open.
func (a *Arbiter) CanOpen(symbol string) SlotDecision {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.canOpenLocked(symbol)
}

func (a *Arbiter) canOpenLocked(symbol string) SlotDecision {
	if a.open >= a.cfg.MaxConcurrentPositions {
		return SlotDecision{Reason: fmt.Sprintf("max_positions: %d open of %d allowed", a.open, a.cfg.MaxConcurrentPositions)}
	}
	if st, ok := a.symbols[symbol]; ok && st.open {
		return SlotDecision{Reason: "position_exists: symbol already has an open position"}
	}
	if conflict := a.checkConflictLocked(symbol); conflict.Resolution == ResolutionBlock {
		return SlotDecision{Reason: fmt.Sprintf("conflict_block: buy %.3f vs sell %.3f inside %.2f gap",
			conflict.BuyMean, conflict.SellMean, a.cfg.ConfidenceGap)}
	}
	return SlotDecision{Allowed: true}
}

// AdmitSlot runs the CanOpen checks and opens the slot in a single critical
// section. Callers that were admitted must eventually call CloseSlot.
func (a *Arbiter) AdmitSlot(symbol string) SlotDecision {
	a.mu.Lock()
	defer a.mu.Unlock()

	dec := a.canOpenLocked(symbol)
	if !dec.Allowed {
		return dec
	}
	st := a.state(symbol)
	st.open = true
	a.open++
	a.log.Debug().Str("symbol", symbol).Int("open_positions", a.open).Msg("slot opened")
	return dec
}

// CloseSlot releases the symbol's position slot. Closing a slot that is not
// open is a no-op so exit paths can be retried safely.
func (a *Arbiter) CloseSlot(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.symbols[symbol]
	if !ok || !st.open {
		return
	}
	st.open = false
	a.open--
	a.log.Debug().Str("symbol", symbol).Int("open_positions", a.open).Msg("slot closed")
}

// OpenPositions returns the current system-wide open slot count.
func (a *Arbiter) OpenPositions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

// GetSnapshot reports registry occupancy.
func (a *Arbiter) GetSnapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		OpenPositions:  a.open,
		MaxPositions:   a.cfg.MaxConcurrentPositions,
		TrackedSymbols: len(a.symbols),
	}
	for sym, st := range a.symbols {
		if st.open {
			snap.OpenSymbols = append(snap.OpenSymbols, sym)
		}
	}
	return snap
}

func (a *Arbiter) state(symbol string) *symbolState {
	st, ok := a.symbols[symbol]
	if !ok {
		st = &symbolState{}
		a.symbols[symbol] = st
	}
	return st
}

// pruneLocked drops expired signals. Arrival order does not guarantee
// CreatedAt order, so the whole list is filtered in place.
func (a *Arbiter) pruneLocked(st *symbolState) {
	now := a.now()
	kept := st.signals[:0]
	for _, sig := range st.signals {
		if !sig.Expired(now, a.cfg.SignalTTL) {
			kept = append(kept, sig)
		}
	}
	st.signals = kept
}
