package position

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/cryptogate/cryptogate/internal/venue"
)

// InvariantViolationError marks a programming error: corrupted state must
// abort the operation rather than be silently corrected.
type InvariantViolationError struct {
	Msg string
}

func (e *InvariantViolationError) Error() string {
	return "invariant violation: " + e.Msg
}

// StopKind identifies which machine set the current stop trigger.
type StopKind string

const (
	StopNone      StopKind = "NONE"
	StopBreakeven StopKind = "BREAKEVEN"
	StopTrailing  StopKind = "TRAILING"
)

// StopState is the protective stop for a position. TriggerPrice only ever
// moves in the holder's favor: up for a long, down for a short.
type StopState struct {
	Kind         StopKind `json:"kind"`
	TriggerPrice float64  `json:"trigger_price"`
	Watermark    float64  `json:"watermark"` // high watermark for longs, low for shorts
	BreakevenOn  bool     `json:"breakeven_armed"`
}

// Improve moves the trigger favorably or reports a violation. A long's stop
// may only rise, a short's only fall; equal values are a no-op.
func (s *StopState) Improve(side venue.Side, kind StopKind, trigger float64) error {
	if s.Kind == StopNone || s.TriggerPrice == 0 {
		s.Kind = kind
		s.TriggerPrice = trigger
		return nil
	}
	if trigger == s.TriggerPrice {
		return nil
	}
	favorable := trigger > s.TriggerPrice
	if side == venue.SideSell {
		favorable = trigger < s.TriggerPrice
	}
	if !favorable {
		return &InvariantViolationError{Msg: fmt.Sprintf(
			"stop trigger regression for %s position: %.6f -> %.6f", side, s.TriggerPrice, trigger)}
	}
	s.Kind = kind
	s.TriggerPrice = trigger
	return nil
}

// RungStatus marks whether a ladder rung has fired.
type RungStatus string

const (
	RungPending RungStatus = "PENDING"
	RungHit     RungStatus = "HIT"
)

// Rung is one profit-target step: at GainPct unrealized gain, exit Fraction
// of the original position size.
type Rung struct {
	GainPct  float64    `json:"gain_pct"`
	Fraction float64    `json:"fraction"`
	Status   RungStatus `json:"status"`
}

// TargetLadder is an ascending list of rungs whose fractions sum to 1.0.
// Fractions apply to the original size, so the ladder always consumes exactly
// the whole position regardless of hit order.
type TargetLadder struct {
	Rungs []Rung `json:"rungs"`
}

const fractionTolerance = 1e-9

// NewTargetLadder validates and builds a ladder. A nil spec yields an empty
// ladder (no profit targets).
func NewTargetLadder(rungs []Rung) (TargetLadder, error) {
	if len(rungs) == 0 {
		return TargetLadder{}, nil
	}

	sum := 0.0
	prev := math.Inf(-1)
	out := make([]Rung, len(rungs))
	for i, r := range rungs {
		if r.GainPct <= 0 {
			return TargetLadder{}, &InvariantViolationError{Msg: fmt.Sprintf("ladder rung %d: non-positive gain %.4f", i, r.GainPct)}
		}
		if r.GainPct <= prev {
			return TargetLadder{}, &InvariantViolationError{Msg: fmt.Sprintf("ladder rung %d: gains not strictly ascending", i)}
		}
		if r.Fraction <= 0 || r.Fraction > 1 {
			return TargetLadder{}, &InvariantViolationError{Msg: fmt.Sprintf("ladder rung %d: fraction %.4f outside (0,1]", i, r.Fraction)}
		}
		prev = r.GainPct
		sum += r.Fraction
		out[i] = Rung{GainPct: r.GainPct, Fraction: r.Fraction, Status: RungPending}
	}
	if math.Abs(sum-1.0) > fractionTolerance {
		return TargetLadder{}, &InvariantViolationError{Msg: fmt.Sprintf("ladder fractions sum to %.6f, want 1.0", sum)}
	}
	return TargetLadder{Rungs: out}, nil
}

// Consumed reports whether every rung has fired.
func (tl TargetLadder) Consumed() bool {
	if len(tl.Rungs) == 0 {
		return false
	}
	for _, r := range tl.Rungs {
		if r.Status != RungHit {
			return false
		}
	}
	return true
}

// Position is an open trade. The lifecycle manager owns it exclusively from
// creation until close; the router only constructs it.
type Position struct {
	ID         string       `json:"id"`
	Symbol     string       `json:"symbol"`
	Side       venue.Side   `json:"side"`
	EntryPrice float64      `json:"entry_price"`
	SizeUSD    float64      `json:"size_usd"`
	OpenedAt   time.Time    `json:"opened_at"`
	Stop       StopState    `json:"stop"`
	Ladder     TargetLadder `json:"ladder"`

	RemainingUSD   float64 `json:"remaining_usd"`    // shrinks as ladder rungs fire
	RealizedPnLUSD float64 `json:"realized_pnl_usd"` // accumulated over partial and full exits
}

// New constructs a validated position.
func New(symbol string, side venue.Side, entryPrice, sizeUSD float64, ladder TargetLadder, openedAt time.Time) (*Position, error) {
	if symbol == "" {
		return nil, fmt.Errorf("position: empty symbol")
	}
	if side != venue.SideBuy && side != venue.SideSell {
		return nil, fmt.Errorf("position: unknown side %q", side)
	}
	if entryPrice <= 0 {
		return nil, fmt.Errorf("position: non-positive entry price %.6f", entryPrice)
	}
	if sizeUSD <= 0 {
		return nil, fmt.Errorf("position: non-positive size $%.2f", sizeUSD)
	}
	if openedAt.IsZero() {
		openedAt = time.Now()
	}
	return &Position{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Side:         side,
		EntryPrice:   entryPrice,
		SizeUSD:      sizeUSD,
		OpenedAt:     openedAt,
		Stop:         StopState{Kind: StopNone, Watermark: entryPrice},
		Ladder:       ladder,
		RemainingUSD: sizeUSD,
	}, nil
}

// GainPct returns the unrealized gain in percent at the given price, signed
// from the holder's perspective.
func (p *Position) GainPct(price float64) float64 {
	if p.Side == venue.SideBuy {
		return (price/p.EntryPrice - 1) * 100
	}
	return (1 - price/p.EntryPrice) * 100
}
