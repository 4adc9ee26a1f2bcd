package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cryptogate/cryptogate/internal/venue"
)

// Fill is a single simulated execution recorded in the ledger.
type Fill struct {
	ID        string     `json:"id"`
	Symbol    string     `json:"symbol"`
	Side      venue.Side `json:"side"`
	Price     float64    `json:"price"`
	AmountUSD float64    `json:"amount_usd"`
	Venue     string     `json:"venue"`
	Timestamp time.Time  `json:"timestamp"`
}

// Ledger is the in-memory paper ledger: a cash balance plus a fills journal.
// Paper fills are immediate and complete, no partials.
type Ledger struct {
	log zerolog.Logger

	mu      sync.Mutex
	cashUSD float64
	fills   []Fill
}

// New creates a ledger with a starting cash balance.
func New(startingCashUSD float64, log zerolog.Logger) *Ledger {
	if startingCashUSD < 0 {
		startingCashUSD = 0
	}
	return &Ledger{
		log:     log.With().Str("component", "ledger").Logger(),
		cashUSD: startingCashUSD,
	}
}

// Fill debits (buy) or credits (sell) the cash balance and records the fill.
func (l *Ledger) Fill(symbol string, side venue.Side, price, amountUSD float64, venueName string) (Fill, error) {
	if amountUSD <= 0 {
		return Fill{}, fmt.Errorf("ledger: non-positive amount $%.2f", amountUSD)
	}
	if price <= 0 {
		return Fill{}, fmt.Errorf("ledger: non-positive price %.4f", price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if side == venue.SideBuy {
		if amountUSD > l.cashUSD {
			return Fill{}, fmt.Errorf("ledger: insufficient funds: need $%.2f, have $%.2f", amountUSD, l.cashUSD)
		}
		l.cashUSD -= amountUSD
	} else {
		l.cashUSD += amountUSD
	}

	fill := Fill{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		AmountUSD: amountUSD,
		Venue:     venueName,
		Timestamp: time.Now(),
	}
	l.fills = append(l.fills, fill)

	l.log.Debug().Str("symbol", symbol).Str("side", string(side)).
		Float64("price", price).Float64("amount_usd", amountUSD).
		Float64("cash_usd", l.cashUSD).Msg("paper fill recorded")
	return fill, nil
}

// Settle returns a closed position's value to the cash balance. A long exit
// credits principal plus PnL; a short exit was credited at open, so its
// buyback debits principal minus PnL.
func (l *Ledger) Settle(symbol string, side venue.Side, principalUSD, pnlUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if side == venue.SideBuy {
		l.cashUSD += principalUSD + pnlUSD
	} else {
		l.cashUSD -= principalUSD - pnlUSD
	}
	l.log.Debug().Str("symbol", symbol).Float64("principal_usd", principalUSD).
		Float64("pnl_usd", pnlUSD).Float64("cash_usd", l.cashUSD).Msg("exit settled")
}

// CashUSD returns the current cash balance.
func (l *Ledger) CashUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cashUSD
}

// Fills returns a copy of the recorded fills.
func (l *Ledger) Fills() []Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Fill, len(l.fills))
	copy(out, l.fills)
	return out
}

// Reset clears the journal and restores the balance.
func (l *Ledger) Reset(cashUSD float64) {
	l.mu.Lock()
	l.fills = l.fills[:0]
	l.cashUSD = cashUSD
	l.mu.Unlock()
}
