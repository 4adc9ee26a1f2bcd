package router

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryptogate/cryptogate/internal/ledger"
	"github.com/cryptogate/cryptogate/internal/position"
	"github.com/cryptogate/cryptogate/internal/venue"
)

// Mode selects where orders land.
type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeReal  Mode = "REAL"
)

// Status is the execution outcome.
type Status string

const (
	StatusFilled Status = "filled"
	StatusError  Status = "error"
)

// Request is an order to route.
type Request struct {
	Symbol    string
	Side      venue.Side
	AmountUSD float64
	Mode      Mode
	Ladder    position.TargetLadder // profit targets for the resulting position
}

// ExecutionResult is the routed order outcome. Status error carries a reason;
// the caller decides whether it feeds a circuit breaker, since the router
// knows nothing about risk policy.
type ExecutionResult struct {
	Status      Status              `json:"status"`
	Reason      string              `json:"reason,omitempty"`
	Venue       string              `json:"venue,omitempty"`
	OrderID     string              `json:"order_id,omitempty"`
	FilledPrice float64             `json:"filled_price,omitempty"`
	Degraded    bool                `json:"degraded,omitempty"` // quote came from the fallback adapter
	Position    *position.Position  `json:"position,omitempty"`
}

// QuoteResult is the best available quote across venues.
type QuoteResult struct {
	Quote    venue.Quote `json:"quote"`
	Degraded bool        `json:"degraded"`
	Failures []string    `json:"failures,omitempty"` // per-venue failure notes
}

// Router picks the best venue quote and executes against a venue or the
// paper ledger. Individual venue failures only shrink the candidate set;
// routing degrades to the designated fallback adapter instead of halting.
type Router struct {
	log      zerolog.Logger
	adapters []venue.Adapter
	fallback venue.Adapter
	paper    *ledger.Ledger
}

// New creates a router. fallback is consulted only when every registered
// adapter fails; it may also appear in adapters.
func New(adapters []venue.Adapter, fallback venue.Adapter, paper *ledger.Ledger, log zerolog.Logger) (*Router, error) {
	if len(adapters) == 0 {
		return nil, fmt.Errorf("router: at least one venue adapter required")
	}
	if fallback == nil {
		return nil, fmt.Errorf("router: fallback adapter required")
	}
	return &Router{
		log:      log.With().Str("component", "router").Logger(),
		adapters: adapters,
		fallback: fallback,
		paper:    paper,
	}, nil
}

// BestQuote queries every adapter and returns the extreme: cheapest price for
// a buy, richest for a sell.
func (r *Router) BestQuote(ctx context.Context, symbol string, side venue.Side) (QuoteResult, error) {
	var (
		best     venue.Quote
		found    bool
		failures []string
	)

	for _, a := range r.adapters {
		q, err := a.GetQuote(ctx, symbol)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", a.Name(), err))
			r.log.Debug().Err(err).Str("venue", a.Name()).Str("symbol", symbol).Msg("quote failed")
			continue
		}
		if !found || better(side, q.Price, best.Price) {
			best = q
			found = true
		}
	}

	if found {
		return QuoteResult{Quote: best, Failures: failures}, nil
	}

	// Every adapter failed: degrade to the fallback rather than halting.
	q, err := r.fallback.GetQuote(ctx, symbol)
	if err != nil {
		return QuoteResult{Failures: failures}, fmt.Errorf(
			"router: all %d venues and fallback %s failed for %s: %w",
			len(r.adapters), r.fallback.Name(), symbol, err)
	}
	r.log.Warn().Str("symbol", symbol).Str("fallback", r.fallback.Name()).
		Strs("failures", failures).Msg("routing degraded to fallback venue")
	return QuoteResult{Quote: q, Degraded: true, Failures: failures}, nil
}

// Execute routes the order. PAPER fills immediately at the best quote against
// the in-memory ledger with no partial fills; REAL delegates to the chosen
// venue's order API and surfaces its result verbatim.
func (r *Router) Execute(ctx context.Context, req Request) ExecutionResult {
	if req.AmountUSD <= 0 {
		return ExecutionResult{Status: StatusError, Reason: fmt.Sprintf("non-positive amount $%.2f", req.AmountUSD)}
	}

	qr, err := r.BestQuote(ctx, req.Symbol, req.Side)
	if err != nil {
		return ExecutionResult{Status: StatusError, Reason: err.Error()}
	}

	switch req.Mode {
	case ModePaper:
		return r.executePaper(req, qr)
	case ModeReal:
		return r.executeReal(ctx, req, qr)
	default:
		return ExecutionResult{Status: StatusError, Reason: fmt.Sprintf("unknown mode %q", req.Mode)}
	}
}

func (r *Router) executePaper(req Request, qr QuoteResult) ExecutionResult {
	if r.paper == nil {
		return ExecutionResult{Status: StatusError, Reason: "paper mode without a ledger"}
	}

	fill, err := r.paper.Fill(req.Symbol, req.Side, qr.Quote.Price, req.AmountUSD, qr.Quote.Venue)
	if err != nil {
		return ExecutionResult{Status: StatusError, Venue: qr.Quote.Venue, Reason: err.Error(), Degraded: qr.Degraded}
	}

	pos, err := position.New(req.Symbol, req.Side, fill.Price, req.AmountUSD, req.Ladder, time.Now())
	if err != nil {
		return ExecutionResult{Status: StatusError, Venue: qr.Quote.Venue, Reason: err.Error(), Degraded: qr.Degraded}
	}

	return ExecutionResult{
		Status:      StatusFilled,
		Venue:       qr.Quote.Venue,
		OrderID:     fill.ID,
		FilledPrice: fill.Price,
		Degraded:    qr.Degraded,
		Position:    pos,
	}
}

func (r *Router) executeReal(ctx context.Context, req Request, qr QuoteResult) ExecutionResult {
	adapter := r.adapterByName(qr.Quote.Venue)
	if adapter == nil {
		return ExecutionResult{Status: StatusError, Reason: fmt.Sprintf("no adapter for quoted venue %s", qr.Quote.Venue)}
	}

	ack, err := adapter.CreateOrder(ctx, req.Symbol, req.Side, req.AmountUSD)
	if err != nil {
		return ExecutionResult{Status: StatusError, Venue: adapter.Name(), Reason: err.Error(), Degraded: qr.Degraded}
	}
	if ack.Status != venue.OrderFilled {
		return ExecutionResult{
			Status:   StatusError,
			Venue:    adapter.Name(),
			OrderID:  ack.OrderID,
			Reason:   fmt.Sprintf("venue reported %s", ack.Status),
			Degraded: qr.Degraded,
		}
	}

	pos, err := position.New(req.Symbol, req.Side, ack.FilledPrice, req.AmountUSD, req.Ladder, time.Now())
	if err != nil {
		return ExecutionResult{Status: StatusError, Venue: adapter.Name(), OrderID: ack.OrderID, Reason: err.Error()}
	}

	return ExecutionResult{
		Status:      StatusFilled,
		Venue:       adapter.Name(),
		OrderID:     ack.OrderID,
		FilledPrice: ack.FilledPrice,
		Degraded:    qr.Degraded,
		Position:    pos,
	}
}

func (r *Router) adapterByName(name string) venue.Adapter {
	for _, a := range r.adapters {
		if a.Name() == name {
			return a
		}
	}
	if r.fallback.Name() == name {
		return r.fallback
	}
	return nil
}

// better reports whether candidate beats current for the given side.
func better(side venue.Side, candidate, current float64) bool {
	if side == venue.SideBuy {
		return candidate < current
	}
	return candidate > current
}
