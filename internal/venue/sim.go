package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SimAdapter is a deterministic in-process venue used for paper trading and
// tests. Prices are set explicitly; a configurable basis-point skew emulates
// venue-to-venue quote dispersion.
type SimAdapter struct {
	name    string
	skewBps float64

	mu     sync.RWMutex
	prices map[string]float64
	fail   bool
}

// NewSimAdapter creates a simulated venue. skewBps shifts every quote off the
// reference price, positive meaning this venue quotes richer.
func NewSimAdapter(name string, skewBps float64) *SimAdapter {
	return &SimAdapter{
		name:    name,
		skewBps: skewBps,
		prices:  make(map[string]float64),
	}
}

func (s *SimAdapter) Name() string { return s.name }

// SetPrice sets the reference price for a symbol.
func (s *SimAdapter) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

// SetFailing toggles hard failure of all calls, for degraded-routing tests.
func (s *SimAdapter) SetFailing(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *SimAdapter) GetQuote(_ context.Context, symbol string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.fail {
		return Quote{}, fmt.Errorf("venue %s: simulated outage", s.name)
	}
	price, ok := s.prices[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("venue %s: no price for %s", s.name, symbol)
	}
	return Quote{
		Venue:     s.name,
		Symbol:    symbol,
		Price:     price * (1 + s.skewBps/10000),
		Timestamp: time.Now(),
	}, nil
}

func (s *SimAdapter) CreateOrder(ctx context.Context, symbol string, side Side, amountUSD float64) (OrderAck, error) {
	q, err := s.GetQuote(ctx, symbol)
	if err != nil {
		return OrderAck{}, err
	}
	if amountUSD <= 0 {
		return OrderAck{OrderID: uuid.NewString(), Status: OrderRejected}, nil
	}
	return OrderAck{
		OrderID:     uuid.NewString(),
		Status:      OrderFilled,
		FilledPrice: q.Price,
	}, nil
}
