package venue

import (
	"context"
	"time"
)

// Side is an order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the venue's report on a submitted order.
type OrderStatus string

const (
	OrderFilled   OrderStatus = "filled"
	OrderRejected OrderStatus = "rejected"
)

// Quote is a venue's offered price for a symbol at a point in time.
type Quote struct {
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderAck is a venue's response to an order submission.
type OrderAck struct {
	OrderID     string      `json:"order_id"`
	Status      OrderStatus `json:"status"`
	FilledPrice float64     `json:"filled_price"`
}

// Adapter is the per-venue integration contract. Implementations own their
// rate limiting and call protection; a failing adapter must only shrink the
// candidate quote set, never break routing.
type Adapter interface {
	Name() string
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	CreateOrder(ctx context.Context, symbol string, side Side, amountUSD float64) (OrderAck, error)
}
