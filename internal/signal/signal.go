package signal

import (
	"fmt"
	"time"
)

// Direction is the recommended trade direction carried by a signal.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Hold Direction = "HOLD"
)

// Valid reports whether the direction is one of the known values.
func (d Direction) Valid() bool {
	switch d {
	case Buy, Sell, Hold:
		return true
	default:
		return false
	}
}

// DefaultTTL is how long a signal stays eligible for arbitration.
const DefaultTTL = 300 * time.Second

// Signal is a producer's trading recommendation. It is immutable once
// constructed; the arbiter keeps a read-only copy.
type Signal struct {
	ProducerID string    `json:"producer_id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// New validates and constructs a signal.
func New(producerID, symbol string, direction Direction, confidence float64, createdAt time.Time) (Signal, error) {
	if producerID == "" {
		return Signal{}, fmt.Errorf("signal: empty producer id")
	}
	if symbol == "" {
		return Signal{}, fmt.Errorf("signal: empty symbol")
	}
	if !direction.Valid() {
		return Signal{}, fmt.Errorf("signal: unknown direction %q", direction)
	}
	if confidence < 0 || confidence > 1 {
		return Signal{}, fmt.Errorf("signal: confidence %.3f outside [0,1]", confidence)
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return Signal{
		ProducerID: producerID,
		Symbol:     symbol,
		Direction:  direction,
		Confidence: confidence,
		CreatedAt:  createdAt,
	}, nil
}

// Expired reports whether the signal is older than ttl at the given instant.
func (s Signal) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return now.Sub(s.CreatedAt) > ttl
}
