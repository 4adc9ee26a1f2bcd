package feed

import (
	"fmt"
	"sync"
)

// PriceFeed serves the last known price for a symbol. Polled once per
// lifecycle tick; implementations must not block on network I/O in LastPrice.
type PriceFeed interface {
	LastPrice(symbol string) (float64, error)
}

// StaticFeed is a settable in-memory feed for paper trading and tests.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewStaticFeed creates an empty static feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{prices: make(map[string]float64)}
}

// Set updates the price for a symbol.
func (f *StaticFeed) Set(symbol string, price float64) {
	f.mu.Lock()
	f.prices[symbol] = price
	f.mu.Unlock()
}

// LastPrice returns the stored price.
func (f *StaticFeed) LastPrice(symbol string) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("feed: no price for %s", symbol)
	}
	return price, nil
}
