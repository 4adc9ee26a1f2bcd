package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSConfig configures the websocket price feed.
type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
}

// DefaultWSConfig returns defaults for the websocket feed.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay: 5 * time.Second,
		ReadTimeout:    30 * time.Second,
	}
}

// tradeMessage is the wire shape for streamed trades.
type tradeMessage struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// WSFeed consumes a trade stream over websocket and caches the last price per
// symbol. LastPrice never touches the network; the consume loop runs in its
// own goroutine and reconnects on failure.
type WSFeed struct {
	cfg WSConfig
	log zerolog.Logger

	mu     sync.RWMutex
	prices map[string]float64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSFeed creates a websocket feed. Call Start to begin consuming.
func NewWSFeed(cfg WSConfig, log zerolog.Logger) (*WSFeed, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("feed: websocket url required")
	}
	def := DefaultWSConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	return &WSFeed{
		cfg:    cfg,
		log:    log.With().Str("component", "feed").Str("feed", "websocket").Logger(),
		prices: make(map[string]float64),
		done:   make(chan struct{}),
	}, nil
}

// Start launches the consume loop.
func (f *WSFeed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	go f.run(ctx)
}

// Stop cancels the consume loop and waits for it to finish.
func (f *WSFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
		<-f.done
	}
}

// LastPrice returns the cached price for a symbol.
func (f *WSFeed) LastPrice(symbol string) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("feed: no price yet for %s", symbol)
	}
	return price, nil
}

func (f *WSFeed) run(ctx context.Context) {
	defer close(f.done)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.consume(ctx); err != nil && ctx.Err() == nil {
			f.log.Warn().Err(err).Dur("retry_in", f.cfg.ReconnectDelay).Msg("feed disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.cfg.ReconnectDelay):
		}
	}
}

func (f *WSFeed) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.cfg.URL, err)
	}
	defer conn.Close()

	f.log.Info().Str("url", f.cfg.URL).Msg("feed connected")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg tradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.log.Debug().Err(err).Msg("skipping malformed feed message")
			continue
		}
		if msg.Symbol == "" || msg.Price <= 0 {
			continue
		}

		f.mu.Lock()
		f.prices[msg.Symbol] = msg.Price
		f.mu.Unlock()
	}
}
