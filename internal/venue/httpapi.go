package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// HTTPConfig configures a REST venue adapter.
type HTTPConfig struct {
	Name              string        `yaml:"name"`
	BaseURL           string        `yaml:"base_url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	BurstLimit        int           `yaml:"burst_limit"`
	Timeout           time.Duration `yaml:"timeout"`
}

// DefaultHTTPConfig returns defaults for a REST venue.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		RequestsPerSecond: 5,
		BurstLimit:        10,
		Timeout:           10 * time.Second,
	}
}

// HTTPAdapter talks to a venue's REST API. Outbound calls go through a token
// bucket limiter and a per-venue circuit breaker so one misbehaving venue
// cannot exhaust the API budget or stall routing.
type HTTPAdapter struct {
	cfg     HTTPConfig
	log     zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPAdapter creates a REST venue adapter.
func NewHTTPAdapter(cfg HTTPConfig, log zerolog.Logger) (*HTTPAdapter, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("venue: adapter name required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("venue %s: invalid base url %q", cfg.Name, cfg.BaseURL)
	}
	def := DefaultHTTPConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.BurstLimit <= 0 {
		cfg.BurstLimit = def.BurstLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	st := gobreaker.Settings{Name: cfg.Name}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}

	return &HTTPAdapter{
		cfg:     cfg,
		log:     log.With().Str("component", "venue").Str("venue", cfg.Name).Logger(),
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstLimit),
		breaker: gobreaker.NewCircuitBreaker(st),
	}, nil
}

func (h *HTTPAdapter) Name() string { return h.cfg.Name }

type tickerResponse struct {
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

func (h *HTTPAdapter) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	var out tickerResponse
	endpoint := fmt.Sprintf("%s/ticker?symbol=%s", h.cfg.BaseURL, url.QueryEscape(symbol))
	if err := h.get(ctx, endpoint, &out); err != nil {
		return Quote{}, fmt.Errorf("venue %s: quote %s: %w", h.cfg.Name, symbol, err)
	}

	ts := time.Unix(0, out.Timestamp*int64(time.Millisecond))
	if out.Timestamp == 0 {
		ts = time.Now()
	}
	return Quote{Venue: h.cfg.Name, Symbol: symbol, Price: out.Price, Timestamp: ts}, nil
}

type orderRequest struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	AmountUSD float64 `json:"amount_usd"`
}

type orderResponse struct {
	OrderID     string  `json:"order_id"`
	Status      string  `json:"status"`
	FilledPrice float64 `json:"filled_price"`
}

func (h *HTTPAdapter) CreateOrder(ctx context.Context, symbol string, side Side, amountUSD float64) (OrderAck, error) {
	body, err := json.Marshal(orderRequest{Symbol: symbol, Side: string(side), AmountUSD: amountUSD})
	if err != nil {
		return OrderAck{}, fmt.Errorf("venue %s: marshal order: %w", h.cfg.Name, err)
	}

	var out orderResponse
	if err := h.post(ctx, h.cfg.BaseURL+"/orders", body, &out); err != nil {
		return OrderAck{}, fmt.Errorf("venue %s: order %s %s: %w", h.cfg.Name, side, symbol, err)
	}

	status := OrderRejected
	if out.Status == "filled" {
		status = OrderFilled
	}
	return OrderAck{OrderID: out.OrderID, Status: status, FilledPrice: out.FilledPrice}, nil
}

func (h *HTTPAdapter) get(ctx context.Context, endpoint string, out interface{}) error {
	return h.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	}, out)
}

func (h *HTTPAdapter) post(ctx context.Context, endpoint string, body []byte, out interface{}) error {
	return h.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

func (h *HTTPAdapter) do(ctx context.Context, build func() (*http.Request, error), out interface{}) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	_, err := h.breaker.Execute(func() (interface{}, error) {
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	if err != nil {
		h.log.Debug().Err(err).Msg("venue call failed")
	}
	return err
}
