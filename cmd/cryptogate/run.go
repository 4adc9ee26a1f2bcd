package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cryptogate/cryptogate/internal/arbiter"
	"github.com/cryptogate/cryptogate/internal/breaker"
	"github.com/cryptogate/cryptogate/internal/compliance"
	"github.com/cryptogate/cryptogate/internal/config"
	"github.com/cryptogate/cryptogate/internal/feed"
	"github.com/cryptogate/cryptogate/internal/ledger"
	"github.com/cryptogate/cryptogate/internal/lifecycle"
	"github.com/cryptogate/cryptogate/internal/metrics"
	"github.com/cryptogate/cryptogate/internal/ops"
	"github.com/cryptogate/cryptogate/internal/outcome"
	"github.com/cryptogate/cryptogate/internal/pipeline"
	"github.com/cryptogate/cryptogate/internal/ratebudget"
	"github.com/cryptogate/cryptogate/internal/router"
	"github.com/cryptogate/cryptogate/internal/sizing"
	"github.com/cryptogate/cryptogate/internal/venue"
)

// runCmd starts the admission pipeline daemon
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the admission pipeline",
	Long: `Start the full pipeline: signal ingestion over HTTP, admission gates,
venue routing and position lifecycle management.

Example usage:
  cryptogate run                          # Paper trading with defaults
  cryptogate run --config=config.yaml    # With a configuration file
  cryptogate run --log-level=debug       # Verbose gate decisions`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	promReg := prometheus.NewRegistry()
	if err := reg.Register(promReg); err != nil {
		return fmt.Errorf("metrics registration: %w", err)
	}

	arb := arbiter.New(cfg.Arbiter, log.Logger)
	budget := ratebudget.New(cfg.RateBudget, log.Logger)
	brk := breaker.New(cfg.Breaker, log.Logger)
	gate := compliance.New(cfg.Compliance)
	sizer := sizing.New(cfg.Sizing)
	paper := ledger.New(cfg.Paper.StartingCashUSD, log.Logger)

	priceFeed, stopFeed, err := buildFeed(ctx, cfg.Feed)
	if err != nil {
		return err
	}
	defer stopFeed()

	adapters, fallback, err := buildVenues(cfg, priceFeed)
	if err != nil {
		return err
	}

	route, err := router.New(adapters, fallback, paper, log.Logger)
	if err != nil {
		return err
	}

	sink, closeSink, err := buildOutcomeSink(cfg.Outcome)
	if err != nil {
		return err
	}
	defer closeSink()

	manager := lifecycle.New(cfg.Lifecycle, priceFeed, arb, sink, brk, log.Logger)
	pipe := pipeline.New(cfg.Pipeline, arb, gate, budget, brk, sizer, route, manager,
		paper.CashUSD, cfg.Lifecycle, reg, log.Logger)

	opsSrv := ops.New(cfg.Ops.ListenAddr, pipe, arb, budget, brk, manager, promReg, log.Logger)
	opsErr := make(chan error, 1)
	go func() { opsErr <- opsSrv.Start() }()

	log.Info().Str("mode", string(cfg.Pipeline.Mode)).
		Float64("starting_cash_usd", cfg.Paper.StartingCashUSD).
		Str("ops_addr", cfg.Ops.ListenAddr).Msg("pipeline started")

	ticker := time.NewTicker(cfg.Paper.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return opsSrv.Shutdown(shutdownCtx)
		case err := <-opsErr:
			return fmt.Errorf("ops server: %w", err)
		case <-ticker.C:
			events := manager.TickAll(ctx)
			for _, ev := range events {
				reg.Exits.WithLabelValues(ev.Reason).Inc()
				if ev.Type == lifecycle.EventExit || ev.Type == lifecycle.EventPartialExit {
					paper.Settle(ev.Symbol, ev.Side, ev.AmountUSD, ev.PnLUSD)
					reg.RealizedPnL.Add(ev.PnLUSD)
				}
			}
			pipe.ObserveGauges()
		}
	}
}

// buildFeed selects the price feed: websocket stream, redis cache, or an
// empty static feed as a last resort.
func buildFeed(ctx context.Context, cfg config.FeedConfig) (feed.PriceFeed, func(), error) {
	if cfg.WebsocketURL != "" {
		ws, err := feed.NewWSFeed(feed.WSConfig{URL: cfg.WebsocketURL}, log.Logger)
		if err != nil {
			return nil, nil, err
		}
		ws.Start(ctx)
		return ws, ws.Stop, nil
	}
	if cfg.RedisAddr != "" {
		rcfg := feed.RedisConfig{Addr: cfg.RedisAddr, TTL: cfg.RedisTTL}
		client, err := feed.DialRedis(rcfg)
		if err != nil {
			return nil, nil, err
		}
		cache := feed.NewRedisCache(rcfg, client, log.Logger)
		return cache, func() { _ = client.Close() }, nil
	}
	log.Warn().Msg("no feed configured, positions will not tick until prices arrive")
	return feed.NewStaticFeed(), func() {}, nil
}

// buildVenues constructs the routing set: configured REST venues, or
// feed-backed paper venues when none are configured. The first venue doubles
// as the degraded-routing fallback.
func buildVenues(cfg config.Config, priceFeed feed.PriceFeed) ([]venue.Adapter, venue.Adapter, error) {
	if len(cfg.Venues) > 0 {
		adapters := make([]venue.Adapter, 0, len(cfg.Venues))
		for _, v := range cfg.Venues {
			a, err := venue.NewHTTPAdapter(venue.HTTPConfig{
				Name:              v.Name,
				BaseURL:           v.BaseURL,
				RequestsPerSecond: v.RateLimit,
				BurstLimit:        v.Burst,
				Timeout:           v.Timeout,
			}, log.Logger)
			if err != nil {
				return nil, nil, err
			}
			adapters = append(adapters, a)
		}
		return adapters, adapters[0], nil
	}

	adapters := []venue.Adapter{
		venue.NewFeedAdapter("paper-alpha", -2, priceFeed),
		venue.NewFeedAdapter("paper-beta", 0, priceFeed),
		venue.NewFeedAdapter("paper-gamma", 3, priceFeed),
	}
	return adapters, adapters[1], nil
}

// buildOutcomeSink always logs outcomes; Postgres persistence is added when a
// DSN is configured.
func buildOutcomeSink(cfg config.OutcomeConfig) (outcome.Sink, func(), error) {
	logSink := outcome.NewLogSink(log.Logger)
	if cfg.PostgresDSN == "" {
		return logSink, func() {}, nil
	}

	db, err := sqlx.Connect("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("outcome database: %w", err)
	}
	pg := outcome.NewPostgresSink(db, 5*time.Second)
	return outcome.NewMultiSink(log.Logger, logSink, pg), func() { _ = db.Close() }, nil
}
