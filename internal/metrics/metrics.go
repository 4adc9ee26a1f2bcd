package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all Prometheus metrics for the admission pipeline.
type Registry struct {
	SignalsReceived *prometheus.CounterVec
	Admissions      prometheus.Counter
	Denials         *prometheus.CounterVec
	Executions      *prometheus.CounterVec

	OpenPositions  prometheus.Gauge
	BreakerState   prometheus.Gauge
	RateSecondUsed prometheus.Gauge
	RateMinuteUsed prometheus.Gauge

	Exits       *prometheus.CounterVec
	RealizedPnL prometheus.Gauge
}

// NewRegistry creates the metric set.
func NewRegistry() *Registry {
	return &Registry{
		SignalsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptogate_signals_received_total",
				Help: "Signals submitted to the admission pipeline by direction",
			},
			[]string{"direction"},
		),
		Admissions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cryptogate_admissions_total",
				Help: "Signals that passed every gate and reached execution",
			},
		),
		Denials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptogate_denials_total",
				Help: "Admission denials by pipeline stage",
			},
			[]string{"stage"},
		),
		Executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptogate_executions_total",
				Help: "Order executions by status",
			},
			[]string{"status"},
		),
		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptogate_open_positions",
				Help: "Currently open positions",
			},
		),
		BreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptogate_breaker_open",
				Help: "Circuit breaker state (1 = open, 0 = closed)",
			},
		),
		RateSecondUsed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptogate_rate_second_window_used",
				Help: "Occupancy of the per-second rate window",
			},
		),
		RateMinuteUsed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptogate_rate_minute_window_used",
				Help: "Occupancy of the per-minute rate window",
			},
		),
		Exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptogate_exits_total",
				Help: "Position exits by reason",
			},
			[]string{"reason"},
		),
		RealizedPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptogate_realized_pnl_usd",
				Help: "Cumulative realized PnL in USD",
			},
		),
	}
}

// Register installs every metric into the given registerer.
func (r *Registry) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		r.SignalsReceived, r.Admissions, r.Denials, r.Executions,
		r.OpenPositions, r.BreakerState, r.RateSecondUsed, r.RateMinuteUsed,
		r.Exits, r.RealizedPnL,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
