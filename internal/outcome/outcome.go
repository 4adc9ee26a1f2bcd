package outcome

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryptogate/cryptogate/internal/venue"
)

// Outcome is emitted on every position close for performance-tracking
// collaborators.
type Outcome struct {
	Symbol     string     `json:"symbol" db:"symbol"`
	Side       venue.Side `json:"side" db:"side"`
	EntryPrice float64    `json:"entry_price" db:"entry_price"`
	ExitPrice  float64    `json:"exit_price" db:"exit_price"`
	PnLUSD     float64    `json:"pnl_usd" db:"pnl_usd"`
	ExitReason string     `json:"exit_reason" db:"exit_reason"`
	ClosedAt   time.Time  `json:"closed_at" db:"closed_at"`
}

// Sink consumes closed-position outcomes.
type Sink interface {
	Record(ctx context.Context, o Outcome) error
}

// LogSink writes outcomes to the structured log.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "outcome").Logger()}
}

// Record logs the outcome.
func (s *LogSink) Record(_ context.Context, o Outcome) error {
	s.log.Info().
		Str("symbol", o.Symbol).
		Str("side", string(o.Side)).
		Float64("entry_price", o.EntryPrice).
		Float64("exit_price", o.ExitPrice).
		Float64("pnl_usd", o.PnLUSD).
		Str("exit_reason", o.ExitReason).
		Msg("position closed")
	return nil
}

// MultiSink fans out to several sinks; a failing sink is logged and skipped
// so one slow collaborator cannot block position closes.
type MultiSink struct {
	log   zerolog.Logger
	sinks []Sink
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(log zerolog.Logger, sinks ...Sink) *MultiSink {
	return &MultiSink{
		log:   log.With().Str("component", "outcome").Logger(),
		sinks: sinks,
	}
}

// Record delivers the outcome to every sink.
func (m *MultiSink) Record(ctx context.Context, o Outcome) error {
	for _, s := range m.sinks {
		if err := s.Record(ctx, o); err != nil {
			m.log.Error().Err(err).Str("symbol", o.Symbol).Msg("outcome sink failed")
		}
	}
	return nil
}
