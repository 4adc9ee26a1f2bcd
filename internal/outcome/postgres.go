package outcome

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresSink persists outcomes for offline performance analysis.
type PostgresSink struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresSink creates a sink around an existing connection pool.
func NewPostgresSink(db *sqlx.DB, timeout time.Duration) *PostgresSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresSink{db: db, timeout: timeout}
}

// Record inserts the outcome.
func (s *PostgresSink) Record(ctx context.Context, o Outcome) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO position_outcomes (symbol, side, entry_price, exit_price, pnl_usd, exit_reason, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		o.Symbol, string(o.Side), o.EntryPrice, o.ExitPrice, o.PnLUSD, o.ExitReason, o.ClosedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return fmt.Errorf("outcome: insert failed (%s): %w", pqErr.Code, err)
		}
		return fmt.Errorf("outcome: insert failed: %w", err)
	}
	return nil
}
