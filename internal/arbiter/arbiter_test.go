package arbiter

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptogate/cryptogate/internal/signal"
)

func newTestArbiter(t *testing.T, cfg Config) (*Arbiter, *time.Time) {
	t.Helper()
	a := New(cfg, zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	return a, &now
}

func mustSignal(t *testing.T, producer, symbol string, dir signal.Direction, conf float64, at time.Time) signal.Signal {
	t.Helper()
	sig, err := signal.New(producer, symbol, dir, conf, at)
	require.NoError(t, err)
	return sig
}

func TestCheckConflict(t *testing.T) {
	tests := []struct {
		name           string
		buys           []float64
		sells          []float64
		wantConflict   bool
		wantResolution Resolution
	}{
		{
			name:           "no signals",
			wantConflict:   false,
			wantResolution: ResolutionNone,
		},
		{
			name:           "buys only",
			buys:           []float64{0.8, 0.9},
			wantConflict:   false,
			wantResolution: ResolutionNone,
		},
		{
			name:           "clear buy winner",
			buys:           []float64{0.8},
			sells:          []float64{0.5},
			wantConflict:   true,
			wantResolution: ResolutionBuy,
		},
		{
			name:           "clear sell winner",
			buys:           []float64{0.6},
			sells:          []float64{0.9},
			wantConflict:   true,
			wantResolution: ResolutionSell,
		},
		{
			name:           "too close to call",
			buys:           []float64{0.8},
			sells:          []float64{0.75},
			wantConflict:   true,
			wantResolution: ResolutionBlock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, now := newTestArbiter(t, Config{})
			for i, c := range tt.buys {
				a.Register(mustSignal(t, fmt.Sprintf("buyer-%d", i), "BTC-USD", signal.Buy, c, *now))
			}
			for i, c := range tt.sells {
				a.Register(mustSignal(t, fmt.Sprintf("seller-%d", i), "BTC-USD", signal.Sell, c, *now))
			}

			res := a.CheckConflict("BTC-USD")
			assert.Equal(t, tt.wantConflict, res.Conflict)
			assert.Equal(t, tt.wantResolution, res.Resolution)
		})
	}
}

func TestCheckConflictDeterministic(t *testing.T) {
	a, now := newTestArbiter(t, Config{})
	a.Register(mustSignal(t, "p1", "ETH-USD", signal.Buy, 0.7, *now))
	a.Register(mustSignal(t, "p2", "ETH-USD", signal.Sell, 0.85, *now))
	a.Register(mustSignal(t, "p3", "ETH-USD", signal.Buy, 0.6, *now))

	first := a.CheckConflict("ETH-USD")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, a.CheckConflict("ETH-USD"))
	}
}

func TestCheckConflictIgnoresHoldAndExpired(t *testing.T) {
	a, now := newTestArbiter(t, Config{SignalTTL: time.Minute})

	a.Register(mustSignal(t, "holder", "BTC-USD", signal.Hold, 0.99, *now))
	a.Register(mustSignal(t, "stale", "BTC-USD", signal.Sell, 0.9, now.Add(-2*time.Minute)))
	a.Register(mustSignal(t, "fresh", "BTC-USD", signal.Buy, 0.8, *now))

	res := a.CheckConflict("BTC-USD")
	assert.False(t, res.Conflict, "hold and expired signals must not create a conflict")
	assert.Equal(t, 1, res.BuyCount)
	assert.Equal(t, 0, res.SellCount)
}

func TestRegisterBoundsPerSymbol(t *testing.T) {
	a, now := newTestArbiter(t, Config{MaxSignalsPerSymbol: 3})
	for i := 0; i < 10; i++ {
		a.Register(mustSignal(t, fmt.Sprintf("p%d", i), "BTC-USD", signal.Buy, 0.7, *now))
	}
	assert.Len(t, a.symbols["BTC-USD"].signals, 3)
}

func TestAdmitSlotLimits(t *testing.T) {
	a, _ := newTestArbiter(t, Config{MaxConcurrentPositions: 2})

	require.True(t, a.AdmitSlot("BTC-USD").Allowed)

	dup := a.AdmitSlot("BTC-USD")
	assert.False(t, dup.Allowed)
	assert.Contains(t, dup.Reason, "position_exists")

	require.True(t, a.AdmitSlot("ETH-USD").Allowed)

	full := a.AdmitSlot("SOL-USD")
	assert.False(t, full.Allowed)
	assert.Contains(t, full.Reason, "max_positions")

	a.CloseSlot("BTC-USD")
	assert.True(t, a.AdmitSlot("SOL-USD").Allowed)
	assert.Equal(t, 2, a.OpenPositions())
}

func TestAdmitSlotRespectsBlock(t *testing.T) {
	a, now := newTestArbiter(t, Config{})
	a.Register(mustSignal(t, "p1", "BTC-USD", signal.Buy, 0.8, *now))
	a.Register(mustSignal(t, "p2", "BTC-USD", signal.Sell, 0.75, *now))

	dec := a.AdmitSlot("BTC-USD")
	assert.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "conflict_block")
}

func TestCanOpenDoesNotReserve(t *testing.T) {
	a, _ := newTestArbiter(t, Config{MaxConcurrentPositions: 1})

	for i := 0; i < 5; i++ {
		assert.True(t, a.CanOpen("BTC-USD").Allowed)
	}
	assert.Equal(t, 0, a.OpenPositions())
}

func TestCloseSlotIdempotent(t *testing.T) {
	a, _ := newTestArbiter(t, Config{})
	require.True(t, a.AdmitSlot("BTC-USD").Allowed)

	a.CloseSlot("BTC-USD")
	a.CloseSlot("BTC-USD")
	a.CloseSlot("never-opened")
	assert.Equal(t, 0, a.OpenPositions())
}

func TestGetSnapshot(t *testing.T) {
	a, now := newTestArbiter(t, Config{MaxConcurrentPositions: 4})
	a.Register(mustSignal(t, "p1", "BTC-USD", signal.Buy, 0.8, *now))
	require.True(t, a.AdmitSlot("BTC-USD").Allowed)

	snap := a.GetSnapshot()
	assert.Equal(t, 1, snap.OpenPositions)
	assert.Equal(t, 4, snap.MaxPositions)
	assert.Equal(t, []string{"BTC-USD"}, snap.OpenSymbols)
}
