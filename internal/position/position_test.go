package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptogate/cryptogate/internal/venue"
)

func TestNewTargetLadder(t *testing.T) {
	tests := []struct {
		name    string
		rungs   []Rung
		wantErr string
	}{
		{
			name: "valid three rung ladder",
			rungs: []Rung{
				{GainPct: 3, Fraction: 0.5},
				{GainPct: 6, Fraction: 0.3},
				{GainPct: 10, Fraction: 0.2},
			},
		},
		{
			name:  "empty ladder is valid",
			rungs: nil,
		},
		{
			name: "fractions not summing to one",
			rungs: []Rung{
				{GainPct: 3, Fraction: 0.5},
				{GainPct: 6, Fraction: 0.3},
			},
			wantErr: "sum",
		},
		{
			name: "gains not strictly ascending",
			rungs: []Rung{
				{GainPct: 5, Fraction: 0.5},
				{GainPct: 5, Fraction: 0.5},
			},
			wantErr: "ascending",
		},
		{
			name: "non-positive gain",
			rungs: []Rung{
				{GainPct: 0, Fraction: 1},
			},
			wantErr: "non-positive gain",
		},
		{
			name: "fraction outside range",
			rungs: []Rung{
				{GainPct: 3, Fraction: 1.5},
			},
			wantErr: "outside (0,1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ladder, err := NewTargetLadder(tt.rungs)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.IsType(t, &InvariantViolationError{}, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, ladder.Rungs, len(tt.rungs))
			for _, r := range ladder.Rungs {
				assert.Equal(t, RungPending, r.Status)
			}
		})
	}
}

func TestLadderConsumed(t *testing.T) {
	ladder, err := NewTargetLadder([]Rung{
		{GainPct: 3, Fraction: 0.5},
		{GainPct: 6, Fraction: 0.5},
	})
	require.NoError(t, err)
	assert.False(t, ladder.Consumed())

	ladder.Rungs[0].Status = RungHit
	assert.False(t, ladder.Consumed())

	ladder.Rungs[1].Status = RungHit
	assert.True(t, ladder.Consumed())

	empty := TargetLadder{}
	assert.False(t, empty.Consumed(), "an empty ladder never completes the position")
}

func TestStopImprove(t *testing.T) {
	t.Run("long stop may only rise", func(t *testing.T) {
		s := StopState{}
		require.NoError(t, s.Improve(venue.SideBuy, StopTrailing, 95))
		require.NoError(t, s.Improve(venue.SideBuy, StopTrailing, 97))
		assert.Equal(t, 97.0, s.TriggerPrice)

		err := s.Improve(venue.SideBuy, StopTrailing, 96)
		require.Error(t, err)
		assert.IsType(t, &InvariantViolationError{}, err)
		assert.Equal(t, 97.0, s.TriggerPrice, "a rejected improvement must not change the trigger")
	})

	t.Run("short stop may only fall", func(t *testing.T) {
		s := StopState{}
		require.NoError(t, s.Improve(venue.SideSell, StopTrailing, 105))
		require.NoError(t, s.Improve(venue.SideSell, StopTrailing, 103))

		err := s.Improve(venue.SideSell, StopTrailing, 104)
		assert.Error(t, err)
	})

	t.Run("equal trigger is a no-op", func(t *testing.T) {
		s := StopState{}
		require.NoError(t, s.Improve(venue.SideBuy, StopTrailing, 95))
		require.NoError(t, s.Improve(venue.SideBuy, StopBreakeven, 95))
		assert.Equal(t, StopTrailing, s.Kind, "a no-op must not relabel the stop")
	})

	t.Run("kind follows the latest improvement", func(t *testing.T) {
		s := StopState{}
		require.NoError(t, s.Improve(venue.SideBuy, StopTrailing, 95))
		require.NoError(t, s.Improve(venue.SideBuy, StopBreakeven, 100.1))
		assert.Equal(t, StopBreakeven, s.Kind)
	})
}

func TestNewPosition(t *testing.T) {
	ladder, err := NewTargetLadder(nil)
	require.NoError(t, err)

	pos, err := New("BTC-USD", venue.SideBuy, 50000, 200, ladder, time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, 200.0, pos.RemainingUSD)
	assert.Equal(t, StopNone, pos.Stop.Kind)
	assert.Equal(t, 50000.0, pos.Stop.Watermark)

	_, err = New("", venue.SideBuy, 50000, 200, ladder, time.Now())
	assert.Error(t, err)
	_, err = New("BTC-USD", venue.Side("SHORT"), 50000, 200, ladder, time.Now())
	assert.Error(t, err)
	_, err = New("BTC-USD", venue.SideBuy, 0, 200, ladder, time.Now())
	assert.Error(t, err)
	_, err = New("BTC-USD", venue.SideBuy, 50000, 0, ladder, time.Now())
	assert.Error(t, err)
}

func TestGainPct(t *testing.T) {
	ladder := TargetLadder{}
	long, err := New("BTC-USD", venue.SideBuy, 100, 100, ladder, time.Now())
	require.NoError(t, err)
	short, err := New("ETH-USD", venue.SideSell, 100, 100, ladder, time.Now())
	require.NoError(t, err)

	assert.InDelta(t, 5.0, long.GainPct(105), 1e-9)
	assert.InDelta(t, -5.0, long.GainPct(95), 1e-9)
	assert.InDelta(t, 5.0, short.GainPct(95), 1e-9)
	assert.InDelta(t, -5.0, short.GainPct(105), 1e-9)
}
