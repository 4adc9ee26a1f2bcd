package breaker

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *time.Time) {
	t.Helper()
	b := New(cfg, zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestStaysClosedBelowThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 5})

	for i := 0; i < 4; i++ {
		b.RecordFailure(FailureExecution)
	}

	status := b.Check()
	assert.True(t, status.TradingAllowed)
	assert.Equal(t, StateClosed, status.State)
	assert.Equal(t, 4, status.RecentFailures)
}

func TestTripAndCooldownCycle(t *testing.T) {
	b, now := newTestBreaker(t, Config{FailureThreshold: 5, TripWindow: 5 * time.Minute, Cooldown: 10 * time.Minute})

	// Five failures spread over four minutes trip the circuit.
	for i := 0; i < 5; i++ {
		b.RecordFailure(FailureExecution)
		*now = now.Add(time.Minute)
	}

	status := b.Check()
	require.Equal(t, StateOpen, status.State)
	assert.False(t, status.TradingAllowed)

	// One minute into the open state, still denied with the remainder reported.
	*now = now.Add(time.Minute)
	status = b.Check()
	assert.False(t, status.TradingAllowed)
	assert.Equal(t, 8*time.Minute, status.CooldownRemaining)

	// The full cooldown elapses: closed again with a cleared failure log.
	*now = now.Add(9 * time.Minute)
	status = b.Check()
	assert.True(t, status.TradingAllowed)
	assert.Equal(t, StateClosed, status.State)
	assert.Equal(t, 0, status.RecentFailures)
}

func TestFailuresOutsideTripWindowDoNotTrip(t *testing.T) {
	b, now := newTestBreaker(t, Config{FailureThreshold: 3, TripWindow: 5 * time.Minute})

	b.RecordFailure(FailureVenue)
	b.RecordFailure(FailureVenue)
	*now = now.Add(6 * time.Minute)
	b.RecordFailure(FailureVenue)

	status := b.Check()
	assert.True(t, status.TradingAllowed)
	assert.Equal(t, 1, status.RecentFailures)
}

func TestCheckIdempotentWhileOpen(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 2, Cooldown: 10 * time.Minute})
	b.RecordFailure(FailureExecution)
	b.RecordFailure(FailureExecution)

	first := b.Check()
	require.False(t, first.TradingAllowed)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, b.Check())
	}
}

func TestRecordSuccessDoesNotCloseEarly(t *testing.T) {
	b, now := newTestBreaker(t, Config{FailureThreshold: 2, Cooldown: 10 * time.Minute})
	b.RecordFailure(FailureExecution)
	b.RecordFailure(FailureExecution)
	require.False(t, b.Check().TradingAllowed)

	*now = now.Add(time.Minute)
	b.RecordSuccess()
	assert.False(t, b.Check().TradingAllowed, "successes must not shortcut the cooldown")
}

func TestFailuresDuringOpenDoNotExtendCooldown(t *testing.T) {
	b, now := newTestBreaker(t, Config{FailureThreshold: 2, TripWindow: 5 * time.Minute, Cooldown: 10 * time.Minute})
	b.RecordFailure(FailureExecution)
	b.RecordFailure(FailureExecution)
	require.False(t, b.Check().TradingAllowed)

	*now = now.Add(5 * time.Minute)
	b.RecordFailure(FailureExecution)

	*now = now.Add(5 * time.Minute)
	assert.True(t, b.Check().TradingAllowed, "cooldown is measured from openedAt")
}
