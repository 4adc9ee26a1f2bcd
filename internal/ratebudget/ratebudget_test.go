package ratebudget

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBudget(t *testing.T, cfg Config) (*Budget, *time.Time) {
	t.Helper()
	b := New(cfg, zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestTryConsumeSecondLimit(t *testing.T) {
	b, now := newTestBudget(t, Config{PerSecondLimit: 3, PerMinuteLimit: 100})

	for i := 0; i < 3; i++ {
		require.True(t, b.TryConsume().Allowed, "request %d within budget", i)
	}

	dec := b.TryConsume()
	assert.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "second_limit")
	assert.Equal(t, time.Second, dec.RetryAfter)

	// Window slides: one second later the budget is free again.
	*now = now.Add(time.Second + time.Millisecond)
	assert.True(t, b.TryConsume().Allowed)
}

func TestTryConsumeMinuteLimitOpensCooldown(t *testing.T) {
	b, now := newTestBudget(t, Config{PerSecondLimit: 10, PerMinuteLimit: 5, Cooldown: 60 * time.Second})

	for i := 0; i < 5; i++ {
		require.True(t, b.TryConsume().Allowed)
		*now = now.Add(2 * time.Second) // stay under the second limit
	}

	breach := b.TryConsume()
	assert.False(t, breach.Allowed)
	assert.Contains(t, breach.Reason, "minute_limit")
	assert.Equal(t, 60*time.Second, breach.RetryAfter)

	// Cooldown denies everything, even after the window itself would clear.
	*now = now.Add(55 * time.Second)
	during := b.TryConsume()
	assert.False(t, during.Allowed)
	assert.Contains(t, during.Reason, "cooldown_active")
	assert.Equal(t, 5*time.Second, during.RetryAfter)

	*now = now.Add(6 * time.Second)
	assert.True(t, b.TryConsume().Allowed)
}

func TestRetryAfterIsMaxOfWindowAndCooldown(t *testing.T) {
	b, now := newTestBudget(t, Config{PerSecondLimit: 10, PerMinuteLimit: 2, Cooldown: 10 * time.Second})

	require.True(t, b.TryConsume().Allowed)
	*now = now.Add(2 * time.Second)
	require.True(t, b.TryConsume().Allowed)
	*now = now.Add(2 * time.Second)

	// Oldest entry leaves the window in 56s, which beats the 10s cooldown.
	dec := b.TryConsume()
	assert.False(t, dec.Allowed)
	assert.Equal(t, 56*time.Second, dec.RetryAfter)
}

func TestGetSnapshotIdempotent(t *testing.T) {
	b, _ := newTestBudget(t, Config{PerSecondLimit: 10, PerMinuteLimit: 100})

	require.True(t, b.TryConsume().Allowed)
	require.True(t, b.TryConsume().Allowed)

	for i := 0; i < 5; i++ {
		snap := b.GetSnapshot()
		assert.Equal(t, 2, snap.SecondUsed)
		assert.Equal(t, 8, snap.SecondRemaining)
		assert.Equal(t, 2, snap.MinuteUsed)
		assert.Equal(t, 98, snap.MinuteRemaining)
		assert.False(t, snap.CooldownActive)
	}
}

func TestWindowsNeverExceedLimits(t *testing.T) {
	b, now := newTestBudget(t, Config{PerSecondLimit: 5, PerMinuteLimit: 20})

	granted := 0
	for i := 0; i < 200; i++ {
		if b.TryConsume().Allowed {
			granted++
		}
		snap := b.GetSnapshot()
		assert.LessOrEqual(t, snap.SecondUsed, 5)
		assert.LessOrEqual(t, snap.MinuteUsed, 20)
		*now = now.Add(50 * time.Millisecond)
	}
	assert.Greater(t, granted, 0)
}
