package ratebudget

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the sliding-window request budget.
type Config struct {
	PerSecondLimit int           `yaml:"per_second_limit"`
	PerMinuteLimit int           `yaml:"per_minute_limit"`
	Cooldown       time.Duration `yaml:"cooldown"` // hard deny window after a per-minute breach
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PerSecondLimit: 10,
		PerMinuteLimit: 100,
		Cooldown:       60 * time.Second,
	}
}

// Decision is the outcome of TryConsume.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Snapshot reports remaining capacity without consuming.
type Snapshot struct {
	SecondUsed      int           `json:"second_used"`
	SecondRemaining int           `json:"second_remaining"`
	MinuteUsed      int           `json:"minute_used"`
	MinuteRemaining int           `json:"minute_remaining"`
	CooldownActive  bool          `json:"cooldown_active"`
	CooldownLeft    time.Duration `json:"cooldown_left,omitempty"`
}

// Budget tracks outbound request counts in per-second and per-minute sliding
// windows. Token bucket via sliding window rather than a leaky bucket: the
// windows keep exact timestamps so remaining capacity is always reportable,
// and a per-minute breach opens a hard cooldown so callers do not thrash
// right at the ceiling.
//
// Check-and-append happens under one mutex; two concurrent callers can never
// both observe the last free slot and both proceed.
type Budget struct {
	cfg Config
	log zerolog.Logger

	mu            sync.Mutex
	secondWindow  []time.Time
	minuteWindow  []time.Time
	cooldownUntil time.Time

	now func() time.Time // overridable for tests
}

// New creates a rate budget.
func New(cfg Config, log zerolog.Logger) *Budget {
	def := DefaultConfig()
	if cfg.PerSecondLimit <= 0 {
		cfg.PerSecondLimit = def.PerSecondLimit
	}
	if cfg.PerMinuteLimit <= 0 {
		cfg.PerMinuteLimit = def.PerMinuteLimit
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Budget{
		cfg: cfg,
		log: log.With().Str("component", "ratebudget").Logger(),
		now: time.Now,
	}
}

// TryConsume attempts to take one unit of budget. It never blocks: a denial
// carries the wait until the oldest relevant entry expires so the caller can
// decide whether to retry, defer, or abandon.
func (b *Budget) TryConsume() Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.secondWindow = prune(b.secondWindow, now.Add(-time.Second))
	b.minuteWindow = prune(b.minuteWindow, now.Add(-time.Minute))

	if now.Before(b.cooldownUntil) {
		left := b.cooldownUntil.Sub(now)
		return Decision{
			Reason:     fmt.Sprintf("cooldown_active: %s remaining after minute-limit breach", left.Round(time.Millisecond)),
			RetryAfter: left,
		}
	}

	if len(b.minuteWindow) >= b.cfg.PerMinuteLimit {
		// Breaching the minute ceiling opens the cooldown; retrying into the
		// same ceiling one slot at a time is worse than backing off outright.
		b.cooldownUntil = now.Add(b.cfg.Cooldown)
		wait := b.minuteWindow[0].Add(time.Minute).Sub(now)
		if b.cfg.Cooldown > wait {
			wait = b.cfg.Cooldown
		}
		b.log.Warn().Int("limit", b.cfg.PerMinuteLimit).Dur("cooldown", b.cfg.Cooldown).
			Msg("per-minute budget exhausted, cooldown opened")
		return Decision{
			Reason:     fmt.Sprintf("minute_limit: %d requests in 60s, cooling down %s", b.cfg.PerMinuteLimit, b.cfg.Cooldown),
			RetryAfter: wait,
		}
	}

	if len(b.secondWindow) >= b.cfg.PerSecondLimit {
		wait := b.secondWindow[0].Add(time.Second).Sub(now)
		return Decision{
			Reason:     fmt.Sprintf("second_limit: %d requests in 1s", b.cfg.PerSecondLimit),
			RetryAfter: wait,
		}
	}

	b.secondWindow = append(b.secondWindow, now)
	b.minuteWindow = append(b.minuteWindow, now)
	return Decision{Allowed: true}
}

// GetSnapshot reports current occupancy without consuming budget.
func (b *Budget) GetSnapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.secondWindow = prune(b.secondWindow, now.Add(-time.Second))
	b.minuteWindow = prune(b.minuteWindow, now.Add(-time.Minute))

	snap := Snapshot{
		SecondUsed:      len(b.secondWindow),
		SecondRemaining: b.cfg.PerSecondLimit - len(b.secondWindow),
		MinuteUsed:      len(b.minuteWindow),
		MinuteRemaining: b.cfg.PerMinuteLimit - len(b.minuteWindow),
	}
	if now.Before(b.cooldownUntil) {
		snap.CooldownActive = true
		snap.CooldownLeft = b.cooldownUntil.Sub(now)
	}
	return snap
}

// prune drops timestamps at or before the cutoff. Entries are appended in
// time order, so only the head needs trimming.
func prune(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	return window[i:]
}
