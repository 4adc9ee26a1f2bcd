package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the circuit state. There is no half-open: the reset is a fresh
// start with a cleared failure log, chosen for determinism over gradual decay.
type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// FailureKind classifies recorded failures for observability.
type FailureKind string

const (
	FailureExecution FailureKind = "execution"
	FailureVenue     FailureKind = "venue"
	FailureInternal  FailureKind = "internal"
	FailureLoss      FailureKind = "losing_trade"
)

// Config controls trip and reset behavior.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"` // failures in the trip window that open the circuit
	TripWindow       time.Duration `yaml:"trip_window"`       // trailing window evaluated on each failure
	Cooldown         time.Duration `yaml:"cooldown"`          // OPEN duration before auto-reset
	RetentionWindow  time.Duration `yaml:"retention_window"`  // failures older than this are pruned
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		TripWindow:       5 * time.Minute,
		Cooldown:         10 * time.Minute,
		RetentionWindow:  time.Hour,
	}
}

// Status is the outcome of Check.
type Status struct {
	State             State         `json:"-"`
	StateName         string        `json:"state"`
	TradingAllowed    bool          `json:"trading_allowed"`
	CooldownRemaining time.Duration `json:"cooldown_remaining,omitempty"`
	RecentFailures    int           `json:"recent_failures"`
}

type failure struct {
	kind FailureKind
	at   time.Time
}

// Breaker halts admission after repeated failures until a cooldown passes.
// The circuit is OPEN iff the trailing trip window reached the threshold and
// the cooldown since openedAt has not elapsed.
type Breaker struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	state    State
	openedAt time.Time
	failures []failure

	now func() time.Time // overridable for tests
}

// New creates a circuit breaker.
func New(cfg Config, log zerolog.Logger) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.TripWindow <= 0 {
		cfg.TripWindow = def.TripWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = def.RetentionWindow
	}
	return &Breaker{
		cfg:   cfg,
		log:   log.With().Str("component", "breaker").Logger(),
		state: StateClosed,
		now:   time.Now,
	}
}

// RecordFailure appends a timestamped failure and evaluates the transition.
func (b *Breaker) RecordFailure(kind FailureKind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.failures = append(b.failures, failure{kind: kind, at: now})
	b.pruneLocked(now)

	if b.state == StateOpen {
		return
	}
	if b.recentLocked(now) >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.openedAt = now
		b.log.Warn().Str("kind", string(kind)).Int("threshold", b.cfg.FailureThreshold).
			Dur("cooldown", b.cfg.Cooldown).Msg("circuit opened")
	}
}

// RecordSuccess is outcome bookkeeping only; successes do not close an open
// circuit early.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(b.now())
}

// Check reports whether admission may proceed. When the cooldown has elapsed
// the circuit auto-resets to CLOSED and the failure log is cleared.
// Idempotent while state is unchanged.
func (b *Breaker) Check() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.pruneLocked(now)

	if b.state == StateOpen {
		if elapsed := now.Sub(b.openedAt); elapsed >= b.cfg.Cooldown {
			b.state = StateClosed
			b.failures = nil
			b.log.Info().Msg("circuit cooldown elapsed, reset to closed")
		} else {
			return Status{
				State:             StateOpen,
				StateName:         StateOpen.String(),
				CooldownRemaining: b.cfg.Cooldown - elapsed,
				RecentFailures:    b.recentLocked(now),
			}
		}
	}

	return Status{
		State:          StateClosed,
		StateName:      StateClosed.String(),
		TradingAllowed: true,
		RecentFailures: b.recentLocked(now),
	}
}

func (b *Breaker) recentLocked(now time.Time) int {
	cutoff := now.Add(-b.cfg.TripWindow)
	n := 0
	for _, f := range b.failures {
		if f.at.After(cutoff) {
			n++
		}
	}
	return n
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.RetentionWindow)
	i := 0
	for i < len(b.failures) && !b.failures[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		b.failures = b.failures[i:]
	}
}
