package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptogate/cryptogate/internal/breaker"
	"github.com/cryptogate/cryptogate/internal/feed"
	"github.com/cryptogate/cryptogate/internal/outcome"
	"github.com/cryptogate/cryptogate/internal/position"
	"github.com/cryptogate/cryptogate/internal/venue"
)

type stubCloser struct {
	closed []string
}

func (s *stubCloser) CloseSlot(symbol string) { s.closed = append(s.closed, symbol) }

type stubRecorder struct {
	successes int
	failures  []breaker.FailureKind
}

func (s *stubRecorder) RecordSuccess() { s.successes++ }

func (s *stubRecorder) RecordFailure(kind breaker.FailureKind) {
	s.failures = append(s.failures, kind)
}

type captureSink struct {
	outcomes []outcome.Outcome
}

func (s *captureSink) Record(_ context.Context, o outcome.Outcome) error {
	s.outcomes = append(s.outcomes, o)
	return nil
}

type testHarness struct {
	manager  *Manager
	feed     *feed.StaticFeed
	closer   *stubCloser
	recorder *stubRecorder
	sink     *captureSink
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()
	h := &testHarness{
		feed:     feed.NewStaticFeed(),
		closer:   &stubCloser{},
		recorder: &stubRecorder{},
		sink:     &captureSink{},
	}
	h.manager = New(cfg, h.feed, h.closer, h.sink, h.recorder, zerolog.Nop())
	return h
}

func (h *testHarness) track(t *testing.T, symbol string, side venue.Side, entry, sizeUSD float64, rungs []position.Rung) *position.Position {
	t.Helper()
	ladder, err := position.NewTargetLadder(rungs)
	require.NoError(t, err)
	pos, err := position.New(symbol, side, entry, sizeUSD, ladder, time.Now())
	require.NoError(t, err)
	require.NoError(t, h.manager.Track(pos))
	return pos
}

func (h *testHarness) tick(t *testing.T, symbol string, price float64) []Event {
	t.Helper()
	events, err := h.manager.OnTick(context.Background(), symbol, price, time.Now())
	require.NoError(t, err)
	return events
}

func TestBreakevenStopLong(t *testing.T) {
	h := newHarness(t, Config{BreakevenTriggerPct: 1.5, BreakevenOffsetPct: 0.1, TrailingPct: 5})
	h.track(t, "BTC-USD", venue.SideBuy, 100, 100, nil)

	// Price rises past the trigger: breakeven stop arms at entry + offset.
	assert.Empty(t, h.tick(t, "BTC-USD", 102))

	// Price falls back almost to entry: the stop fires for a near-zero PnL.
	events := h.tick(t, "BTC-USD", 100.05)
	require.Len(t, events, 1)
	assert.Equal(t, EventExit, events[0].Type)
	assert.Equal(t, ReasonBreakevenStop, events[0].Reason)
	assert.InDelta(t, 0.05, events[0].PnLUSD, 0.001)

	assert.Equal(t, []string{"BTC-USD"}, h.closer.closed)
	assert.Equal(t, 1, h.recorder.successes)
	assert.Empty(t, h.recorder.failures)
	require.Len(t, h.sink.outcomes, 1)
	assert.Equal(t, ReasonBreakevenStop, h.sink.outcomes[0].ExitReason)
	assert.Equal(t, 0, h.manager.Open())
}

func TestBreakevenStopShort(t *testing.T) {
	h := newHarness(t, Config{BreakevenTriggerPct: 1.5, BreakevenOffsetPct: 0.1, TrailingPct: 5})
	h.track(t, "ETH-USD", venue.SideSell, 100, 100, nil)

	assert.Empty(t, h.tick(t, "ETH-USD", 98.4)) // 1.6% gain arms the stop at 99.9

	events := h.tick(t, "ETH-USD", 99.95)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonBreakevenStop, events[0].Reason)
}

func TestTrailingStopFollowsWatermark(t *testing.T) {
	h := newHarness(t, Config{BreakevenTriggerPct: 50, BreakevenOffsetPct: 0.1, TrailingPct: 5})
	pos := h.track(t, "BTC-USD", venue.SideBuy, 100, 100, nil)

	assert.Empty(t, h.tick(t, "BTC-USD", 110))
	assert.InDelta(t, 104.5, pos.Stop.TriggerPrice, 1e-9)

	assert.Empty(t, h.tick(t, "BTC-USD", 120))
	assert.InDelta(t, 114, pos.Stop.TriggerPrice, 1e-9)

	// A pullback that stays above the stop never loosens it.
	assert.Empty(t, h.tick(t, "BTC-USD", 115))
	assert.InDelta(t, 114, pos.Stop.TriggerPrice, 1e-9)
	assert.InDelta(t, 120, pos.Stop.Watermark, 1e-9)

	events := h.tick(t, "BTC-USD", 113)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonTrailingStop, events[0].Reason)
	assert.InDelta(t, 13, events[0].PnLUSD, 1e-9)
	assert.Equal(t, 1, h.recorder.successes)
}

func TestTrailingStopNotArmedAtALoss(t *testing.T) {
	h := newHarness(t, Config{BreakevenTriggerPct: 50, TrailingPct: 5})
	pos := h.track(t, "BTC-USD", venue.SideBuy, 100, 100, nil)

	assert.Empty(t, h.tick(t, "BTC-USD", 95))
	assert.Equal(t, position.StopNone, pos.Stop.Kind)
	assert.Equal(t, 1, h.manager.Open(), "an unprofitable position has no stop to cross")
}

func TestTargetLadderPartialExits(t *testing.T) {
	h := newHarness(t, Config{BreakevenTriggerPct: 99, TrailingPct: 90})
	h.track(t, "BTC-USD", venue.SideBuy, 100, 200, []position.Rung{
		{GainPct: 3, Fraction: 0.5},
		{GainPct: 6, Fraction: 0.3},
		{GainPct: 10, Fraction: 0.2},
	})

	events := h.tick(t, "BTC-USD", 103.5)
	require.Len(t, events, 1)
	assert.Equal(t, EventPartialExit, events[0].Type)
	assert.InDelta(t, 100, events[0].AmountUSD, 1e-9) // 50% of the original size
	assert.InDelta(t, 3.5, events[0].PnLUSD, 1e-9)

	// Same price again: rungs fire at most once.
	assert.Empty(t, h.tick(t, "BTC-USD", 103.5))

	// A jump through the remaining rungs consumes the ladder and closes.
	events = h.tick(t, "BTC-USD", 110.5)
	require.Len(t, events, 3)
	assert.Equal(t, EventPartialExit, events[0].Type)
	assert.InDelta(t, 60, events[0].AmountUSD, 1e-9)
	assert.Equal(t, EventPartialExit, events[1].Type)
	assert.InDelta(t, 40, events[1].AmountUSD, 1e-9)
	assert.Equal(t, EventExit, events[2].Type)
	assert.Equal(t, ReasonTargetsComplete, events[2].Reason)

	require.Len(t, h.sink.outcomes, 1)
	assert.InDelta(t, 3.5+6.3+4.2, h.sink.outcomes[0].PnLUSD, 1e-9)
	assert.Equal(t, []string{"BTC-USD"}, h.closer.closed)
	assert.Equal(t, 0, h.manager.Open())
}

func TestTicksAreIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	h.track(t, "BTC-USD", venue.SideBuy, 100, 100, nil)

	assert.Empty(t, h.tick(t, "BTC-USD", 100.5))
	for i := 0; i < 5; i++ {
		assert.Empty(t, h.tick(t, "BTC-USD", 100.5))
	}
}

func TestManualCloseAtALossRecordsFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.track(t, "BTC-USD", venue.SideBuy, 100, 100, nil)

	ev, err := h.manager.Close(context.Background(), "BTC-USD", 90, "")
	require.NoError(t, err)
	assert.Equal(t, ReasonManualClose, ev.Reason)
	assert.InDelta(t, -10, ev.PnLUSD, 1e-9)

	assert.Equal(t, 0, h.recorder.successes)
	assert.Equal(t, []breaker.FailureKind{breaker.FailureLoss}, h.recorder.failures)

	_, err = h.manager.Close(context.Background(), "BTC-USD", 90, "")
	assert.Error(t, err, "closing twice must fail, the position is gone")
}

func TestTrackRejectsDuplicates(t *testing.T) {
	h := newHarness(t, Config{})
	h.track(t, "BTC-USD", venue.SideBuy, 100, 100, nil)

	dup, err := position.New("BTC-USD", venue.SideBuy, 101, 50, position.TargetLadder{}, time.Now())
	require.NoError(t, err)
	assert.Error(t, h.manager.Track(dup))
	assert.Error(t, h.manager.Track(nil))
}

func TestTickAllSkipsFeedMisses(t *testing.T) {
	h := newHarness(t, Config{BreakevenTriggerPct: 1.5, BreakevenOffsetPct: 0.1})
	h.track(t, "BTC-USD", venue.SideBuy, 100, 100, nil)
	h.track(t, "ETH-USD", venue.SideBuy, 10, 100, nil)

	// Only BTC has a price; ETH must be skipped without failing the sweep.
	h.feed.Set("BTC-USD", 102)
	assert.Empty(t, h.manager.TickAll(context.Background()))

	h.feed.Set("BTC-USD", 100.05)
	events := h.manager.TickAll(context.Background())
	require.Len(t, events, 1)
	assert.Equal(t, "BTC-USD", events[0].Symbol)
	assert.Equal(t, 1, h.manager.Open())
}

func TestOnTickRejectsBadPrice(t *testing.T) {
	h := newHarness(t, Config{})
	h.track(t, "BTC-USD", venue.SideBuy, 100, 100, nil)

	_, err := h.manager.OnTick(context.Background(), "BTC-USD", 0, time.Now())
	assert.Error(t, err)

	events, err := h.manager.OnTick(context.Background(), "UNTRACKED", 100, time.Now())
	require.NoError(t, err)
	assert.Empty(t, events)
}
