package market

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange-sim/internal/eventbus"
	"exchange-sim/internal/types"
)

func testConfig() Config {
	return Config{
		Instrument: types.Instrument{
			Symbol: "AAA", Decimals: 2, BaseSpreadBps: 5, ImpactCoeff: 2,
			AvgDailyDollarVol: 10_000_000, CommissionBps: 2, CommissionFloor: 1,
			StartingPrice: 100, VolatilityTarget: 0.01,
		},
		Regime:       DefaultRegimeConfig(),
		TicksPerDay:  23400,
		DriftPerTick: 0,
	}
}

func TestTickPassPublishesBatch(t *testing.T) {
	bus := eventbus.New()
	e := New([]Config{testConfig()}, bus, time.Second, zerolog.Nop(), 1)

	var got eventbus.TickBatch
	bus.Ticks.Subscribe(func(tb eventbus.TickBatch) { got = tb })

	e.tickPass(1000)

	require.Len(t, got.Ticks, 1)
	assert.Equal(t, "AAA", got.Ticks[0].Symbol)
	assert.Greater(t, got.Ticks[0].Ask, got.Ticks[0].Bid)
}

func TestApplyShockMovesMidAndRegime(t *testing.T) {
	bus := eventbus.New()
	e := New([]Config{testConfig()}, bus, time.Second, zerolog.Nop(), 1)

	before, _ := e.Snapshot("AAA")
	e.ApplyShock("AAA", -0.05, true, 5)
	after, _ := e.Snapshot("AAA")

	assert.Less(t, after.Mid, before.Mid)
	regime, ok := e.CurrentRegime("AAA")
	require.True(t, ok)
	assert.Equal(t, types.RegimeEventShock, regime)
}

func TestCandleRolloverClosesOnIntervalBoundary(t *testing.T) {
	bus := eventbus.New()
	e := New([]Config{testConfig()}, bus, time.Second, zerolog.Nop(), 1)

	var closedCount int
	bus.Candles.Subscribe(func(eventbus.CandleClosed) { closedCount++ })

	base := int64(0)
	for i := 0; i < 130; i++ { // cross at least one 1m boundary
		e.tickPass(base + int64(i)*1000)
	}
	assert.Positive(t, closedCount)
}

func TestCurrentCandleDoesNotMutate(t *testing.T) {
	bus := eventbus.New()
	e := New([]Config{testConfig()}, bus, time.Second, zerolog.Nop(), 1)
	e.tickPass(0)

	c1, ok := e.CurrentCandle("AAA", types.Interval1m)
	require.True(t, ok)
	c2, ok := e.CurrentCandle("AAA", types.Interval1m)
	require.True(t, ok)
	assert.Equal(t, c1, c2)
}

func TestRegimeDefaultConfigRowsSumToOne(t *testing.T) {
	cfg := DefaultRegimeConfig()
	for regime, row := range cfg.Transitions {
		var sum float64
		for _, p := range row {
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 0.001, "regime %s transition row must sum to 1", regime)
	}
}
