package backtest

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange-sim/internal/types"
)

// trendingCandles builds n candles (newest first, per repository
// convention) whose close rises steadily from start (oldest) to
// start+(n-1)*step (newest). Momentum over such a series stays positive,
// so the momentum handler sees no zero-crossing on it.
func trendingCandles(symbol string, n int, start, step float64) []types.Candle {
	out := make([]types.Candle, n)
	for i := 0; i < n; i++ {
		// i=0 is newest: the highest close.
		out[i] = types.Candle{Symbol: symbol, Interval: types.Interval1m, Close: start + step*float64(n-1-i), Closed: true}
	}
	return out
}

func oscillatingCandles(symbol string, n int, mid, amplitude float64) []types.Candle {
	out := make([]types.Candle, n)
	for i := 0; i < n; i++ {
		t := n - 1 - i
		wave := amplitude * math.Sin(float64(t)*0.3)
		out[i] = types.Candle{Symbol: symbol, Interval: types.Interval1m, Close: mid + wave, Closed: true}
	}
	return out
}

func fixedCandleSource(data map[string][]types.Candle) CandleSource {
	return func(ctx context.Context, symbol string, interval types.Interval, limit int) ([]types.Candle, error) {
		series := data[symbol]
		if len(series) > limit {
			series = series[:limit]
		}
		return series, nil
	}
}

func TestRunOnMomentumStrategyReturnsPinnedResult(t *testing.T) {
	candles := trendingCandles("AAA", 200, 50, 0.5)
	r := New(fixedCandleSource(map[string][]types.Candle{"AAA": candles}), nil)

	s := types.Strategy{
		ID: "strat-1", FundID: "fund-1", Type: types.StrategyMomentum, ConfigHash: "h1",
		Config: map[string]any{"ticker": "AAA", "n": float64(10)},
	}
	result, err := r.Run(context.Background(), s, Request{Window: 200})
	require.NoError(t, err)
	assert.Equal(t, "strat-1", result.StrategyID)
	assert.Equal(t, "h1", result.ConfigHash)
	assert.NotEmpty(t, result.Notes)
}

func TestRunOnMeanReversionOscillatingSeriesGeneratesTrades(t *testing.T) {
	candles := oscillatingCandles("AAA", 300, 100, 15)
	r := New(fixedCandleSource(map[string][]types.Candle{"AAA": candles}), nil)

	s := types.Strategy{
		ID: "strat-2", FundID: "fund-1", Type: types.StrategyMeanReversion, ConfigHash: "h2",
		Config: map[string]any{"ticker": "AAA", "period": float64(20), "k": float64(1.0)},
	}
	result, err := r.Run(context.Background(), s, Request{Window: 300})
	require.NoError(t, err)
	assert.Greater(t, result.Metrics.TradeCount, 0, "an oscillating series inside tight bands should generate trades")
}

func TestRunRejectsStrategyWithNoReferencedTicker(t *testing.T) {
	r := New(fixedCandleSource(nil), nil)
	s := types.Strategy{ID: "s", Type: types.StrategyMomentum, Config: map[string]any{}}
	_, err := r.Run(context.Background(), s, Request{})
	require.Error(t, err)
}

func TestRunRejectsInsufficientHistory(t *testing.T) {
	candles := trendingCandles("AAA", 10, 50, 0.1)
	r := New(fixedCandleSource(map[string][]types.Candle{"AAA": candles}), nil)
	s := types.Strategy{ID: "s", Type: types.StrategyMomentum, Config: map[string]any{"ticker": "AAA"}}
	_, err := r.Run(context.Background(), s, Request{Window: 100})
	require.Error(t, err)
}

func TestRunOnCustomStrategyUsesSandbox(t *testing.T) {
	candles := trendingCandles("AAA", 150, 50, 0.3)
	r := New(fixedCandleSource(map[string][]types.Candle{"AAA": candles}), nil)

	s := types.Strategy{
		ID: "strat-3", FundID: "fund-1", Type: types.StrategyCustom, ConfigHash: "h3",
		Config: map[string]any{
			"tickers": "AAA",
			"source":  `function signal(ctx) { var p = ctx.getPrice("AAA"); return {signal: p > 100 ? "sell" : "buy", ticker: "AAA", reason: "threshold"}; }`,
		},
	}
	result, err := r.Run(context.Background(), s, Request{Window: 150})
	require.NoError(t, err)
	assert.Greater(t, result.Metrics.TradeCount, 0)
}

func TestBookAppliesWeightedAverageCostAndRealizedPnL(t *testing.T) {
	b := newBook(10000)
	b.apply(types.SideBuy, 10, 100, 1)
	b.apply(types.SideBuy, 10, 110, 1)
	assert.Equal(t, 20.0, b.qty)
	assert.InDelta(t, 105.0, b.avgCost, 1e-9)

	b.apply(types.SideSell, 5, 130, 1)
	assert.Equal(t, 15.0, b.qty)
	require.Len(t, b.realized, 1)
	assert.InDelta(t, 125.0, b.realized[0], 1e-9) // (130-105)*5
}

func TestMaxDrawdownOfTracksPeakToTrough(t *testing.T) {
	dd := maxDrawdownOf([]float64{100, 120, 90, 95, 150, 100})
	assert.InDelta(t, 1.0/3, dd, 1e-9) // (150-100)/150, deeper than (120-90)/120
}
