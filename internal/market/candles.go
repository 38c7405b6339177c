package market

import "exchange-sim/internal/types"

// candleAgg tracks the in-progress candle for one (symbol, interval) pair.
type candleAgg struct {
	current types.Candle
	open    bool
}

// candleTrack holds one aggregator per interval for every symbol it has
// seen, keyed by symbol.
type candleTrack struct {
	bySymbol map[string]map[types.Interval]*candleAgg
}

func newCandleTrack() *candleTrack {
	return &candleTrack{bySymbol: make(map[string]map[types.Interval]*candleAgg)}
}

// apply folds one price observation into every interval's aggregator for
// symbol, returning the candles that closed as a result (§4.3: closed
// candles are immutable once their interval elapses).
func (ct *candleTrack) apply(symbol string, price, volume float64, tsMs int64) []types.Candle {
	perInterval, ok := ct.bySymbol[symbol]
	if !ok {
		perInterval = make(map[types.Interval]*candleAgg)
		ct.bySymbol[symbol] = perInterval
	}

	var closed []types.Candle
	for _, interval := range types.AllIntervals {
		agg, ok := perInterval[interval]
		if !ok {
			agg = &candleAgg{}
			perInterval[interval] = agg
		}
		openTime := types.AlignOpenTime(tsMs, interval)

		if !agg.open {
			agg.current = types.Candle{
				Symbol: symbol, Interval: interval, OpenTimeMs: openTime,
				Open: price, High: price, Low: price, Close: price, Volume: volume,
			}
			agg.open = true
			continue
		}

		if openTime != agg.current.OpenTimeMs {
			agg.current.Closed = true
			closed = append(closed, agg.current)
			agg.current = types.Candle{
				Symbol: symbol, Interval: interval, OpenTimeMs: openTime,
				Open: price, High: price, Low: price, Close: price, Volume: volume,
			}
			continue
		}

		if price > agg.current.High {
			agg.current.High = price
		}
		if price < agg.current.Low {
			agg.current.Low = price
		}
		agg.current.Close = price
		agg.current.Volume += volume
	}
	return closed
}

// snapshot returns the current (possibly still-open) candle for symbol at
// interval, for historical/candles API reads.
func (ct *candleTrack) snapshot(symbol string, interval types.Interval) (types.Candle, bool) {
	perInterval, ok := ct.bySymbol[symbol]
	if !ok {
		return types.Candle{}, false
	}
	agg, ok := perInterval[interval]
	if !ok || !agg.open {
		return types.Candle{}, false
	}
	return agg.current, true
}
