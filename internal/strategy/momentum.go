package strategy

import (
	"exchange-sim/internal/types"
)

// momentumHandler implements §4.9: momentum_n = (close_t - close_{t-n}) /
// close_{t-n}; fires on a zero-crossing rather than every tick above/below
// zero, mirroring the teacher's Supertrend handler's crossing-between-two-
// bars pattern (internal/strategy/supertrend_trend.go: compares bar0 vs
// bar1 rather than a single bar's value).
type momentumHandler struct{}

func (momentumHandler) Evaluate(candles map[string][]types.Candle, cfg map[string]any, state map[string]any) Signal {
	symbol := configString(cfg, "ticker", "")
	series := candles[symbol]
	n := configInt(cfg, "n", 10)

	if len(series) < n+2 {
		return hold(symbol, "insufficient history")
	}
	closes := closesOldestFirst(series)
	last := len(closes) - 1

	momentumAt := func(i int) float64 {
		base := closes[i-n]
		if base == 0 {
			return 0
		}
		return (closes[i] - base) / base
	}

	curr := momentumAt(last)
	prev := momentumAt(last - 1)

	switch {
	case prev <= 0 && curr > 0:
		return Signal{Action: ActionBuy, Symbol: symbol, Reason: "momentum crossed above zero",
			Data: map[string]any{"momentum": curr}}
	case prev >= 0 && curr < 0:
		return Signal{Action: ActionSell, Symbol: symbol, Reason: "momentum crossed below zero",
			Data: map[string]any{"momentum": curr}}
	default:
		return hold(symbol, "no zero-crossing")
	}
}
