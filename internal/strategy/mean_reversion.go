package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"exchange-sim/internal/types"
)

// meanReversionHandler implements §4.9: SMA(period) ± k·σ bands; buy below
// the lower band, sell above the upper band. Grounded on the teacher's
// band-crossing shape (internal/strategy/donchian_breakout.go) but
// computed from a rolling SMA/stdev via go-talib instead of channel
// high/low.
type meanReversionHandler struct{}

func (meanReversionHandler) Evaluate(candles map[string][]types.Candle, cfg map[string]any, state map[string]any) Signal {
	symbol := configString(cfg, "ticker", "")
	series := candles[symbol]
	period := configInt(cfg, "period", 20)
	k := configFloat(cfg, "k", 2.0)

	if len(series) < period+1 {
		return hold(symbol, "insufficient history")
	}
	closes := closesOldestFirst(series)

	sma := talib.Sma(closes, period)
	upper, _, lower := talib.BBands(closes, period, k, k, talib.SMA)

	last := len(closes) - 1
	price := closes[last]
	lo, hi, mid := lower[last], upper[last], sma[last]
	if lo == 0 && hi == 0 {
		return hold(symbol, "bands not yet warm")
	}

	switch {
	case price < lo:
		return Signal{Action: ActionBuy, Symbol: symbol, Reason: "price below lower band",
			Data: map[string]any{"price": price, "lower": lo, "sma": mid}}
	case price > hi:
		return Signal{Action: ActionSell, Symbol: symbol, Reason: "price above upper band",
			Data: map[string]any{"price": price, "upper": hi, "sma": mid}}
	default:
		return hold(symbol, fmt.Sprintf("price %.4f within [%.4f, %.4f]", price, lo, hi))
	}
}
