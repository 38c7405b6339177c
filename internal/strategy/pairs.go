package strategy

import (
	"gonum.org/v1/gonum/stat"

	"exchange-sim/internal/types"
)

// pairsHandler implements §4.9's pairs trade: spread = priceA/priceB,
// mean/stdev over a lookback window; enter long-A/short-B below mean-k·σ,
// reverse above mean+k·σ, close on mean reversion. Direction is tracked in
// the runner's per-(fund,strategy) scratch state the same way gridHandler
// tracks active levels.
type pairsHandler struct{}

const (
	pairsNone         = "none"
	pairsLongAShortB  = "long_a_short_b"
	pairsShortALongB  = "short_a_long_b"
)

func (pairsHandler) Evaluate(candles map[string][]types.Candle, cfg map[string]any, state map[string]any) Signal {
	tickerA := configString(cfg, "tickerA", "")
	tickerB := configString(cfg, "tickerB", "")
	lookback := configInt(cfg, "lookback", 50)
	k := configFloat(cfg, "k", 2.0)

	seriesA, seriesB := candles[tickerA], candles[tickerB]
	n := lookback
	if len(seriesA) < n || len(seriesB) < n {
		return hold(tickerA, "insufficient paired history")
	}

	closesA := closesOldestFirst(seriesA)
	closesB := closesOldestFirst(seriesB)
	la, lb := len(closesA), len(closesB)
	if la > n {
		closesA = closesA[la-n:]
	}
	if lb > n {
		closesB = closesB[lb-n:]
	}
	m := minInt(len(closesA), len(closesB))
	spreads := make([]float64, m)
	for i := 0; i < m; i++ {
		if closesB[i] == 0 {
			return hold(tickerA, "zero denominator in spread")
		}
		spreads[i] = closesA[i] / closesB[i]
	}

	mean := stat.Mean(spreads, nil)
	sigma := stat.StdDev(spreads, nil)
	current := spreads[m-1]
	lower := mean - k*sigma
	upper := mean + k*sigma

	dir, _ := state["pairsDirection"].(string)
	if dir == "" {
		dir = pairsNone
	}

	data := map[string]any{"spread": current, "mean": mean, "lower": lower, "upper": upper, "tickerA": tickerA, "tickerB": tickerB}

	switch {
	case current < lower && dir != pairsLongAShortB:
		state["pairsDirection"] = pairsLongAShortB
		return Signal{Action: ActionBuy, Symbol: tickerA, Reason: "spread below lower band: long A / short B", Data: data}
	case current > upper && dir != pairsShortALongB:
		state["pairsDirection"] = pairsShortALongB
		return Signal{Action: ActionSell, Symbol: tickerA, Reason: "spread above upper band: short A / long B", Data: data}
	case dir != pairsNone && current >= mean-0.25*sigma && current <= mean+0.25*sigma:
		state["pairsDirection"] = pairsNone
		closeAction := ActionSell
		if dir == pairsShortALongB {
			closeAction = ActionBuy
		}
		return Signal{Action: closeAction, Symbol: tickerA, Reason: "spread reverted to mean: closing pair", Data: data}
	default:
		return hold(tickerA, "spread within band, no state change")
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
