package strategy

import (
	"fmt"

	"exchange-sim/internal/types"
)

// gridHandler implements §4.9's grid strategy: a recentering ladder of
// buy/sell trigger levels either side of a center price. State is kept in
// the runner's per-(fund,strategy) scratch map since the grid's active-
// level set must persist across evaluations — the same pattern the
// teacher uses to carry atrMult/qty state across loop iterations in
// runConfig (internal/strategy/engine.go).
type gridHandler struct{}

type gridState struct {
	center          float64
	activeBuyLevels map[int]bool
	activeSellLevels map[int]bool
}

func loadGridState(state map[string]any, price float64) *gridState {
	if gs, ok := state["grid"].(*gridState); ok {
		return gs
	}
	gs := &gridState{center: price, activeBuyLevels: map[int]bool{}, activeSellLevels: map[int]bool{}}
	state["grid"] = gs
	return gs
}

func (gridHandler) Evaluate(candles map[string][]types.Candle, cfg map[string]any, state map[string]any) Signal {
	symbol := configString(cfg, "ticker", "")
	series := candles[symbol]
	if len(series) == 0 {
		return hold(symbol, "no candle history")
	}
	price := series[0].Close // newest-first: index 0 is the latest closed candle

	spacing := configFloat(cfg, "spacing", price*0.01)
	recenterPct := configFloat(cfg, "recenterThresholdPct", 0.05)
	levels := configInt(cfg, "levels", 5)

	gs := loadGridState(state, price)

	if gs.center > 0 && absF(price-gs.center)/gs.center >= recenterPct {
		gs.center = price
		gs.activeBuyLevels = map[int]bool{}
		gs.activeSellLevels = map[int]bool{}
		return hold(symbol, "grid recentered")
	}

	for k := 1; k <= levels; k++ {
		buyTrigger := gs.center - float64(k)*spacing
		if price <= buyTrigger && !gs.activeBuyLevels[k] {
			gs.activeBuyLevels[k] = true
			return Signal{Action: ActionBuy, Symbol: symbol, Reason: fmt.Sprintf("grid level -%d triggered", k),
				Data: map[string]any{"level": k, "trigger": buyTrigger, "center": gs.center}}
		}
		sellTrigger := gs.center + float64(k)*spacing
		if price >= sellTrigger && !gs.activeSellLevels[k] {
			gs.activeSellLevels[k] = true
			return Signal{Action: ActionSell, Symbol: symbol, Reason: fmt.Sprintf("grid level +%d triggered", k),
				Data: map[string]any{"level": k, "trigger": sellTrigger, "center": gs.center}}
		}
	}
	return hold(symbol, "no grid level triggered")
}

func absF(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
