// Package strategy implements the periodic strategy runner and its typed
// handlers (spec.md §4.7/§4.9), generalized from the teacher's per-key
// strategy engine (internal/strategy/engine.go: a map of running
// instrument|period loops, each polling historical bars and emitting a
// signal) to a per-fund, per-strategy-row loop driving a shared handler
// interface instead of a hardcoded Go type per strategy.
package strategy

import (
	"exchange-sim/internal/types"
)

// Action is the tri-state outcome of one handler evaluation (§4.7 step 3:
// "each handler returns {signal: buy|sell|hold, ...}").
type Action string

const (
	ActionHold Action = "hold"
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Signal is what a typed handler hands back to the runner.
type Signal struct {
	Action Action
	Symbol string
	Reason string
	Data   map[string]any
}

// Handler evaluates one strategy's config against recent candles. state is
// a per-(fund,strategy) scratch map the runner keeps in memory across
// calls (grid levels, pairs direction) — handlers read and mutate it
// in-place.
type Handler interface {
	Evaluate(candles map[string][]types.Candle, config map[string]any, state map[string]any) Signal
}

// HandlerFor resolves the typed handler for a strategy type. Custom
// strategies are routed through internal/sandbox instead and never reach
// this function.
func HandlerFor(t types.StrategyType) Handler {
	switch t {
	case types.StrategyMeanReversion:
		return meanReversionHandler{}
	case types.StrategyMomentum:
		return momentumHandler{}
	case types.StrategyGrid:
		return gridHandler{}
	case types.StrategyPairs:
		return pairsHandler{}
	default:
		return nil
	}
}

func hold(symbol, reason string) Signal {
	return Signal{Action: ActionHold, Symbol: symbol, Reason: reason}
}

// configFloat reads a numeric config value with a default, tolerating the
// float64/int shapes a map[string]any decoded from JSON or built by hand
// might hold; any other type (json.Number included) yields def.
func configFloat(cfg map[string]any, key string, def float64) float64 {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

func configInt(cfg map[string]any, key string, def int) int {
	return int(configFloat(cfg, key, float64(def)))
}

func configString(cfg map[string]any, key, def string) string {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// closesOldestFirst reverses a newest-first candle slice (the repository's
// native read order, §6.3) into the oldest-first order talib/gonum
// expect.
func closesOldestFirst(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	n := len(candles)
	for i, c := range candles {
		out[n-1-i] = c.Close
	}
	return out
}
