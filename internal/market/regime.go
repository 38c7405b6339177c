package market

import (
	"math/rand"

	"exchange-sim/internal/types"
)

// RegimeConfig parameterizes the regime state machine for one instrument:
// a row-stochastic transition matrix plus the multipliers each regime
// applies to spread/impact, return volatility, and short borrow (§12 open
// question: transition matrix exposed as config, not hardcoded).
type RegimeConfig struct {
	Transitions map[types.Regime]map[types.Regime]float64
	Multipliers map[types.Regime]types.RegimeMultipliers
	MinDwellTicks map[types.Regime]int
}

// DefaultRegimeConfig returns the baseline regime behavior used when an
// instrument does not override it.
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		Transitions: map[types.Regime]map[types.Regime]float64{
			types.RegimeNormal: {
				types.RegimeNormal:        0.97,
				types.RegimeHighVolatility:       0.015,
				types.RegimeTightLiquidity: 0.01,
				types.RegimeEventShock:    0.005,
			},
			types.RegimeHighVolatility: {
				types.RegimeNormal:  0.10,
				types.RegimeHighVolatility: 0.88,
				types.RegimeTightLiquidity: 0.015,
				types.RegimeEventShock:    0.005,
			},
			types.RegimeTightLiquidity: {
				types.RegimeNormal:        0.12,
				types.RegimeTightLiquidity: 0.87,
				types.RegimeHighVolatility:       0.005,
				types.RegimeEventShock:    0.005,
			},
			types.RegimeEventShock: {
				types.RegimeNormal:  0.55,
				types.RegimeHighVolatility: 0.35,
				types.RegimeTightLiquidity: 0.08,
				types.RegimeEventShock:    0.02,
			},
		},
		Multipliers: map[types.Regime]types.RegimeMultipliers{
			types.RegimeNormal:        {Liquidity: 1.0, Vol: 1.0, Borrow: 1.0},
			types.RegimeHighVolatility:       {Liquidity: 1.4, Vol: 2.5, Borrow: 1.2},
			types.RegimeTightLiquidity: {Liquidity: 2.2, Vol: 1.3, Borrow: 1.5},
			types.RegimeEventShock:    {Liquidity: 3.0, Vol: 3.5, Borrow: 2.0},
		},
		MinDwellTicks: map[types.Regime]int{
			types.RegimeNormal:        0,
			types.RegimeHighVolatility:       10,
			types.RegimeTightLiquidity: 10,
			types.RegimeEventShock:    3,
		},
	}
}

// regimeState tracks one instrument's current regime and how long it has
// held it, so MinDwellTicks can be enforced.
type regimeState struct {
	current    types.Regime
	dwellTicks int
}

// step advances the regime state machine by one tick, returning the
// (possibly unchanged) new regime.
func (s *regimeState) step(cfg RegimeConfig, rng *rand.Rand) types.Regime {
	s.dwellTicks++
	if s.dwellTicks < cfg.MinDwellTicks[s.current] {
		return s.current
	}
	row := cfg.Transitions[s.current]
	roll := rng.Float64()
	var cum float64
	var fallback types.Regime = s.current
	for regime, p := range row {
		cum += p
		fallback = regime
		if roll <= cum {
			if regime != s.current {
				s.current = regime
				s.dwellTicks = 0
			}
			return s.current
		}
	}
	// rounding slop: land on the last-seen candidate
	if fallback != s.current {
		s.current = fallback
		s.dwellTicks = 0
	}
	return s.current
}
