// Package market implements the market-data engine (spec.md §4.3): a
// per-instrument random-walk price generator, a regime state machine, and
// multi-interval candle aggregation. The engine never calls the hub or
// matcher directly — both subscribe on the eventbus.
package market

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/distuv"

	"exchange-sim/internal/eventbus"
	"exchange-sim/internal/types"
)

// Config is one instrument's static profile plus its regime behavior.
type Config struct {
	Instrument types.Instrument
	Regime     RegimeConfig
	DriftPerTick float64
	TicksPerDay  float64
}

// instrumentState is the engine's live, mutable view of one symbol.
type instrumentState struct {
	cfg    Config
	mid    float64
	volume float64
	regime regimeState
	vol    float64 // realized short-window volatility estimate, feeds execcost

	shockSpreadMult float64 // >1 while a news shock cooldown is active
	shockTicksLeft  int
}

// Engine runs the fixed-period tick loop for a set of instruments.
type Engine struct {
	mu        sync.RWMutex
	instruments map[string]*instrumentState
	candles   *candleTrack
	bus       *eventbus.Bus
	log       zerolog.Logger
	rng       *rand.Rand
	tickPeriod time.Duration

	repoHealthy func() bool // nil means "assume healthy"

	stop chan struct{}
	done chan struct{}
}

// New builds an engine over the given instrument configs.
func New(configs []Config, bus *eventbus.Bus, tickPeriod time.Duration, log zerolog.Logger, seed int64) *Engine {
	e := &Engine{
		instruments: make(map[string]*instrumentState, len(configs)),
		candles:     newCandleTrack(),
		bus:         bus,
		log:         log.With().Str("component", "market.Engine").Logger(),
		rng:         rand.New(rand.NewSource(seed)),
		tickPeriod:  tickPeriod,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, c := range configs {
		e.instruments[c.Instrument.Symbol] = &instrumentState{
			cfg:    c,
			mid:    c.Instrument.StartingPrice,
			vol:    c.Instrument.VolatilityTarget,
			regime: regimeState{current: types.RegimeNormal},
		}
	}
	return e
}

// SetRepoHealthProbe wires a health predicate; when it returns false the
// engine keeps generating ticks in-memory but stops emitting CandleClosed
// events, matching the §4.3 failure model (backpressure, not stall).
func (e *Engine) SetRepoHealthProbe(probe func() bool) {
	e.repoHealthy = probe
}

// Run drives the tick loop until ctx-equivalent Stop is called.
// cmd/exchange launches it as its own goroutine.
func (e *Engine) Run() {
	ticker := time.NewTicker(e.tickPeriod)
	defer ticker.Stop()
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case t := <-ticker.C:
			e.tickPass(t.UnixMilli())
		}
	}
}

// Stop halts the tick loop and waits for the loop goroutine to exit.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

func (e *Engine) tickPass(tsMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ticks := make([]types.Tick, 0, len(e.instruments))
	regimes := make(map[string]types.Regime, len(e.instruments))

	healthy := true
	if e.repoHealthy != nil {
		healthy = e.repoHealthy()
	}

	for symbol, st := range e.instruments {
		prevMid := st.mid
		prevClose := prevMid
		regime := st.regime.step(st.cfg.Regime, e.rng)
		mult := st.cfg.Regime.Multipliers[regime]

		if st.shockTicksLeft > 0 {
			st.shockTicksLeft--
			if st.shockTicksLeft == 0 {
				st.shockSpreadMult = 1.0
			}
		}

		sigma := st.cfg.Instrument.VolatilityTarget * mult.Vol
		if sigma < 0 {
			sigma = 0
		}
		draw := distuv.Normal{Mu: st.cfg.DriftPerTick, Sigma: sigma, Src: e.rng}.Rand()
		st.mid = prevMid * (1 + draw)
		if st.mid <= 0 {
			st.mid = prevMid // guard against a pathological negative-price draw
		}
		st.vol = sigma

		spreadMult := mult.Liquidity
		if st.shockSpreadMult > 1 {
			spreadMult *= st.shockSpreadMult
		}
		halfSpreadBps := st.cfg.Instrument.BaseSpreadBps * spreadMult / 2
		halfSpread := st.mid * halfSpreadBps / 10000

		volDraw := math.Max(0, st.cfg.Instrument.AvgDailyDollarVol/math.Max(1, st.cfg.TicksPerDay)/st.mid*(0.5+e.rng.Float64()))
		st.volume += volDraw

		tick := types.Tick{
			Symbol:      symbol,
			Mid:         st.mid,
			Bid:         st.mid - halfSpread,
			Ask:         st.mid + halfSpread,
			Last:        st.mid,
			PrevClose:   prevClose,
			Volume:      st.volume,
			Volatility:  sigma,
			Regime:      regime,
			TimestampMs: tsMs,
		}
		ticks = append(ticks, tick)
		regimes[symbol] = regime

		closed := e.candles.apply(symbol, st.mid, volDraw, tsMs)
		if healthy {
			for _, c := range closed {
				e.bus.Candles.Publish(eventbus.CandleClosed{Candle: c})
			}
		} else if len(closed) > 0 {
			e.log.Warn().Msg("repository unavailable: dropping candle persistence for this rollover")
		}
	}

	e.bus.Ticks.Publish(eventbus.TickBatch{Ticks: ticks, Regime: regimes, Timestamp: tsMs})
}

// ApplyShock implements applyShock(symbol, impact_fraction) from §4.3: it
// jumps mid immediately, widens the spread for a cooldown window, and
// forces an event_shock regime transition for severity "high".
func (e *Engine) ApplyShock(symbol string, impactFraction float64, severityHigh bool, cooldownTicks int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.instruments[symbol]
	if !ok {
		return
	}
	st.mid *= 1 + impactFraction
	st.shockSpreadMult = 3.0
	st.shockTicksLeft = cooldownTicks
	if severityHigh {
		st.regime.current = types.RegimeEventShock
		st.regime.dwellTicks = 0
	}
}

// CurrentRegime returns symbol's live regime.
func (e *Engine) CurrentRegime(symbol string) (types.Regime, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.instruments[symbol]
	if !ok {
		return "", false
	}
	return st.regime.current, true
}

// RegimeMultipliers returns symbol's live regime multipliers, for the
// matcher/execcost integration.
func (e *Engine) RegimeMultipliers(symbol string) (types.RegimeMultipliers, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.instruments[symbol]
	if !ok {
		return types.RegimeMultipliers{}, false
	}
	return st.cfg.Regime.Multipliers[st.regime.current], true
}

// Snapshot returns the most recent tick fields for symbol without waiting
// for the next tick pass.
func (e *Engine) Snapshot(symbol string) (types.Tick, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.instruments[symbol]
	if !ok {
		return types.Tick{}, false
	}
	mult := st.cfg.Regime.Multipliers[st.regime.current]
	halfSpread := st.mid * st.cfg.Instrument.BaseSpreadBps * mult.Liquidity / 2 / 10000
	return types.Tick{
		Symbol: symbol, Mid: st.mid, Bid: st.mid - halfSpread, Ask: st.mid + halfSpread,
		Last: st.mid, Volume: st.volume, Volatility: st.vol, Regime: st.regime.current,
	}, true
}

// CurrentCandle returns the in-flight candle for (symbol, interval)
// without mutating engine state (§4.3: reading current candle supported
// without mutation).
func (e *Engine) CurrentCandle(symbol string, interval types.Interval) (types.Candle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.candles.snapshot(symbol, interval)
}

// Symbols lists every instrument the engine tracks.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.instruments))
	for s := range e.instruments {
		out = append(out, s)
	}
	return out
}
