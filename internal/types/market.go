package types

// Regime names the market-state machine's states (§4.3).
type Regime string

const (
	RegimeNormal         Regime = "normal"
	RegimeHighVolatility Regime = "high_volatility"
	RegimeTightLiquidity Regime = "tight_liquidity"
	RegimeEventShock     Regime = "event_shock"
)

// RegimeMultipliers are the three multipliers every regime exposes.
type RegimeMultipliers struct {
	Liquidity float64 `json:"liquidity"`
	Vol       float64 `json:"vol"`
	Borrow    float64 `json:"borrow"`
}

// Tick is one point-in-time quote for one instrument. Ephemeral —
// produced per emit, never persisted on its own (candles are the
// persisted aggregate).
type Tick struct {
	Symbol     string  `json:"ticker"`
	Mid        float64 `json:"mid"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	Last       float64 `json:"price"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	PrevClose  float64 `json:"prevClose"`
	Volume     float64 `json:"volume"`
	Volatility float64 `json:"volatility"`
	Regime     Regime  `json:"regime"`
	TimestampMs int64  `json:"timestamp"`
}

// ChangePct is the session change expressed against PrevClose, matching
// the outbound tick frame's `changePct` field (§6.1).
func (t Tick) ChangePct() float64 {
	if t.PrevClose == 0 {
		return 0
	}
	return (t.Last - t.PrevClose) / t.PrevClose * 100
}

// Interval names one of the candle aggregation periods (§4.3).
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1D  Interval = "1D"
)

// AllIntervals lists every interval the engine aggregates.
var AllIntervals = []Interval{Interval1m, Interval5m, Interval15m, Interval1h, Interval4h, Interval1D}

// IntervalDurationMs returns the bucket width for an interval in
// milliseconds.
func IntervalDurationMs(i Interval) int64 {
	switch i {
	case Interval1m:
		return 60_000
	case Interval5m:
		return 5 * 60_000
	case Interval15m:
		return 15 * 60_000
	case Interval1h:
		return 60 * 60_000
	case Interval4h:
		return 4 * 60 * 60_000
	case Interval1D:
		return 24 * 60 * 60_000
	default:
		return 60_000
	}
}

// Candle uniquely identified by (Symbol, Interval, OpenTimeMs).
type Candle struct {
	Symbol     string   `json:"symbol"`
	Interval   Interval `json:"interval"`
	OpenTimeMs int64    `json:"openTime"`
	Open       float64  `json:"open"`
	High       float64  `json:"high"`
	Low        float64  `json:"low"`
	Close      float64  `json:"close"`
	Volume     float64  `json:"volume"`
	// Closed is true once the interval has elapsed and the candle has been
	// persisted; an in-flight candle returned by a "current" accessor is
	// never mutated by the reader.
	Closed bool `json:"closed"`
}

// AlignOpenTime floors tsMs to the start of its interval bucket.
func AlignOpenTime(tsMs int64, i Interval) int64 {
	d := IntervalDurationMs(i)
	return (tsMs / d) * d
}

// NewsEvent is an immutable record of one templated market event.
type NewsEvent struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"ticker"` // "MARKET" for market-wide events
	Type         string  `json:"type"`
	Severity     string  `json:"severity"` // low | medium | high
	Headline     string  `json:"headline"`
	Body         string  `json:"body"`
	PriceImpact  float64 `json:"price_impact"` // fraction, e.g. 0.03 = +3%
	FiredAtMs    int64   `json:"fired_at"`
}
