// Package types holds the entity structs shared across the exchange
// simulator: instruments, ticks, candles, orders, positions, trades, fund
// and strategy records. None of these types own behavior beyond small
// invariant helpers — the packages that mutate them (matcher, market,
// fund, strategy) own the rules.
package types

// AssetClass distinguishes the handful of instrument kinds the simulator
// quotes. It only affects cosmetic formatting and a couple of strategy
// defaults; the execution-cost model treats every class identically.
type AssetClass string

const (
	AssetEquity     AssetClass = "equity"
	AssetETF        AssetClass = "etf"
	AssetFX         AssetClass = "fx"
	AssetCrypto     AssetClass = "crypto"
	AssetCommodity  AssetClass = "commodity"
)

// Instrument is an immutable profile created once at boot and never
// mutated afterward.
type Instrument struct {
	Symbol           string     `json:"symbol"`
	AssetClass       AssetClass `json:"assetClass"`
	Decimals         int        `json:"decimals"`
	BaseSpreadBps    float64    `json:"baseSpreadBps"`
	ImpactCoeff      float64    `json:"impactCoeff"`
	AvgDailyDollarVol float64   `json:"adv"`
	CommissionBps    float64    `json:"commissionBps"`
	CommissionFloor  float64    `json:"commissionFloor"`
	ShortBorrowAPR   float64    `json:"shortBorrowApr"`
	StartingPrice    float64    `json:"startingPrice"`
	VolatilityTarget float64    `json:"volatilityTarget"`
	// SafeHaven dampens or inverts market-wide news impact (SPEC_FULL §12).
	SafeHaven bool `json:"safeHaven"`
}

// TickSize returns the minimum price increment implied by Decimals.
func (i Instrument) TickSize() float64 {
	tick := 1.0
	for d := 0; d < i.Decimals; d++ {
		tick /= 10
	}
	return tick
}
