// Package execcost implements the execution-cost model (spec.md §4.2): a
// single pure function mapping an order's context to a simulated fill
// price and cost breakdown. It performs no I/O and reads no clock —
// everything it needs arrives as an argument — so it is safe to call
// concurrently from the matcher, the backtester, and the place-order
// estimate endpoint without synchronization.
package execcost

import (
	"math"

	"exchange-sim/internal/types"
)

// YearMs is the number of milliseconds in a 365-day year, used to prorate
// borrow accrual.
const YearMs = 365 * 24 * 60 * 60 * 1000

// Input bundles every argument estimate() needs (spec.md §4.2).
type Input struct {
	Profile       types.Instrument
	Side          types.Side
	Qty           float64
	RefPrice      float64
	Mid           float64
	Volatility    float64
	Regime        types.RegimeMultipliers
	OpensShortQty float64 // 0 if this fill does not open/hold short exposure
	ElapsedMs     int64   // time the short side of this fill has been held
}

// Result is the cost breakdown for one simulated fill.
type Result struct {
	SlippageBps   float64
	FillPrice     float64
	SlippageCost  float64
	Commission    float64
	BorrowAccrual float64
	TotalCost     float64
	QualityScore  float64
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Estimate runs the deterministic cost model described in spec.md §4.2
// steps 1-8.
func Estimate(in Input) Result {
	notional := in.Qty * in.RefPrice

	volMult := clamp(1+25*in.Volatility, 0.85, 4.0)
	adv := in.Profile.AvgDailyDollarVol
	if adv <= 0 {
		adv = 1 // avoid division by zero for a misconfigured profile
	}
	impactBps := in.Profile.BaseSpreadBps +
		in.Profile.ImpactCoeff*math.Pow(notional/adv, 0.6)*in.Regime.Liquidity*volMult

	direction := in.Side.Sign()
	fillPrice := in.RefPrice * (1 + direction*impactBps/10000)

	slippageCost := direction * (fillPrice - in.Mid) * in.Qty
	if slippageCost < 0 {
		slippageCost = 0
	}

	commission := math.Max(in.Profile.CommissionFloor, notional*in.Profile.CommissionBps/10000)

	var borrowAccrual float64
	if in.OpensShortQty > 0 && in.ElapsedMs > 0 {
		apr := in.Profile.ShortBorrowAPR * in.Regime.Borrow
		borrowAccrual = in.OpensShortQty * fillPrice * apr * (float64(in.ElapsedMs) / float64(YearMs))
	}

	totalCost := slippageCost + commission + borrowAccrual

	commBps := 0.0
	if notional > 0 {
		commBps = commission / notional * 10000
	}
	borrowBps := 0.0
	if notional > 0 {
		borrowBps = borrowAccrual / notional * 10000
	}
	quality := clamp(100-0.6*impactBps-0.3*commBps-0.1*borrowBps, 0, 100)

	return Result{
		SlippageBps:   impactBps,
		FillPrice:     fillPrice,
		SlippageCost:  slippageCost,
		Commission:    commission,
		BorrowAccrual: borrowAccrual,
		TotalCost:     totalCost,
		QualityScore:  quality,
	}
}
