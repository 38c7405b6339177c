package execcost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange-sim/internal/types"
)

func profile() types.Instrument {
	return types.Instrument{
		Symbol:            "AAA",
		Decimals:          2,
		BaseSpreadBps:     5,
		ImpactCoeff:       2,
		AvgDailyDollarVol: 10_000_000,
		CommissionBps:     2,
		CommissionFloor:   1,
		ShortBorrowAPR:    0.03,
		StartingPrice:     100,
		VolatilityTarget:  0.01,
	}
}

func normalRegime() types.RegimeMultipliers {
	return types.RegimeMultipliers{Liquidity: 1, Vol: 1, Borrow: 1}
}

func TestCostMonotoneInQty(t *testing.T) {
	p := profile()
	r1 := Estimate(Input{Profile: p, Side: types.SideBuy, Qty: 100, RefPrice: 100, Mid: 100, Regime: normalRegime()})
	r2 := Estimate(Input{Profile: p, Side: types.SideBuy, Qty: 1000, RefPrice: 100, Mid: 100, Regime: normalRegime()})
	assert.GreaterOrEqual(t, r2.TotalCost, r1.TotalCost)
}

func TestDirectionalFill(t *testing.T) {
	p := profile()
	buy := Estimate(Input{Profile: p, Side: types.SideBuy, Qty: 100, RefPrice: 100, Mid: 100, Regime: normalRegime()})
	sell := Estimate(Input{Profile: p, Side: types.SideSell, Qty: 100, RefPrice: 100, Mid: 100, Regime: normalRegime()})
	assert.GreaterOrEqual(t, buy.FillPrice, 100.0)
	assert.LessOrEqual(t, sell.FillPrice, 100.0)
}

func TestBorrowLinearInTime(t *testing.T) {
	p := profile()
	in := Input{Profile: p, Side: types.SideSell, Qty: 100, RefPrice: 100, Mid: 100, Regime: normalRegime(), OpensShortQty: 100}
	t1 := in
	t1.ElapsedMs = 1_000_000
	t2 := in
	t2.ElapsedMs = 2_000_000
	r1 := Estimate(t1)
	r2 := Estimate(t2)
	require.Greater(t, r1.BorrowAccrual, 0.0)
	ratio := r2.BorrowAccrual / r1.BorrowAccrual
	assert.InDelta(t, 2.0, ratio, 0.01)
}

func TestCommissionFloor(t *testing.T) {
	p := profile()
	r := Estimate(Input{Profile: p, Side: types.SideBuy, Qty: 1, RefPrice: 1, Mid: 1, Regime: normalRegime()})
	assert.Equal(t, p.CommissionFloor, r.Commission)
}

func TestQualityScoreBounded(t *testing.T) {
	p := profile()
	r := Estimate(Input{Profile: p, Side: types.SideBuy, Qty: 1_000_000, RefPrice: 100, Mid: 100, Volatility: 1, Regime: types.RegimeMultipliers{Liquidity: 5, Vol: 5, Borrow: 5}})
	assert.GreaterOrEqual(t, r.QualityScore, 0.0)
	assert.LessOrEqual(t, r.QualityScore, 100.0)
}

func TestDeterministic(t *testing.T) {
	p := profile()
	in := Input{Profile: p, Side: types.SideBuy, Qty: 250, RefPrice: 101.25, Mid: 101, Volatility: 0.02, Regime: normalRegime(), OpensShortQty: 0, ElapsedMs: 5000}
	a := Estimate(in)
	b := Estimate(in)
	assert.Equal(t, a, b)
}
