package main

import (
	"exchange-sim/internal/market"
	"exchange-sim/internal/types"
)

// catalogue is the static instrument universe fixed at boot (spec.md
// §3: Instrument is "created once at boot and never mutated
// afterward"). A handful of symbols across every AssetClass so the
// regime/news/risk machinery all have something representative to
// exercise.
func catalogue() []market.Config {
	regime := market.DefaultRegimeConfig()
	return []market.Config{
		{
			Instrument: types.Instrument{
				Symbol: "NORA", AssetClass: types.AssetEquity, Decimals: 2,
				BaseSpreadBps: 6, ImpactCoeff: 0.12, AvgDailyDollarVol: 50_000_000,
				CommissionBps: 1, CommissionFloor: 1, StartingPrice: 142.50, VolatilityTarget: 0.22,
			},
			Regime: regime, TicksPerDay: 390,
		},
		{
			Instrument: types.Instrument{
				Symbol: "QLTX", AssetClass: types.AssetEquity, Decimals: 2,
				BaseSpreadBps: 8, ImpactCoeff: 0.18, AvgDailyDollarVol: 8_000_000,
				CommissionBps: 1.5, CommissionFloor: 1, StartingPrice: 38.10, VolatilityTarget: 0.35,
			},
			Regime: regime, TicksPerDay: 390,
		},
		{
			Instrument: types.Instrument{
				Symbol: "SPXT", AssetClass: types.AssetETF, Decimals: 2,
				BaseSpreadBps: 2, ImpactCoeff: 0.05, AvgDailyDollarVol: 500_000_000,
				CommissionBps: 0.5, CommissionFloor: 0.5, StartingPrice: 512.00, VolatilityTarget: 0.14,
				SafeHaven: true,
			},
			Regime: regime, TicksPerDay: 390,
		},
		{
			Instrument: types.Instrument{
				Symbol: "EURUSD", AssetClass: types.AssetFX, Decimals: 5,
				BaseSpreadBps: 1, ImpactCoeff: 0.02, AvgDailyDollarVol: 2_000_000_000,
				CommissionBps: 0.2, CommissionFloor: 0.1, StartingPrice: 1.0850, VolatilityTarget: 0.07,
				SafeHaven: true,
			},
			Regime: regime, TicksPerDay: 1440,
		},
		{
			Instrument: types.Instrument{
				Symbol: "BTCUSD", AssetClass: types.AssetCrypto, Decimals: 1,
				BaseSpreadBps: 10, ImpactCoeff: 0.3, AvgDailyDollarVol: 900_000_000,
				CommissionBps: 5, CommissionFloor: 1, StartingPrice: 62000, VolatilityTarget: 0.6,
			},
			Regime: regime, TicksPerDay: 1440,
		},
		{
			Instrument: types.Instrument{
				Symbol: "XAUUSD", AssetClass: types.AssetCommodity, Decimals: 2,
				BaseSpreadBps: 3, ImpactCoeff: 0.08, AvgDailyDollarVol: 150_000_000,
				CommissionBps: 0.8, CommissionFloor: 0.5, StartingPrice: 2350.00, VolatilityTarget: 0.12,
				SafeHaven: true,
			},
			Regime: regime, TicksPerDay: 390,
		},
	}
}
