// Package backtest replays a strategy's handler over historical candles
// (spec.md §4.8) using the same execution-cost model the live matcher
// applies to real fills, and judges the result against pass/fail
// thresholds pinned to the strategy's config hash.
package backtest

import (
	"context"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/execcost"
	"exchange-sim/internal/sandbox"
	"exchange-sim/internal/strategy"
	"exchange-sim/internal/types"
)

// InstrumentLookup resolves a symbol's static cost-model profile, the
// same collaborator shape the matcher takes (internal/matcher.InstrumentLookup).
type InstrumentLookup func(symbol string) (types.Instrument, bool)

// CandleSource fetches a symbol's most recent closed candles, newest
// first, bounded to limit (the repository's native read order, §6.3).
type CandleSource func(ctx context.Context, symbol string, interval types.Interval, limit int) ([]types.Candle, error)

const (
	minWindow     = 100
	maxWindow     = 2000
	defaultWindow = 500

	// virtualCapital is the notional the replay sizes positions against
	// when a strategy's config doesn't request a fixed notional — the
	// same §4.7 sizing rule the live runner uses, grounded on a nominal
	// starting balance rather than a real fund's fluid net capital.
	virtualCapital = 100000.0
)

// Request is one backtest invocation's parameters.
type Request struct {
	Interval   types.Interval
	Window     int // candle count; below 100 (including 0) falls back to 500, above 2000 is capped at 2000
	Thresholds *types.BacktestThresholds
}

// Runner replays strategies against historical candles.
type Runner struct {
	candles CandleSource
	inst    InstrumentLookup
	sandbox *sandbox.Executor
}

// New builds a Runner.
func New(candles CandleSource, inst InstrumentLookup) *Runner {
	return &Runner{candles: candles, inst: inst, sandbox: sandbox.New(0)}
}

// book is the replay's in-memory position ledger, the same weighted-
// average-cost rule as the live strategy book (internal/strategy.fundBook)
// and the matcher's fill path (§4.4 step 3), scaled down to one symbol.
type book struct {
	cash        float64
	qty         float64
	avgCost     float64
	realized    []float64 // one entry per fully- or partially-closing trade
	tradeCount  int
	equityCurve []float64
}

func newBook(startingCash float64) *book {
	return &book{cash: startingCash}
}

func (b *book) equity(mark float64) float64 {
	return b.cash + b.qty*mark
}

// apply folds one simulated fill into the book. Cash moves by the raw
// qty*price flow (buys cost cash, sells return it) regardless of whether
// the fill opens or closes exposure; realizedPnL is recorded separately
// purely for the win-rate/avg-win/avg-loss metrics, the same split the
// live strategy book (internal/strategy.fundBook) and the matcher's fill
// path (§4.4 step 3) use.
func (b *book) apply(side types.Side, qty, fillPrice, commission float64) {
	b.tradeCount++
	signedQty := side.Sign() * qty
	b.cash -= signedQty*fillPrice + commission

	if b.qty == 0 || sameSign(b.qty, signedQty) {
		newQty := b.qty + signedQty
		if newQty != 0 {
			b.avgCost = (b.avgCost*math.Abs(b.qty) + fillPrice*math.Abs(signedQty)) / math.Abs(newQty)
		}
		b.qty = newQty
		return
	}

	closingQty := math.Min(math.Abs(signedQty), math.Abs(b.qty))
	direction := 1.0
	if b.qty < 0 {
		direction = -1.0
	}
	b.realized = append(b.realized, direction*(fillPrice-b.avgCost)*closingQty)
	b.qty += signedQty
	if math.Abs(b.qty) < 1e-9 {
		b.qty = 0
	} else if sameSign(b.qty, signedQty) {
		b.avgCost = fillPrice // flipped through zero; the newly opened side starts fresh
	}
}

func sameSign(a, b float64) bool {
	return (a >= 0 && b >= 0) || (a <= 0 && b <= 0)
}

func sizeQty(cfg map[string]any, price, capital float64) float64 {
	if fixed := configFloat(cfg, "fixedNotionalUsd", 0); fixed > 0 {
		q := math.Floor(fixed / price)
		if q < 1 {
			q = 1
		}
		return q
	}
	allocationPct := configFloat(cfg, "allocationPct", 0.10)
	q := math.Floor(allocationPct * capital / price)
	if q < 1 {
		q = 1
	}
	return q
}

func configFloat(cfg map[string]any, key string, def float64) float64 {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	if f, ok := v.(float64); ok {
		return f
	}
	return def
}

// Run replays s over its bounded candle window and produces a pinned
// result (§4.8).
func (r *Runner) Run(ctx context.Context, s types.Strategy, req Request) (types.BacktestResult, error) {
	window := req.Window
	if window < minWindow {
		window = defaultWindow
	}
	if window > maxWindow {
		window = maxWindow
	}
	interval := req.Interval
	if interval == "" {
		interval = types.Interval1m
	}

	tickers := referencedSymbols(s.Config)
	if s.Type == types.StrategyCustom {
		tickers = customTickers(s.Config)
	}
	if len(tickers) == 0 {
		return types.BacktestResult{}, apierr.New(apierr.Invalid, "strategy config names no ticker to replay")
	}

	seriesBySymbol := make(map[string][]types.Candle, len(tickers))
	for _, sym := range tickers {
		cs, err := r.candles(ctx, sym, interval, window)
		if err != nil {
			return types.BacktestResult{}, fmt.Errorf("backtest: loading candles for %s: %w", sym, err)
		}
		seriesBySymbol[sym] = cs // newest-first, per repository convention
	}

	n := shortestSeries(seriesBySymbol)
	if n < 30 {
		return types.BacktestResult{}, apierr.New(apierr.Invalid, "insufficient candle history for a meaningful replay")
	}

	bk := newBook(virtualCapital)
	scratch := make(map[string]any)
	warmup := 30

	var equityReturns []float64
	prevEquity := virtualCapital

	for i := n - warmup - 1; i >= 0; i-- {
		windowBySymbol := make(map[string][]types.Candle, len(tickers))
		var markPrice float64
		for sym, series := range seriesBySymbol {
			windowBySymbol[sym] = series[i:]
			if sym == tickers[0] {
				markPrice = series[i].Close
			}
		}

		sig, err := r.evaluate(ctx, s, windowBySymbol, scratch)
		if err != nil {
			continue // a sandbox error on one bar surfaces as a blocked/hold bar, not an aborted replay
		}
		if sig.Action != strategy.ActionHold && sig.Action != "" {
			r.execute(s, sig, windowBySymbol, bk)
		}

		eq := bk.equity(markPrice)
		bk.equityCurve = append(bk.equityCurve, eq)
		if prevEquity != 0 {
			equityReturns = append(equityReturns, (eq-prevEquity)/prevEquity)
		}
		prevEquity = eq
	}

	metrics := computeMetrics(bk, equityReturns, virtualCapital)
	thresholds := types.DefaultThresholds(s.Type)
	if req.Thresholds != nil {
		thresholds = *req.Thresholds
	}
	passed := metrics.SharpeLike >= thresholds.MinSharpeLike &&
		metrics.MaxDrawdown <= thresholds.MaxDrawdown &&
		metrics.TradeCount >= thresholds.MinTradeCount &&
		metrics.NetReturn >= thresholds.MinNetReturn

	return types.BacktestResult{
		StrategyID: s.ID,
		FundID:     s.FundID,
		ConfigHash: s.ConfigHash,
		Metrics:    metrics,
		Thresholds: thresholds,
		Passed:     passed,
		Notes:      passFailNotes(passed, metrics, thresholds),
	}, nil
}

func (r *Runner) evaluate(ctx context.Context, s types.Strategy, candles map[string][]types.Candle, scratch map[string]any) (strategy.Signal, error) {
	if s.Type == types.StrategyCustom {
		source := configString(s.Config, "source", "")
		if source == "" {
			return strategy.Signal{}, apierr.New(apierr.Invalid, "custom strategy missing source")
		}
		prices := make(map[string]float64, len(candles))
		for sym, series := range candles {
			if len(series) > 0 {
				prices[sym] = series[0].Close
			}
		}
		out, err := r.sandbox.Run(ctx, source, sandbox.Input{Prices: prices, Candles: candles, State: scratch})
		if err != nil {
			return strategy.Signal{}, err
		}
		if out.State != nil {
			for k, v := range out.State {
				scratch[k] = v
			}
		}
		return strategy.Signal{Action: strategy.Action(out.Signal), Symbol: out.Ticker, Reason: out.Reason}, nil
	}
	handler := strategy.HandlerFor(s.Type)
	if handler == nil {
		return strategy.Signal{}, apierr.New(apierr.Invalid, "no handler for strategy type")
	}
	return handler.Evaluate(candles, s.Config, scratch), nil
}

func (r *Runner) execute(s types.Strategy, sig strategy.Signal, candles map[string][]types.Candle, bk *book) {
	series, ok := candles[sig.Symbol]
	if !ok || len(series) == 0 {
		return
	}
	closePrice := series[0].Close

	profile := types.Instrument{BaseSpreadBps: 2, ImpactCoeff: 0.1, AvgDailyDollarVol: 1_000_000, CommissionBps: 1, StartingPrice: closePrice}
	if r.inst != nil {
		if p, ok := r.inst(sig.Symbol); ok {
			profile = p
		}
	}

	side := types.SideBuy
	if sig.Action == strategy.ActionSell {
		side = types.SideSell
	}
	qty := sizeQty(s.Config, closePrice, virtualCapital)

	cost := execcost.Estimate(execcost.Input{
		Profile: profile, Side: side, Qty: qty, RefPrice: closePrice, Mid: closePrice,
		Regime: types.RegimeMultipliers{Liquidity: 1, Vol: 1, Borrow: 1},
	})
	bk.apply(side, qty, cost.FillPrice, cost.Commission)
}

func shortestSeries(seriesBySymbol map[string][]types.Candle) int {
	n := -1
	for _, s := range seriesBySymbol {
		if n < 0 || len(s) < n {
			n = len(s)
		}
	}
	if n < 0 {
		return 0
	}
	return n
}

func computeMetrics(bk *book, equityReturns []float64, startingCapital float64) types.BacktestMetrics {
	var netReturn, maxDrawdown, sharpe float64
	if len(bk.equityCurve) > 0 {
		final := bk.equityCurve[len(bk.equityCurve)-1]
		netReturn = (final - startingCapital) / startingCapital
		maxDrawdown = maxDrawdownOf(bk.equityCurve)
	}
	if len(equityReturns) > 1 {
		mean := stat.Mean(equityReturns, nil)
		sd := stat.StdDev(equityReturns, nil)
		if sd > 0 {
			sharpe = mean / sd * math.Sqrt(float64(len(equityReturns)))
		}
	}

	var wins, losses []float64
	for _, pnl := range bk.realized {
		if pnl >= 0 {
			wins = append(wins, pnl)
		} else {
			losses = append(losses, pnl)
		}
	}
	winRate := 0.0
	if total := len(wins) + len(losses); total > 0 {
		winRate = float64(len(wins)) / float64(total)
	}

	return types.BacktestMetrics{
		SharpeLike:  sharpe,
		MaxDrawdown: maxDrawdown,
		TradeCount:  bk.tradeCount,
		NetReturn:   netReturn,
		WinRate:     winRate,
		AvgWin:      avg(wins),
		AvgLoss:     avg(losses),
	}
}

func maxDrawdownOf(curve []float64) float64 {
	peak := curve[0]
	maxDD := 0.0
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func avg(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func passFailNotes(passed bool, m types.BacktestMetrics, t types.BacktestThresholds) string {
	if passed {
		return fmt.Sprintf("passed: sharpe=%.3f dd=%.3f trades=%d return=%.3f", m.SharpeLike, m.MaxDrawdown, m.TradeCount, m.NetReturn)
	}
	return fmt.Sprintf("failed thresholds: sharpe=%.3f(min %.3f) dd=%.3f(max %.3f) trades=%d(min %d) return=%.3f(min %.3f)",
		m.SharpeLike, t.MinSharpeLike, m.MaxDrawdown, t.MaxDrawdown, m.TradeCount, t.MinTradeCount, m.NetReturn, t.MinNetReturn)
}

func referencedSymbols(cfg map[string]any) []string {
	var out []string
	for _, key := range []string{"ticker", "tickerA", "tickerB"} {
		if v := configString(cfg, key, ""); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func customTickers(cfg map[string]any) []string {
	raw := configString(cfg, "tickers", "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, tok := range strings.Split(raw, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
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
