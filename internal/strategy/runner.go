package strategy

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/repository"
	"exchange-sim/internal/sandbox"
	"exchange-sim/internal/types"
)

// PriceLookup resolves a symbol's current mid, used for sizing and for
// the custom-strategy sandbox's getPrice.
type PriceLookup func(symbol string) (float64, bool)

// Config parameterizes one Runner.
type Config struct {
	Interval       time.Duration // default 30s, per §4.7
	CandleInterval types.Interval
	CandleLookback int
	SandboxBudget  time.Duration
}

// activityEntry is one row of the runner's in-memory activity log, the
// accessor other components read through rather than touching the
// runner's internal maps directly (§5: "reads by other components go
// through the runner's getDashboardData accessor").
type activityEntry struct {
	At         time.Time
	FundID     string
	StrategyID string
	Kind       string // "signal" | "trade" | "blocked"
	Detail     string
}

// fundBook is the runner's in-memory ledger for one fund: positions and
// realized P&L per (strategy, symbol), kept separate from the user cash
// ledger (SPEC_FULL §12 Open Question decision).
type fundBook struct {
	mu          sync.Mutex
	positions   map[string]map[string]*strategyPosition // strategyID -> symbol -> position
	realizedPnL map[string]float64                       // strategyID -> cumulative realized P&L
	tradeCount  map[string]int
	dayPeak     map[string]float64 // fundID -> today's peak equity
	dayTrough   map[string]float64
	day         map[string]string // fundID -> UTC date the peak/trough belong to
}

type strategyPosition struct {
	Qty     float64
	AvgCost float64
}

func newFundBook() *fundBook {
	return &fundBook{
		positions:   make(map[string]map[string]*strategyPosition),
		realizedPnL: make(map[string]float64),
		tradeCount:  make(map[string]int),
		dayPeak:     make(map[string]float64),
		dayTrough:   make(map[string]float64),
		day:         make(map[string]string),
	}
}

// CandleSource fetches symbol's recent closed candles at the runner's
// configured interval/lookback (repository read, §6.3).
type CandleSource func(ctx context.Context, symbol string) ([]types.Candle, error)

// Runner is the periodic strategy loop (§4.7).
type Runner struct {
	repo    repository.Repository
	candles CandleSource
	price   PriceLookup
	sandbox *sandbox.Executor
	log     zerolog.Logger
	cfg     Config

	book *fundBook

	scratchMu sync.Mutex
	scratch   map[string]map[string]any // strategyID -> handler scratch state

	activityMu sync.Mutex
	activity   []activityEntry

	stop chan struct{}
}

// New builds a Runner. candleFor is called once per referenced symbol per
// tick to fetch its recent closed candles (repository read, §6.3).
func New(repo repository.Repository, candleFor CandleSource, price PriceLookup, cfg Config, log zerolog.Logger) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.CandleInterval == "" {
		cfg.CandleInterval = types.Interval1m
	}
	if cfg.CandleLookback <= 0 {
		cfg.CandleLookback = 200
	}
	return &Runner{
		repo: repo, candles: candleFor, price: price, cfg: cfg,
		sandbox: sandbox.New(cfg.SandboxBudget),
		log:     log.With().Str("component", "strategy.Runner").Logger(),
		book:    newFundBook(),
		scratch: make(map[string]map[string]any),
		stop:    make(chan struct{}),
	}
}

// Hydrate replays persisted strategy trades to restore in-memory position
// and realized-P&L state (§4.7 step 1), in chronological order.
func (r *Runner) Hydrate(ctx context.Context) error {
	trades, err := r.repo.GetAllStrategyTradesChronological(ctx)
	if err != nil {
		return err
	}
	r.book.mu.Lock()
	defer r.book.mu.Unlock()
	for _, t := range trades {
		r.applyTradeLocked(t)
	}
	return nil
}

// applyTradeLocked folds one strategy trade into the in-memory position
// and realized-P&L book, using the same weighted-average-cost rule as the
// matcher's fill path (§4.4 step 3 / §4.7 step 3: "update in-memory
// position & P&L via the same FIFO/weighted rules as §4.4 step 3").
// Caller must hold r.book.mu.
func (r *Runner) applyTradeLocked(t types.StrategyTrade) {
	bySymbol, ok := r.book.positions[t.StrategyID]
	if !ok {
		bySymbol = make(map[string]*strategyPosition)
		r.book.positions[t.StrategyID] = bySymbol
	}
	pos, ok := bySymbol[t.Symbol]
	if !ok {
		pos = &strategyPosition{}
		bySymbol[t.Symbol] = pos
	}

	signedQty := t.Side.Sign() * t.Qty
	if pos.Qty == 0 || sameSign(pos.Qty, signedQty) {
		newQty := pos.Qty + signedQty
		if newQty != 0 {
			pos.AvgCost = (pos.AvgCost*math.Abs(pos.Qty) + t.Price*math.Abs(signedQty)) / math.Abs(newQty)
		}
		pos.Qty = newQty
	} else {
		closingQty := math.Min(math.Abs(signedQty), math.Abs(pos.Qty))
		direction := 1.0
		if pos.Qty < 0 {
			direction = -1.0
		}
		r.book.realizedPnL[t.StrategyID] += direction * (t.Price - pos.AvgCost) * closingQty
		pos.Qty += signedQty
		if math.Abs(pos.Qty) < 1e-9 {
			pos.Qty = 0
		}
	}
	r.book.tradeCount[t.StrategyID]++
}

func sameSign(a, b float64) bool {
	return (a >= 0 && b >= 0) || (a <= 0 && b <= 0)
}

// Run drives the periodic loop (§4.7) until ctx is cancelled or Stop is
// called.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// Stop ends the loop started by Run.
func (r *Runner) Stop() { close(r.stop) }

// tick evaluates every active strategy once (§4.7 step 2).
func (r *Runner) tick(ctx context.Context) {
	strategies, err := r.repo.GetActiveStrategies(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("strategy: failed to load active strategies")
		return
	}
	for _, s := range strategies {
		if err := r.evaluateOne(ctx, s); err != nil {
			r.log.Error().Err(err).Str("strategyId", s.ID).Msg("strategy: evaluation failed")
		}
	}
}

// referencedSymbols extracts the tickers a strategy's config names.
func referencedSymbols(cfg map[string]any) []string {
	var out []string
	for _, key := range []string{"ticker", "tickerA", "tickerB"} {
		if v := configString(cfg, key, ""); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (r *Runner) loadCandles(ctx context.Context, symbols []string) (map[string][]types.Candle, error) {
	out := make(map[string][]types.Candle, len(symbols))
	for _, sym := range symbols {
		cs, err := r.candles(ctx, sym)
		if err != nil {
			return nil, err
		}
		out[sym] = cs
	}
	return out, nil
}

func (r *Runner) strategyScratch(strategyID string) map[string]any {
	r.scratchMu.Lock()
	defer r.scratchMu.Unlock()
	s, ok := r.scratch[strategyID]
	if !ok {
		s = make(map[string]any)
		r.scratch[strategyID] = s
	}
	return s
}

// evaluateOne runs one strategy's handler (or sandbox, for custom
// strategies), sizes and risk-checks any non-hold signal, and books a
// strategy_trade on success (§4.7 steps 2-3).
func (r *Runner) evaluateOne(ctx context.Context, s types.Strategy) error {
	var sig Signal

	if s.Type == types.StrategyCustom {
		out, err := r.evaluateCustom(ctx, s)
		if err != nil {
			r.logActivity(s.FundID, s.ID, "blocked", "sandbox error: "+err.Error())
			return nil
		}
		sig = out
	} else {
		handler := HandlerFor(s.Type)
		if handler == nil {
			return nil
		}
		symbols := referencedSymbols(s.Config)
		candles, err := r.loadCandles(ctx, symbols)
		if err != nil {
			return err
		}
		sig = handler.Evaluate(candles, s.Config, r.strategyScratch(s.ID))
	}

	if sig.Action == ActionHold || sig.Action == "" {
		return nil
	}
	r.logActivity(s.FundID, s.ID, "signal", string(sig.Action)+" "+sig.Symbol+": "+sig.Reason)

	return r.sizeAndExecute(ctx, s, sig)
}

// evaluateCustom runs a custom strategy's source through the sandbox
// (§4.7: "{prices, candles, getPrice, state, parameters, log}, no I/O").
func (r *Runner) evaluateCustom(ctx context.Context, s types.Strategy) (Signal, error) {
	source := configString(s.Config, "source", "")
	if source == "" {
		return Signal{}, apierr.New(apierr.Invalid, "custom strategy missing source")
	}
	paramsRaw, _ := s.Config["parameters"].(map[string]any)
	parameters := make(map[string]float64, len(paramsRaw))
	for k, v := range paramsRaw {
		if f, ok := v.(float64); ok {
			parameters[k] = f
		}
	}
	tickers := strings.Split(configString(s.Config, "tickers", ""), ",")
	prices := make(map[string]float64)
	candlesBySymbol := make(map[string][]types.Candle)
	for _, t := range tickers {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if px, ok := r.price(t); ok {
			prices[t] = px
		}
		if cs, err := r.candles(ctx, t); err == nil {
			candlesBySymbol[t] = cs
		}
	}

	scratch := r.strategyScratch(s.ID)
	out, err := r.sandbox.Run(ctx, source, sandbox.Input{
		Prices: prices, Candles: candlesBySymbol, Parameters: parameters, State: scratch,
	})
	if err != nil {
		return Signal{}, err
	}
	if out.State != nil {
		r.scratchMu.Lock()
		r.scratch[s.ID] = out.State
		r.scratchMu.Unlock()
	}
	return Signal{Action: Action(out.Signal), Symbol: out.Ticker, Reason: out.Reason, Data: out.Data}, nil
}

func (r *Runner) logActivity(fundID, strategyID, kind, detail string) {
	r.activityMu.Lock()
	defer r.activityMu.Unlock()
	r.activity = append(r.activity, activityEntry{At: time.Now(), FundID: fundID, StrategyID: strategyID, Kind: kind, Detail: detail})
	if len(r.activity) > 500 {
		r.activity = r.activity[len(r.activity)-500:]
	}
}

// ActivityLog is the runner's read accessor (§5: "getDashboardData(fundId,
// strategies)"), returning recent entries for one fund.
func (r *Runner) ActivityLog(fundID string, limit int) []activityEntry {
	r.activityMu.Lock()
	defer r.activityMu.Unlock()
	var out []activityEntry
	for i := len(r.activity) - 1; i >= 0 && len(out) < limit; i-- {
		if r.activity[i].FundID == fundID {
			out = append(out, r.activity[i])
		}
	}
	return out
}

// sizeAndExecute resolves order size (§4.7 step 3), evaluates risk
// guards, and on success books a strategy_trade and updates the in-memory
// book.
func (r *Runner) sizeAndExecute(ctx context.Context, s types.Strategy, sig Signal) error {
	price, ok := r.price(sig.Symbol)
	if !ok || price <= 0 {
		r.logActivity(s.FundID, s.ID, "blocked", "no live price for "+sig.Symbol)
		return nil
	}

	fundCapital, err := r.repo.GetNetCapital(ctx, s.FundID)
	if err != nil {
		return err
	}

	var targetNotional float64
	if fixed := configFloat(s.Config, "fixedNotionalUsd", 0); fixed > 0 {
		targetNotional = fixed
	} else {
		allocationPct := configFloat(s.Config, "allocationPct", 0.10)
		targetNotional = allocationPct * fundCapital
	}
	qty := math.Floor(targetNotional / price)
	if qty < 1 {
		qty = 1
	}

	if blocked, reason := r.checkRiskGuards(ctx, s, sig, qty, price, fundCapital); blocked {
		breach := types.RiskBreach{
			ID: uuid.NewString(), FundID: s.FundID, StrategyID: s.ID, Rule: reason, Severity: "blocking",
			Message: reason, Context: map[string]any{"symbol": sig.Symbol, "qty": qty, "price": price},
			CreatedAt: time.Now(),
		}
		if err := r.repo.InsertRiskBreach(ctx, breach); err != nil {
			return err
		}
		r.logActivity(s.FundID, s.ID, "blocked", reason)
		return nil
	}

	side := types.SideBuy
	if sig.Action == ActionSell {
		side = types.SideSell
	}
	trade := types.StrategyTrade{
		ID: uuid.NewString(), StrategyID: s.ID, FundID: s.FundID, Symbol: sig.Symbol, Side: side,
		Qty: qty, Price: price, Commission: 0, Reason: sig.Reason, ExecutedAt: time.Now(),
	}
	if err := r.repo.InsertStrategyTrade(ctx, trade); err != nil {
		return err
	}

	r.book.mu.Lock()
	r.applyTradeLocked(trade)
	r.book.mu.Unlock()

	r.logActivity(s.FundID, s.ID, "trade", string(side)+" "+formatQty(qty)+" "+sig.Symbol+" @ "+formatQty(price))
	return nil
}

func formatQty(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// checkRiskGuards evaluates the three projected guards (§4.7 "Risk
// guards"), enforced only when the fund's risk settings are enabled.
func (r *Runner) checkRiskGuards(ctx context.Context, s types.Strategy, sig Signal, qty, price, fundCapital float64) (bool, string) {
	settings, ok, err := r.repo.GetRiskSettings(ctx, s.FundID)
	if err != nil || !ok || !settings.Enabled {
		return false, ""
	}

	signedDelta := qty
	if sig.Action == ActionSell {
		signedDelta = -qty
	}
	r.book.mu.Lock()
	pos := r.book.positions[s.ID][sig.Symbol]
	projectedSymbolQty := qty
	if pos != nil {
		projectedSymbolQty = math.Abs(pos.Qty + signedDelta)
	}
	var strategyExposure float64
	for sym, p := range r.book.positions[s.ID] {
		if sym == sig.Symbol {
			continue
		}
		strategyExposure += math.Abs(p.Qty) * price
	}
	strategyExposure += projectedSymbolQty * price
	r.book.mu.Unlock()

	if fundCapital > 0 {
		if projectedSymbolQty*price > settings.MaxSingleSymbolPct*fundCapital {
			return true, "projected per-symbol exposure exceeds max_position_pct"
		}
		if strategyExposure > settings.MaxStrategyExposurePct*fundCapital {
			return true, "projected per-strategy exposure exceeds max_strategy_allocation_pct"
		}
	}

	if drawdown := r.dailyDrawdown(s.FundID, fundCapital); drawdown > settings.MaxDailyDrawdownPct {
		return true, "daily drawdown exceeds max_daily_drawdown_pct"
	}
	return false, ""
}

// dailyDrawdown tracks peak-to-trough equity within the current UTC day
// and returns the drawdown fraction observed so far (§4.7).
func (r *Runner) dailyDrawdown(fundID string, equity float64) float64 {
	r.book.mu.Lock()
	defer r.book.mu.Unlock()
	today := time.Now().UTC().Format("2006-01-02")
	if r.book.day[fundID] != today {
		r.book.day[fundID] = today
		r.book.dayPeak[fundID] = equity
		r.book.dayTrough[fundID] = equity
	}
	if equity > r.book.dayPeak[fundID] {
		r.book.dayPeak[fundID] = equity
	}
	if equity < r.book.dayTrough[fundID] {
		r.book.dayTrough[fundID] = equity
	}
	peak := r.book.dayPeak[fundID]
	if peak <= 0 {
		return 0
	}
	return (peak - r.book.dayTrough[fundID]) / peak
}

// CanDeploy implements the deploy gate (§4.7): a typed strategy may be
// started only if its latest backtest passed against the current config
// hash.
func CanDeploy(ctx context.Context, repo repository.Repository, s types.Strategy) (bool, string) {
	if s.Type == types.StrategyCustom {
		return true, ""
	}
	bt, ok, err := repo.GetLatestBacktestByStrategy(ctx, s.ID)
	if err != nil {
		return false, "backtest lookup failed: " + err.Error()
	}
	if !ok {
		return false, "no backtest on record for this strategy"
	}
	if bt.ConfigHash != s.ConfigHash {
		return false, "config changed since last backtest; re-backtest required"
	}
	if !bt.Passed {
		return false, "latest backtest did not pass"
	}
	return true, ""
}
