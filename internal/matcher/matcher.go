// Package matcher implements the order matcher (spec.md §4.4): invoked
// once per engine tick pass, it scans open orders, evaluates each against
// the tick's reference prices, and books fills through the repository.
package matcher

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"exchange-sim/internal/eventbus"
	"exchange-sim/internal/execcost"
	"exchange-sim/internal/repository"
	"exchange-sim/internal/types"
)

// InstrumentLookup resolves a symbol's static profile.
type InstrumentLookup func(symbol string) (types.Instrument, bool)

// RegimeLookup resolves a symbol's live regime multipliers.
type RegimeLookup func(symbol string) (types.RegimeMultipliers, bool)

// Config parameterizes the matcher.
type Config struct {
	MaxConcurrentFills    int64
	MarginEquityThreshold float64 // equity at/below this triggers forced liquidation
}

// Matcher evaluates open orders against each tick batch.
type Matcher struct {
	repo   repository.Repository
	bus    *eventbus.Bus
	inst   InstrumentLookup
	regime RegimeLookup
	log    zerolog.Logger
	cfg    Config

	sem *semaphore.Weighted

	mu          sync.Mutex
	trailHigh   map[string]float64         // orderID -> highest/lowest mid observed since creation (in-memory, not persisted)
	liquidated  map[string]bool            // "userID|tickSymbol" margin-called this tick, for idempotence
	shortUsers  map[string]map[string]bool // symbol -> userID -> holds a short, tracked from fills so a bare short with no resting order still gets margin-checked
}

// New builds a Matcher wired to the repository and event bus.
func New(repo repository.Repository, bus *eventbus.Bus, inst InstrumentLookup, regime RegimeLookup, cfg Config, log zerolog.Logger) *Matcher {
	if cfg.MaxConcurrentFills <= 0 {
		cfg.MaxConcurrentFills = 8
	}
	m := &Matcher{
		repo: repo, bus: bus, inst: inst, regime: regime, cfg: cfg,
		log:        log.With().Str("component", "matcher.Matcher").Logger(),
		sem:        semaphore.NewWeighted(cfg.MaxConcurrentFills),
		trailHigh:  make(map[string]float64),
		liquidated: make(map[string]bool),
		shortUsers: make(map[string]map[string]bool),
	}
	bus.Ticks.Subscribe(m.onTickBatch)
	return m
}

// noteShortState records whether (userID, symbol) currently holds short
// exposure, so positionsShortOn can find it even between ticks where the
// user has no resting order on the book.
func (m *Matcher) noteShortState(userID, symbol string, qty float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qty < 0 {
		users, ok := m.shortUsers[symbol]
		if !ok {
			users = make(map[string]bool)
			m.shortUsers[symbol] = users
		}
		users[userID] = true
		return
	}
	if users, ok := m.shortUsers[symbol]; ok {
		delete(users, userID)
	}
}

// shortUserIDs returns every userID the matcher has seen open (and not
// yet close) a short position on symbol.
func (m *Matcher) shortUserIDs(symbol string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := m.shortUsers[symbol]
	out := make([]string, 0, len(users))
	for userID := range users {
		out = append(out, userID)
	}
	return out
}

// onTickBatch is the non-blocking, errors-logged entry point the engine
// drives once per tick pass (§4.4).
func (m *Matcher) onTickBatch(batch eventbus.TickBatch) {
	ctx := context.Background()
	m.mu.Lock()
	m.liquidated = make(map[string]bool)
	m.mu.Unlock()

	for _, tick := range batch.Ticks {
		orders, err := m.repo.GetOpenOrdersByTicker(ctx, tick.Symbol)
		if err != nil {
			m.log.Error().Err(err).Str("symbol", tick.Symbol).Msg("matcher: failed to load open orders")
			continue
		}
		for _, o := range orders {
			if err := m.evaluate(ctx, o, tick); err != nil {
				m.log.Error().Err(err).Str("orderId", o.ID).Msg("matcher: order evaluation failed")
			}
		}
		if err := m.checkMarginCalls(ctx, tick); err != nil {
			m.log.Error().Err(err).Str("symbol", tick.Symbol).Msg("matcher: margin check failed")
		}
	}
}

func (m *Matcher) evaluate(ctx context.Context, o types.Order, tick types.Tick) error {
	switch o.Type {
	case types.OrderMarket:
		ref := tick.Ask
		if o.Side == types.SideSell {
			ref = tick.Bid
		}
		return m.fill(ctx, o, ref, tick)

	case types.OrderLimit:
		if o.LimitPrice == nil {
			return fmt.Errorf("limit order %s missing limit price", o.ID)
		}
		crossed := (o.Side == types.SideBuy && tick.Mid <= *o.LimitPrice) ||
			(o.Side == types.SideSell && tick.Mid >= *o.LimitPrice)
		if !crossed {
			return nil
		}
		ref := *o.LimitPrice
		if o.Side == types.SideBuy {
			// Reference is the ask, not the mid: a buy lifts the ask, so that's
			// the price actually available to cross at.
			ref = math.Min(tick.Ask, *o.LimitPrice)
		} else {
			ref = math.Max(tick.Bid, *o.LimitPrice)
		}
		return m.fill(ctx, o, ref, tick)

	case types.OrderStop, types.OrderStopLoss, types.OrderTakeProfit:
		if o.StopPrice == nil {
			return fmt.Errorf("%s order %s missing stop price", o.Type, o.ID)
		}
		if !triggered(o.Side, tick.Mid, *o.StopPrice) {
			return nil
		}
		ref := tick.Ask
		if o.Side == types.SideSell {
			ref = tick.Bid
		}
		return m.fill(ctx, o, ref, tick)

	case types.OrderStopLimit:
		if o.StopPrice == nil || o.LimitPrice == nil {
			return fmt.Errorf("stop-limit order %s missing stop/limit price", o.ID)
		}
		if !triggered(o.Side, tick.Mid, *o.StopPrice) {
			return nil
		}
		crossed := (o.Side == types.SideBuy && tick.Mid <= *o.LimitPrice) ||
			(o.Side == types.SideSell && tick.Mid >= *o.LimitPrice)
		if !crossed {
			return nil
		}
		return m.fill(ctx, o, *o.LimitPrice, tick)

	case types.OrderTrailingStop:
		return m.evaluateTrailingStop(ctx, o, tick)
	}
	return nil
}

// evaluateTrailingStop maintains trail_high in memory and fires when mid
// retraces trail_pct from the extreme reached since the order's creation
// (§4.4: "maintain trail_high ... trigger when mid ≤ trail_high × (1 −
// trail_pct)" for a long-exit sell; symmetric for a short-cover buy).
func (m *Matcher) evaluateTrailingStop(ctx context.Context, o types.Order, tick types.Tick) error {
	if o.TrailPct == nil {
		return fmt.Errorf("trailing-stop order %s missing trail pct", o.ID)
	}
	m.mu.Lock()
	high, ok := m.trailHigh[o.ID]
	if !ok {
		high = tick.Mid
	}
	if o.Side == types.SideSell && tick.Mid > high {
		high = tick.Mid
	}
	if o.Side == types.SideBuy && (high == 0 || tick.Mid < high) {
		high = tick.Mid
	}
	m.trailHigh[o.ID] = high
	m.mu.Unlock()

	if o.Side == types.SideSell {
		if tick.Mid <= high*(1-*o.TrailPct) {
			return m.fill(ctx, o, tick.Bid, tick)
		}
		return nil
	}
	if tick.Mid >= high*(1+*o.TrailPct) {
		return m.fill(ctx, o, tick.Ask, tick)
	}
	return nil
}

// triggered reports whether ref has crossed stopPrice in the direction
// that activates a stop/stop-loss/take-profit order for side.
func triggered(side types.Side, ref, stopPrice float64) bool {
	if side == types.SideSell {
		return ref <= stopPrice
	}
	return ref >= stopPrice
}

// fill executes one order against refPrice: computes cost, validates
// cash, and books everything inside a single repository transaction
// (§4.4 steps 1-5).
func (m *Matcher) fill(ctx context.Context, o types.Order, refPrice float64, tick types.Tick) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.sem.Release(1)

	inst, ok := m.inst(o.Symbol)
	if !ok {
		return fmt.Errorf("matcher: unknown instrument %s", o.Symbol)
	}
	mult, ok := m.regime(o.Symbol)
	if !ok {
		mult = types.RegimeMultipliers{Liquidity: 1, Vol: 1, Borrow: 1}
	}

	remaining := o.Remaining()
	if remaining <= 0 {
		return nil
	}

	qty := remaining
	isPartial := false
	// Book-aware partial fill for limits: the simulated depth at the
	// crossed level (§4.5 step sizing) may be less than the remaining
	// order qty.
	if o.Type == types.OrderLimit {
		if depth := approxLevelDepth(tick); depth < qty {
			qty = depth
			isPartial = true
		}
	}
	if qty <= 0 {
		return nil
	}

	var opensShort float64
	if o.Side == types.SideSell {
		opensShort = qty
	}

	result := execcost.Estimate(execcost.Input{
		Profile: inst, Side: o.Side, Qty: qty, RefPrice: refPrice, Mid: tick.Mid,
		Volatility: tick.Volatility, Regime: mult, OpensShortQty: opensShort,
	})

	var finalQty float64
	var insufficientCash bool
	var filled eventbus.OrderFilled
	err := m.repo.RunInTransaction(ctx, "matcher.fill:"+o.ID, func(ctx context.Context, tx repository.Tx) error {
		cashDelta := -(qty*result.FillPrice + result.Commission)
		if o.Side == types.SideSell {
			cashDelta = qty*result.FillPrice - result.Commission
		}

		if _, err := tx.UpdateCashForUpdate(ctx, o.UserID, cashDelta); err != nil {
			insufficientCash = true
			return err
		}

		pos, existed, err := tx.GetPositionByUserAndTicker(ctx, o.UserID, o.Symbol)
		if err != nil {
			return err
		}
		signedQty := o.Side.Sign() * qty
		var realizedPnL float64
		if !existed {
			pos = types.Position{UserID: o.UserID, Symbol: o.Symbol, Qty: signedQty, AvgCost: result.FillPrice, CostBasis: signedQty * result.FillPrice}
		} else if sameDirection(pos.Qty, signedQty) {
			newQty := pos.Qty + signedQty
			pos.AvgCost = (pos.AvgCost*math.Abs(pos.Qty) + result.FillPrice*math.Abs(signedQty)) / math.Abs(newQty)
			pos.Qty = newQty
			pos.CostBasis = pos.Qty * pos.AvgCost
		} else {
			closingQty := math.Min(math.Abs(signedQty), math.Abs(pos.Qty))
			direction := 1.0
			if pos.Qty < 0 {
				direction = -1.0
			}
			realizedPnL = direction * (result.FillPrice - pos.AvgCost) * closingQty
			pos.Qty += signedQty
			if math.Abs(pos.Qty) < 1e-9 {
				pos.Qty = 0
			}
			pos.CostBasis = pos.Qty * pos.AvgCost
		}
		finalQty = pos.Qty

		if pos.Qty == 0 {
			if err := tx.DeletePositionIfZero(ctx, o.UserID, o.Symbol); err != nil {
				return err
			}
		} else if err := tx.UpsertPosition(ctx, pos); err != nil {
			return err
		}

		trade := types.Trade{
			ID: uuid.NewString(), UserID: o.UserID, OrderID: o.ID, Symbol: o.Symbol, Side: o.Side,
			Qty: qty, FillPrice: result.FillPrice, GrossNotional: qty * result.FillPrice,
			Commission: result.Commission, SlippageCost: result.SlippageCost, BorrowCost: result.BorrowAccrual,
			RealizedPnL: realizedPnL, Regime: tick.Regime, ExecutedAt: time.Now(),
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}

		newFilled := o.FilledQty + qty
		status := types.OrderFilled
		if isPartial && newFilled < o.Qty {
			status = types.OrderPartial
		}
		if err := tx.UpdateFilledQtyStatus(ctx, o.ID, newFilled, status, ""); err != nil {
			return err
		}

		if status == types.OrderFilled && o.OCOGroupID != nil {
			if err := m.cancelOCOSiblings(ctx, tx, *o.OCOGroupID, o.ID); err != nil {
				return err
			}
		}

		o.FilledQty = newFilled
		o.Status = status
		filled = eventbus.OrderFilled{Trade: trade, Order: o}
		return nil
	})
	if err != nil {
		if insufficientCash {
			// The cash-debit transaction rolled back, which would otherwise
			// roll back a reject status write made inside it too; commit the
			// rejection in its own transaction so the order doesn't stay open.
			if rejectErr := m.repo.UpdateFilledQtyStatus(ctx, o.ID, o.FilledQty, types.OrderRejected, "insufficient_cash"); rejectErr != nil {
				m.log.Error().Err(rejectErr).Str("orderId", o.ID).Msg("matcher: failed to record insufficient_cash rejection")
			}
		}
		return err
	}
	m.bus.Fills.Publish(filled)
	m.noteShortState(o.UserID, o.Symbol, finalQty)
	return nil
}

func sameDirection(a, b float64) bool {
	return (a >= 0 && b >= 0) || (a <= 0 && b <= 0)
}

// approxLevelDepth mirrors the orderbook snapshot's level-1 sizing
// formula from §4.5 (`floor((800 − 50·i) × U(0.5, 1.5))` at i=1) using
// its expected value, so a fill attempt doesn't need to build a full
// ten-level snapshot just to discover one level's depth.
func approxLevelDepth(tick types.Tick) float64 {
	const levelOneBase = 800.0 - 50.0
	return levelOneBase * 1.0 // expected value of U(0.5, 1.5)
}

// cancelOCOSiblings cancels every other open order sharing ocoGroupID
// (§4.4 step 4), atomically within the same transaction as the triggering
// fill.
func (m *Matcher) cancelOCOSiblings(ctx context.Context, tx repository.Tx, ocoGroupID, excludeOrderID string) error {
	orders, err := tx.GetOpenOrders(ctx)
	if err != nil {
		return err
	}
	for _, sib := range orders {
		if sib.ID == excludeOrderID || sib.OCOGroupID == nil || *sib.OCOGroupID != ocoGroupID {
			continue
		}
		if err := tx.CancelOrder(ctx, sib.ID); err != nil {
			return err
		}
	}
	return nil
}
