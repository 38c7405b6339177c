package matcher

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"exchange-sim/internal/eventbus"
	"exchange-sim/internal/execcost"
	"exchange-sim/internal/repository"
	"exchange-sim/internal/types"
)

// checkMarginCalls implements §4.4's forced-liquidation rule: if a user's
// equity (cash + mark-to-market) drops below threshold while holding open
// short exposure on tick.Symbol, synthesize a market buy-to-cover and
// emit margin_call. Idempotent per user per tick.
func (m *Matcher) checkMarginCalls(ctx context.Context, tick types.Tick) error {
	positions, err := m.positionsShortOn(ctx, tick.Symbol)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		key := pos.UserID + "|" + tick.Symbol
		m.mu.Lock()
		already := m.liquidated[key]
		if !already {
			m.liquidated[key] = true
		}
		m.mu.Unlock()
		if already {
			continue
		}

		user, err := m.repo.GetUserByID(ctx, pos.UserID)
		if err != nil {
			return err
		}
		equity := user.Cash + pos.Qty*tick.Mid
		if equity > m.cfg.MarginEquityThreshold {
			continue
		}
		if err := m.liquidate(ctx, pos, tick); err != nil {
			return err
		}
	}
	return nil
}

// positionsShortOn returns every known short position on symbol. The
// narrow Repository surface (§6.3) has no "list positions" query, so the
// matcher tracks short-holder userIDs itself as fills open and close
// positions (m.shortUsers, updated by noteShortState) — this is what
// finds a bare short sitting with no resting order on the book. Open
// orders' owners are merged in too, since an order can reference a user
// the matcher hasn't seen a fill for yet in this process's lifetime.
func (m *Matcher) positionsShortOn(ctx context.Context, symbol string) ([]types.Position, error) {
	orders, err := m.repo.GetOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var candidates []string
	for _, o := range orders {
		if !seen[o.UserID] {
			seen[o.UserID] = true
			candidates = append(candidates, o.UserID)
		}
	}
	for _, userID := range m.shortUserIDs(symbol) {
		if !seen[userID] {
			seen[userID] = true
			candidates = append(candidates, userID)
		}
	}

	var out []types.Position
	for _, userID := range candidates {
		pos, ok, err := m.repo.GetPositionByUserAndTicker(ctx, userID, symbol)
		if err != nil {
			return nil, err
		}
		if ok && pos.Qty < 0 {
			out = append(out, pos)
		}
	}
	return out, nil
}

// liquidate synthesizes a market buy-to-cover for the full short qty,
// books it through the same cost/transaction path as a real fill, and
// emits MarginCalled.
func (m *Matcher) liquidate(ctx context.Context, pos types.Position, tick types.Tick) error {
	inst, ok := m.inst(pos.Symbol)
	if !ok {
		return nil
	}
	mult, ok := m.regime(pos.Symbol)
	if !ok {
		mult = types.RegimeMultipliers{Liquidity: 1, Vol: 1, Borrow: 1}
	}
	qty := -pos.Qty // cover quantity, positive

	result := execcost.Estimate(execcost.Input{
		Profile: inst, Side: types.SideBuy, Qty: qty, RefPrice: tick.Ask, Mid: tick.Mid,
		Volatility: tick.Volatility, Regime: mult,
	})

	var pnl float64
	var filled eventbus.OrderFilled
	err := m.repo.RunInTransaction(ctx, "matcher.marginCall:"+pos.UserID, func(ctx context.Context, tx repository.Tx) error {
		cashDelta := -(qty*result.FillPrice + result.Commission)
		if _, err := tx.UpdateCashForUpdate(ctx, pos.UserID, cashDelta); err != nil {
			return err
		}
		pnl = (pos.AvgCost - result.FillPrice) * qty // covering a short: profit when fill price is below the short's avg cost

		if err := tx.DeletePositionIfZero(ctx, pos.UserID, pos.Symbol); err != nil {
			return err
		}

		orderID := uuid.NewString()
		synthetic := types.Order{
			ID: orderID, UserID: pos.UserID, Symbol: pos.Symbol, Type: types.OrderMarket, Side: types.SideBuy,
			Qty: qty, FilledQty: qty, Status: types.OrderFilled, CreatedAt: time.Now(),
		}
		if err := tx.InsertOrder(ctx, synthetic); err != nil {
			return err
		}

		trade := types.Trade{
			ID: uuid.NewString(), UserID: pos.UserID, OrderID: orderID, Symbol: pos.Symbol, Side: types.SideBuy,
			Qty: qty, FillPrice: result.FillPrice, GrossNotional: qty * result.FillPrice,
			Commission: result.Commission, SlippageCost: result.SlippageCost, BorrowCost: result.BorrowAccrual,
			RealizedPnL: pnl, Regime: tick.Regime, ExecutedAt: time.Now(),
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}

		filled = eventbus.OrderFilled{Trade: trade, Order: synthetic}
		return nil
	})
	if err != nil {
		return err
	}
	m.bus.Fills.Publish(filled)
	m.noteShortState(pos.UserID, pos.Symbol, 0) // liquidate always covers the full short

	m.bus.MarginCalls.Publish(eventbus.MarginCalled{
		UserID: pos.UserID, Symbol: pos.Symbol, Qty: qty, Price: result.FillPrice, PnL: math.Round(pnl*100) / 100,
	})
	return nil
}
