package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/types"
)

// querier is the subset of pgx.Tx / pgxpool.Pool this package needs, so
// the same query code runs whether or not it is inside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgTx implements Tx (and, via Postgres's non-transactional wrappers,
// every Repository read/write) against either a bare pool connection or
// an open transaction.
type pgTx struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func (p *pgTx) q() querier {
	if p.tx != nil {
		return p.tx
	}
	return p.pool
}

func (p *pgTx) GetUserByID(ctx context.Context, id string) (types.User, error) {
	var u types.User
	row := p.q().QueryRow(ctx, `SELECT id, username, password_hash, cash, starting_cash, role, created_at FROM users WHERE id=$1`, id)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Cash, &u.StartingCash, &u.Role, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return u, apierr.New(apierr.NotFound, "user not found")
	}
	return u, err
}

func (p *pgTx) GetUserByUsername(ctx context.Context, username string) (types.User, error) {
	var u types.User
	row := p.q().QueryRow(ctx, `SELECT id, username, password_hash, cash, starting_cash, role, created_at FROM users WHERE username=$1`, username)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Cash, &u.StartingCash, &u.Role, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return u, apierr.New(apierr.NotFound, "user not found")
	}
	return u, err
}

func (p *pgTx) InsertUser(ctx context.Context, u types.User) error {
	_, err := p.q().Exec(ctx, `INSERT INTO users(id, username, password_hash, cash, starting_cash, role)
		VALUES ($1,$2,$3,$4,$5,$6)`, u.ID, u.Username, u.PasswordHash, u.Cash, u.StartingCash, u.Role)
	return err
}

// UpdateCashForUpdate applies delta to the user's cash. Callers that need
// the row lock held for the remainder of a larger transaction should
// invoke this from inside RunInTransaction, where p.tx locks the row via
// the implicit UPDATE ... row lock until commit.
func (p *pgTx) UpdateCashForUpdate(ctx context.Context, userID string, delta float64) (types.User, error) {
	var u types.User
	row := p.q().QueryRow(ctx, `UPDATE users SET cash = cash + $2 WHERE id=$1
		RETURNING id, username, password_hash, cash, starting_cash, role, created_at`, userID, delta)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Cash, &u.StartingCash, &u.Role, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return u, apierr.New(apierr.NotFound, "user not found")
	}
	if err == nil && u.Cash < 0 {
		return u, apierr.New(apierr.Insufficient, "insufficient cash")
	}
	return u, err
}

func (p *pgTx) InsertOrder(ctx context.Context, o types.Order) error {
	_, err := p.q().Exec(ctx, `INSERT INTO orders(id, user_id, symbol, type, side, qty, filled_qty, limit_price, stop_price, trail_pct, trail_high, oco_group_id, status, reject_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		o.ID, o.UserID, o.Symbol, o.Type, o.Side, o.Qty, o.FilledQty, o.LimitPrice, o.StopPrice, o.TrailPct, o.TrailHigh, o.OCOGroupID, o.Status, o.RejectReason)
	return err
}

func (p *pgTx) GetOrderByID(ctx context.Context, id string) (types.Order, error) {
	var o types.Order
	row := p.q().QueryRow(ctx, `SELECT id, user_id, symbol, type, side, qty, filled_qty, limit_price, stop_price, trail_pct, trail_high, oco_group_id, status, reject_reason, created_at, cancelled_at, filled_at
		FROM orders WHERE id=$1`, id)
	err := scanOrder(row, &o)
	if err == pgx.ErrNoRows {
		return o, apierr.New(apierr.NotFound, "order not found")
	}
	return o, err
}

func (p *pgTx) GetOpenOrders(ctx context.Context) ([]types.Order, error) {
	rows, err := p.q().Query(ctx, `SELECT id, user_id, symbol, type, side, qty, filled_qty, limit_price, stop_price, trail_pct, trail_high, oco_group_id, status, reject_reason, created_at, cancelled_at, filled_at
		FROM orders WHERE status IN ('open','partial')`)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func (p *pgTx) GetOpenOrdersByTicker(ctx context.Context, symbol string) ([]types.Order, error) {
	rows, err := p.q().Query(ctx, `SELECT id, user_id, symbol, type, side, qty, filled_qty, limit_price, stop_price, trail_pct, trail_high, oco_group_id, status, reject_reason, created_at, cancelled_at, filled_at
		FROM orders WHERE status IN ('open','partial') AND symbol=$1`, symbol)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func (p *pgTx) CancelOrder(ctx context.Context, id string) error {
	_, err := p.q().Exec(ctx, `UPDATE orders SET status='cancelled', cancelled_at=now() WHERE id=$1 AND status IN ('open','partial')`, id)
	return err
}

func (p *pgTx) UpdateFilledQtyStatus(ctx context.Context, id string, filledQty float64, status types.OrderStatus, rejectReason string) error {
	_, err := p.q().Exec(ctx, `UPDATE orders SET filled_qty=$2, status=$3, reject_reason=$4,
		filled_at = CASE WHEN $3 = 'filled' THEN now() ELSE filled_at END WHERE id=$1`, id, filledQty, status, rejectReason)
	return err
}

func scanOrder(row pgx.Row, o *types.Order) error {
	return row.Scan(&o.ID, &o.UserID, &o.Symbol, &o.Type, &o.Side, &o.Qty, &o.FilledQty, &o.LimitPrice, &o.StopPrice,
		&o.TrailPct, &o.TrailHigh, &o.OCOGroupID, &o.Status, &o.RejectReason, &o.CreatedAt, &o.CancelledAt, &o.FilledAt)
}

func scanOrders(rows pgx.Rows) ([]types.Order, error) {
	defer rows.Close()
	var out []types.Order
	for rows.Next() {
		var o types.Order
		if err := scanOrder(rows, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *pgTx) GetPositionsByUser(ctx context.Context, userID string) ([]types.Position, error) {
	rows, err := p.q().Query(ctx, `SELECT user_id, symbol, qty, avg_cost, cost_basis FROM positions WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Position
	for rows.Next() {
		var pos types.Position
		if err := rows.Scan(&pos.UserID, &pos.Symbol, &pos.Qty, &pos.AvgCost, &pos.CostBasis); err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (p *pgTx) GetPositionByUserAndTicker(ctx context.Context, userID, symbol string) (types.Position, bool, error) {
	var pos types.Position
	row := p.q().QueryRow(ctx, `SELECT user_id, symbol, qty, avg_cost, cost_basis FROM positions WHERE user_id=$1 AND symbol=$2`, userID, symbol)
	err := row.Scan(&pos.UserID, &pos.Symbol, &pos.Qty, &pos.AvgCost, &pos.CostBasis)
	if err == pgx.ErrNoRows {
		return pos, false, nil
	}
	return pos, err == nil, err
}

func (p *pgTx) UpsertPosition(ctx context.Context, pos types.Position) error {
	_, err := p.q().Exec(ctx, `INSERT INTO positions(user_id, symbol, qty, avg_cost, cost_basis) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id, symbol) DO UPDATE SET qty=$3, avg_cost=$4, cost_basis=$5`,
		pos.UserID, pos.Symbol, pos.Qty, pos.AvgCost, pos.CostBasis)
	return err
}

// DeletePositionIfZero removes a position once its net quantity has
// closed to zero. Callers compute the zero net in memory and never write
// it back via UpsertPosition first, so this deletes unconditionally on
// (user_id, symbol) rather than re-checking qty=0 against the stored row.
func (p *pgTx) DeletePositionIfZero(ctx context.Context, userID, symbol string) error {
	_, err := p.q().Exec(ctx, `DELETE FROM positions WHERE user_id=$1 AND symbol=$2`, userID, symbol)
	return err
}

func (p *pgTx) InsertTrade(ctx context.Context, t types.Trade) error {
	_, err := p.q().Exec(ctx, `INSERT INTO trades(id, user_id, order_id, symbol, side, qty, fill_price, gross_notional, commission, slippage_cost, borrow_cost, realized_pnl, regime)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		t.ID, t.UserID, t.OrderID, t.Symbol, t.Side, t.Qty, t.FillPrice, t.GrossNotional, t.Commission, t.SlippageCost, t.BorrowCost, t.RealizedPnL, t.Regime)
	return err
}

func (p *pgTx) GetTradesByUser(ctx context.Context, userID string, limit int) ([]types.Trade, error) {
	rows, err := p.q().Query(ctx, `SELECT id, user_id, order_id, symbol, side, qty, fill_price, gross_notional, commission, slippage_cost, borrow_cost, realized_pnl, regime, executed_at
		FROM trades WHERE user_id=$1 ORDER BY executed_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	return scanTrades(rows)
}

func (p *pgTx) GetAllTrades(ctx context.Context) ([]types.Trade, error) {
	rows, err := p.q().Query(ctx, `SELECT id, user_id, order_id, symbol, side, qty, fill_price, gross_notional, commission, slippage_cost, borrow_cost, realized_pnl, regime, executed_at
		FROM trades ORDER BY executed_at DESC`)
	if err != nil {
		return nil, err
	}
	return scanTrades(rows)
}

func scanTrades(rows pgx.Rows) ([]types.Trade, error) {
	defer rows.Close()
	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		if err := rows.Scan(&t.ID, &t.UserID, &t.OrderID, &t.Symbol, &t.Side, &t.Qty, &t.FillPrice, &t.GrossNotional,
			&t.Commission, &t.SlippageCost, &t.BorrowCost, &t.RealizedPnL, &t.Regime, &t.ExecutedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *pgTx) InsertCapitalTransaction(ctx context.Context, c types.CapitalTransaction) error {
	_, err := p.q().Exec(ctx, `INSERT INTO capital_transactions(id, fund_id, user_id, amount, type, units_delta, nav_per_unit_at, nav_before, nav_after)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.FundID, c.UserID, c.Amount, c.Type, c.UnitsDelta, c.NavPerUnitAt, c.NavBefore, c.NavAfter)
	return err
}

func (p *pgTx) GetCapitalTransactions(ctx context.Context, fundID string) ([]types.CapitalTransaction, error) {
	rows, err := p.q().Query(ctx, `SELECT id, fund_id, user_id, amount, type, units_delta, nav_per_unit_at, nav_before, nav_after, created_at
		FROM capital_transactions WHERE fund_id=$1 ORDER BY created_at`, fundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.CapitalTransaction
	for rows.Next() {
		var c types.CapitalTransaction
		if err := rows.Scan(&c.ID, &c.FundID, &c.UserID, &c.Amount, &c.Type, &c.UnitsDelta, &c.NavPerUnitAt, &c.NavBefore, &c.NavAfter, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *pgTx) GetCapitalSummary(ctx context.Context, fundID string) (types.NavSnapshot, error) {
	var s types.NavSnapshot
	row := p.q().QueryRow(ctx, `SELECT fund_id, snapshot_at, nav, nav_per_unit, total_units, capital, pnl
		FROM nav_snapshots WHERE fund_id=$1 ORDER BY snapshot_at DESC LIMIT 1`, fundID)
	err := row.Scan(&s.FundID, &s.SnapshotAt, &s.Nav, &s.NavPerUnit, &s.TotalUnits, &s.Capital, &s.PnL)
	if err == pgx.ErrNoRows {
		return types.NavSnapshot{FundID: fundID, Nav: decimal.Zero, NavPerUnit: decimal.Zero, TotalUnits: decimal.Zero, Capital: decimal.Zero, PnL: decimal.Zero}, nil
	}
	return s, err
}

func (p *pgTx) GetNetCapital(ctx context.Context, fundID string) (float64, error) {
	var v float64
	row := p.q().QueryRow(ctx, `SELECT COALESCE(SUM(CASE WHEN type='deposit' THEN amount ELSE -amount END),0) FROM capital_transactions WHERE fund_id=$1`, fundID)
	err := row.Scan(&v)
	return v, err
}

func (p *pgTx) InsertNavSnapshot(ctx context.Context, s types.NavSnapshot) error {
	_, err := p.q().Exec(ctx, `INSERT INTO nav_snapshots(id, fund_id, nav, nav_per_unit, total_units, capital, pnl)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`, s.ID, s.FundID, s.Nav, s.NavPerUnit, s.TotalUnits, s.Capital, s.PnL)
	return err
}

func (p *pgTx) GetRecentNavSnapshots(ctx context.Context, fundID string, limit int) ([]types.NavSnapshot, error) {
	rows, err := p.q().Query(ctx, `SELECT fund_id, snapshot_at, nav, nav_per_unit, total_units, capital, pnl
		FROM nav_snapshots WHERE fund_id=$1 ORDER BY snapshot_at DESC LIMIT $2`, fundID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.NavSnapshot
	for rows.Next() {
		var s types.NavSnapshot
		if err := rows.Scan(&s.FundID, &s.SnapshotAt, &s.Nav, &s.NavPerUnit, &s.TotalUnits, &s.Capital, &s.PnL); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *pgTx) InsertStrategyTrade(ctx context.Context, t types.StrategyTrade) error {
	_, err := p.q().Exec(ctx, `INSERT INTO strategy_trades(id, strategy_id, fund_id, symbol, side, qty, price, commission, realized_pnl, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.StrategyID, t.FundID, t.Symbol, t.Side, t.Qty, t.Price, t.Commission, t.RealizedPnL, t.Reason)
	return err
}

func (p *pgTx) GetStrategyTrades(ctx context.Context, strategyID string) ([]types.StrategyTrade, error) {
	rows, err := p.q().Query(ctx, `SELECT id, strategy_id, fund_id, symbol, side, qty, price, commission, realized_pnl, reason, executed_at
		FROM strategy_trades WHERE strategy_id=$1 ORDER BY executed_at`, strategyID)
	if err != nil {
		return nil, err
	}
	return scanStrategyTrades(rows)
}

func (p *pgTx) GetAllStrategyTradesChronological(ctx context.Context) ([]types.StrategyTrade, error) {
	rows, err := p.q().Query(ctx, `SELECT id, strategy_id, fund_id, symbol, side, qty, price, commission, realized_pnl, reason, executed_at
		FROM strategy_trades ORDER BY executed_at`)
	if err != nil {
		return nil, err
	}
	return scanStrategyTrades(rows)
}

func (p *pgTx) GetStrategyTradesByFund(ctx context.Context, fundID string) ([]types.StrategyTrade, error) {
	rows, err := p.q().Query(ctx, `SELECT id, strategy_id, fund_id, symbol, side, qty, price, commission, realized_pnl, reason, executed_at
		FROM strategy_trades WHERE fund_id=$1 ORDER BY executed_at`, fundID)
	if err != nil {
		return nil, err
	}
	return scanStrategyTrades(rows)
}

func scanStrategyTrades(rows pgx.Rows) ([]types.StrategyTrade, error) {
	defer rows.Close()
	var out []types.StrategyTrade
	for rows.Next() {
		var t types.StrategyTrade
		if err := rows.Scan(&t.ID, &t.StrategyID, &t.FundID, &t.Symbol, &t.Side, &t.Qty, &t.Price, &t.Commission, &t.RealizedPnL, &t.Reason, &t.ExecutedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
