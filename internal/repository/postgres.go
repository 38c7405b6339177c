package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/types"
)

// Endpoint names the active connection target (§4.1).
type Endpoint string

const (
	EndpointDirect Endpoint = "direct"
	EndpointPooler Endpoint = "pooler"
)

// Options configures the dual-endpoint policy.
type Options struct {
	DirectURL      string
	PoolerURL      string
	PreferredMode  Endpoint
	FallbackEnabled bool
	ConnectTimeout time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	ProbeCooldown    time.Duration
}

// Postgres is the pgx/pgxpool-backed Repository implementation. It
// generalizes the teacher's db/logger.go ensureSchema-on-connect idiom to
// the full §6.3 surface and adds the dual-endpoint failover policy.
type Postgres struct {
	opts Options
	log  zerolog.Logger

	mu        sync.RWMutex
	pool      *pgxpool.Pool
	mode      Endpoint
	connected atomic.Bool
	lastErrorCode string
	lastFailureAt time.Time

	stopProbe chan struct{}
}

// Connect dials the preferred endpoint (falling back to the other if
// fallback is enabled and the preferred one is unreachable) and ensures
// the schema exists.
func Connect(ctx context.Context, opts Options, log zerolog.Logger) (*Postgres, error) {
	p := &Postgres{opts: opts, log: log.With().Str("component", "repository.Postgres").Logger(), stopProbe: make(chan struct{})}
	mode := opts.PreferredMode
	if mode == "" {
		mode = EndpointPooler
	}
	if err := p.dial(ctx, mode); err != nil {
		if opts.FallbackEnabled {
			other := EndpointDirect
			if mode == EndpointDirect {
				other = EndpointPooler
			}
			if err2 := p.dial(ctx, other); err2 != nil {
				return nil, apierr.Wrap(apierr.Unavailable, "repository: both endpoints unreachable", err2)
			}
		} else {
			return nil, apierr.Wrap(apierr.Unavailable, "repository: preferred endpoint unreachable", err)
		}
	}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("repository: ensure schema: %w", err)
	}
	go p.probeLoop()
	return p, nil
}

func (p *Postgres) dial(ctx context.Context, mode Endpoint) error {
	url := p.opts.DirectURL
	if mode == EndpointPooler {
		url = p.opts.PoolerURL
	}
	if url == "" {
		return fmt.Errorf("repository: no URL configured for endpoint %s", mode)
	}
	dialCtx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	defer cancel()
	pool, err := pgxpool.New(dialCtx, url)
	if err != nil {
		p.recordFailure(err)
		return err
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		p.recordFailure(err)
		return err
	}
	p.mu.Lock()
	if p.pool != nil {
		p.pool.Close()
	}
	p.pool = pool
	p.mode = mode
	p.mu.Unlock()
	p.connected.Store(true)
	return nil
}

func (p *Postgres) recordFailure(err error) {
	p.mu.Lock()
	p.lastErrorCode = err.Error()
	p.lastFailureAt = time.Now()
	p.mu.Unlock()
	p.connected.Store(false)
}

// probeLoop periodically attempts to return to the preferred endpoint
// after a failover, per §4.1's "schedules periodic probes to return to
// primary after a cooldown".
func (p *Postgres) probeLoop() {
	if p.opts.ProbeCooldown <= 0 {
		return
	}
	ticker := time.NewTicker(p.opts.ProbeCooldown)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopProbe:
			return
		case <-ticker.C:
			p.mu.RLock()
			current := p.mode
			p.mu.RUnlock()
			if current == p.opts.PreferredMode || p.opts.PreferredMode == "" {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), p.opts.ConnectTimeout)
			if err := p.dial(ctx, p.opts.PreferredMode); err == nil {
				p.log.Info().Str("mode", string(p.opts.PreferredMode)).Msg("repository: returned to preferred endpoint")
			}
			cancel()
		}
	}
}

// HealthSnapshot reports the dual-endpoint status (§4.1).
func (p *Postgres) HealthSnapshot() Health {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Health{
		Mode: string(p.mode), Connected: p.connected.Load(),
		LastErrorCode: p.lastErrorCode, LastFailureAt: p.lastFailureAt,
	}
}

// Close shuts down the pool and probe loop.
func (p *Postgres) Close() {
	close(p.stopProbe)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *Postgres) currentPool() *pgxpool.Pool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pool
}

func (p *Postgres) policy() backoffPolicy {
	return backoffPolicy{base: p.opts.RetryBaseDelay, max: p.opts.RetryMaxDelay, maxAttempts: p.opts.RetryMaxAttempts}
}

// withConn runs fn against the current pool under the retry policy,
// failing over to the other endpoint on persistent connectivity errors
// when enabled.
func (p *Postgres) withConn(ctx context.Context, fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	err := withRetry(ctx, p.policy(), func(ctx context.Context) error {
		return fn(ctx, p.currentPool())
	})
	if err != nil && isConnectivityError(err) {
		p.recordFailure(err)
		if p.opts.FallbackEnabled {
			other := EndpointDirect
			p.mu.RLock()
			if p.mode == EndpointDirect {
				other = EndpointPooler
			}
			p.mu.RUnlock()
			if dialErr := p.dial(ctx, other); dialErr == nil {
				return withRetry(ctx, p.policy(), func(ctx context.Context) error {
					return fn(ctx, p.currentPool())
				})
			}
		}
		return apierr.Wrap(apierr.Unavailable, "repository: db_unavailable", err)
	}
	return err
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	pool := p.currentPool()
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY, username TEXT UNIQUE NOT NULL, password_hash TEXT NOT NULL,
	cash DOUBLE PRECISION NOT NULL, starting_cash DOUBLE PRECISION NOT NULL,
	role TEXT NOT NULL, created_at TIMESTAMPTZ NOT NULL DEFAULT now());
CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY, user_id TEXT NOT NULL, symbol TEXT NOT NULL, type TEXT NOT NULL,
	side TEXT NOT NULL, qty DOUBLE PRECISION NOT NULL, filled_qty DOUBLE PRECISION NOT NULL DEFAULT 0,
	limit_price DOUBLE PRECISION, stop_price DOUBLE PRECISION, trail_pct DOUBLE PRECISION,
	trail_high DOUBLE PRECISION NOT NULL DEFAULT 0, oco_group_id TEXT, status TEXT NOT NULL,
	reject_reason TEXT, created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	cancelled_at TIMESTAMPTZ, filled_at TIMESTAMPTZ);
CREATE INDEX IF NOT EXISTS idx_orders_open ON orders(status, symbol);
CREATE TABLE IF NOT EXISTS positions (
	user_id TEXT NOT NULL, symbol TEXT NOT NULL, qty DOUBLE PRECISION NOT NULL,
	avg_cost DOUBLE PRECISION NOT NULL, cost_basis DOUBLE PRECISION NOT NULL,
	PRIMARY KEY(user_id, symbol));
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY, user_id TEXT NOT NULL, order_id TEXT NOT NULL, symbol TEXT NOT NULL,
	side TEXT NOT NULL, qty DOUBLE PRECISION NOT NULL, fill_price DOUBLE PRECISION NOT NULL,
	gross_notional DOUBLE PRECISION NOT NULL, commission DOUBLE PRECISION NOT NULL,
	slippage_cost DOUBLE PRECISION NOT NULL, borrow_cost DOUBLE PRECISION NOT NULL,
	realized_pnl DOUBLE PRECISION NOT NULL, regime TEXT NOT NULL,
	executed_at TIMESTAMPTZ NOT NULL DEFAULT now());
CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, executed_at DESC);
CREATE TABLE IF NOT EXISTS candles (
	symbol TEXT NOT NULL, interval TEXT NOT NULL, open_time_ms BIGINT NOT NULL,
	open DOUBLE PRECISION NOT NULL, high DOUBLE PRECISION NOT NULL, low DOUBLE PRECISION NOT NULL,
	close DOUBLE PRECISION NOT NULL, volume DOUBLE PRECISION NOT NULL,
	PRIMARY KEY(symbol, interval, open_time_ms));
CREATE TABLE IF NOT EXISTS news_events (
	id TEXT PRIMARY KEY, symbol TEXT NOT NULL, type TEXT NOT NULL, severity TEXT NOT NULL,
	headline TEXT NOT NULL, body TEXT NOT NULL, price_impact DOUBLE PRECISION NOT NULL,
	fired_at_ms BIGINT NOT NULL);
CREATE INDEX IF NOT EXISTS idx_news_symbol ON news_events(symbol, fired_at_ms DESC);
CREATE TABLE IF NOT EXISTS funds (
	id TEXT PRIMARY KEY, name TEXT NOT NULL, strategy_type_label TEXT, owner_user_id TEXT NOT NULL,
	description TEXT, min_investment DOUBLE PRECISION NOT NULL DEFAULT 0,
	management_fee_annual DOUBLE PRECISION NOT NULL DEFAULT 0,
	performance_fee_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now());
CREATE TABLE IF NOT EXISTS fund_members (
	fund_id TEXT NOT NULL, user_id TEXT NOT NULL, role TEXT NOT NULL,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(), PRIMARY KEY(fund_id, user_id));
CREATE TABLE IF NOT EXISTS capital_transactions (
	id TEXT PRIMARY KEY, fund_id TEXT NOT NULL, user_id TEXT NOT NULL, amount NUMERIC NOT NULL,
	type TEXT NOT NULL, units_delta NUMERIC NOT NULL, nav_per_unit_at NUMERIC NOT NULL,
	nav_before NUMERIC NOT NULL, nav_after NUMERIC NOT NULL, created_at TIMESTAMPTZ NOT NULL DEFAULT now());
CREATE INDEX IF NOT EXISTS idx_capital_fund ON capital_transactions(fund_id, created_at);
CREATE TABLE IF NOT EXISTS nav_snapshots (
	id TEXT PRIMARY KEY, fund_id TEXT NOT NULL, snapshot_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	nav NUMERIC NOT NULL, nav_per_unit NUMERIC NOT NULL, total_units NUMERIC NOT NULL,
	capital NUMERIC NOT NULL, pnl NUMERIC NOT NULL);
CREATE TABLE IF NOT EXISTS strategies (
	id TEXT PRIMARY KEY, fund_id TEXT NOT NULL, name TEXT NOT NULL, type TEXT NOT NULL,
	config JSONB NOT NULL, config_hash TEXT NOT NULL, is_active BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(), updated_at TIMESTAMPTZ NOT NULL DEFAULT now());
CREATE TABLE IF NOT EXISTS strategy_trades (
	id TEXT PRIMARY KEY, strategy_id TEXT NOT NULL, fund_id TEXT NOT NULL, symbol TEXT NOT NULL,
	side TEXT NOT NULL, qty DOUBLE PRECISION NOT NULL, price DOUBLE PRECISION NOT NULL,
	commission DOUBLE PRECISION NOT NULL, realized_pnl DOUBLE PRECISION NOT NULL,
	reason TEXT, executed_at TIMESTAMPTZ NOT NULL DEFAULT now());
CREATE INDEX IF NOT EXISTS idx_strategy_trades_strategy ON strategy_trades(strategy_id, executed_at);
CREATE TABLE IF NOT EXISTS backtests (
	id TEXT PRIMARY KEY, strategy_id TEXT NOT NULL, fund_id TEXT NOT NULL, config_hash TEXT NOT NULL,
	metrics JSONB NOT NULL, thresholds JSONB NOT NULL, passed BOOLEAN NOT NULL, notes TEXT,
	ran_at TIMESTAMPTZ NOT NULL DEFAULT now());
CREATE INDEX IF NOT EXISTS idx_backtests_strategy ON backtests(strategy_id, ran_at DESC);
CREATE TABLE IF NOT EXISTS risk_settings (
	fund_id TEXT PRIMARY KEY, max_single_symbol_pct DOUBLE PRECISION NOT NULL DEFAULT 0.25,
	max_strategy_exposure_pct DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	max_daily_drawdown_pct DOUBLE PRECISION NOT NULL DEFAULT 0.1, enabled BOOLEAN NOT NULL DEFAULT true);
CREATE TABLE IF NOT EXISTS risk_breaches (
	id TEXT PRIMARY KEY, fund_id TEXT NOT NULL, strategy_id TEXT NOT NULL, rule TEXT NOT NULL,
	severity TEXT NOT NULL, message TEXT NOT NULL, context JSONB, attempted_order JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now());
CREATE INDEX IF NOT EXISTS idx_risk_breaches_fund ON risk_breaches(fund_id, created_at DESC);
`)
	return err
}

// RunInTransaction opens a pgx transaction and row-locks the affected
// user/fund rows for the duration of fn (§4.1).
func (p *Postgres) RunInTransaction(ctx context.Context, label string, fn TxFunc) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback(ctx)
			}
		}()
		pgTx := &pgTx{pool: pool, tx: tx}
		if err := fn(ctx, pgTx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		committed = true
		p.log.Debug().Str("label", label).Msg("repository: transaction committed")
		return nil
	})
}

// --- non-transactional reads/writes delegate to a throwaway pgTx over the pool ---

func (p *Postgres) GetUserByID(ctx context.Context, id string) (u types.User, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		u, e = (&pgTx{pool: pool}).GetUserByID(ctx, id)
		return e
	})
	return
}
func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (u types.User, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		u, e = (&pgTx{pool: pool}).GetUserByUsername(ctx, username)
		return e
	})
	return
}
func (p *Postgres) InsertUser(ctx context.Context, u types.User) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return (&pgTx{pool: pool}).InsertUser(ctx, u)
	})
}
func (p *Postgres) UpdateCashForUpdate(ctx context.Context, userID string, delta float64) (u types.User, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		u, e = (&pgTx{pool: pool}).UpdateCashForUpdate(ctx, userID, delta)
		return e
	})
	return
}

func (p *Postgres) InsertOrder(ctx context.Context, o types.Order) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error { return (&pgTx{pool: pool}).InsertOrder(ctx, o) })
}
func (p *Postgres) GetOrderByID(ctx context.Context, id string) (o types.Order, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		o, e = (&pgTx{pool: pool}).GetOrderByID(ctx, id)
		return e
	})
	return
}
func (p *Postgres) GetOpenOrders(ctx context.Context) (os []types.Order, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		os, e = (&pgTx{pool: pool}).GetOpenOrders(ctx)
		return e
	})
	return
}
func (p *Postgres) GetOpenOrdersByTicker(ctx context.Context, symbol string) (os []types.Order, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		os, e = (&pgTx{pool: pool}).GetOpenOrdersByTicker(ctx, symbol)
		return e
	})
	return
}
func (p *Postgres) CancelOrder(ctx context.Context, id string) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error { return (&pgTx{pool: pool}).CancelOrder(ctx, id) })
}
func (p *Postgres) UpdateFilledQtyStatus(ctx context.Context, id string, filledQty float64, status types.OrderStatus, rejectReason string) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return (&pgTx{pool: pool}).UpdateFilledQtyStatus(ctx, id, filledQty, status, rejectReason)
	})
}

func (p *Postgres) GetPositionsByUser(ctx context.Context, userID string) (ps []types.Position, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		ps, e = (&pgTx{pool: pool}).GetPositionsByUser(ctx, userID)
		return e
	})
	return
}
func (p *Postgres) GetPositionByUserAndTicker(ctx context.Context, userID, symbol string) (pos types.Position, ok bool, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		pos, ok, e = (&pgTx{pool: pool}).GetPositionByUserAndTicker(ctx, userID, symbol)
		return e
	})
	return
}
func (p *Postgres) UpsertPosition(ctx context.Context, pos types.Position) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error { return (&pgTx{pool: pool}).UpsertPosition(ctx, pos) })
}
func (p *Postgres) DeletePositionIfZero(ctx context.Context, userID, symbol string) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return (&pgTx{pool: pool}).DeletePositionIfZero(ctx, userID, symbol)
	})
}

func (p *Postgres) InsertTrade(ctx context.Context, t types.Trade) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error { return (&pgTx{pool: pool}).InsertTrade(ctx, t) })
}
func (p *Postgres) GetTradesByUser(ctx context.Context, userID string, limit int) (ts []types.Trade, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		ts, e = (&pgTx{pool: pool}).GetTradesByUser(ctx, userID, limit)
		return e
	})
	return
}
func (p *Postgres) GetAllTrades(ctx context.Context) (ts []types.Trade, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		ts, e = (&pgTx{pool: pool}).GetAllTrades(ctx)
		return e
	})
	return
}

func (p *Postgres) UpsertCandleOnClose(ctx context.Context, c types.Candle) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `
INSERT INTO candles(symbol, interval, open_time_ms, open, high, low, close, volume)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (symbol, interval, open_time_ms) DO UPDATE SET
	high = GREATEST(candles.high, EXCLUDED.high), low = LEAST(candles.low, EXCLUDED.low),
	close = EXCLUDED.close, volume = EXCLUDED.volume`,
			c.Symbol, string(c.Interval), c.OpenTimeMs, c.Open, c.High, c.Low, c.Close, c.Volume)
		return err
	})
}
func (p *Postgres) GetCandlesBySymbolInterval(ctx context.Context, symbol string, interval types.Interval, limit int) (cs []types.Candle, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, e := pool.Query(ctx, `SELECT symbol, interval, open_time_ms, open, high, low, close, volume
			FROM candles WHERE symbol=$1 AND interval=$2 ORDER BY open_time_ms DESC LIMIT $3`, symbol, string(interval), limit)
		if e != nil {
			return e
		}
		defer rows.Close()
		for rows.Next() {
			var c types.Candle
			var iv string
			if e := rows.Scan(&c.Symbol, &iv, &c.OpenTimeMs, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); e != nil {
				return e
			}
			c.Interval = types.Interval(iv)
			c.Closed = true
			cs = append(cs, c)
		}
		return rows.Err()
	})
	return
}

func (p *Postgres) InsertNews(ctx context.Context, n types.NewsEvent) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `INSERT INTO news_events(id, symbol, type, severity, headline, body, price_impact, fired_at_ms)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, n.ID, n.Symbol, n.Type, n.Severity, n.Headline, n.Body, n.PriceImpact, n.FiredAtMs)
		return err
	})
}
func (p *Postgres) GetRecentNews(ctx context.Context, limit int) (ns []types.NewsEvent, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, e := pool.Query(ctx, `SELECT id, symbol, type, severity, headline, body, price_impact, fired_at_ms
			FROM news_events ORDER BY fired_at_ms DESC LIMIT $1`, limit)
		if e != nil {
			return e
		}
		defer rows.Close()
		for rows.Next() {
			var n types.NewsEvent
			if e := rows.Scan(&n.ID, &n.Symbol, &n.Type, &n.Severity, &n.Headline, &n.Body, &n.PriceImpact, &n.FiredAtMs); e != nil {
				return e
			}
			ns = append(ns, n)
		}
		return rows.Err()
	})
	return
}
func (p *Postgres) GetNewsByTicker(ctx context.Context, symbol string, limit int) (ns []types.NewsEvent, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, e := pool.Query(ctx, `SELECT id, symbol, type, severity, headline, body, price_impact, fired_at_ms
			FROM news_events WHERE symbol=$1 ORDER BY fired_at_ms DESC LIMIT $2`, symbol, limit)
		if e != nil {
			return e
		}
		defer rows.Close()
		for rows.Next() {
			var n types.NewsEvent
			if e := rows.Scan(&n.ID, &n.Symbol, &n.Type, &n.Severity, &n.Headline, &n.Body, &n.PriceImpact, &n.FiredAtMs); e != nil {
				return e
			}
			ns = append(ns, n)
		}
		return rows.Err()
	})
	return
}

func (p *Postgres) CreateFund(ctx context.Context, f types.Fund) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `INSERT INTO funds(id, name, strategy_type_label, owner_user_id, description, min_investment, management_fee_annual, performance_fee_rate)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, f.ID, f.Name, f.StrategyTypeLabel, f.OwnerUserID, f.Description, f.MinInvestment, f.ManagementFeeAnnual, f.PerformanceFeeRate)
		return err
	})
}
func (p *Postgres) GetFundByID(ctx context.Context, id string) (f types.Fund, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		row := pool.QueryRow(ctx, `SELECT id, name, strategy_type_label, owner_user_id, description, min_investment, management_fee_annual, performance_fee_rate, created_at
			FROM funds WHERE id=$1`, id)
		e := row.Scan(&f.ID, &f.Name, &f.StrategyTypeLabel, &f.OwnerUserID, &f.Description, &f.MinInvestment, &f.ManagementFeeAnnual, &f.PerformanceFeeRate, &f.CreatedAt)
		if e == pgx.ErrNoRows {
			return apierr.New(apierr.NotFound, "fund not found")
		}
		return e
	})
	return
}
func (p *Postgres) UpdateFund(ctx context.Context, f types.Fund) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `UPDATE funds SET name=$2, description=$3, min_investment=$4, management_fee_annual=$5, performance_fee_rate=$6 WHERE id=$1`,
			f.ID, f.Name, f.Description, f.MinInvestment, f.ManagementFeeAnnual, f.PerformanceFeeRate)
		return err
	})
}
func (p *Postgres) DeleteFund(ctx context.Context, id string) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `DELETE FROM funds WHERE id=$1`, id)
		return err
	})
}
func (p *Postgres) GetUserFunds(ctx context.Context, userID string) (fs []types.Fund, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, e := pool.Query(ctx, `SELECT f.id, f.name, f.strategy_type_label, f.owner_user_id, f.description, f.min_investment, f.management_fee_annual, f.performance_fee_rate, f.created_at
			FROM funds f JOIN fund_members m ON m.fund_id=f.id WHERE m.user_id=$1`, userID)
		if e != nil {
			return e
		}
		defer rows.Close()
		for rows.Next() {
			var f types.Fund
			if e := rows.Scan(&f.ID, &f.Name, &f.StrategyTypeLabel, &f.OwnerUserID, &f.Description, &f.MinInvestment, &f.ManagementFeeAnnual, &f.PerformanceFeeRate, &f.CreatedAt); e != nil {
				return e
			}
			fs = append(fs, f)
		}
		return rows.Err()
	})
	return
}

func (p *Postgres) InsertFundMember(ctx context.Context, m types.FundMember) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `INSERT INTO fund_members(fund_id, user_id, role) VALUES ($1,$2,$3)`, m.FundID, m.UserID, m.Role)
		return err
	})
}
func (p *Postgres) GetFundMembers(ctx context.Context, fundID string) (ms []types.FundMember, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, e := pool.Query(ctx, `SELECT fund_id, user_id, role, joined_at FROM fund_members WHERE fund_id=$1`, fundID)
		if e != nil {
			return e
		}
		defer rows.Close()
		for rows.Next() {
			var m types.FundMember
			if e := rows.Scan(&m.FundID, &m.UserID, &m.Role, &m.JoinedAt); e != nil {
				return e
			}
			ms = append(ms, m)
		}
		return rows.Err()
	})
	return
}
func (p *Postgres) GetFundMember(ctx context.Context, fundID, userID string) (m types.FundMember, ok bool, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		row := pool.QueryRow(ctx, `SELECT fund_id, user_id, role, joined_at FROM fund_members WHERE fund_id=$1 AND user_id=$2`, fundID, userID)
		e := row.Scan(&m.FundID, &m.UserID, &m.Role, &m.JoinedAt)
		if e == pgx.ErrNoRows {
			return nil
		}
		if e == nil {
			ok = true
		}
		return e
	})
	return
}
func (p *Postgres) UpdateFundMemberRole(ctx context.Context, fundID, userID string, role types.FundMemberRole) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `UPDATE fund_members SET role=$3 WHERE fund_id=$1 AND user_id=$2`, fundID, userID, role)
		return err
	})
}
func (p *Postgres) DeleteFundMember(ctx context.Context, fundID, userID string) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `DELETE FROM fund_members WHERE fund_id=$1 AND user_id=$2`, fundID, userID)
		return err
	})
}

func (p *Postgres) InsertCapitalTransaction(ctx context.Context, c types.CapitalTransaction) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return (&pgTx{pool: pool}).InsertCapitalTransaction(ctx, c)
	})
}
func (p *Postgres) GetCapitalTransactions(ctx context.Context, fundID string) (cs []types.CapitalTransaction, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		cs, e = (&pgTx{pool: pool}).GetCapitalTransactions(ctx, fundID)
		return e
	})
	return
}
func (p *Postgres) GetCapitalSummary(ctx context.Context, fundID string) (s types.NavSnapshot, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		s, e = (&pgTx{pool: pool}).GetCapitalSummary(ctx, fundID)
		return e
	})
	return
}
func (p *Postgres) GetNetCapital(ctx context.Context, fundID string) (v float64, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		v, e = (&pgTx{pool: pool}).GetNetCapital(ctx, fundID)
		return e
	})
	return
}

func (p *Postgres) InsertNavSnapshot(ctx context.Context, s types.NavSnapshot) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return (&pgTx{pool: pool}).InsertNavSnapshot(ctx, s)
	})
}
func (p *Postgres) GetRecentNavSnapshots(ctx context.Context, fundID string, limit int) (ss []types.NavSnapshot, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		ss, e = (&pgTx{pool: pool}).GetRecentNavSnapshots(ctx, fundID, limit)
		return e
	})
	return
}

func (p *Postgres) CreateStrategy(ctx context.Context, s types.Strategy) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		cfg, err := json.Marshal(s.Config)
		if err != nil {
			return err
		}
		_, err = pool.Exec(ctx, `INSERT INTO strategies(id, fund_id, name, type, config, config_hash, is_active)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`, s.ID, s.FundID, s.Name, s.Type, cfg, s.ConfigHash, s.IsActive)
		return err
	})
}
func (p *Postgres) GetStrategyByID(ctx context.Context, id string) (s types.Strategy, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var cfg []byte
		row := pool.QueryRow(ctx, `SELECT id, fund_id, name, type, config, config_hash, is_active, created_at, updated_at FROM strategies WHERE id=$1`, id)
		e := row.Scan(&s.ID, &s.FundID, &s.Name, &s.Type, &cfg, &s.ConfigHash, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
		if e == pgx.ErrNoRows {
			return apierr.New(apierr.NotFound, "strategy not found")
		}
		if e != nil {
			return e
		}
		return json.Unmarshal(cfg, &s.Config)
	})
	return
}
func (p *Postgres) UpdateStrategy(ctx context.Context, s types.Strategy) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		cfg, err := json.Marshal(s.Config)
		if err != nil {
			return err
		}
		_, err = pool.Exec(ctx, `UPDATE strategies SET name=$2, config=$3, config_hash=$4, is_active=$5, updated_at=now() WHERE id=$1`,
			s.ID, s.Name, cfg, s.ConfigHash, s.IsActive)
		return err
	})
}
func (p *Postgres) DeleteStrategy(ctx context.Context, id string) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `DELETE FROM strategies WHERE id=$1`, id)
		return err
	})
}
func (p *Postgres) GetActiveStrategies(ctx context.Context) (ss []types.Strategy, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, e := pool.Query(ctx, `SELECT id, fund_id, name, type, config, config_hash, is_active, created_at, updated_at FROM strategies WHERE is_active`)
		if e != nil {
			return e
		}
		defer rows.Close()
		for rows.Next() {
			var s types.Strategy
			var cfg []byte
			if e := rows.Scan(&s.ID, &s.FundID, &s.Name, &s.Type, &cfg, &s.ConfigHash, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); e != nil {
				return e
			}
			if e := json.Unmarshal(cfg, &s.Config); e != nil {
				return e
			}
			ss = append(ss, s)
		}
		return rows.Err()
	})
	return
}

func (p *Postgres) InsertStrategyTrade(ctx context.Context, t types.StrategyTrade) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return (&pgTx{pool: pool}).InsertStrategyTrade(ctx, t)
	})
}
func (p *Postgres) GetStrategyTrades(ctx context.Context, strategyID string) (ts []types.StrategyTrade, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		ts, e = (&pgTx{pool: pool}).GetStrategyTrades(ctx, strategyID)
		return e
	})
	return
}
func (p *Postgres) GetAllStrategyTradesChronological(ctx context.Context) (ts []types.StrategyTrade, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		ts, e = (&pgTx{pool: pool}).GetAllStrategyTradesChronological(ctx)
		return e
	})
	return
}
func (p *Postgres) GetStrategyTradesByFund(ctx context.Context, fundID string) (ts []types.StrategyTrade, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var e error
		ts, e = (&pgTx{pool: pool}).GetStrategyTradesByFund(ctx, fundID)
		return e
	})
	return
}

func (p *Postgres) InsertBacktest(ctx context.Context, b types.BacktestResult) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		metrics, err := json.Marshal(b.Metrics)
		if err != nil {
			return err
		}
		thresholds, err := json.Marshal(b.Thresholds)
		if err != nil {
			return err
		}
		_, err = pool.Exec(ctx, `INSERT INTO backtests(id, strategy_id, fund_id, config_hash, metrics, thresholds, passed, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, b.ID, b.StrategyID, b.FundID, b.ConfigHash, metrics, thresholds, b.Passed, b.Notes)
		return err
	})
}
func (p *Postgres) GetLatestBacktestByStrategy(ctx context.Context, strategyID string) (b types.BacktestResult, ok bool, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var metrics, thresholds []byte
		row := pool.QueryRow(ctx, `SELECT id, strategy_id, fund_id, config_hash, metrics, thresholds, passed, notes, ran_at
			FROM backtests WHERE strategy_id=$1 ORDER BY ran_at DESC LIMIT 1`, strategyID)
		e := row.Scan(&b.ID, &b.StrategyID, &b.FundID, &b.ConfigHash, &metrics, &thresholds, &b.Passed, &b.Notes, &b.RanAt)
		if e == pgx.ErrNoRows {
			return nil
		}
		if e != nil {
			return e
		}
		ok = true
		if e := json.Unmarshal(metrics, &b.Metrics); e != nil {
			return e
		}
		return json.Unmarshal(thresholds, &b.Thresholds)
	})
	return
}
func (p *Postgres) GetBacktestsByStrategy(ctx context.Context, strategyID string, limit int) (bs []types.BacktestResult, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, e := pool.Query(ctx, `SELECT id, strategy_id, fund_id, config_hash, metrics, thresholds, passed, notes, ran_at
			FROM backtests WHERE strategy_id=$1 ORDER BY ran_at DESC LIMIT $2`, strategyID, limit)
		if e != nil {
			return e
		}
		defer rows.Close()
		for rows.Next() {
			var b types.BacktestResult
			var metrics, thresholds []byte
			if e := rows.Scan(&b.ID, &b.StrategyID, &b.FundID, &b.ConfigHash, &metrics, &thresholds, &b.Passed, &b.Notes, &b.RanAt); e != nil {
				return e
			}
			if e := json.Unmarshal(metrics, &b.Metrics); e != nil {
				return e
			}
			if e := json.Unmarshal(thresholds, &b.Thresholds); e != nil {
				return e
			}
			bs = append(bs, b)
		}
		return rows.Err()
	})
	return
}

func (p *Postgres) UpsertRiskSettings(ctx context.Context, r types.RiskSettings) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `INSERT INTO risk_settings(fund_id, max_single_symbol_pct, max_strategy_exposure_pct, max_daily_drawdown_pct, enabled)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (fund_id) DO UPDATE SET max_single_symbol_pct=$2, max_strategy_exposure_pct=$3, max_daily_drawdown_pct=$4, enabled=$5`,
			r.FundID, r.MaxSingleSymbolPct, r.MaxStrategyExposurePct, r.MaxDailyDrawdownPct, r.Enabled)
		return err
	})
}
func (p *Postgres) GetRiskSettings(ctx context.Context, fundID string) (r types.RiskSettings, ok bool, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		row := pool.QueryRow(ctx, `SELECT fund_id, max_single_symbol_pct, max_strategy_exposure_pct, max_daily_drawdown_pct, enabled FROM risk_settings WHERE fund_id=$1`, fundID)
		e := row.Scan(&r.FundID, &r.MaxSingleSymbolPct, &r.MaxStrategyExposurePct, &r.MaxDailyDrawdownPct, &r.Enabled)
		if e == pgx.ErrNoRows {
			return nil
		}
		if e == nil {
			ok = true
		}
		return e
	})
	return
}

func (p *Postgres) InsertRiskBreach(ctx context.Context, b types.RiskBreach) error {
	return p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		ctxJSON, err := json.Marshal(b.Context)
		if err != nil {
			return err
		}
		var orderJSON []byte
		if b.AttemptedOrder != nil {
			orderJSON, err = json.Marshal(b.AttemptedOrder)
			if err != nil {
				return err
			}
		}
		_, err = pool.Exec(ctx, `INSERT INTO risk_breaches(id, fund_id, strategy_id, rule, severity, message, context, attempted_order)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, b.ID, b.FundID, b.StrategyID, b.Rule, b.Severity, b.Message, ctxJSON, orderJSON)
		return err
	})
}
func (p *Postgres) GetRiskBreachesByFund(ctx context.Context, fundID string, limit int) (bs []types.RiskBreach, err error) {
	err = p.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, e := pool.Query(ctx, `SELECT id, fund_id, strategy_id, rule, severity, message, context, attempted_order, created_at
			FROM risk_breaches WHERE fund_id=$1 ORDER BY created_at DESC LIMIT $2`, fundID, limit)
		if e != nil {
			return e
		}
		defer rows.Close()
		for rows.Next() {
			var b types.RiskBreach
			var ctxJSON, orderJSON []byte
			if e := rows.Scan(&b.ID, &b.FundID, &b.StrategyID, &b.Rule, &b.Severity, &b.Message, &ctxJSON, &orderJSON, &b.CreatedAt); e != nil {
				return e
			}
			_ = json.Unmarshal(ctxJSON, &b.Context)
			if len(orderJSON) > 0 {
				_ = json.Unmarshal(orderJSON, &b.AttemptedOrder)
			}
			bs = append(bs, b)
		}
		return rows.Err()
	})
	return
}

var _ Repository = (*Postgres)(nil)
