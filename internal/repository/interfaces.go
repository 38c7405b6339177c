// Package repository is the narrow persistence façade (spec.md §4.1 /
// §6.3) the rest of the core consumes. It never leaks a SQL driver type
// into a caller signature; every operation here is an interface method
// backed by the pgx/pgxpool implementation in postgres.go.
package repository

import (
	"context"
	"time"

	"exchange-sim/internal/types"
)

// TxFunc is the body of a repository transaction (§4.1: row-level locks
// on the affected user row and the fund's capital aggregate).
type TxFunc func(ctx context.Context, tx Tx) error

// Tx is the transactional view of the repository, passed into TxFunc.
type Tx interface {
	Users
	Orders
	Positions
	Trades
	FundCapital
	NavSnapshots
	StrategyTrades
}

// Health is the dual-endpoint status exposed per §4.1.
type Health struct {
	Mode          string // "direct" | "pooler"
	Connected     bool
	LastErrorCode string
	LastFailureAt time.Time
}

// Users covers the user-account operations §6.3 names.
type Users interface {
	GetUserByID(ctx context.Context, id string) (types.User, error)
	GetUserByUsername(ctx context.Context, username string) (types.User, error)
	InsertUser(ctx context.Context, u types.User) error
	UpdateCashForUpdate(ctx context.Context, userID string, delta float64) (types.User, error)
}

// Orders covers order lifecycle operations.
type Orders interface {
	InsertOrder(ctx context.Context, o types.Order) error
	GetOrderByID(ctx context.Context, id string) (types.Order, error)
	GetOpenOrders(ctx context.Context) ([]types.Order, error)
	GetOpenOrdersByTicker(ctx context.Context, symbol string) ([]types.Order, error)
	CancelOrder(ctx context.Context, id string) error
	UpdateFilledQtyStatus(ctx context.Context, id string, filledQty float64, status types.OrderStatus, rejectReason string) error
}

// Positions covers position upserts and reads.
type Positions interface {
	GetPositionsByUser(ctx context.Context, userID string) ([]types.Position, error)
	GetPositionByUserAndTicker(ctx context.Context, userID, symbol string) (types.Position, bool, error)
	UpsertPosition(ctx context.Context, p types.Position) error
	DeletePositionIfZero(ctx context.Context, userID, symbol string) error
}

// Trades covers the immutable fill log.
type Trades interface {
	InsertTrade(ctx context.Context, t types.Trade) error
	GetTradesByUser(ctx context.Context, userID string, limit int) ([]types.Trade, error)
	GetAllTrades(ctx context.Context) ([]types.Trade, error)
}

// Candles covers closed-candle persistence.
type Candles interface {
	UpsertCandleOnClose(ctx context.Context, c types.Candle) error
	GetCandlesBySymbolInterval(ctx context.Context, symbol string, interval types.Interval, limit int) ([]types.Candle, error)
}

// News covers news-event persistence.
type News interface {
	InsertNews(ctx context.Context, n types.NewsEvent) error
	GetRecentNews(ctx context.Context, limit int) ([]types.NewsEvent, error)
	GetNewsByTicker(ctx context.Context, symbol string, limit int) ([]types.NewsEvent, error)
}

// Funds covers fund CRUD and membership.
type Funds interface {
	CreateFund(ctx context.Context, f types.Fund) error
	GetFundByID(ctx context.Context, id string) (types.Fund, error)
	UpdateFund(ctx context.Context, f types.Fund) error
	DeleteFund(ctx context.Context, id string) error
	GetUserFunds(ctx context.Context, userID string) ([]types.Fund, error)

	InsertFundMember(ctx context.Context, m types.FundMember) error
	GetFundMembers(ctx context.Context, fundID string) ([]types.FundMember, error)
	GetFundMember(ctx context.Context, fundID, userID string) (types.FundMember, bool, error)
	UpdateFundMemberRole(ctx context.Context, fundID, userID string, role types.FundMemberRole) error
	DeleteFundMember(ctx context.Context, fundID, userID string) error
}

// FundCapital covers capital-transaction writes and rollups.
type FundCapital interface {
	InsertCapitalTransaction(ctx context.Context, c types.CapitalTransaction) error
	GetCapitalTransactions(ctx context.Context, fundID string) ([]types.CapitalTransaction, error)
	GetCapitalSummary(ctx context.Context, fundID string) (types.NavSnapshot, error)
	GetNetCapital(ctx context.Context, fundID string) (float64, error)
}

// NavSnapshots covers NAV history.
type NavSnapshots interface {
	InsertNavSnapshot(ctx context.Context, s types.NavSnapshot) error
	GetRecentNavSnapshots(ctx context.Context, fundID string, limit int) ([]types.NavSnapshot, error)
}

// Strategies covers strategy CRUD.
type Strategies interface {
	CreateStrategy(ctx context.Context, s types.Strategy) error
	GetStrategyByID(ctx context.Context, id string) (types.Strategy, error)
	UpdateStrategy(ctx context.Context, s types.Strategy) error
	DeleteStrategy(ctx context.Context, id string) error
	GetActiveStrategies(ctx context.Context) ([]types.Strategy, error)
}

// StrategyTrades covers the fund-internal trade ledger (kept separate
// from user trades per the §12 open-question decision).
type StrategyTrades interface {
	InsertStrategyTrade(ctx context.Context, t types.StrategyTrade) error
	GetStrategyTrades(ctx context.Context, strategyID string) ([]types.StrategyTrade, error)
	GetAllStrategyTradesChronological(ctx context.Context) ([]types.StrategyTrade, error)
	GetStrategyTradesByFund(ctx context.Context, fundID string) ([]types.StrategyTrade, error)
}

// Backtests covers backtest result persistence and the deploy-gate read.
type Backtests interface {
	InsertBacktest(ctx context.Context, b types.BacktestResult) error
	GetLatestBacktestByStrategy(ctx context.Context, strategyID string) (types.BacktestResult, bool, error)
	GetBacktestsByStrategy(ctx context.Context, strategyID string, limit int) ([]types.BacktestResult, error)
}

// RiskSettings covers per-fund risk configuration.
type RiskSettings interface {
	UpsertRiskSettings(ctx context.Context, r types.RiskSettings) error
	GetRiskSettings(ctx context.Context, fundID string) (types.RiskSettings, bool, error)
}

// RiskBreaches covers the risk-breach log.
type RiskBreaches interface {
	InsertRiskBreach(ctx context.Context, b types.RiskBreach) error
	GetRiskBreachesByFund(ctx context.Context, fundID string, limit int) ([]types.RiskBreach, error)
}

// Repository is the full surface; RunInTransaction opens a transaction over Tx.
type Repository interface {
	Users
	Orders
	Positions
	Trades
	Candles
	News
	Funds
	FundCapital
	NavSnapshots
	Strategies
	StrategyTrades
	Backtests
	RiskSettings
	RiskBreaches

	RunInTransaction(ctx context.Context, label string, fn TxFunc) error
	HealthSnapshot() Health
	Close()
}
