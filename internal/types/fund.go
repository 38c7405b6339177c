package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// FundMemberRole is a member's standing within a fund. Exactly one owner
// per fund (§3 invariant), enforced by the repository's membership writes.
type FundMemberRole string

const (
	FundRoleOwner   FundMemberRole = "owner"
	FundRoleAnalyst FundMemberRole = "analyst"
	FundRoleClient  FundMemberRole = "client"
)

// Fund is a multi-member pooled-capital vehicle.
type Fund struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	StrategyTypeLabel    string    `json:"strategyType"`
	OwnerUserID          string    `json:"ownerId"`
	Description          string    `json:"description"`
	MinInvestment         float64   `json:"minInvestment"`
	ManagementFeeAnnual  float64   `json:"managementFeeAnnual"`
	PerformanceFeeRate   float64   `json:"performanceFeeRate"`
	CreatedAt            time.Time `json:"createdAt"`
}

// FundMember links a user to a fund with a role.
type FundMember struct {
	FundID   string         `json:"fundId"`
	UserID   string         `json:"userId"`
	Role     FundMemberRole `json:"role"`
	JoinedAt time.Time      `json:"joinedAt"`
}

// CapitalTxType distinguishes deposits from withdrawals.
type CapitalTxType string

const (
	CapitalDeposit    CapitalTxType = "deposit"
	CapitalWithdrawal CapitalTxType = "withdrawal"
)

// CapitalTransaction is one unitized subscription/redemption event.
// Money fields use decimal.Decimal so the reconciliation invariants in
// §8 hold exactly rather than drifting under float accumulation.
type CapitalTransaction struct {
	ID             string          `json:"id"`
	FundID         string          `json:"fundId"`
	UserID         string          `json:"userId"`
	Amount         decimal.Decimal `json:"amount"`
	Type           CapitalTxType   `json:"type"`
	UnitsDelta     decimal.Decimal `json:"unitsDelta"`
	NavPerUnitAt   decimal.Decimal `json:"navPerUnitAt"`
	NavBefore      decimal.Decimal `json:"navBefore"`
	NavAfter       decimal.Decimal `json:"navAfter"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// NavSnapshot is written on every capital event and on periodic recompute.
type NavSnapshot struct {
	ID           string          `json:"id"`
	FundID       string          `json:"fundId"`
	SnapshotAt   time.Time       `json:"snapshotAt"`
	Nav          decimal.Decimal `json:"nav"`
	NavPerUnit   decimal.Decimal `json:"navPerUnit"`
	TotalUnits   decimal.Decimal `json:"totalUnits"`
	Capital      decimal.Decimal `json:"capital"`
	PnL          decimal.Decimal `json:"pnl"`
}

// StrategyType names a typed strategy handler variant (§4.9).
type StrategyType string

const (
	StrategyMeanReversion StrategyType = "mean_reversion"
	StrategyMomentum      StrategyType = "momentum"
	StrategyGrid          StrategyType = "grid"
	StrategyPairs         StrategyType = "pairs"
	StrategyCustom        StrategyType = "custom"
)

// Strategy is a fund-owned, typed, schedulable trading rule.
type Strategy struct {
	ID         string         `json:"id"`
	FundID     string         `json:"fundId"`
	Name       string         `json:"name"`
	Type       StrategyType   `json:"type"`
	Config     map[string]any `json:"config"`
	ConfigHash string         `json:"configHash"`
	IsActive   bool           `json:"isActive"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// ComputeConfigHash returns a deterministic digest of a strategy's
// canonicalised config (glossary: "Config hash"), used to pin backtest
// results and gate deploys. encoding/json already sorts map[string]any
// keys lexicographically, which is sufficient canonicalisation for the
// plain string/float/bool/map shapes strategy configs hold.
func ComputeConfigHash(cfg map[string]any) string {
	b, err := json.Marshal(cfg)
	if err != nil {
		b = []byte("{}")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// CustomStrategy is the source-level payload of a `custom` strategy. The
// API stores a custom strategy's source, tickers and parameters directly
// in Strategy.Config (`{source, tickers, parameters}`).
type CustomStrategy struct {
	ID         string             `json:"id"`
	FundID     string             `json:"fundId"`
	Source     string             `json:"source"`
	Parameters map[string]float64 `json:"parameters"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// BacktestResult is a pinned replay outcome.
type BacktestResult struct {
	ID         string             `json:"id"`
	StrategyID string             `json:"strategyId"`
	FundID     string             `json:"fundId"`
	ConfigHash string             `json:"configHash"`
	Metrics    BacktestMetrics    `json:"metrics"`
	Thresholds BacktestThresholds `json:"thresholds"`
	Passed     bool               `json:"passed"`
	Notes      string             `json:"notes"`
	RanAt      time.Time          `json:"ranAt"`
}

// BacktestMetrics is the measured performance of one replay.
type BacktestMetrics struct {
	SharpeLike   float64 `json:"sharpeLike"`
	MaxDrawdown  float64 `json:"maxDrawdown"`
	TradeCount   int     `json:"tradeCount"`
	NetReturn    float64 `json:"netReturn"`
	WinRate      float64 `json:"winRate"`
	AvgWin       float64 `json:"avgWin"`
	AvgLoss      float64 `json:"avgLoss"`
}

// BacktestThresholds is the pass/fail bar a replay is judged against.
type BacktestThresholds struct {
	MinSharpeLike  float64 `json:"minSharpeLike"`
	MaxDrawdown    float64 `json:"maxDrawdown"`
	MinTradeCount  int     `json:"minTradeCount"`
	MinNetReturn   float64 `json:"minNetReturn"`
}

// DefaultThresholds returns the per-strategy-type defaults used when a
// backtest call doesn't override thresholds (§4.8).
func DefaultThresholds(t StrategyType) BacktestThresholds {
	switch t {
	case StrategyMeanReversion:
		return BacktestThresholds{MinSharpeLike: 0.3, MaxDrawdown: 0.25, MinTradeCount: 5, MinNetReturn: 0}
	case StrategyMomentum:
		return BacktestThresholds{MinSharpeLike: 0.25, MaxDrawdown: 0.3, MinTradeCount: 5, MinNetReturn: 0}
	case StrategyGrid:
		return BacktestThresholds{MinSharpeLike: 0.2, MaxDrawdown: 0.2, MinTradeCount: 10, MinNetReturn: 0}
	case StrategyPairs:
		return BacktestThresholds{MinSharpeLike: 0.3, MaxDrawdown: 0.2, MinTradeCount: 5, MinNetReturn: 0}
	default:
		return BacktestThresholds{MinSharpeLike: 0.2, MaxDrawdown: 0.3, MinTradeCount: 3, MinNetReturn: -0.05}
	}
}

// RiskSettings are the per-fund risk guard thresholds (§4.7).
type RiskSettings struct {
	FundID                  string  `json:"fundId"`
	MaxSingleSymbolPct      float64 `json:"maxSingleSymbolPct"`
	MaxStrategyExposurePct  float64 `json:"maxStrategyExposurePct"`
	MaxDailyDrawdownPct     float64 `json:"maxDailyDrawdownPct"`
	Enabled                 bool    `json:"enabled"`
}

// RiskBreach records one instance of a guard preventing a trade.
type RiskBreach struct {
	ID             string         `json:"id"`
	FundID         string         `json:"fundId"`
	StrategyID     string         `json:"strategyId"`
	Rule           string         `json:"rule"`
	Severity       string         `json:"severity"`
	Message        string         `json:"message"`
	Context        map[string]any `json:"context"`
	AttemptedOrder map[string]any `json:"attemptedOrder,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// StrategyTrade is a fund-internal ledger entry, kept separate from the
// user cash/position ledger per SPEC_FULL §12's Open Question decision.
type StrategyTrade struct {
	ID          string    `json:"id"`
	StrategyID  string    `json:"strategyId"`
	FundID      string    `json:"fundId"`
	Symbol      string    `json:"ticker"`
	Side        Side      `json:"side"`
	Qty         float64   `json:"qty"`
	Price       float64   `json:"price"`
	Commission  float64   `json:"commission"`
	RealizedPnL float64   `json:"realizedPnl"`
	Reason      string    `json:"reason"`
	ExecutedAt  time.Time `json:"executedAt"`
}
