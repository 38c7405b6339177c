package strategy

import (
	"context"
	"sync"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/repository"
	"exchange-sim/internal/types"
)

// fakeRepo is a minimal in-memory repository.Repository, grounded on
// internal/matcher's fakeRepo, covering only what Runner touches.
type fakeRepo struct {
	mu             sync.Mutex
	strategies     map[string]types.Strategy
	netCapital     map[string]float64
	riskSettings   map[string]types.RiskSettings
	riskBreaches   []types.RiskBreach
	strategyTrades []types.StrategyTrade
	backtests      map[string]types.BacktestResult
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		strategies:   make(map[string]types.Strategy),
		netCapital:   make(map[string]float64),
		riskSettings: make(map[string]types.RiskSettings),
		backtests:    make(map[string]types.BacktestResult),
	}
}

func (f *fakeRepo) GetUserByID(ctx context.Context, id string) (types.User, error) {
	return types.User{}, apierr.New(apierr.NotFound, "not implemented")
}
func (f *fakeRepo) GetUserByUsername(ctx context.Context, username string) (types.User, error) {
	return types.User{}, apierr.New(apierr.NotFound, "not implemented")
}
func (f *fakeRepo) InsertUser(ctx context.Context, u types.User) error { return nil }
func (f *fakeRepo) UpdateCashForUpdate(ctx context.Context, userID string, delta float64) (types.User, error) {
	return types.User{}, nil
}

func (f *fakeRepo) InsertOrder(ctx context.Context, o types.Order) error { return nil }
func (f *fakeRepo) GetOrderByID(ctx context.Context, id string) (types.Order, error) {
	return types.Order{}, apierr.New(apierr.NotFound, "not implemented")
}
func (f *fakeRepo) GetOpenOrders(ctx context.Context) ([]types.Order, error) { return nil, nil }
func (f *fakeRepo) GetOpenOrdersByTicker(ctx context.Context, symbol string) ([]types.Order, error) {
	return nil, nil
}
func (f *fakeRepo) CancelOrder(ctx context.Context, id string) error { return nil }
func (f *fakeRepo) UpdateFilledQtyStatus(ctx context.Context, id string, filledQty float64, status types.OrderStatus, rejectReason string) error {
	return nil
}

func (f *fakeRepo) GetPositionsByUser(ctx context.Context, userID string) ([]types.Position, error) {
	return nil, nil
}
func (f *fakeRepo) GetPositionByUserAndTicker(ctx context.Context, userID, symbol string) (types.Position, bool, error) {
	return types.Position{}, false, nil
}
func (f *fakeRepo) UpsertPosition(ctx context.Context, p types.Position) error        { return nil }
func (f *fakeRepo) DeletePositionIfZero(ctx context.Context, userID, symbol string) error { return nil }

func (f *fakeRepo) InsertTrade(ctx context.Context, t types.Trade) error { return nil }
func (f *fakeRepo) GetTradesByUser(ctx context.Context, userID string, limit int) ([]types.Trade, error) {
	return nil, nil
}
func (f *fakeRepo) GetAllTrades(ctx context.Context) ([]types.Trade, error) { return nil, nil }

func (f *fakeRepo) UpsertCandleOnClose(ctx context.Context, c types.Candle) error { return nil }
func (f *fakeRepo) GetCandlesBySymbolInterval(ctx context.Context, symbol string, interval types.Interval, limit int) ([]types.Candle, error) {
	return nil, nil
}
func (f *fakeRepo) InsertNews(ctx context.Context, n types.NewsEvent) error { return nil }
func (f *fakeRepo) GetRecentNews(ctx context.Context, limit int) ([]types.NewsEvent, error) {
	return nil, nil
}
func (f *fakeRepo) GetNewsByTicker(ctx context.Context, symbol string, limit int) ([]types.NewsEvent, error) {
	return nil, nil
}

func (f *fakeRepo) CreateFund(ctx context.Context, fund types.Fund) error { return nil }
func (f *fakeRepo) GetFundByID(ctx context.Context, id string) (types.Fund, error) {
	return types.Fund{}, nil
}
func (f *fakeRepo) UpdateFund(ctx context.Context, fund types.Fund) error { return nil }
func (f *fakeRepo) DeleteFund(ctx context.Context, id string) error      { return nil }
func (f *fakeRepo) GetUserFunds(ctx context.Context, userID string) ([]types.Fund, error) {
	return nil, nil
}
func (f *fakeRepo) InsertFundMember(ctx context.Context, m types.FundMember) error { return nil }
func (f *fakeRepo) GetFundMembers(ctx context.Context, fundID string) ([]types.FundMember, error) {
	return nil, nil
}
func (f *fakeRepo) GetFundMember(ctx context.Context, fundID, userID string) (types.FundMember, bool, error) {
	return types.FundMember{}, false, nil
}
func (f *fakeRepo) UpdateFundMemberRole(ctx context.Context, fundID, userID string, role types.FundMemberRole) error {
	return nil
}
func (f *fakeRepo) DeleteFundMember(ctx context.Context, fundID, userID string) error { return nil }

func (f *fakeRepo) InsertCapitalTransaction(ctx context.Context, c types.CapitalTransaction) error {
	return nil
}
func (f *fakeRepo) GetCapitalTransactions(ctx context.Context, fundID string) ([]types.CapitalTransaction, error) {
	return nil, nil
}
func (f *fakeRepo) GetCapitalSummary(ctx context.Context, fundID string) (types.NavSnapshot, error) {
	return types.NavSnapshot{}, nil
}
func (f *fakeRepo) GetNetCapital(ctx context.Context, fundID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.netCapital[fundID], nil
}

func (f *fakeRepo) InsertNavSnapshot(ctx context.Context, s types.NavSnapshot) error { return nil }
func (f *fakeRepo) GetRecentNavSnapshots(ctx context.Context, fundID string, limit int) ([]types.NavSnapshot, error) {
	return nil, nil
}

func (f *fakeRepo) CreateStrategy(ctx context.Context, s types.Strategy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strategies[s.ID] = s
	return nil
}
func (f *fakeRepo) GetStrategyByID(ctx context.Context, id string) (types.Strategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.strategies[id]
	if !ok {
		return s, apierr.New(apierr.NotFound, "strategy not found")
	}
	return s, nil
}
func (f *fakeRepo) UpdateStrategy(ctx context.Context, s types.Strategy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strategies[s.ID] = s
	return nil
}
func (f *fakeRepo) DeleteStrategy(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.strategies, id)
	return nil
}
func (f *fakeRepo) GetActiveStrategies(ctx context.Context) ([]types.Strategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Strategy
	for _, s := range f.strategies {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertStrategyTrade(ctx context.Context, t types.StrategyTrade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strategyTrades = append(f.strategyTrades, t)
	return nil
}
func (f *fakeRepo) GetStrategyTrades(ctx context.Context, strategyID string) ([]types.StrategyTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.StrategyTrade
	for _, t := range f.strategyTrades {
		if t.StrategyID == strategyID {
			out = append(out, t)
		}
	}
	return out, nil
}
func (f *fakeRepo) GetAllStrategyTradesChronological(ctx context.Context) ([]types.StrategyTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.StrategyTrade(nil), f.strategyTrades...), nil
}
func (f *fakeRepo) GetStrategyTradesByFund(ctx context.Context, fundID string) ([]types.StrategyTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.StrategyTrade
	for _, t := range f.strategyTrades {
		if t.FundID == fundID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertBacktest(ctx context.Context, b types.BacktestResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backtests[b.StrategyID] = b
	return nil
}
func (f *fakeRepo) GetLatestBacktestByStrategy(ctx context.Context, strategyID string) (types.BacktestResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.backtests[strategyID]
	return b, ok, nil
}
func (f *fakeRepo) GetBacktestsByStrategy(ctx context.Context, strategyID string, limit int) ([]types.BacktestResult, error) {
	return nil, nil
}

func (f *fakeRepo) UpsertRiskSettings(ctx context.Context, r types.RiskSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.riskSettings[r.FundID] = r
	return nil
}
func (f *fakeRepo) GetRiskSettings(ctx context.Context, fundID string) (types.RiskSettings, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.riskSettings[fundID]
	return r, ok, nil
}

func (f *fakeRepo) InsertRiskBreach(ctx context.Context, b types.RiskBreach) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.riskBreaches = append(f.riskBreaches, b)
	return nil
}
func (f *fakeRepo) GetRiskBreachesByFund(ctx context.Context, fundID string, limit int) ([]types.RiskBreach, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.RiskBreach
	for _, b := range f.riskBreaches {
		if b.FundID == fundID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeRepo) RunInTransaction(ctx context.Context, label string, fn repository.TxFunc) error {
	return fn(ctx, f)
}
func (f *fakeRepo) HealthSnapshot() repository.Health { return repository.Health{Connected: true} }
func (f *fakeRepo) Close()                            {}

var _ repository.Repository = (*fakeRepo)(nil)
var _ repository.Tx = (*fakeRepo)(nil)
