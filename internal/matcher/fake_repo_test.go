package matcher

import (
	"context"
	"sync"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/repository"
	"exchange-sim/internal/types"
)

// fakeRepo is a minimal in-memory repository.Repository used to exercise
// the matcher without a real Postgres instance.
type fakeRepo struct {
	mu        sync.Mutex
	users     map[string]types.User
	orders    map[string]types.Order
	positions map[string]types.Position // key userID|symbol
	trades    []types.Trade
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:     make(map[string]types.User),
		orders:    make(map[string]types.Order),
		positions: make(map[string]types.Position),
	}
}

func posKey(userID, symbol string) string { return userID + "|" + symbol }

func (f *fakeRepo) GetUserByID(ctx context.Context, id string) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return u, apierr.New(apierr.NotFound, "user not found")
	}
	return u, nil
}
func (f *fakeRepo) GetUserByUsername(ctx context.Context, username string) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return types.User{}, apierr.New(apierr.NotFound, "user not found")
}
func (f *fakeRepo) InsertUser(ctx context.Context, u types.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}
func (f *fakeRepo) UpdateCashForUpdate(ctx context.Context, userID string, delta float64) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return u, apierr.New(apierr.NotFound, "user not found")
	}
	u.Cash += delta
	f.users[userID] = u
	return u, nil
}

func (f *fakeRepo) InsertOrder(ctx context.Context, o types.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
	return nil
}
func (f *fakeRepo) GetOrderByID(ctx context.Context, id string) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return o, apierr.New(apierr.NotFound, "order not found")
	}
	return o, nil
}
func (f *fakeRepo) GetOpenOrders(ctx context.Context) ([]types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Order
	for _, o := range f.orders {
		if o.Status == types.OrderOpen || o.Status == types.OrderPartial {
			out = append(out, o)
		}
	}
	return out, nil
}
func (f *fakeRepo) GetOpenOrdersByTicker(ctx context.Context, symbol string) ([]types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Order
	for _, o := range f.orders {
		if (o.Status == types.OrderOpen || o.Status == types.OrderPartial) && o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}
func (f *fakeRepo) CancelOrder(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.Status.IsTerminal() {
		return nil
	}
	o.Status = types.OrderCancelled
	f.orders[id] = o
	return nil
}
func (f *fakeRepo) UpdateFilledQtyStatus(ctx context.Context, id string, filledQty float64, status types.OrderStatus, rejectReason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil
	}
	o.FilledQty = filledQty
	o.Status = status
	o.RejectReason = rejectReason
	f.orders[id] = o
	return nil
}

func (f *fakeRepo) GetPositionsByUser(ctx context.Context, userID string) ([]types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Position
	for k, p := range f.positions {
		if p.UserID == userID {
			_ = k
			out = append(out, p)
		}
	}
	return out, nil
}
func (f *fakeRepo) GetPositionByUserAndTicker(ctx context.Context, userID, symbol string) (types.Position, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[posKey(userID, symbol)]
	return p, ok, nil
}
func (f *fakeRepo) UpsertPosition(ctx context.Context, p types.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[posKey(p.UserID, p.Symbol)] = p
	return nil
}
func (f *fakeRepo) DeletePositionIfZero(ctx context.Context, userID, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.positions, posKey(userID, symbol))
	return nil
}

func (f *fakeRepo) InsertTrade(ctx context.Context, t types.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, t)
	return nil
}
func (f *fakeRepo) GetTradesByUser(ctx context.Context, userID string, limit int) ([]types.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Trade
	for _, t := range f.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}
func (f *fakeRepo) GetAllTrades(ctx context.Context) ([]types.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Trade(nil), f.trades...), nil
}

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

func (f *fakeRepo) CreateFund(ctx context.Context, fund types.Fund) error           { return nil }
func (f *fakeRepo) GetFundByID(ctx context.Context, id string) (types.Fund, error) { return types.Fund{}, nil }
func (f *fakeRepo) UpdateFund(ctx context.Context, fund types.Fund) error           { return nil }
func (f *fakeRepo) DeleteFund(ctx context.Context, id string) error                 { return nil }
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
func (f *fakeRepo) GetNetCapital(ctx context.Context, fundID string) (float64, error) { return 0, nil }

func (f *fakeRepo) InsertNavSnapshot(ctx context.Context, s types.NavSnapshot) error { return nil }
func (f *fakeRepo) GetRecentNavSnapshots(ctx context.Context, fundID string, limit int) ([]types.NavSnapshot, error) {
	return nil, nil
}

func (f *fakeRepo) CreateStrategy(ctx context.Context, s types.Strategy) error { return nil }
func (f *fakeRepo) GetStrategyByID(ctx context.Context, id string) (types.Strategy, error) {
	return types.Strategy{}, nil
}
func (f *fakeRepo) UpdateStrategy(ctx context.Context, s types.Strategy) error { return nil }
func (f *fakeRepo) DeleteStrategy(ctx context.Context, id string) error       { return nil }
func (f *fakeRepo) GetActiveStrategies(ctx context.Context) ([]types.Strategy, error) {
	return nil, nil
}

func (f *fakeRepo) InsertStrategyTrade(ctx context.Context, t types.StrategyTrade) error { return nil }
func (f *fakeRepo) GetStrategyTrades(ctx context.Context, strategyID string) ([]types.StrategyTrade, error) {
	return nil, nil
}
func (f *fakeRepo) GetAllStrategyTradesChronological(ctx context.Context) ([]types.StrategyTrade, error) {
	return nil, nil
}
func (f *fakeRepo) GetStrategyTradesByFund(ctx context.Context, fundID string) ([]types.StrategyTrade, error) {
	return nil, nil
}

func (f *fakeRepo) InsertBacktest(ctx context.Context, b types.BacktestResult) error { return nil }
func (f *fakeRepo) GetLatestBacktestByStrategy(ctx context.Context, strategyID string) (types.BacktestResult, bool, error) {
	return types.BacktestResult{}, false, nil
}
func (f *fakeRepo) GetBacktestsByStrategy(ctx context.Context, strategyID string, limit int) ([]types.BacktestResult, error) {
	return nil, nil
}

func (f *fakeRepo) UpsertRiskSettings(ctx context.Context, r types.RiskSettings) error { return nil }
func (f *fakeRepo) GetRiskSettings(ctx context.Context, fundID string) (types.RiskSettings, bool, error) {
	return types.RiskSettings{}, false, nil
}

func (f *fakeRepo) InsertRiskBreach(ctx context.Context, b types.RiskBreach) error { return nil }
func (f *fakeRepo) GetRiskBreachesByFund(ctx context.Context, fundID string, limit int) ([]types.RiskBreach, error) {
	return nil, nil
}

// RunInTransaction runs fn directly against f itself: the fake has no
// real isolation to offer, but every write path above is already
// serialized by f.mu, which is sufficient for single-goroutine tests.
func (f *fakeRepo) RunInTransaction(ctx context.Context, label string, fn repository.TxFunc) error {
	return fn(ctx, f)
}
func (f *fakeRepo) HealthSnapshot() repository.Health { return repository.Health{Connected: true} }
func (f *fakeRepo) Close()                            {}

var _ repository.Repository = (*fakeRepo)(nil)
var _ repository.Tx = (*fakeRepo)(nil)
