package api

import (
	"context"
	"sort"
	"sync"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/repository"
	"exchange-sim/internal/types"
)

// fakeRepo is a minimal in-memory repository.Repository covering every
// method the api handlers exercise, grounded on the same per-package
// fakeRepo pattern used in internal/fund, internal/strategy, internal/matcher.
type fakeRepo struct {
	mu sync.Mutex

	users        map[string]types.User
	usersByName  map[string]string // username -> id
	orders       map[string]types.Order
	positions    map[string]types.Position // userID|symbol
	trades       []types.Trade
	candles      []types.Candle
	news         []types.NewsEvent
	funds        map[string]types.Fund
	members      map[string]types.FundMember // fundID|userID
	capitalTxs   []types.CapitalTransaction
	navSnapshots []types.NavSnapshot
	strategies   map[string]types.Strategy
	strategyTrds []types.StrategyTrade
	backtests    map[string][]types.BacktestResult
	riskSettings map[string]types.RiskSettings
	riskBreaches []types.RiskBreach
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:        make(map[string]types.User),
		usersByName:  make(map[string]string),
		orders:       make(map[string]types.Order),
		positions:    make(map[string]types.Position),
		funds:        make(map[string]types.Fund),
		members:      make(map[string]types.FundMember),
		strategies:   make(map[string]types.Strategy),
		backtests:    make(map[string][]types.BacktestResult),
		riskSettings: make(map[string]types.RiskSettings),
	}
}

func (f *fakeRepo) GetUserByID(ctx context.Context, id string) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return types.User{}, apierr.New(apierr.NotFound, "user not found")
	}
	return u, nil
}

func (f *fakeRepo) GetUserByUsername(ctx context.Context, username string) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.usersByName[username]
	if !ok {
		return types.User{}, apierr.New(apierr.NotFound, "user not found")
	}
	return f.users[id], nil
}

func (f *fakeRepo) InsertUser(ctx context.Context, u types.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	f.usersByName[u.Username] = u.ID
	return nil
}

func (f *fakeRepo) UpdateCashForUpdate(ctx context.Context, userID string, delta float64) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
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
		return types.Order{}, apierr.New(apierr.NotFound, "order not found")
	}
	return o, nil
}

func (f *fakeRepo) GetOpenOrders(ctx context.Context) ([]types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Order
	for _, o := range f.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetOpenOrdersByTicker(ctx context.Context, symbol string) ([]types.Order, error) {
	all, _ := f.GetOpenOrders(ctx)
	var out []types.Order
	for _, o := range all {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeRepo) CancelOrder(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[id]
	o.Status = types.OrderCancelled
	f.orders[id] = o
	return nil
}

func (f *fakeRepo) UpdateFilledQtyStatus(ctx context.Context, id string, filledQty float64, status types.OrderStatus, rejectReason string) error {
	return nil
}

func (f *fakeRepo) GetPositionsByUser(ctx context.Context, userID string) ([]types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Position
	for key, p := range f.positions {
		if p.UserID == userID {
			_ = key
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetPositionByUserAndTicker(ctx context.Context, userID, symbol string) (types.Position, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[userID+"|"+symbol]
	return p, ok, nil
}

func (f *fakeRepo) UpsertPosition(ctx context.Context, p types.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[p.UserID+"|"+p.Symbol] = p
	return nil
}

func (f *fakeRepo) DeletePositionIfZero(ctx context.Context, userID, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.positions, userID+"|"+symbol)
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
	if limit > 0 && len(out) > limit {
		out = out[:limit]
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
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Candle
	for _, c := range f.candles {
		if c.Symbol == symbol && c.Interval == interval {
			out = append(out, c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) InsertNews(ctx context.Context, n types.NewsEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.news = append(f.news, n)
	return nil
}

func (f *fakeRepo) GetRecentNews(ctx context.Context, limit int) ([]types.NewsEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]types.NewsEvent(nil), f.news...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) GetNewsByTicker(ctx context.Context, symbol string, limit int) ([]types.NewsEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.NewsEvent
	for _, n := range f.news {
		if n.Symbol == symbol {
			out = append(out, n)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) CreateFund(ctx context.Context, fd types.Fund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.funds[fd.ID] = fd
	return nil
}

func (f *fakeRepo) GetFundByID(ctx context.Context, id string) (types.Fund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd, ok := f.funds[id]
	if !ok {
		return types.Fund{}, apierr.New(apierr.NotFound, "fund not found")
	}
	return fd, nil
}

func (f *fakeRepo) UpdateFund(ctx context.Context, fd types.Fund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.funds[fd.ID] = fd
	return nil
}

func (f *fakeRepo) DeleteFund(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.funds, id)
	return nil
}

func (f *fakeRepo) GetUserFunds(ctx context.Context, userID string) ([]types.Fund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Fund
	for _, fd := range f.funds {
		if fd.OwnerUserID == userID {
			out = append(out, fd)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertFundMember(ctx context.Context, m types.FundMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[m.FundID+"|"+m.UserID] = m
	return nil
}

func (f *fakeRepo) GetFundMembers(ctx context.Context, fundID string) ([]types.FundMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.FundMember
	for _, m := range f.members {
		if m.FundID == fundID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetFundMember(ctx context.Context, fundID, userID string) (types.FundMember, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[fundID+"|"+userID]
	return m, ok, nil
}

func (f *fakeRepo) UpdateFundMemberRole(ctx context.Context, fundID, userID string, role types.FundMemberRole) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fundID + "|" + userID
	m := f.members[key]
	m.Role = role
	f.members[key] = m
	return nil
}

func (f *fakeRepo) DeleteFundMember(ctx context.Context, fundID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, fundID+"|"+userID)
	return nil
}

func (f *fakeRepo) InsertCapitalTransaction(ctx context.Context, c types.CapitalTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capitalTxs = append(f.capitalTxs, c)
	return nil
}

func (f *fakeRepo) GetCapitalTransactions(ctx context.Context, fundID string) ([]types.CapitalTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.CapitalTransaction
	for _, c := range f.capitalTxs {
		if c.FundID == fundID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetCapitalSummary(ctx context.Context, fundID string) (types.NavSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest types.NavSnapshot
	for _, s := range f.navSnapshots {
		if s.FundID == fundID && s.SnapshotAt.After(latest.SnapshotAt) {
			latest = s
		}
	}
	if latest.FundID == "" {
		latest.FundID = fundID
	}
	return latest, nil
}

func (f *fakeRepo) GetNetCapital(ctx context.Context, fundID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total float64
	for _, c := range f.capitalTxs {
		if c.FundID != fundID {
			continue
		}
		amt, _ := c.Amount.Float64()
		if c.Type == types.CapitalWithdrawal {
			total -= amt
		} else {
			total += amt
		}
	}
	return total, nil
}

func (f *fakeRepo) InsertNavSnapshot(ctx context.Context, snap types.NavSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navSnapshots = append(f.navSnapshots, snap)
	return nil
}

func (f *fakeRepo) GetRecentNavSnapshots(ctx context.Context, fundID string, limit int) ([]types.NavSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.NavSnapshot
	for _, s := range f.navSnapshots {
		if s.FundID == fundID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotAt.After(out[j].SnapshotAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) CreateStrategy(ctx context.Context, st types.Strategy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strategies[st.ID] = st
	return nil
}

func (f *fakeRepo) GetStrategyByID(ctx context.Context, id string) (types.Strategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.strategies[id]
	if !ok {
		return types.Strategy{}, apierr.New(apierr.NotFound, "strategy not found")
	}
	return st, nil
}

func (f *fakeRepo) UpdateStrategy(ctx context.Context, st types.Strategy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strategies[st.ID] = st
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
	for _, st := range f.strategies {
		if st.IsActive {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertStrategyTrade(ctx context.Context, t types.StrategyTrade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strategyTrds = append(f.strategyTrds, t)
	return nil
}

func (f *fakeRepo) GetStrategyTrades(ctx context.Context, strategyID string) ([]types.StrategyTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.StrategyTrade
	for _, t := range f.strategyTrds {
		if t.StrategyID == strategyID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetAllStrategyTradesChronological(ctx context.Context) ([]types.StrategyTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.StrategyTrade(nil), f.strategyTrds...), nil
}

func (f *fakeRepo) GetStrategyTradesByFund(ctx context.Context, fundID string) ([]types.StrategyTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.StrategyTrade
	for _, t := range f.strategyTrds {
		if t.FundID == fundID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertBacktest(ctx context.Context, b types.BacktestResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backtests[b.StrategyID] = append(f.backtests[b.StrategyID], b)
	return nil
}

func (f *fakeRepo) GetLatestBacktestByStrategy(ctx context.Context, strategyID string) (types.BacktestResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.backtests[strategyID]
	if len(list) == 0 {
		return types.BacktestResult{}, false, nil
	}
	return list[len(list)-1], true, nil
}

func (f *fakeRepo) GetBacktestsByStrategy(ctx context.Context, strategyID string, limit int) ([]types.BacktestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]types.BacktestResult(nil), f.backtests[strategyID]...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
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
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) RunInTransaction(ctx context.Context, label string, fn repository.TxFunc) error {
	return fn(ctx, f)
}

func (f *fakeRepo) HealthSnapshot() repository.Health {
	return repository.Health{Mode: "direct", Connected: true}
}

func (f *fakeRepo) Close() {}

var _ repository.Repository = (*fakeRepo)(nil)
var _ repository.Tx = (*fakeRepo)(nil)
