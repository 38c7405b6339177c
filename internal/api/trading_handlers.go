package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/execcost"
	"exchange-sim/internal/types"
)

type placeOrderRequest struct {
	Ticker     string   `json:"ticker"`
	Type       string   `json:"type"`
	Side       string   `json:"side"`
	Qty        float64  `json:"qty"`
	LimitPrice *float64 `json:"limitPrice,omitempty"`
	StopPrice  *float64 `json:"stopPrice,omitempty"`
	TrailPct   *float64 `json:"trailPct,omitempty"`
	OCOGroupID *string  `json:"ocoId,omitempty"`
}

type placeOrderResponse struct {
	Order    types.Order     `json:"order"`
	Estimate execcost.Result `json:"estimate"`
}

// handlePlaceOrder validates and inserts an order (§4.4: the matcher has
// no placement entry point of its own — it only reacts to tick batches
// via GetOpenOrdersByTicker — so the boundary writes the row directly).
// The response's estimate is informational only: the matcher's own
// execcost.Estimate call at fill time is authoritative.
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req placeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	orderType := types.OrderType(req.Type)
	side := types.Side(req.Side)
	if req.Qty <= 0 {
		writeError(w, apierr.New(apierr.Invalid, "qty must be positive"))
		return
	}
	if side != types.SideBuy && side != types.SideSell {
		writeError(w, apierr.New(apierr.Invalid, "side must be buy or sell"))
		return
	}
	if err := validateOrderType(orderType, req.LimitPrice, req.StopPrice, req.TrailPct); err != nil {
		writeError(w, err)
		return
	}

	inst, ok := s.deps.Instruments(req.Ticker)
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "unknown ticker"))
		return
	}
	tick, ok := s.deps.Market.Snapshot(req.Ticker)
	if !ok {
		writeError(w, apierr.New(apierr.Unavailable, "no quote available for ticker"))
		return
	}

	refPrice := tick.Last
	if refPrice <= 0 {
		refPrice = tick.Mid
	}
	if req.Qty*refPrice < s.deps.MinOrderNotional {
		writeError(w, apierr.New(apierr.Invalid, "order notional below minimum"))
		return
	}

	o := types.Order{
		ID:         uuid.NewString(),
		UserID:     p.UserID,
		Symbol:     req.Ticker,
		Type:       orderType,
		Side:       side,
		Qty:        req.Qty,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		TrailPct:   req.TrailPct,
		OCOGroupID: req.OCOGroupID,
		Status:     types.OrderOpen,
		CreatedAt:  time.Now(),
	}
	if err := s.deps.Repo.InsertOrder(r.Context(), o); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "placing order", err))
		return
	}

	mult, _ := s.deps.Market.RegimeMultipliers(req.Ticker)
	est := execcost.Estimate(execcost.Input{
		Profile: inst, Side: side, Qty: req.Qty, RefPrice: refPrice,
		Mid: tick.Mid, Volatility: tick.Volatility, Regime: mult,
	})
	writeJSON(w, http.StatusCreated, placeOrderResponse{Order: o, Estimate: est})
}

func validateOrderType(t types.OrderType, limit, stop, trail *float64) error {
	switch t {
	case types.OrderMarket:
		return nil
	case types.OrderLimit:
		if limit == nil {
			return apierr.New(apierr.Invalid, "limit orders require limitPrice")
		}
	case types.OrderStop, types.OrderStopLoss, types.OrderTakeProfit:
		if stop == nil {
			return apierr.New(apierr.Invalid, "stop orders require stopPrice")
		}
	case types.OrderStopLimit:
		if stop == nil || limit == nil {
			return apierr.New(apierr.Invalid, "stop-limit orders require stopPrice and limitPrice")
		}
	case types.OrderTrailingStop:
		if trail == nil {
			return apierr.New(apierr.Invalid, "trailing-stop orders require trailPct")
		}
	default:
		return apierr.New(apierr.Invalid, "unknown order type")
	}
	return nil
}

func (s *Server) handleListOpenOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	all, err := s.deps.Repo.GetOpenOrders(r.Context())
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading orders", err))
		return
	}
	mine := make([]types.Order, 0, len(all))
	for _, o := range all {
		if o.UserID == p.UserID {
			mine = append(mine, o)
		}
	}
	writeJSON(w, http.StatusOK, mine)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id := chi.URLParam(r, "id")

	o, err := s.deps.Repo.GetOrderByID(r.Context(), id)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.NotFound, "order not found", err))
		return
	}
	if o.UserID != p.UserID {
		writeError(w, apierr.New(apierr.Forbidden, "not your order"))
		return
	}
	if o.Status.IsTerminal() {
		writeJSON(w, http.StatusOK, o)
		return
	}
	if err := s.deps.Repo.CancelOrder(r.Context(), id); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "cancelling order", err))
		return
	}
	o.Status = types.OrderCancelled
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	positions, err := s.deps.Repo.GetPositionsByUser(r.Context(), p.UserID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading positions", err))
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	limit := queryInt(r, "limit", 100)
	trades, err := s.deps.Repo.GetTradesByUser(r.Context(), p.UserID, limit)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading trades", err))
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

type portfolioStats struct {
	Cash          float64 `json:"cash"`
	PositionValue float64 `json:"positionValue"`
	Equity        float64 `json:"equity"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	OpenOrders    int     `json:"openOrders"`
}

func (s *Server) handlePortfolioStats(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	u, err := s.deps.Repo.GetUserByID(r.Context(), p.UserID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.NotFound, "user not found", err))
		return
	}
	positions, err := s.deps.Repo.GetPositionsByUser(r.Context(), p.UserID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading positions", err))
		return
	}
	orders, err := s.deps.Repo.GetOpenOrders(r.Context())
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading orders", err))
		return
	}
	openCount := 0
	for _, o := range orders {
		if o.UserID == p.UserID {
			openCount++
		}
	}

	var posValue, unrealized float64
	for _, pos := range positions {
		tick, ok := s.deps.Market.Snapshot(pos.Symbol)
		mark := pos.AvgCost
		if ok {
			mark = tick.Last
		}
		posValue += pos.Qty * mark
		unrealized += (mark - pos.AvgCost) * pos.Qty
	}

	writeJSON(w, http.StatusOK, portfolioStats{
		Cash:          u.Cash,
		PositionValue: posValue,
		Equity:        u.Cash + posValue,
		UnrealizedPnL: unrealized,
		OpenOrders:    openCount,
	})
}

type leaderboardEntry struct {
	UserID      string  `json:"userId"`
	Username    string  `json:"username"`
	RealizedPnL float64 `json:"realizedPnl"`
}

// handleLeaderboard ranks users by aggregate realized P&L across every
// fill on the books. The repository has no "all users" query, only
// GetAllTrades, so the ranking is built purely from the trade ledger and
// usernames are resolved lazily, one GetUserByID per distinct trader.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	trades, err := s.deps.Repo.GetAllTrades(r.Context())
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading trades", err))
		return
	}
	pnlByUser := make(map[string]float64)
	for _, t := range trades {
		pnlByUser[t.UserID] += t.RealizedPnL
	}

	entries := make([]leaderboardEntry, 0, len(pnlByUser))
	for userID, pnl := range pnlByUser {
		username := userID
		if u, err := s.deps.Repo.GetUserByID(r.Context(), userID); err == nil {
			username = u.Username
		}
		entries = append(entries, leaderboardEntry{UserID: userID, Username: username, RealizedPnL: pnl})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RealizedPnL > entries[j].RealizedPnL })

	limit := queryInt(r, "limit", 50)
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	writeJSON(w, http.StatusOK, entries)
}
