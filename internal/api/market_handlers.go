package api

import (
	"math/rand"
	"net/http"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/orderbook"
	"exchange-sim/internal/types"
)

type tickerView struct {
	Symbol     string             `json:"symbol"`
	Tick       types.Tick         `json:"tick"`
	ChangePct  float64            `json:"changePct"`
	Regime     types.Regime       `json:"regime"`
	Multipliers types.RegimeMultipliers `json:"regimeMultipliers"`
}

func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	symbols := s.deps.Symbols()
	views := make([]tickerView, 0, len(symbols))
	for _, sym := range symbols {
		tick, ok := s.deps.Market.Snapshot(sym)
		if !ok {
			continue
		}
		mult, _ := s.deps.Market.RegimeMultipliers(sym)
		views = append(views, tickerView{
			Symbol: sym, Tick: tick, ChangePct: tick.ChangePct(),
			Regime: tick.Regime, Multipliers: mult,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	symbol := urlSymbol(r)
	interval := types.Interval(r.URL.Query().Get("interval"))
	if interval == "" {
		interval = types.Interval1m
	}
	limit := queryInt(r, "limit", 200)

	candles, err := s.deps.Repo.GetCandlesBySymbolInterval(r.Context(), symbol, interval, limit)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading candles", err))
		return
	}
	if current, ok := s.deps.Market.CurrentCandle(symbol, interval); ok {
		candles = append(candles, current)
	}
	writeJSON(w, http.StatusOK, candles)
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := urlSymbol(r)
	inst, ok := s.deps.Instruments(symbol)
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "unknown ticker"))
		return
	}
	tick, ok := s.deps.Market.Snapshot(symbol)
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "no quote for ticker"))
		return
	}
	userOrders, err := s.deps.Repo.GetOpenOrdersByTicker(r.Context(), symbol)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading open orders", err))
		return
	}
	rng := rand.New(rand.NewSource(tick.TimestampMs))
	snap := orderbook.Build(inst, tick, userOrders, rng, tick.TimestampMs)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	ticker := r.URL.Query().Get("ticker")

	var (
		news []types.NewsEvent
		err  error
	)
	if ticker != "" {
		news, err = s.deps.Repo.GetNewsByTicker(r.Context(), ticker, limit)
	} else {
		news, err = s.deps.Repo.GetRecentNews(r.Context(), limit)
	}
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading news", err))
		return
	}
	writeJSON(w, http.StatusOK, news)
}
