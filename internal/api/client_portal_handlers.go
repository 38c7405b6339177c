package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/fund"
	"exchange-sim/internal/types"
)

// setupClientPortalRoutes wires the read-only investor-facing views named
// in spec.md §6.2, every one scoped by a `?fund_id=` query parameter
// rather than a path segment (the representative surface lists them
// flat: "/client-portal/{allocation|performance|...}?fund_id=").
func (s *Server) setupClientPortalRoutes(r chi.Router) {
	r.Route("/client-portal", func(r chi.Router) {
		r.Get("/allocation", s.handlePortalAllocation)
		r.Get("/performance", s.handlePortalPerformance)
		r.Get("/transactions", s.handlePortalTransactions)
		r.Get("/statements", s.handlePortalStatements)
		r.Get("/fund-summary", s.handlePortalFundSummary)
		r.Get("/strategies", s.handlePortalStrategies)
	})
}

func (s *Server) fundIDFromQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	fundID := r.URL.Query().Get("fund_id")
	if fundID == "" {
		writeError(w, apierr.New(apierr.Invalid, "fund_id query parameter is required"))
		return "", false
	}
	if _, ok := s.requireFundMember(w, r, fundID); !ok {
		return "", false
	}
	return fundID, true
}

type allocationEntry struct {
	Symbol string  `json:"symbol"`
	NetQty float64 `json:"netQty"`
}

// handlePortalAllocation rolls up the fund's net per-symbol exposure from
// its strategy trade ledger — there is no persisted fund-level position
// table (positions belong to users, not funds; strategies trade through
// the in-memory fundBook in internal/strategy/runner.go), so the ledger
// scan is the only source of truth available to the boundary.
func (s *Server) handlePortalAllocation(w http.ResponseWriter, r *http.Request) {
	fundID, ok := s.fundIDFromQuery(w, r)
	if !ok {
		return
	}
	trades, err := s.deps.Repo.GetStrategyTradesByFund(r.Context(), fundID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading strategy trades", err))
		return
	}
	bySymbol := make(map[string]float64)
	for _, t := range trades {
		bySymbol[t.Symbol] += t.Side.Sign() * t.Qty
	}
	out := make([]allocationEntry, 0, len(bySymbol))
	for sym, qty := range bySymbol {
		out = append(out, allocationEntry{Symbol: sym, NetQty: qty})
	}
	writeJSON(w, http.StatusOK, out)
}

type performanceView struct {
	Latest  types.NavSnapshot   `json:"latest"`
	History []types.NavSnapshot `json:"history"`
}

func (s *Server) handlePortalPerformance(w http.ResponseWriter, r *http.Request) {
	fundID, ok := s.fundIDFromQuery(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 200)
	history, err := s.deps.Repo.GetRecentNavSnapshots(r.Context(), fundID, limit)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading nav history", err))
		return
	}
	var latest types.NavSnapshot
	if len(history) > 0 {
		latest = history[0]
	}
	writeJSON(w, http.StatusOK, performanceView{Latest: latest, History: history})
}

func (s *Server) handlePortalTransactions(w http.ResponseWriter, r *http.Request) {
	fundID, ok := s.fundIDFromQuery(w, r)
	if !ok {
		return
	}
	txs, err := s.deps.Repo.GetCapitalTransactions(r.Context(), fundID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading capital transactions", err))
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// handlePortalStatements derives the requesting investor's statement for
// one calendar month (?month=YYYY-MM, defaulting to the current month)
// purely from NAV/capital history (§4.10).
func (s *Server) handlePortalStatements(w http.ResponseWriter, r *http.Request) {
	fundID, ok := s.fundIDFromQuery(w, r)
	if !ok {
		return
	}
	p, _ := principalFrom(r.Context())
	f, err := s.deps.Repo.GetFundByID(r.Context(), fundID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.NotFound, "fund not found", err))
		return
	}

	month := time.Now()
	if raw := r.URL.Query().Get("month"); raw != "" {
		parsed, err := time.Parse("2006-01", raw)
		if err != nil {
			writeError(w, apierr.New(apierr.Invalid, "month must be formatted YYYY-MM"))
			return
		}
		month = parsed
	}

	stmt, err := fund.MonthlyStatement(r.Context(), s.deps.Repo, f, p.UserID, month)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "deriving statement", err))
		return
	}
	writeJSON(w, http.StatusOK, stmt)
}

type fundSummaryView struct {
	Fund     types.Fund         `json:"fund"`
	Nav      types.NavSnapshot  `json:"nav"`
	Risk     types.RiskSettings `json:"risk"`
	MemberCount int             `json:"memberCount"`
}

func (s *Server) handlePortalFundSummary(w http.ResponseWriter, r *http.Request) {
	fundID, ok := s.fundIDFromQuery(w, r)
	if !ok {
		return
	}
	f, err := s.deps.Repo.GetFundByID(r.Context(), fundID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.NotFound, "fund not found", err))
		return
	}
	snaps, err := s.deps.Repo.GetRecentNavSnapshots(r.Context(), fundID, 1)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading nav", err))
		return
	}
	var nav types.NavSnapshot
	if len(snaps) > 0 {
		nav = snaps[0]
	}
	risk, _, err := s.deps.Repo.GetRiskSettings(r.Context(), fundID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading risk settings", err))
		return
	}
	members, err := s.deps.Repo.GetFundMembers(r.Context(), fundID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading members", err))
		return
	}
	writeJSON(w, http.StatusOK, fundSummaryView{Fund: f, Nav: nav, Risk: risk, MemberCount: len(members)})
}

// handlePortalStrategies lists the fund's currently active strategies —
// same GetActiveStrategies-plus-filter approach as /custom-strategies,
// since the repository has no get-by-fund query for strategies.
func (s *Server) handlePortalStrategies(w http.ResponseWriter, r *http.Request) {
	fundID, ok := s.fundIDFromQuery(w, r)
	if !ok {
		return
	}
	all, err := s.deps.Repo.GetActiveStrategies(r.Context())
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading strategies", err))
		return
	}
	out := make([]types.Strategy, 0)
	for _, st := range all {
		if st.FundID == fundID {
			out = append(out, st)
		}
	}
	writeJSON(w, http.StatusOK, out)
}
