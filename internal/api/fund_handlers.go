package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/fund"
	"exchange-sim/internal/types"
)

func (s *Server) setupFundRoutes(r chi.Router) {
	r.Route("/funds", func(r chi.Router) {
		r.Get("/", s.handleListFunds)
		r.Post("/", s.handleCreateFund)

		r.Route("/{fundID}", func(r chi.Router) {
			r.Get("/", s.handleGetFund)
			r.Put("/", s.handleUpdateFund)
			r.Delete("/", s.handleDeleteFund)

			r.Route("/members", func(r chi.Router) {
				r.Get("/", s.handleListFundMembers)
				r.Post("/", s.handleAddFundMember)
				r.Put("/{userID}", s.handleUpdateFundMemberRole)
				r.Delete("/{userID}", s.handleRemoveFundMember)
			})

			r.Get("/capital", s.handleListCapitalTransactions)
			r.Post("/capital", s.handleCapitalTransaction)
			r.Get("/nav", s.handleFundNav)
			r.Get("/investors", s.handleFundInvestors)
			r.Get("/reconciliation", s.handleFundReconciliation)

			r.Get("/risk", s.handleGetRiskSettings)
			r.Put("/risk", s.handleUpdateRiskSettings)
			r.Get("/risk/breaches", s.handleRiskBreaches)
		})
	})
}

func (s *Server) requireFundMember(w http.ResponseWriter, r *http.Request, fundID string) (types.FundMember, bool) {
	p, _ := principalFrom(r.Context())
	m, ok, err := s.deps.Repo.GetFundMember(r.Context(), fundID, p.UserID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading membership", err))
		return types.FundMember{}, false
	}
	if !ok {
		writeError(w, apierr.New(apierr.Forbidden, "not a member of this fund"))
		return types.FundMember{}, false
	}
	return m, true
}

func (s *Server) requireFundOwner(w http.ResponseWriter, r *http.Request, fundID string) (types.FundMember, bool) {
	m, ok := s.requireFundMember(w, r, fundID)
	if !ok {
		return m, false
	}
	if m.Role != types.FundRoleOwner {
		writeError(w, apierr.New(apierr.Forbidden, "owner role required"))
		return m, false
	}
	return m, true
}

func (s *Server) handleListFunds(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	funds, err := s.deps.Repo.GetUserFunds(r.Context(), p.UserID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading funds", err))
		return
	}
	writeJSON(w, http.StatusOK, funds)
}

type createFundRequest struct {
	Name                string  `json:"name"`
	StrategyTypeLabel   string  `json:"strategyType"`
	Description         string  `json:"description"`
	MinInvestment       float64 `json:"minInvestment"`
	ManagementFeeAnnual float64 `json:"managementFeeAnnual"`
	PerformanceFeeRate  float64 `json:"performanceFeeRate"`
}

func (s *Server) handleCreateFund(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	var req createFundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, apierr.New(apierr.Invalid, "name is required"))
		return
	}

	f := types.Fund{
		ID: uuid.NewString(), Name: req.Name, StrategyTypeLabel: req.StrategyTypeLabel,
		OwnerUserID: p.UserID, Description: req.Description, MinInvestment: req.MinInvestment,
		ManagementFeeAnnual: req.ManagementFeeAnnual, PerformanceFeeRate: req.PerformanceFeeRate,
		CreatedAt: time.Now(),
	}
	if err := s.deps.Repo.CreateFund(r.Context(), f); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "creating fund", err))
		return
	}
	member := types.FundMember{FundID: f.ID, UserID: p.UserID, Role: types.FundRoleOwner, JoinedAt: time.Now()}
	if err := s.deps.Repo.InsertFundMember(r.Context(), member); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "seeding owner membership", err))
		return
	}
	if s.deps.FundLedger != nil {
		s.deps.FundLedger.TrackFund(f.ID)
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleGetFund(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	if _, ok := s.requireFundMember(w, r, fundID); !ok {
		return
	}
	f, err := s.deps.Repo.GetFundByID(r.Context(), fundID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.NotFound, "fund not found", err))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleUpdateFund(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	if _, ok := s.requireFundOwner(w, r, fundID); !ok {
		return
	}
	f, err := s.deps.Repo.GetFundByID(r.Context(), fundID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.NotFound, "fund not found", err))
		return
	}
	var req createFundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name != "" {
		f.Name = req.Name
	}
	f.StrategyTypeLabel = req.StrategyTypeLabel
	f.Description = req.Description
	f.MinInvestment = req.MinInvestment
	f.ManagementFeeAnnual = req.ManagementFeeAnnual
	f.PerformanceFeeRate = req.PerformanceFeeRate

	if err := s.deps.Repo.UpdateFund(r.Context(), f); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "updating fund", err))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFund(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	if _, ok := s.requireFundOwner(w, r, fundID); !ok {
		return
	}
	if err := s.deps.Repo.DeleteFund(r.Context(), fundID); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "deleting fund", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFundMembers(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	if _, ok := s.requireFundMember(w, r, fundID); !ok {
		return
	}
	members, err := s.deps.Repo.GetFundMembers(r.Context(), fundID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading members", err))
		return
	}
	writeJSON(w, http.StatusOK, members)
}

type addMemberRequest struct {
	UserID string                `json:"userId"`
	Role   types.FundMemberRole `json:"role"`
}

func (s *Server) handleAddFundMember(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	if _, ok := s.requireFundOwner(w, r, fundID); !ok {
		return
	}
	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" || req.Role == "" {
		writeError(w, apierr.New(apierr.Invalid, "userId and role are required"))
		return
	}
	member := types.FundMember{FundID: fundID, UserID: req.UserID, Role: req.Role, JoinedAt: time.Now()}
	if err := s.deps.Repo.InsertFundMember(r.Context(), member); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "adding member", err))
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (s *Server) handleUpdateFundMemberRole(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	if _, ok := s.requireFundOwner(w, r, fundID); !ok {
		return
	}
	userID := chi.URLParam(r, "userID")
	var req struct {
		Role types.FundMemberRole `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Repo.UpdateFundMemberRole(r.Context(), fundID, userID, req.Role); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "updating member role", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveFundMember(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	if _, ok := s.requireFundOwner(w, r, fundID); !ok {
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := s.deps.Repo.DeleteFundMember(r.Context(), fundID, userID); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "removing member", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCapitalTransactions(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	if _, ok := s.requireFundMember(w, r, fundID); !ok {
		return
	}
	txs, err := s.deps.Repo.GetCapitalTransactions(r.Context(), fundID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading capital transactions", err))
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

type capitalRequest struct {
	Type   types.CapitalTxType `json:"type"`
	Amount string               `json:"amount"`
}

func (s *Server) handleCapitalTransaction(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	p, _ := principalFrom(r.Context())
	if _, ok := s.requireFundMember(w, r, fundID); !ok {
		return
	}
	var req capitalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, apierr.New(apierr.Invalid, "amount must be a decimal string"))
		return
	}

	var tx types.CapitalTransaction
	switch req.Type {
	case types.CapitalDeposit:
		tx, err = s.deps.FundLedger.Deposit(r.Context(), fundID, p.UserID, amount)
	case types.CapitalWithdrawal:
		tx, err = s.deps.FundLedger.Withdraw(r.Context(), fundID, p.UserID, amount)
	default:
		writeError(w, apierr.New(apierr.Invalid, "type must be deposit or withdrawal"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleFundNav(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	if _, ok := s.requireFundMember(w, r, fundID); !ok {
		return
	}
	limit := queryInt(r, "limit", 100)
	snaps, err := s.deps.Repo.GetRecentNavSnapshots(r.Context(), fundID, limit)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading nav history", err))
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

type investorView struct {
	UserID string          `json:"userId"`
	Units  decimal.Decimal `json:"units"`
}

func (s *Server) handleFundInvestors(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	if _, ok := s.requireFundMember(w, r, fundID); !ok {
		return
	}
	units, err := fund.InvestorUnits(r.Context(), s.deps.Repo, fundID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading investor units", err))
		return
	}
	views := make([]investorView, 0, len(units))
	for userID, u := range units {
		views = append(views, investorView{UserID: userID, Units: u})
	}
	writeJSON(w, http.StatusOK, views)
}

type reconciliationView struct {
	NavBalanced          bool `json:"navBalanced"`
	InvestorLedgerBalanced bool `json:"investorLedgerBalanced"`
	UnitsBalanced        bool `json:"unitsBalanced"`
}

func (s *Server) handleFundReconciliation(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	if _, ok := s.requireFundMember(w, r, fundID); !ok {
		return
	}
	snaps, err := s.deps.Repo.GetRecentNavSnapshots(r.Context(), fundID, 1)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading nav snapshot", err))
		return
	}
	if len(snaps) == 0 {
		writeJSON(w, http.StatusOK, reconciliationView{NavBalanced: true, InvestorLedgerBalanced: true, UnitsBalanced: true})
		return
	}
	latest := snaps[0]
	units, err := fund.InvestorUnits(r.Context(), s.deps.Repo, fundID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading investor units", err))
		return
	}
	netCapital, err := s.deps.Repo.GetNetCapital(r.Context(), fundID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading net capital", err))
		return
	}

	writeJSON(w, http.StatusOK, reconciliationView{
		NavBalanced: fund.IsNavBalanced(latest.Nav, decimal.NewFromFloat(netCapital), latest.PnL, decimal.Zero, fund.DefaultTolerance),
		InvestorLedgerBalanced: fund.IsInvestorLedgerBalanced(units, latest.NavPerUnit, latest.Nav, fund.DefaultTolerance),
		UnitsBalanced: fund.IsUnitsBalanced(latest.TotalUnits, latest.NavPerUnit, latest.Nav, fund.DefaultTolerance),
	})
}

func (s *Server) handleGetRiskSettings(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	if _, ok := s.requireFundMember(w, r, fundID); !ok {
		return
	}
	rs, ok, err := s.deps.Repo.GetRiskSettings(r.Context(), fundID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading risk settings", err))
		return
	}
	if !ok {
		rs = types.RiskSettings{FundID: fundID, MaxSingleSymbolPct: 0.25, MaxStrategyExposurePct: 0.5, MaxDailyDrawdownPct: 0.1, Enabled: true}
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleUpdateRiskSettings(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	if _, ok := s.requireFundOwner(w, r, fundID); !ok {
		return
	}
	var rs types.RiskSettings
	if err := decodeJSON(r, &rs); err != nil {
		writeError(w, err)
		return
	}
	rs.FundID = fundID
	if err := s.deps.Repo.UpsertRiskSettings(r.Context(), rs); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "saving risk settings", err))
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleRiskBreaches(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	if _, ok := s.requireFundMember(w, r, fundID); !ok {
		return
	}
	limit := queryInt(r, "limit", 100)
	breaches, err := s.deps.Repo.GetRiskBreachesByFund(r.Context(), fundID, limit)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading risk breaches", err))
		return
	}
	writeJSON(w, http.StatusOK, breaches)
}
