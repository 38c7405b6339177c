package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/backtest"
	"exchange-sim/internal/sandbox"
	"exchange-sim/internal/strategy"
	"exchange-sim/internal/types"
)

func (s *Server) setupStrategyRoutes(r chi.Router) {
	r.Route("/strategies", func(r chi.Router) {
		r.Post("/", s.handleCreateStrategy)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetStrategy)
			r.Put("/", s.handleUpdateStrategy)
			r.Delete("/", s.handleDeleteStrategy)
			r.Post("/start", s.handleStartStrategy)
			r.Post("/stop", s.handleStopStrategy)
			r.Post("/backtest", s.handleRunBacktest)
			r.Get("/backtests", s.handleListBacktests)
			r.Get("/trades", s.handleStrategyTrades)
		})
	})

	r.Route("/custom-strategies", func(r chi.Router) {
		r.Get("/", s.handleListCustomStrategies)
		r.Post("/", s.handleCreateCustomStrategy)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetCustomStrategy)
			r.Put("/", s.handleUpdateCustomStrategy)
			r.Delete("/", s.handleDeleteStrategy)
			r.Post("/test", s.handleTestCustomStrategy)
		})
	})
}

type strategyRequest struct {
	FundID string               `json:"fundId"`
	Name   string               `json:"name"`
	Type   types.StrategyType   `json:"type"`
	Config map[string]any       `json:"config"`
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req strategyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, ok := s.requireFundMember(w, r, req.FundID); !ok {
		return
	}
	if req.Name == "" || req.Type == "" {
		writeError(w, apierr.New(apierr.Invalid, "name and type are required"))
		return
	}

	now := time.Now()
	st := types.Strategy{
		ID: uuid.NewString(), FundID: req.FundID, Name: req.Name, Type: req.Type,
		Config: req.Config, ConfigHash: types.ComputeConfigHash(req.Config),
		IsActive: false, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.deps.Repo.CreateStrategy(r.Context(), st); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "creating strategy", err))
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) loadStrategyAndAuthorize(w http.ResponseWriter, r *http.Request, id string) (types.Strategy, bool) {
	st, err := s.deps.Repo.GetStrategyByID(r.Context(), id)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.NotFound, "strategy not found", err))
		return types.Strategy{}, false
	}
	if _, ok := s.requireFundMember(w, r, st.FundID); !ok {
		return types.Strategy{}, false
	}
	return st, true
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadStrategyAndAuthorize(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadStrategyAndAuthorize(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req strategyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name != "" {
		st.Name = req.Name
	}
	if req.Config != nil {
		st.Config = req.Config
		st.ConfigHash = types.ComputeConfigHash(req.Config)
	}
	st.UpdatedAt = time.Now()
	if err := s.deps.Repo.UpdateStrategy(r.Context(), st); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "updating strategy", err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteStrategy(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadStrategyAndAuthorize(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := s.deps.Repo.DeleteStrategy(r.Context(), st.ID); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "deleting strategy", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStartStrategy flips IsActive to true once the deploy gate
// (strategy.CanDeploy — a passing, config-hash-pinned backtest) allows
// it. The runner itself has no per-strategy start entry point: its tick
// loop re-reads GetActiveStrategies every cycle (internal/strategy/runner.go),
// so toggling the flag is the whole of "start".
func (s *Server) handleStartStrategy(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadStrategyAndAuthorize(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	canDeploy, reason := strategy.CanDeploy(r.Context(), s.deps.Repo, st)
	if !canDeploy {
		writeError(w, apierr.New(apierr.RiskBlocked, reason))
		return
	}
	st.IsActive = true
	st.UpdatedAt = time.Now()
	if err := s.deps.Repo.UpdateStrategy(r.Context(), st); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "starting strategy", err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStopStrategy(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadStrategyAndAuthorize(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	st.IsActive = false
	st.UpdatedAt = time.Now()
	if err := s.deps.Repo.UpdateStrategy(r.Context(), st); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "stopping strategy", err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type backtestRequest struct {
	Interval   types.Interval            `json:"interval"`
	Window     int                       `json:"window"`
	Thresholds *types.BacktestThresholds `json:"thresholds,omitempty"`
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadStrategyAndAuthorize(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req backtestRequest
	_ = decodeJSON(r, &req) // an empty body means "use defaults"
	if req.Interval == "" {
		req.Interval = types.Interval1h
	}

	result, err := s.deps.Backtest.Run(r.Context(), st, backtest.Request{
		Interval: req.Interval, Window: req.Window, Thresholds: req.Thresholds,
	})
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "running backtest", err))
		return
	}
	if err := s.deps.Repo.InsertBacktest(r.Context(), result); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "saving backtest result", err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadStrategyAndAuthorize(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)
	results, err := s.deps.Repo.GetBacktestsByStrategy(r.Context(), st.ID, limit)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading backtests", err))
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleStrategyTrades(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadStrategyAndAuthorize(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	trades, err := s.deps.Repo.GetStrategyTrades(r.Context(), st.ID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading strategy trades", err))
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- custom strategies: a types.Strategy row typed StrategyCustom, the
// source and tickers living in Config (§4.7) — there is no dedicated
// CustomStrategy repository surface, so CRUD here is a Type-filtered view
// over the Strategies interface (mirrors the distinction evaluateCustom
// already makes in internal/strategy/runner.go).

type customStrategyRequest struct {
	FundID     string             `json:"fundId"`
	Name       string             `json:"name"`
	Source     string             `json:"source"`
	Tickers    []string           `json:"tickers"`
	Parameters map[string]float64 `json:"parameters"`
}

func customConfig(req customStrategyRequest) map[string]any {
	tickers := make([]any, len(req.Tickers))
	for i, t := range req.Tickers {
		tickers[i] = t
	}
	params := make(map[string]any, len(req.Parameters))
	for k, v := range req.Parameters {
		params[k] = v
	}
	return map[string]any{"source": req.Source, "tickers": tickers, "parameters": params}
}

// handleListCustomStrategies lists currently active custom strategies
// (the repository's only bulk read is GetActiveStrategies — there is no
// get-all or get-by-fund for strategies per spec.md §6.3 — so a freshly
// created, not-yet-started custom strategy will not appear here until
// started).
func (s *Server) handleListCustomStrategies(w http.ResponseWriter, r *http.Request) {
	all, err := s.deps.Repo.GetActiveStrategies(r.Context())
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "loading strategies", err))
		return
	}
	out := make([]types.Strategy, 0, len(all))
	for _, st := range all {
		if st.Type == types.StrategyCustom {
			out = append(out, st)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCustomStrategy(w http.ResponseWriter, r *http.Request) {
	var req customStrategyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, ok := s.requireFundMember(w, r, req.FundID); !ok {
		return
	}
	if req.Name == "" || req.Source == "" {
		writeError(w, apierr.New(apierr.Invalid, "name and source are required"))
		return
	}
	cfg := customConfig(req)
	now := time.Now()
	st := types.Strategy{
		ID: uuid.NewString(), FundID: req.FundID, Name: req.Name, Type: types.StrategyCustom,
		Config: cfg, ConfigHash: types.ComputeConfigHash(cfg), IsActive: false,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.deps.Repo.CreateStrategy(r.Context(), st); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "creating custom strategy", err))
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) loadCustomStrategy(w http.ResponseWriter, r *http.Request, id string) (types.Strategy, bool) {
	st, ok := s.loadStrategyAndAuthorize(w, r, id)
	if !ok {
		return types.Strategy{}, false
	}
	if st.Type != types.StrategyCustom {
		writeError(w, apierr.New(apierr.NotFound, "not a custom strategy"))
		return types.Strategy{}, false
	}
	return st, true
}

func (s *Server) handleGetCustomStrategy(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadCustomStrategy(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUpdateCustomStrategy(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadCustomStrategy(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req customStrategyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name != "" {
		st.Name = req.Name
	}
	cfg := customConfig(req)
	st.Config = cfg
	st.ConfigHash = types.ComputeConfigHash(cfg)
	st.UpdatedAt = time.Now()
	if err := s.deps.Repo.UpdateStrategy(r.Context(), st); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "updating custom strategy", err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleTestCustomStrategy runs a one-shot sandbox dry run — no trade is
// sized or persisted, unlike the live runner's evaluateCustom path.
func (s *Server) handleTestCustomStrategy(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadCustomStrategy(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	source, _ := st.Config["source"].(string)
	tickers := configTickers(st.Config)
	params := configParameters(st.Config)

	prices := make(map[string]float64, len(tickers))
	for _, sym := range tickers {
		if tick, ok := s.deps.Market.Snapshot(sym); ok {
			prices[sym] = tick.Last
		}
	}

	out, err := s.deps.Sandbox.Run(r.Context(), source, sandbox.Input{
		Prices: prices, Parameters: params, State: map[string]any{},
	})
	if err != nil {
		writeError(w, apierr.Wrap(apierr.SandboxFailed, "custom strategy test failed", err))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func configTickers(cfg map[string]any) []string {
	raw, _ := cfg["tickers"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func configParameters(cfg map[string]any) map[string]float64 {
	raw, _ := cfg["parameters"].(map[string]any)
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}
