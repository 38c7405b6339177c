// Package api is the REST boundary (spec.md §6.2): a chi router exposing
// market data, trading, fund and strategy operations over the same
// repository, event bus and live engines the hub and matcher use.
// Grounded on aristath-sentinel's trader-go/internal/server (router
// construction, middleware stack, per-module route-setup methods,
// http.Server with explicit timeouts, Start/Shutdown).
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"exchange-sim/internal/auth"
	"exchange-sim/internal/backtest"
	"exchange-sim/internal/eventbus"
	"exchange-sim/internal/fund"
	"exchange-sim/internal/health"
	"exchange-sim/internal/hub"
	"exchange-sim/internal/market"
	"exchange-sim/internal/repository"
	"exchange-sim/internal/sandbox"
	"exchange-sim/internal/strategy"
	"exchange-sim/internal/types"
)

// InstrumentLookup resolves a symbol's static profile, same shape the
// matcher and hub already depend on.
type InstrumentLookup func(symbol string) (types.Instrument, bool)

// Dependencies wires every collaborator a handler group needs. Nothing
// here owns its own goroutine; the API layer only reads live state and
// writes through the repository.
type Dependencies struct {
	Repo        repository.Repository
	Bus         *eventbus.Bus
	Market      *market.Engine
	Hub         *hub.Hub
	Backtest    *backtest.Runner
	Strategies  *strategy.Runner
	FundLedger  *fund.Ledger
	Health      *health.Checker
	Sandbox     *sandbox.Executor
	Verifier    auth.Verifier
	Issuer      auth.Issuer
	Instruments InstrumentLookup
	Symbols     func() []string

	MinOrderNotional float64
	StartingCash     float64
}

// Server owns the chi router and the underlying http.Server.
type Server struct {
	deps   Dependencies
	router *chi.Mux
	srv    *http.Server
	log    zerolog.Logger
}

// New builds a Server listening on port once Start is called.
func New(port string, deps Dependencies, log zerolog.Logger) *Server {
	s := &Server{
		deps: deps,
		log:  log.With().Str("component", "api.Server").Logger(),
	}
	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()
	s.srv = &http.Server{
		Addr:         ":" + port,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.router.Use(middleware.Compress(5))
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ws", s.deps.Hub.ServeWs)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.With(s.requireAuth).Get("/me", s.handleMe)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/tickers", s.handleTickers)
			r.Get("/candles/{symbol}", s.handleCandles)
			r.Get("/orderbook/{symbol}", s.handleOrderbook)
			r.Get("/news", s.handleNews)

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", s.handlePlaceOrder)
				r.Get("/", s.handleListOpenOrders)
				r.Delete("/{id}", s.handleCancelOrder)
			})
			r.Get("/positions", s.handlePositions)
			r.Get("/trades", s.handleTrades)
			r.Get("/portfolio/stats", s.handlePortfolioStats)
			r.Get("/leaderboard", s.handleLeaderboard)

			s.setupFundRoutes(r)
			s.setupStrategyRoutes(r)
			s.setupClientPortalRoutes(r)
		})
	})
}

// Start blocks serving HTTP until the listener errors or Shutdown closes it.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting api server")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Health.Snapshot())
}

// queryInt parses a query parameter as an int, falling back to def on
// absence or parse failure.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func urlSymbol(r *http.Request) string {
	return chi.URLParam(r, "symbol")
}
