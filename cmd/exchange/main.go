// Command exchange boots the simulated capital-markets exchange: market
// engine, news generator, matcher, broadcast hub, strategy runner, fund
// ledger, audit mirror and the REST API, wired over one repository and
// one event bus. The sequential bootstrap and signal-driven graceful
// shutdown follow aristath-sentinel's trader-go/cmd/server/main.go.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"exchange-sim/internal/api"
	"exchange-sim/internal/auditbus"
	"exchange-sim/internal/auth"
	"exchange-sim/internal/backtest"
	"exchange-sim/internal/config"
	"exchange-sim/internal/eventbus"
	"exchange-sim/internal/fund"
	"exchange-sim/internal/health"
	"exchange-sim/internal/hub"
	"exchange-sim/internal/logging"
	"exchange-sim/internal/market"
	"exchange-sim/internal/matcher"
	"exchange-sim/internal/news"
	"exchange-sim/internal/repository"
	"exchange-sim/internal/sandbox"
	"exchange-sim/internal/scheduler"
	"exchange-sim/internal/strategy"
	"exchange-sim/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err) // no logger yet to report through
	}

	log := logging.New(cfg.LogLevel, true)
	log.Info().Msg("booting exchange-sim")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.Connect(ctx, repository.Options{
		DirectURL: cfg.DBDirectURL, PoolerURL: cfg.DBPoolerURL,
		PreferredMode:    repository.Endpoint(cfg.DBConnectMode),
		FallbackEnabled:  cfg.DBFallbackEnabled,
		ConnectTimeout:   cfg.DBConnectTimeout,
		RetryMaxAttempts: cfg.DBRetryMaxAttempts,
		RetryBaseDelay:   cfg.DBRetryBaseDelay,
		RetryMaxDelay:    cfg.DBRetryMaxDelay,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("repository connect failed")
	}
	defer repo.Close()

	insts := catalogue()
	instrumentLookup := func(symbol string) (types.Instrument, bool) {
		for _, c := range insts {
			if c.Instrument.Symbol == symbol {
				return c.Instrument, true
			}
		}
		return types.Instrument{}, false
	}
	symbols := func() []string {
		out := make([]string, 0, len(insts))
		for _, c := range insts {
			out = append(out, c.Instrument.Symbol)
		}
		return out
	}

	bus := eventbus.New()
	engine := market.New(insts, bus, time.Second, log, time.Now().UnixNano())
	if cfg.PauseBackgroundOnDBDown {
		engine.SetRepoHealthProbe(func() bool { return repo.HealthSnapshot().Connected })
	}

	newsGen := news.New(engine, bus, instrumentLookup, 10*time.Second, 0.05, log, time.Now().UnixNano()+1)

	regimeLookup := func(symbol string) (types.RegimeMultipliers, bool) { return engine.RegimeMultipliers(symbol) }
	mtch := matcher.New(repo, bus, instrumentLookup, regimeLookup, matcher.Config{}, log)
	_ = mtch // matcher wires itself onto bus.Ticks in New; no further calls needed here

	// Persist the two event kinds nothing else writes to the repository
	// for: closed candles and fired news. Everything else the matcher,
	// hub and strategy runner already write through directly.
	bus.Candles.Subscribe(func(ev eventbus.CandleClosed) {
		if err := repo.UpsertCandleOnClose(context.Background(), ev.Candle); err != nil {
			log.Warn().Err(err).Str("symbol", ev.Candle.Symbol).Msg("failed to persist closed candle")
		}
	})
	bus.News.Subscribe(func(ev eventbus.NewsFired) {
		if err := repo.InsertNews(context.Background(), ev.Event); err != nil {
			log.Warn().Err(err).Msg("failed to persist news event")
		}
	})

	verifier := auth.NewMemory()
	wsHub := hub.New(repo, bus, verifier, log)

	priceLookup := func(symbol string) (float64, bool) {
		t, ok := engine.Snapshot(symbol)
		if !ok {
			return 0, false
		}
		return t.Mid, true
	}
	candleSource := func(ctx context.Context, symbol string) ([]types.Candle, error) {
		return repo.GetCandlesBySymbolInterval(ctx, symbol, types.Interval1m, 200)
	}
	runner := strategy.New(repo, candleSource, priceLookup, strategy.Config{}, log)
	if err := runner.Hydrate(ctx); err != nil {
		log.Error().Err(err).Msg("strategy runner hydration failed")
	}

	backtestCandles := func(ctx context.Context, symbol string, interval types.Interval, limit int) ([]types.Candle, error) {
		return repo.GetCandlesBySymbolInterval(ctx, symbol, interval, limit)
	}
	backtestRunner := backtest.New(backtestCandles, instrumentLookup)

	// Ledger's PnLLookup is left nil: the runner tracks realized P&L per
	// strategy, not per fund, and the ledger's own doc contract treats a
	// nil lookup (or ok=false) as "assume zero" — there is no fund-keyed
	// P&L accessor to wire here without inventing one the runner doesn't
	// expose.
	ledger := fund.New(repo, nil)

	jobs := scheduler.New(log)
	if err := jobs.AddJob("@every 1m", markToMarketJob{ledger: ledger}); err != nil {
		log.Error().Err(err).Msg("failed to register mark-to-market job")
	}

	checker := health.NewChecker(repo, time.Now())
	sandboxExec := sandbox.New(5 * time.Second)

	var audit *auditbus.Publisher
	if cfg.AMQPURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		audit, err = auditbus.Connect(dialCtx, cfg.AMQPURL, log)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("audit bus unavailable, continuing without it")
		} else {
			defer audit.Close()
		}
	}
	audit.Wire(bus) // safe no-op on a nil *Publisher
	ledger.SetAuditPublisher(audit)

	server := api.New(cfg.Port, api.Dependencies{
		Repo: repo, Bus: bus, Market: engine, Hub: wsHub,
		Backtest: backtestRunner, Strategies: runner, FundLedger: ledger,
		Health: checker, Sandbox: sandboxExec, Verifier: verifier, Issuer: verifier,
		Instruments:      instrumentLookup,
		Symbols:          symbols,
		MinOrderNotional: cfg.MinOrderNotional,
		StartingCash:     100000,
	}, log)

	go engine.Run()
	go newsGen.Run()
	go runner.Run(ctx)
	go wsHub.Run(ctx)
	jobs.Start()
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	log.Info().Str("port", cfg.Port).Int("instruments", len(insts)).Msg("exchange-sim operational")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown error")
	}

	jobs.Stop()
	runner.Stop()
	newsGen.Stop()
	engine.Stop()

	log.Info().Msg("exchange-sim stopped")
}
