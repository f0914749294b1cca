package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradeguard/internal/auth"
	"tradeguard/internal/config"
	"tradeguard/internal/events"
	"tradeguard/internal/exchange"
	"tradeguard/internal/executor"
	"tradeguard/internal/filters"
	"tradeguard/internal/guard"
	"tradeguard/internal/health"
	"tradeguard/internal/httpserver"
	"tradeguard/internal/journal"
	"tradeguard/internal/margin"
	"tradeguard/internal/metrics"
	"tradeguard/internal/sizing"
	"tradeguard/internal/stream"
	"tradeguard/internal/trading"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	jobs, err := config.LoadJobs(cfg.JobsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("jobs file")
	}
	guardJobs := make([]guard.Job, 0, len(jobs))
	for _, j := range jobs {
		guardJobs = append(guardJobs, guard.Job{Symbol: j.Symbol, Interval: j.Interval})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := exchange.NewBinanceClient(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.QuoteAsset, cfg.BinanceTestnet)
	if err := client.EnsureDualSide(ctx, cfg.HedgeMode); err != nil && !exchange.IsNoChangeNeeded(err) {
		log.Warn().Err(err).Bool("hedge", cfg.HedgeMode).Msg("position mode bootstrap failed")
	}

	var recorder journal.Recorder = journal.NewDisabled()
	var journalPinger health.Pinger
	if cfg.JournalDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.JournalDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("journal pool")
		}
		defer pool.Close()
		store := journal.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("journal schema")
		}
		recorder = store
		journalPinger = store
	}

	maxBump := decimal.Zero
	if cfg.MaxBumpPercent != "" {
		if maxBump, err = decimal.NewFromString(cfg.MaxBumpPercent); err != nil {
			log.Fatal().Err(err).Msg("invalid MAX_BUMP_PERCENT")
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	bus := events.NewBus()
	provider := filters.NewProvider(client)
	gd := guard.New(client, guard.Config{
		LedgerTTL:        cfg.LedgerTTL,
		PendingTTL:       cfg.PendingTTL,
		StrictSymbolSide: cfg.StrictSymbolSide,
		DefensiveCheck:   cfg.DefensiveCheck,
	}, log)
	svc := trading.NewService(trading.Deps{
		Client:   client,
		Filters:  provider,
		Sizer:    sizing.NewSizer(maxBump),
		Guard:    gd,
		Margin:   margin.New(client, margin.Config{}, log),
		Executor: executor.New(client, provider, executor.Config{HedgeMode: cfg.HedgeMode}, log),
		Bus:      bus,
		Journal:  recorder,
		Metrics:  m,
		Log:      log,
	})

	// seed the guard from live positions before accepting any signal
	svc.Reconcile(ctx, guardJobs)

	userStream := stream.New(client, svc, guardJobs, cfg.BinanceTestnet, log)
	go userStream.Run(ctx)

	authSvc := auth.NewService(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL, cfg.ControlTokenHash)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:    auth.NewHandler(authSvc),
		AuthService:    authSvc,
		TradingHandler: httpserver.NewTradingHandler(svc, guardJobs),
		HealthHandler:  health.NewHandler(client, journalPinger, time.Now()),
		EventsWS:       httpserver.NewEventsWSHandler(bus, authSvc, "*"),
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	log.Info().Str("addr", cfg.HTTPAddr).Int("jobs", len(jobs)).
		Bool("hedge", cfg.HedgeMode).Str("mode", cfg.BotMode).Msg("botd listening")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server")
	}
}
