package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	server "hotel_sync/internal/adapters/http_server"
	"hotel_sync/internal/adapters/observability"
	"hotel_sync/internal/adapters/ota"
	redisad "hotel_sync/internal/adapters/redis"
	"hotel_sync/internal/adapters/search"
	"hotel_sync/internal/app"
	"hotel_sync/internal/shared"
	mysqlrepo "hotel_sync/internal/storage/mysql"
)

func main() {
	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := mysqlrepo.Open(cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("mysql open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	repo := mysqlrepo.New(db)
	guard := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.Watcher.ReplayTTL)
	defer guard.Close()

	es, err := search.New(search.Options{URLs: cfg.Search.URLs, Username: cfg.Search.Username, Password: cfg.Search.Password})
	if err != nil {
		log.Fatal().Err(err).Msg("search client")
	}
	partner, err := ota.New(cfg.OTA.Endpoint, otaCredentials(cfg.OTA), cfg.OTA.Timeout, cfg.OTA.RPS)
	if err != nil {
		log.Fatal().Err(err).Msg("ota client")
	}

	reconciler := app.NewReconciler(repo)
	distributor := app.NewDistributor(repo, partner, repo, app.DistributorOptions{
		FanOut:      cfg.OTA.FanOut,
		MaxAttempts: cfg.OTA.MaxAttempts,
		RetryBase:   cfg.OTA.RetryBase,
		RetryMax:    cfg.OTA.RetryMax,
		SendTimeout: cfg.OTA.Timeout,
	})
	index := app.NewIndexSyncEngine(repo, es, guard, app.IndexSyncOptions{
		Index:       cfg.Search.Index,
		BatchSize:   cfg.Search.BatchSize,
		Workers:     cfg.Search.Workers,
		CallTimeout: cfg.Search.Timeout,
		Consumer:    cfg.Watcher.Consumer,
	})

	// http
	srv := server.New(cfg.HTTPTimeout)
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Reconciler:    reconciler,
		Queries:       app.NewQueryService(repo, repo),
		Distributor:   distributor,
		Index:         index,
		ResyncTimeout: cfg.Search.ResyncTimeout,
		Ready: func(ctx context.Context) error {
			return multierr.Combine(repo.Ping(ctx), guard.Ping(ctx))
		},
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
	log.Info().Msg("API stopped")
}

func otaCredentials(c shared.OTA) ota.Credentials {
	return ota.Credentials{
		RequestorID:     c.RequestorID,
		IDContext:       c.IDContext,
		MessagePassword: c.MessagePassword,
		Target:          c.Target,
		Version:         c.Version,
	}
}
