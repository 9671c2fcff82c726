package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"hotel_sync/internal/adapters/observability"
	"hotel_sync/internal/adapters/ota"
	redisad "hotel_sync/internal/adapters/redis"
	"hotel_sync/internal/adapters/search"
	"hotel_sync/internal/app"
	"hotel_sync/internal/changefeed"
	"hotel_sync/internal/scheduler"
	"hotel_sync/internal/shared"
	mysqlrepo "hotel_sync/internal/storage/mysql"
)

// syncer follows the change feed into the search index and the channel
// manager, and runs the periodic jobs.
func main() {
	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	log.Logger = observability.NewLogger(cfg.AppEnv, "syncer", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.Serve(cfg.MetricsAddr, observability.InitRegistry())

	db, err := mysqlrepo.Open(cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("mysql open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	repo := mysqlrepo.New(db)

	rs := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.Watcher.ReplayTTL)
	defer rs.Close()
	if err := rs.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("redis ping failed")
	}

	es, err := search.New(search.Options{URLs: cfg.Search.URLs, Username: cfg.Search.Username, Password: cfg.Search.Password})
	if err != nil {
		log.Fatal().Err(err).Msg("search client")
	}
	if err := es.EnsureIndex(ctx, cfg.Search.Index); err != nil {
		log.Fatal().Err(err).Str("index", cfg.Search.Index).Msg("ensure index failed")
	}

	partner, err := ota.New(cfg.OTA.Endpoint, ota.Credentials{
		RequestorID:     cfg.OTA.RequestorID,
		IDContext:       cfg.OTA.IDContext,
		MessagePassword: cfg.OTA.MessagePassword,
		Target:          cfg.OTA.Target,
		Version:         cfg.OTA.Version,
	}, cfg.OTA.Timeout, cfg.OTA.RPS)
	if err != nil {
		log.Fatal().Err(err).Msg("ota client")
	}

	clock := clockwork.NewRealClock()
	index := app.NewIndexSyncEngine(repo, es, rs, app.IndexSyncOptions{
		Index:       cfg.Search.Index,
		BatchSize:   cfg.Search.BatchSize,
		Workers:     cfg.Search.Workers,
		CallTimeout: cfg.Search.Timeout,
		Consumer:    cfg.Watcher.Consumer,
	})
	distributor := app.NewDistributor(repo, partner, repo, app.DistributorOptions{
		FanOut:      cfg.OTA.FanOut,
		MaxAttempts: cfg.OTA.MaxAttempts,
		RetryBase:   cfg.OTA.RetryBase,
		RetryMax:    cfg.OTA.RetryMax,
		SendTimeout: cfg.OTA.Timeout,
	})

	overflow, err := changefeed.ParseOverflow(cfg.Watcher.Overflow)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	feed := mysqlrepo.NewChangeFeed(db, mysqlrepo.FeedOptions{
		PollInterval: cfg.Watcher.PollInterval,
		Settle:       cfg.Watcher.Settle,
		BatchSize:    cfg.Watcher.BatchSize,
		Clock:        clock,
	})

	var dispatcher *app.Dispatcher
	watcher := changefeed.New(feed, rs, changefeed.Options{
		Consumer:    cfg.Watcher.Consumer,
		Collections: cfg.Watcher.Collections,
		QueueSize:   cfg.Watcher.QueueSize,
		Overflow:    overflow,
		MaxBackoff:  cfg.Watcher.MaxBackoff,
		Clock:       clock,
		OnColdStart: func(reason string) { dispatcher.RequestFullScan(reason) },
	})

	retryJob := app.NewDistributionRetryJob(distributor, cfg.Schedule.RetryBatch)
	kick := make(chan struct{}, 1)
	dispatcher = app.NewDispatcher(index, distributor, watcher, cfg.Watcher.RetryDelay)
	dispatcher.Coalesce = cfg.Watcher.Coalesce
	dispatcher.OnEnqueued = func() {
		select {
		case kick <- struct{}{}:
		default:
		}
	}

	sched := scheduler.New(clock)
	for _, e := range []struct {
		every, timeout time.Duration
		job            scheduler.Job
	}{
		{cfg.Schedule.PaymentInterval, cfg.Schedule.PaymentInterval, app.NewPaymentExpiryJob(repo, cfg.Schedule.PaymentThreshold, clock)},
		{cfg.Schedule.RetryInterval, cfg.Schedule.RetryInterval, retryJob},
		{cfg.Schedule.RetentionInterval, cfg.Schedule.RetentionInterval, app.NewChangeLogRetentionJob(repo, cfg.Schedule.ChangeLogRetention, clock)},
	} {
		if err := sched.Every(e.every, e.timeout, e.job); err != nil {
			log.Fatal().Err(err).Str("job", e.job.Name()).Msg("schedule")
		}
	}

	events, err := watcher.Start(ctx, "")
	if err != nil {
		log.Fatal().Err(err).Msg("watcher start failed")
	}
	// covers tokens committed by a previous run whose rebuild never finished
	dispatcher.RequestFullScan("startup")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx, events) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-kick:
				if err := retryJob.Run(gctx); err != nil {
					log.Warn().Err(err).Msg("immediate distribution failed")
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		watcher.Stop()
		return nil
	})

	log.Info().Strs("collections", cfg.Watcher.Collections).Str("consumer", cfg.Watcher.Consumer).Msg("syncer started")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("syncer failed")
	}
	log.Info().Msg("syncer stopped")
}
