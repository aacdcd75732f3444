package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-eventgate/internal/api"
	"github.com/technosupport/ts-eventgate/internal/archive"
	"github.com/technosupport/ts-eventgate/internal/config"
	"github.com/technosupport/ts-eventgate/internal/detect"
	"github.com/technosupport/ts-eventgate/internal/eventbus"
	"github.com/technosupport/ts-eventgate/internal/imaging/cv"
	"github.com/technosupport/ts-eventgate/internal/journal"
	"github.com/technosupport/ts-eventgate/internal/logging"
	"github.com/technosupport/ts-eventgate/internal/notify"
	"github.com/technosupport/ts-eventgate/internal/platform/fswatch"
	"github.com/technosupport/ts-eventgate/internal/platform/paths"
	"github.com/technosupport/ts-eventgate/internal/policy"
	"github.com/technosupport/ts-eventgate/internal/retryqueue"
	"github.com/technosupport/ts-eventgate/internal/router"
)

func main() {
	configPath := flag.String("config", config.PathFromEnv(), "Path to YAML config")
	once := flag.Bool("once", false, "Run a single routing pass and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	layout := paths.NewLayout(cfg.Storage.DataRoot, cfg.Ingest.SpoolDir)
	if err := layout.EnsureDirs(); err != nil {
		log.Fatal().Err(err).Str("root", layout.Root).Msg("Failed to prepare storage layout")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Policy and gate
	registry := policy.RegistryFromConfig(cfg.Cameras)
	gate := policy.NewGate(policy.NewClassThresholds(cfg.Detection.ClassThresholds, cfg.Detection.FallbackThreshold))
	log.Info().Int("policies", registry.Len()).Msg("Camera policies loaded")

	// 2. Notification
	queue := retryqueue.New(layout.ChatQueue, layout.DeadQueue)
	dispatcher := notify.NewDispatcher(
		notify.NewEmailSender(cfg.Email),
		notify.NewChatSender(cfg.Telegram),
		queue,
	)

	// 3. Sinks
	var sinks []router.Sink
	var jrnl journal.Journal = journal.NoopJournal{}
	if cfg.Journal.DSN != "" {
		db, err := journal.Open(ctx, cfg.Journal.DSN)
		if err != nil {
			log.Error().Err(err).Msg("Journal disabled")
		} else {
			defer db.Close()
			jrnl = journal.NewPostgres(db)
			sinks = append(sinks, journal.Sink{J: jrnl})
		}
	}
	if cfg.NATS.URL != "" {
		nc, err := eventbus.Connect(cfg.NATS.URL)
		if err != nil {
			log.Error().Err(err).Str("url", cfg.NATS.URL).Msg("Event bus disabled")
		} else {
			defer nc.Close()
			sinks = append(sinks, eventbus.NewPublisher(nc, cfg.NATS.SubjectPrefix, cfg.NATS.MaxRetries))
		}
	}
	if cfg.Archive.Endpoint != "" {
		client, err := archive.NewMinIO(cfg.Archive)
		if err == nil {
			err = client.EnsureBucket(ctx)
		}
		if err != nil {
			log.Error().Err(err).Str("endpoint", cfg.Archive.Endpoint).Msg("Archive disabled")
		} else {
			sinks = append(sinks, archive.NewArchiver(client, cfg.Archive.Prefix))
		}
	}

	// 4. Router
	detector := detect.NewHTTPDetector(cfg.Detector.URL, cfg.Detector.Timeout, cfg.Detector.ImageSize)
	rt := router.New(layout, registry, gate, detector, cv.Annotator{}, cfg.Detection.DetectorFloor)
	handler := router.NewHandler(rt, dispatcher, sinks...)

	var lock router.InboxLock = router.NoopLock{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		defer rdb.Close()
		lock = router.NewRedisLock(rdb, cfg.Redis.LockKey, cfg.Router.LockTTL)
	}

	poller := router.NewPoller(router.PollerConfig{
		Inbox:        layout.Inbox,
		PollInterval: cfg.Router.PollInterval,
		Workers:      cfg.Router.Workers,
	}, handler, lock)

	if *once {
		res := poller.RunOnce(ctx)
		log.Info().Int("seen", res.Seen).Interface("counts", res.Counts).Msg("Single pass complete")
		lock.Release(context.Background())
		return
	}

	poller.Start(ctx)
	if cfg.Router.Watch {
		fswatch.Watch(ctx, layout.Inbox, cfg.Router.Debounce, poller)
	}

	// 5. Retry sweeper (disabled unless an interval is configured)
	var sweeper *retryqueue.Sweeper
	if cfg.Retry.SweepInterval > 0 {
		sweeper = retryqueue.NewSweeper(queue, dispatcher, cfg.Retry.SweepInterval, cfg.Retry.MaxAttempts)
		sweeper.Start(ctx)
	}

	// 6. API
	apiHandler := &api.Handler{Inbox: layout.Inbox, Queue: queue, Journal: jrnl, Poller: poller}
	go func() {
		if err := api.Serve(ctx, cfg.API.Addr, apiHandler.Routes()); err != nil {
			log.Error().Err(err).Msg("API server failed")
			stop()
		}
	}()

	log.Info().Str("data_root", layout.Root).Int("sinks", len(sinks)).Msg("eventgate started")
	<-ctx.Done()

	log.Info().Msg("Shutting down")
	done := make(chan struct{})
	go func() {
		poller.Stop()
		if sweeper != nil {
			sweeper.Stop()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Shutdown timed out with work in flight")
	}
}
