package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-eventgate/internal/config"
	"github.com/technosupport/ts-eventgate/internal/imaging/cv"
	"github.com/technosupport/ts-eventgate/internal/ingest"
	"github.com/technosupport/ts-eventgate/internal/logging"
	"github.com/technosupport/ts-eventgate/internal/platform/fswatch"
	"github.com/technosupport/ts-eventgate/internal/platform/paths"
)

func main() {
	configPath := flag.String("config", config.PathFromEnv(), "Path to YAML config")
	once := flag.Bool("once", false, "Process the spool once and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	layout := paths.NewLayout(cfg.Storage.DataRoot, cfg.Ingest.SpoolDir)
	if err := layout.EnsureDirs(); err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare storage layout")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ing := ingest.NewIngestor(ingest.IngestorConfig{
		Inbox:          layout.Inbox,
		MaxAttachments: cfg.Ingest.MaxAttachments,
		Similarity:     cfg.Ingest.SimilarityThreshold,
	}, cv.GrayHistogram)

	seen := ingest.NewSeenCache(cfg.Ingest.SeenCacheSize, cfg.Ingest.SeenTTL)
	source := ingest.NewSpoolSource(layout.MailSpool, ing, seen)

	if *once {
		res := source.RunOnce(ctx)
		log.Info().
			Int("processed", res.Processed).
			Int("duplicates", res.Duplicates).
			Int("failed", res.Failed).
			Int("saved", res.Saved).
			Msg("Spool pass complete")
		return
	}

	source.Start(ctx, cfg.Ingest.PollInterval)
	fswatch.Watch(ctx, layout.MailSpool, cfg.Router.Debounce, source)

	<-ctx.Done()
	source.Stop()
}
