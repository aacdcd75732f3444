package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-eventgate/internal/config"
	"github.com/technosupport/ts-eventgate/internal/logging"
	"github.com/technosupport/ts-eventgate/internal/notify"
	"github.com/technosupport/ts-eventgate/internal/platform/paths"
	"github.com/technosupport/ts-eventgate/internal/retryqueue"
)

// requeue inspects or replays the chat retry queue by hand.
func main() {
	configPath := flag.String("config", config.PathFromEnv(), "Path to YAML config")
	list := flag.Bool("list", false, "List queued records")
	replay := flag.Bool("replay", false, "Attempt redelivery of every queued record once")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	layout := paths.NewLayout(cfg.Storage.DataRoot, cfg.Ingest.SpoolDir)
	queue := retryqueue.New(layout.ChatQueue, layout.DeadQueue)

	switch {
	case *list:
		recs, err := queue.List()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list retry queue")
		}
		for _, s := range recs {
			fmt.Printf("%s\t%s\t%s %s\tattempts=%d\ttargets=%s\n",
				s.Name, s.Record.CameraName, s.Record.EventDate, s.Record.EventTime,
				s.Record.Attempts, strings.Join(s.Record.ChatIDs, ","))
		}
		fmt.Printf("%d record(s)\n", len(recs))
	case *replay:
		dispatcher := notify.NewDispatcher(notify.LogEmailSender{}, notify.NewChatSender(cfg.Telegram), queue)
		sweeper := retryqueue.NewSweeper(queue, dispatcher, 0, cfg.Retry.MaxAttempts)
		res := sweeper.SweepOnce(context.Background())
		log.Info().
			Int("delivered", res.Delivered).
			Int("failed", res.Failed).
			Int("buried", res.Buried).
			Msg("Replay complete")
		if res.Failed > 0 {
			os.Exit(1)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}
