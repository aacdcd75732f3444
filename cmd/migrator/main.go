package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-eventgate/internal/config"
	"github.com/technosupport/ts-eventgate/internal/journal"
	"github.com/technosupport/ts-eventgate/internal/logging"
)

func main() {
	configPath := flag.String("config", config.PathFromEnv(), "Path to YAML config")
	source := flag.String("source", "file://db/migrations", "Migration source URL")
	upCmd := flag.Bool("up", false, "Run all up migrations")
	downCmd := flag.Bool("down", false, "Rollback all migrations")
	stepsCmd := flag.Int("steps", 0, "Run +/- steps")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if cfg.Journal.DSN == "" {
		log.Fatal().Msg("journal.dsn (or JOURNAL_DSN) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := journal.Open(ctx, cfg.Journal.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrate driver")
	}

	m, err := migrate.NewWithDatabaseInstance(*source, "postgres", driver)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize migrate")
	}

	start := time.Now()
	switch {
	case *upCmd:
		log.Info().Msg("Running UP migrations")
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("Migration UP failed")
		}
	case *downCmd:
		log.Info().Msg("Running DOWN migrations")
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("Migration DOWN failed")
		}
	case *stepsCmd != 0:
		log.Info().Int("steps", *stepsCmd).Msg("Running migration steps")
		if err := m.Steps(*stepsCmd); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("Migration steps failed")
		}
	default:
		version, dirty, err := m.Version()
		if err != nil {
			log.Info().Msg("No version found (empty db?). Use -up, -down, or -steps.")
		} else {
			log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Current version")
		}
	}
	log.Info().Dur("duration", time.Since(start)).Msg("Done")
}
