// worker claims enrichment tasks from Postgres and runs ENRICHMENT_COMMAND for each, retrying with
// exponential backoff. Clients are told about finished places through the event bus.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/svenmapprio/menuet/internal/app"
	"github.com/svenmapprio/menuet/internal/config"
	"github.com/svenmapprio/menuet/internal/db"
	"github.com/svenmapprio/menuet/internal/enrichment"
	enrichmentrepo "github.com/svenmapprio/menuet/internal/enrichment/repository"
	"github.com/svenmapprio/menuet/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.Env)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	command := strings.Fields(cfg.EnrichmentCommand)
	if len(command) == 0 {
		return fmt.Errorf("worker: ENRICHMENT_COMMAND is required")
	}

	ctx, stop := app.SignalContext()
	defer stop()

	providers, err := app.Telemetry(ctx, cfg, "menuet-worker")
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(sctx)
	}()

	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	b, closeBus, err := app.OpenBus(cfg, pool, logging.Component(log, "bus"))
	if err != nil {
		return err
	}
	defer closeBus()

	w := enrichment.NewWorker(
		enrichmentrepo.NewPostgresRepository(pool),
		enrichment.CommandEnricher{Path: command[0], Args: command[1:]},
		b,
		enrichment.Options{PollInterval: cfg.EnrichmentPoll(), BaseBackoff: cfg.EnrichmentBackoff()},
		log,
	)
	log.Info().Str("command", command[0]).Int("max_attempts", cfg.EnrichmentMaxAttempts).Msg("worker started")
	return w.Run(ctx)
}
