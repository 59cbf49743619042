// api serves the stateless POST /api/{method}/{path} surface. It waits for a gateway to report
// healthy before handling its first request.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/svenmapprio/menuet/internal/api"
	"github.com/svenmapprio/menuet/internal/app"
	"github.com/svenmapprio/menuet/internal/audit"
	auditrepo "github.com/svenmapprio/menuet/internal/audit/repository"
	"github.com/svenmapprio/menuet/internal/config"
	"github.com/svenmapprio/menuet/internal/db"
	identityhandler "github.com/svenmapprio/menuet/internal/identity/handler"
	"github.com/svenmapprio/menuet/internal/logging"
	"github.com/svenmapprio/menuet/internal/policy/engine"
	policyrepo "github.com/svenmapprio/menuet/internal/policy/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.Env)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("api stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := app.SignalContext()
	defer stop()

	providers, err := app.Telemetry(ctx, cfg, "menuet-api")
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

	// The API only publishes; it never attaches a listener.
	b, closeBus, err := app.OpenBus(cfg, pool, logging.Component(log, "bus"))
	if err != nil {
		return err
	}
	defer closeBus()

	resolver, err := app.Resolver(cfg, pool, log)
	if err != nil {
		return err
	}
	guards := engine.NewOPAEvaluator(policyrepo.NewPostgresRepository(pool), logging.Component(log, "policy"))
	if err := guards.HealthCheck(ctx); err != nil {
		return err
	}

	s := api.NewServer(pool, resolver, guards, b, api.Options{
		Cookies:               identityhandler.Cookies{SessionTTL: cfg.SessionTTL(), Secure: cfg.IsProduction()},
		GatewayHealthURL:      cfg.GatewayHealthURL,
		HealthInterval:        cfg.ReadinessRetryInterval(),
		HTTPClient:            &http.Client{Timeout: 5 * time.Second},
		EnrichmentMaxAttempts: cfg.EnrichmentMaxAttempts,
		Audit:                 audit.NewLogger(auditrepo.NewPostgresRepository(pool), nil, log),
	}, log)

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.APIAddr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down api")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
