// gateway serves the websocket endpoint. It attaches to the event bus, gates its advertised health
// on the readiness stages and exposes /connection, /ready and /metrics plus gRPC health.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/svenmapprio/menuet/internal/app"
	"github.com/svenmapprio/menuet/internal/bus"
	"github.com/svenmapprio/menuet/internal/config"
	connrepo "github.com/svenmapprio/menuet/internal/connection/repository"
	"github.com/svenmapprio/menuet/internal/db"
	"github.com/svenmapprio/menuet/internal/gateway"
	identityhandler "github.com/svenmapprio/menuet/internal/identity/handler"
	"github.com/svenmapprio/menuet/internal/logging"
	"github.com/svenmapprio/menuet/internal/policy/engine"
	policyrepo "github.com/svenmapprio/menuet/internal/policy/repository"
	"github.com/svenmapprio/menuet/internal/query"
	"github.com/svenmapprio/menuet/internal/query/crud"
	"github.com/svenmapprio/menuet/internal/readiness"
	"github.com/svenmapprio/menuet/internal/server"
	telemetryotel "github.com/svenmapprio/menuet/internal/telemetry/otel"
)

const (
	shutdownTimeout = 10 * time.Second
	startupAckWait  = 2 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.Env)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := app.SignalContext()
	defer stop()

	providers, err := app.Telemetry(ctx, cfg, "menuet-gateway")
	if err != nil {
		return err
	}
	defer shutdownTelemetry(providers, log)
	events := telemetryotel.NewEventEmitter(providers.LoggerProvider)

	// The pool is opened without a ping; the storage stage of the gate retries until it answers.
	pool, err := db.OpenLazy(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	gate := readiness.NewGate(cfg.ReadinessRetryInterval(), logging.Component(log, "readiness"))
	guards := engine.NewOPAEvaluator(policyrepo.NewPostgresRepository(pool), logging.Component(log, "policy"))

	b, closeBus, err := app.OpenBus(cfg, pool, logging.Component(log, "bus"))
	if err != nil {
		return err
	}
	defer closeBus()

	resolver, err := app.Resolver(cfg, pool, log)
	if err != nil {
		return err
	}
	hub := gateway.NewHub(connrepo.NewPostgresRegistry(pool), events, logging.Component(log, "gateway"))
	hub.OnStartup(gate)
	b.Subscribe(hub)

	dispatcher := query.NewDispatcher(crud.New(pool), resolver, b, log)
	wsHandler := gateway.NewHandler(hub, resolver, dispatcher, events, gateway.Options{
		Cookies:        identityhandler.Cookies{SessionTTL: cfg.SessionTTL(), Secure: cfg.IsProduction()},
		OriginPatterns: cfg.AllowedOrigins(),
		QueryRate:      rate.Limit(cfg.QueryRateLimit),
		QueryBurst:     cfg.QueryRateBurst,
	}, logging.Component(log, "gateway"))

	wsRouter := chi.NewRouter()
	wsRouter.Get("/socket", wsHandler.ServeHTTP)

	probeClient := &http.Client{Timeout: 5 * time.Second}
	healthSrv := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           readiness.Routes(gate, probeClient, cfg.UpstreamReadyURL),
		ReadHeaderTimeout: 5 * time.Second,
	}
	wsSrv := &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           wsRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.HealthAddr).Msg("health server listening")
		return serve(healthSrv)
	})

	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			return fmt.Errorf("listen grpc health: %w", err)
		}
		grpcSrv := server.NewGRPCServer(logging.Component(log, "grpc"))
		server.RegisterServices(grpcSrv, server.Deps{Gate: gate, HealthPinger: pool, HealthPolicyChecker: guards})
		g.Go(func() error {
			log.Info().Str("addr", cfg.GRPCHealthAddr).Msg("grpc health listening")
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	// The cluster stage starts the bus listener once storage answers. Losing it after it attached
	// runs the bus fatal hook and ends the process.
	g.Go(func() error {
		err := gate.Run(gctx, readiness.Stages{
			External: readiness.HTTPProbe(probeClient, cfg.ExternalProbeURL),
			Storage:  readiness.StorageProbe(pool, pool, bus.EnsureSchema),
			Cluster:  readiness.ClusterProbe(b, b.Origin(), gate, startupAckWait),
		})
		if err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Info().Str("addr", cfg.GatewayAddr).Msg("gateway healthy, accepting connections")
		return serve(wsSrv)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(wsSrv.Shutdown(shutdownCtx), healthSrv.Shutdown(shutdownCtx))
	})

	err = g.Wait()
	log.Info().Msg("gateway stopped")
	return err
}

// serve treats a graceful shutdown as success.
func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func shutdownTelemetry(p *telemetryotel.Providers, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown")
	}
}
