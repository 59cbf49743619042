// Package app builds the dependencies shared by the menuet binaries from Config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/svenmapprio/menuet/internal/bus"
	"github.com/svenmapprio/menuet/internal/config"
	connrepo "github.com/svenmapprio/menuet/internal/connection/repository"
	"github.com/svenmapprio/menuet/internal/identity/provider"
	identityrepo "github.com/svenmapprio/menuet/internal/identity/repository"
	"github.com/svenmapprio/menuet/internal/identity/service"
	sessionrepo "github.com/svenmapprio/menuet/internal/oauthsession/repository"
	"github.com/svenmapprio/menuet/internal/security"
	telemetryotel "github.com/svenmapprio/menuet/internal/telemetry/otel"
)

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Telemetry creates the OpenTelemetry providers for service and installs them globally.
func Telemetry(ctx context.Context, cfg *config.Config, service string) (*telemetryotel.Providers, error) {
	p, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: service,
		Insecure:    cfg.OTelInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	p.SetGlobal()
	return p, nil
}

// OpenBus returns an unattached bus on the configured transport; the caller runs it. closeFn releases
// transport resources.
func OpenBus(cfg *config.Config, pool *sql.DB, log zerolog.Logger) (b *bus.Bus, closeFn func(), err error) {
	var t bus.Transport
	closeFn = func() {}
	switch cfg.BusTransport {
	case config.BusTransportPostgres:
		t = bus.NewPostgresTransport(cfg.DatabaseURL, pool, cfg.BusChannel, log)
	case config.BusTransportRedis:
		client, err := bus.OpenRedis(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		t = bus.NewRedisTransport(client, cfg.BusChannel)
		closeFn = func() { _ = client.Close() }
	case config.BusTransportMemory:
		t = bus.NewMemoryCluster().Transport()
	default:
		return nil, nil, fmt.Errorf("app: unknown bus transport %q", cfg.BusTransport)
	}
	return bus.New(t, log), closeFn, nil
}

// Providers returns the credential provider clients enabled in cfg.
func Providers(cfg *config.Config) ([]provider.Client, error) {
	var clients []provider.Client
	if cfg.GoogleEnabled() {
		clients = append(clients, provider.NewGoogle(provider.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}))
	}
	if cfg.AppleEnabled() {
		key, err := security.ParseAppleKey(cfg.ApplePrivateKey)
		if err != nil {
			return nil, fmt.Errorf("app: apple key: %w", err)
		}
		clients = append(clients, provider.NewApple(provider.AppleConfig{
			ClientID:    cfg.AppleClientID,
			RedirectURL: cfg.AppleRedirectURL,
			Secret:      security.NewAppleSecret(key, cfg.AppleTeamID, cfg.AppleClientID, cfg.AppleKeyID, 0),
		}))
	}
	return clients, nil
}

// Resolver builds the identity resolver over Postgres with the enabled providers.
func Resolver(cfg *config.Config, pool *sql.DB, log zerolog.Logger) (*service.Resolver, error) {
	if pool == nil {
		return nil, errors.New("app: resolver needs a database")
	}
	key, err := cfg.TokenKey()
	if err != nil {
		return nil, err
	}
	sealer, err := security.NewSealer(key)
	if err != nil {
		return nil, err
	}
	clients, err := Providers(cfg)
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		log.Warn().Msg("no credential providers configured; every caller is anonymous")
	}
	return service.NewResolver(
		identityrepo.NewPostgresStore(pool),
		sessionrepo.NewPostgresRepository(pool, sealer),
		connrepo.NewPostgresRegistry(pool),
		log,
		clients...,
	), nil
}
