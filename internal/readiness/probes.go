package readiness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/svenmapprio/menuet/internal/db"
)

// EventStartup is published globally by the cluster probe and observed by every hub.
const EventStartup = "startup"

var (
	errNotAttached  = errors.New("readiness: bus listener not attached")
	errNoStartupAck = errors.New("readiness: startup not observed on the bus")
)

// HTTPProbe succeeds once url answers at all; the status code is irrelevant.
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("readiness: probe %s: %w", url, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Body.Close()
	}
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StorageProbe pings the database and applies schema prerequisites.
func StorageProbe(p Pinger, q db.DBTX, ensure func(ctx context.Context, q db.DBTX) error) Probe {
	return func(ctx context.Context) error {
		if err := p.PingContext(ctx); err != nil {
			return fmt.Errorf("readiness: ping: %w", err)
		}
		if ensure == nil {
			return nil
		}
		return ensure(ctx, q)
	}
}

// ClusterBus is the part of bus.Bus the cluster probe needs.
type ClusterBus interface {
	Start(ctx context.Context) error
	Attached() bool
	PublishGlobal(ctx context.Context, event string, payload any) error
}

type startupPayload struct {
	Origin string `json:"origin"`
}

// ClusterProbe starts the bus listener and succeeds once it is attached and a startup envelope
// published by this process has come back through it. A listener that fails to connect only fails
// the attempt; the next attempt starts it again. wait bounds how long one attempt waits for the echo.
// ctx must outlive the gate: the listener runs on it.
func ClusterProbe(b ClusterBus, origin string, g *Gate, wait time.Duration) Probe {
	return func(ctx context.Context) error {
		if err := b.Start(ctx); err != nil {
			return fmt.Errorf("readiness: attach bus: %w", err)
		}
		if !b.Attached() {
			return errNotAttached
		}
		if g.StartupObserved() {
			return nil
		}
		if err := b.PublishGlobal(ctx, EventStartup, startupPayload{Origin: origin}); err != nil {
			return fmt.Errorf("readiness: publish startup: %w", err)
		}
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-g.startup:
			return nil
		case <-t.C:
			return errNoStartupAck
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
