package readiness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5"

	"github.com/svenmapprio/menuet/internal/metrics"
)

var errNotHealthy = errors.New("readiness: gateway not healthy")

// Routes serves GET /connection, GET /ready and /metrics. upstreamURL is consulted by /ready and
// skipped when empty.
func Routes(g *Gate, client *http.Client, upstreamURL string) http.Handler {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	r := chi.NewRouter()
	r.Get("/connection", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if g.Healthy() {
			_, _ = w.Write([]byte("true"))
			return
		}
		_, _ = w.Write([]byte("false"))
	})
	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		if !g.Healthy() {
			http.Error(w, g.State().String(), http.StatusServiceUnavailable)
			return
		}
		if upstreamURL != "" {
			if err := checkUpstream(req.Context(), client, upstreamURL); err != nil {
				http.Error(w, "upstream not ready", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}

func checkUpstream(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("readiness: upstream status %d", resp.StatusCode)
	}
	return nil
}

// WaitHealthy polls a gateway's /connection endpoint every interval until it answers true.
// There is no deadline other than ctx.
func WaitHealthy(ctx context.Context, client *http.Client, url string, interval time.Duration) error {
	if client == nil {
		client = http.DefaultClient
	}
	if interval <= 0 {
		interval = time.Second
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, probeHealthy(ctx, client, url)
	}, backoff.WithBackOff(backoff.NewConstantBackOff(interval)), backoff.WithMaxElapsedTime(0))
	return err
}

func probeHealthy(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return err
	}
	if !bytes.Equal(bytes.TrimSpace(body), []byte("true")) {
		return errNotHealthy
	}
	return nil
}
