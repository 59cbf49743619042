// Package enrichment runs place enrichment as a durable task queue: API handlers enqueue, workers
// claim, run an external Enricher, and retry with exponential backoff until a terminal failure.
package enrichment

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/svenmapprio/menuet/internal/bus"
	"github.com/svenmapprio/menuet/internal/enrichment/domain"
	"github.com/svenmapprio/menuet/internal/enrichment/repository"
	"github.com/svenmapprio/menuet/internal/metrics"
)

// MutationKey is the client cache key of a place.
func MutationKey(placeID int64) bus.MutationKey {
	return bus.Key("place", placeID)
}

// Enricher produces enrichment for one place. It owns its output; the worker only tracks status.
type Enricher interface {
	Enrich(ctx context.Context, t domain.Task) error
}

// CommandEnricher runs an external executable per task with the place id and description as
// arguments.
type CommandEnricher struct {
	Path string
	Args []string
}

func (c CommandEnricher) Enrich(ctx context.Context, t domain.Task) error {
	if c.Path == "" {
		return fmt.Errorf("enrichment: no command configured")
	}
	args := append(append([]string{}, c.Args...), strconv.FormatInt(t.PlaceID, 10), t.Description)
	out, err := exec.CommandContext(ctx, c.Path, args...).CombinedOutput()
	if err != nil {
		if len(out) > 0 {
			return fmt.Errorf("%w: %s", err, truncate(string(out), 512))
		}
		return err
	}
	return nil
}

// Options tune a Worker. Zero values take the defaults.
type Options struct {
	// PollInterval is the idle wait between empty claims (default 2s).
	PollInterval time.Duration
	// BaseBackoff is the first retry delay (default 5s).
	BaseBackoff time.Duration
	// Lease bounds one run; an unfinished task becomes claimable again afterwards (default 10m).
	Lease time.Duration
}

// Worker claims and runs enrichment tasks one at a time.
type Worker struct {
	queue    repository.Queue
	enricher Enricher
	bus      bus.Publisher
	opts     Options
	log      zerolog.Logger
}

// NewWorker returns a Worker.
func NewWorker(queue repository.Queue, enricher Enricher, p bus.Publisher, opts Options, log zerolog.Logger) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 5 * time.Second
	}
	if opts.Lease <= 0 {
		opts.Lease = 10 * time.Minute
	}
	return &Worker{
		queue:    queue,
		enricher: enricher,
		bus:      p,
		opts:     opts,
		log:      log.With().Str("component", "enrichment").Logger(),
	}
}

// Run processes tasks until ctx is cancelled. Storage errors are logged and retried after the
// poll interval.
func (w *Worker) Run(ctx context.Context) error {
	for {
		worked, err := w.RunOnce(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("enrichment cycle failed")
		}
		if worked && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// RunOnce claims and runs at most one task. worked is false when nothing was due.
func (w *Worker) RunOnce(ctx context.Context) (worked bool, err error) {
	t, err := w.queue.Claim(ctx, w.opts.Lease)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if t == nil {
		return false, nil
	}
	log := w.log.With().Int64("task_id", t.ID).Int64("place_id", t.PlaceID).Logger()

	runCtx, cancel := context.WithTimeout(ctx, w.opts.Lease)
	runErr := w.enricher.Enrich(runCtx, *t)
	cancel()

	if runErr == nil {
		if err := w.queue.Complete(ctx, t); err != nil {
			return true, fmt.Errorf("complete task %d: %w", t.ID, err)
		}
		metrics.EnrichmentTasks.WithLabelValues("done").Inc()
		log.Info().Msg("enrichment done")
		w.notify(ctx, t.PlaceID)
		return true, nil
	}

	delay := domain.RetryDelay(w.opts.BaseBackoff, t.Attempts+1)
	terminal, err := w.queue.Fail(ctx, t, truncate(runErr.Error(), 2048), delay)
	if err != nil {
		return true, fmt.Errorf("fail task %d: %w", t.ID, err)
	}
	if terminal {
		metrics.EnrichmentTasks.WithLabelValues("failed").Inc()
		log.Error().Err(runErr).Int("attempts", t.Attempts).Msg("enrichment failed permanently")
		w.notify(ctx, t.PlaceID)
		return true, nil
	}
	metrics.EnrichmentTasks.WithLabelValues("retry").Inc()
	log.Warn().Err(runErr).Int("attempts", t.Attempts).Dur("retry_in", delay).Msg("enrichment failed, retrying")
	return true, nil
}

func (w *Worker) notify(ctx context.Context, placeID int64) {
	if err := bus.BroadcastMutation(ctx, w.bus, MutationKey(placeID)); err != nil {
		w.log.Warn().Err(err).Int64("place_id", placeID).Msg("publish place mutation")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
