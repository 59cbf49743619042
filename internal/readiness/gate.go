// Package readiness gates a process on its dependencies. Stages run in order, each retried at a
// fixed interval until it succeeds; once healthy the gate never goes back.
package readiness

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/svenmapprio/menuet/internal/metrics"
)

// State is the readiness stage of a process.
type State int32

const (
	StateBooting State = iota
	StateWaitingExternal
	StateWaitingStorage
	StateWaitingCluster
	StateHealthy
)

func (s State) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateWaitingExternal:
		return "waiting_external"
	case StateWaitingStorage:
		return "waiting_storage"
	case StateWaitingCluster:
		return "waiting_cluster"
	case StateHealthy:
		return "healthy"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Probe checks one dependency. A nil Probe always succeeds.
type Probe func(ctx context.Context) error

// Stages are the probes run by Gate.Run, in field order.
type Stages struct {
	External Probe
	Storage  Probe
	Cluster  Probe
}

// Transition records a state change.
type Transition struct {
	From, To State
	At       time.Time
}

// Gate tracks the readiness of one process.
type Gate struct {
	interval time.Duration
	log      zerolog.Logger

	state atomic.Int32

	mu          sync.Mutex
	transitions []Transition

	startup     chan struct{}
	startupOnce sync.Once
}

// NewGate returns a Gate in StateBooting retrying failed stages every interval.
func NewGate(interval time.Duration, log zerolog.Logger) *Gate {
	if interval <= 0 {
		interval = time.Second
	}
	return &Gate{
		interval: interval,
		log:      log.With().Str("component", "readiness").Logger(),
		startup:  make(chan struct{}),
	}
}

// Run walks the stages until every one has succeeded. It only returns early when ctx is done.
func (g *Gate) Run(ctx context.Context, stages Stages) error {
	steps := []struct {
		state State
		probe Probe
	}{
		{StateWaitingExternal, stages.External},
		{StateWaitingStorage, stages.Storage},
		{StateWaitingCluster, stages.Cluster},
	}
	for _, step := range steps {
		if g.Healthy() {
			return nil
		}
		g.advance(step.state)
		if step.probe == nil {
			continue
		}
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, step.probe(ctx)
		},
			backoff.WithBackOff(backoff.NewConstantBackOff(g.interval)),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				g.log.Warn().Err(err).Str("stage", step.state.String()).Dur("retry_in", next).Msg("readiness: stage not ready")
			}),
		)
		if err != nil {
			return err
		}
	}
	g.advance(StateHealthy)
	g.log.Info().Msg("readiness: healthy")
	return nil
}

// advance moves the gate forward to s. Moving backwards, including out of StateHealthy, is ignored.
func (g *Gate) advance(s State) {
	for {
		cur := State(g.state.Load())
		if s <= cur {
			return
		}
		if g.state.CompareAndSwap(int32(cur), int32(s)) {
			g.mu.Lock()
			g.transitions = append(g.transitions, Transition{From: cur, To: s, At: time.Now()})
			g.mu.Unlock()
			metrics.ReadinessStage.Set(float64(s))
			return
		}
	}
}

// State is the current stage.
func (g *Gate) State() State { return State(g.state.Load()) }

// Healthy reports whether every stage has succeeded.
func (g *Gate) Healthy() bool { return g.State() == StateHealthy }

// Transitions returns the state changes so far, oldest first.
func (g *Gate) Transitions() []Transition {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Transition(nil), g.transitions...)
}

// ObserveStartup records that a startup envelope came back through the bus.
func (g *Gate) ObserveStartup() {
	g.startupOnce.Do(func() { close(g.startup) })
}

// StartupObserved reports whether ObserveStartup has been called.
func (g *Gate) StartupObserved() bool {
	select {
	case <-g.startup:
		return true
	default:
		return false
	}
}
