// Package metrics holds the Prometheus collectors shared by the gateway, bus, correlator and readiness gate.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "menuet"

var (
	// LiveConnections is the number of websocket connections held by this process.
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "live_connections",
		Help:      "Websocket connections currently held by this process.",
	})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "frames_dropped_total",
		Help:      "Outbound frames dropped because a connection's queue was full.",
	})

	BusPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "published_total",
		Help:      "Envelopes published, by kind.",
	}, []string{"kind"})

	BusReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "received_total",
		Help:      "Envelopes received from the transport, by kind.",
	}, []string{"kind"})

	Queries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "handled_total",
		Help:      "Queries handled, by type and outcome.",
	}, []string{"type", "outcome"})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "duration_seconds",
		Help:      "Query handler latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	// ReadinessStage is the numeric readiness state of this process (see readiness.State).
	ReadinessStage = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "readiness",
		Name:      "stage",
		Help:      "Current readiness stage; 4 means healthy.",
	})

	EnrichmentTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "enrichment",
		Name:      "tasks_total",
		Help:      "Enrichment task attempts, by outcome.",
	}, []string{"outcome"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
