package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueriesTotal counts queries by outcome (idle, error, cancelled)
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_queries_total",
			Help: "Total number of queries by outcome",
		},
		[]string{"outcome"},
	)

	// QueryDuration tracks query wall time
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conduit_query_duration_seconds",
			Help:    "Query duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	// ChunksEmitted counts stream chunks delivered to callers
	ChunksEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_chunks_emitted_total",
			Help: "Total number of stream chunks emitted by kind",
		},
		[]string{"kind"},
	)

	// BusEvents counts events dispatched by the event bus
	BusEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_bus_events_total",
			Help: "Total number of event bus events dispatched by type",
		},
		[]string{"type"},
	)

	// BusReconnects counts event stream reconnect attempts
	BusReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conduit_bus_reconnects_total",
			Help: "Total number of event stream reconnect attempts",
		},
	)

	// BusListeners tracks currently registered bus listeners
	BusListeners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conduit_bus_listeners",
			Help: "Number of registered event bus listeners",
		},
	)

	// ServerSpawns counts agent server spawn attempts
	ServerSpawns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_server_spawns_total",
			Help: "Total number of agent server spawn attempts by result",
		},
		[]string{"result"},
	)

	// HealthWaitDuration tracks time from spawn to healthy
	HealthWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conduit_server_health_wait_seconds",
			Help:    "Time spent waiting for the agent server health endpoint",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	// SessionsCreated counts sessions created against the server
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conduit_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)
)

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a metrics listener on addr. Blocks.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
