package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_ws_events_total",
			Help: "Total number of inbound websocket events by type.",
		},
		[]string{"event"},
	)
	messagesBroadcastTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_messages_broadcast_total",
			Help: "Total number of chat messages fanned out to a room.",
		},
	)
	wsWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_ws_write_failures_total",
			Help: "Total number of failed websocket writes (connection evicted).",
		},
	)
)

func init() {
	prometheus.MustRegister(
		wsActiveConnections,
		wsEventsTotal,
		messagesBroadcastTotal,
		wsWriteFailuresTotal,
	)
}

func ConnOpened() { wsActiveConnections.Inc() }
func ConnClosed() { wsActiveConnections.Dec() }

func IncWSEvent(event string) { wsEventsTotal.WithLabelValues(event).Inc() }

func IncMessageBroadcast() { messagesBroadcastTotal.Inc() }

func IncWriteFailure() { wsWriteFailuresTotal.Inc() }

// Handler serves the prometheus scrape endpoint.
func Handler() http.Handler { return promhttp.Handler() }
