// Package metrics exposes Prometheus instrumentation for the chat relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsOpened counts accepted WebSocket sessions by mode.
	ConnectionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_connections_opened_total",
		Help: "WebSocket sessions accepted, by delivery mode.",
	}, []string{"mode"})

	// ConnectionsOpen tracks currently bound sessions.
	ConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_connections_open",
		Help: "Currently bound WebSocket sessions.",
	})

	// MessagesDelivered counts envelopes pushed to live transports by mode.
	MessagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_messages_delivered_total",
		Help: "Envelopes pushed to live recipients, by delivery mode.",
	}, []string{"mode"})

	// MessagesPersisted counts records written to the durable message store.
	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_persisted_total",
		Help: "Messages written to the durable store.",
	})

	// DeliveryFailures counts transport pushes that failed or were dropped.
	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_delivery_failures_total",
		Help: "Envelope pushes that failed, by delivery mode.",
	}, []string{"mode"})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
