package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "messaging",
		Name:      "ws_active_connections",
		Help:      "Active websocket connections",
	})

	Events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "ws_events_total",
		Help:      "Inbound gateway events by type and outcome",
	}, []string{"type", "outcome"})

	Blocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "access_denied_total",
		Help:      "Operations denied by the access policy",
	}, []string{"reason"})

	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "messages_sent_total",
		Help:      "Messages durably appended",
	})

	DroppedClients = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "ws_dropped_clients_total",
		Help:      "Connections dropped because their send buffer was full",
	})

	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "events_dropped_total",
		Help:      "Domain events that were not delivered to the broker",
	})
)

var once sync.Once

// Init registers the collectors with the default registry. Safe to call twice.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(Connections, Events, Blocked, MessagesSent, DroppedClients, EventsDropped)
	})
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
