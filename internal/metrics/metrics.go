// Package metrics exposes the live-reload channel and request counters in
// prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rathix/devserver/internal/livereload"
	"github.com/rathix/devserver/internal/server"
)

const namespace = "devserver"

// Collector implements livereload.Observer and server.RequestObserver.
type Collector struct {
	connections prometheus.Gauge
	accepted    prometheus.Counter
	rejected    prometheus.Counter
	sent        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	requests    *prometheus.CounterVec
}

var (
	_ livereload.Observer    = (*Collector)(nil)
	_ server.RequestObserver = (*Collector)(nil)
)

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "livereload",
			Name:      "connections",
			Help:      "Open live-reload WebSocket connections.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livereload",
			Name:      "connections_accepted_total",
			Help:      "Live-reload WebSocket connections accepted.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livereload",
			Name:      "handshakes_rejected_total",
			Help:      "Upgrade requests rejected with UNSUPPORTED URL.",
		}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livereload",
			Name:      "frames_sent_total",
			Help:      "Frames delivered to live-reload connections, by message.",
		}, []string{"message"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livereload",
			Name:      "delivery_failures_total",
			Help:      "Frame writes that failed, by message.",
		}, []string{"message"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by request kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(c.connections, c.accepted, c.rejected, c.sent, c.failures, c.requests)
	return c
}

func (c *Collector) ConnectionOpened() {
	c.connections.Inc()
	c.accepted.Inc()
}

func (c *Collector) ConnectionClosed() {
	c.connections.Dec()
}

func (c *Collector) HandshakeRejected(string) {
	c.rejected.Inc()
}

func (c *Collector) MessageSent(kind livereload.MessageKind, delivered, failed int) {
	c.sent.WithLabelValues(kind.Token()).Add(float64(delivered))
	c.failures.WithLabelValues(kind.Token()).Add(float64(failed))
}

func (c *Collector) RequestServed(kind server.RequestKind) {
	c.requests.WithLabelValues(kind.String()).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
