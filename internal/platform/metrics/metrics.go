package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the live-status tracker.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	notificationsTotal   prometheus.Counter
	broadcastsTotal      prometheus.Counter
	renewalAttemptsTotal prometheus.Counter
	flushesTotal         prometheus.Counter
	connectedListeners   prometheus.Gauge
	errorsTotal          prometheus.Counter
}

// New creates and registers Prometheus metrics for the tracker.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livewatch_requests_total",
		Help: "Total number of HTTP requests received",
	})
	notificationsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livewatch_notifications_total",
		Help: "Total number of authenticated push notifications accepted",
	})
	broadcastsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livewatch_broadcasts_total",
		Help: "Total number of snapshot broadcasts to real-time listeners",
	})
	renewalAttemptsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livewatch_renewal_attempts_total",
		Help: "Total number of subscription renewal requests sent to the hub",
	})
	flushesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livewatch_flushes_total",
		Help: "Total number of manual refreshes accepted past the cooldown",
	})
	connectedListeners := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livewatch_connected_listeners",
		Help: "Number of currently connected real-time listeners",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livewatch_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		notificationsTotal,
		broadcastsTotal,
		renewalAttemptsTotal,
		flushesTotal,
		connectedListeners,
		errorsTotal,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		notificationsTotal:   notificationsTotal,
		broadcastsTotal:      broadcastsTotal,
		renewalAttemptsTotal: renewalAttemptsTotal,
		flushesTotal:         flushesTotal,
		connectedListeners:   connectedListeners,
		errorsTotal:          errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncNotifications increments the accepted notification counter.
func (m *Metrics) IncNotifications() {
	m.notificationsTotal.Inc()
}

// IncBroadcasts increments the snapshot broadcast counter.
func (m *Metrics) IncBroadcasts() {
	m.broadcastsTotal.Inc()
}

// IncRenewalAttempts increments the renewal attempt counter.
func (m *Metrics) IncRenewalAttempts() {
	m.renewalAttemptsTotal.Inc()
}

// IncFlushes increments the accepted manual refresh counter.
func (m *Metrics) IncFlushes() {
	m.flushesTotal.Inc()
}

// SetConnectedListeners sets the connected listeners gauge.
func (m *Metrics) SetConnectedListeners(n int) {
	m.connectedListeners.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g.
// connected listeners).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
