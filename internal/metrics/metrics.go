// Package metrics provides Prometheus metrics for gpuwatch.
//
// Collectors are registered on an explicit registry so tests and the CLI can
// build throwaway instances. All methods are nil-safe: a nil *Metrics records
// nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gpuwatch"

type Metrics struct {
	Registry *prometheus.Registry

	polls            *prometheus.CounterVec
	signal           prometheus.Gauge
	devices          prometheus.Gauge
	occupied         prometheus.Gauge
	transitions      *prometheus.CounterVec
	sentCount        prometheus.Gauge
	resets           prometheus.Counter
	deliveries       *prometheus.CounterVec
	deliveryAttempts prometheus.Histogram
	heartbeats       prometheus.Counter
}

// New registers all collectors on a fresh registry (plus Go/process collectors).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		// ─── Polling ────────────────────────────────────────────────────────
		polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Telemetry polls by result.",
		}, []string{"result"}),
		signal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "availability_signal",
			Help:      "Last computed signal: 0 unknown, 1 free, 2 busy.",
		}),
		devices: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Visible devices at the last poll.",
		}),
		occupied: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "occupied_devices",
			Help:      "Occupied devices at the last poll.",
		}),

		// ─── Gate ───────────────────────────────────────────────────────────
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Qualifying transitions by intent and whether they were sent or suppressed.",
		}, []string{"intent", "outcome"}),
		sentCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_sent",
			Help:      "Notifications sent in the current rate-limit window.",
		}),
		resets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_resets_total",
			Help:      "Rate-limit window resets.",
		}),

		// ─── Delivery ───────────────────────────────────────────────────────
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-recipient deliveries by result.",
		}, []string{"result"}),
		deliveryAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempts",
			Help:      "Attempts used per recipient delivery.",
			Buckets:   []float64{1, 2, 3, 5, 8, 10},
		}),
		heartbeats: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat notifications dispatched.",
		}),
	}
}

func (m *Metrics) PollOK(signal, devices, occupied, sent int) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues("ok").Inc()
	m.signal.Set(float64(signal))
	m.devices.Set(float64(devices))
	m.occupied.Set(float64(occupied))
	m.sentCount.Set(float64(sent))
}

func (m *Metrics) PollFailed() {
	if m == nil {
		return
	}
	m.polls.WithLabelValues("error").Inc()
}

func (m *Metrics) Transition(intent string, suppressed bool) {
	if m == nil {
		return
	}
	outcome := "sent"
	if suppressed {
		outcome = "suppressed"
	}
	m.transitions.WithLabelValues(intent, outcome).Inc()
}

func (m *Metrics) WindowReset() {
	if m == nil {
		return
	}
	m.resets.Inc()
	m.sentCount.Set(0)
}

func (m *Metrics) Delivery(attempts int, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.deliveries.WithLabelValues(result).Inc()
	m.deliveryAttempts.Observe(float64(attempts))
}

func (m *Metrics) Heartbeat() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}
