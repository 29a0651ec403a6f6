// Package metrics exports door-greeter counters and gauges to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/door-greeter/internal/actuation"
	"github.com/sweeney/door-greeter/internal/presence"
)

const namespace = "door_greeter"

// Metrics holds the collectors. Create one per registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	observations   *prometheus.CounterVec
	droppedSamples prometheus.Counter
	events         *prometheus.CounterVec
	present        *prometheus.GaugeVec
	rssi           *prometheus.GaugeVec
	evicted        prometheus.Counter
	sequences      *prometheus.CounterVec
	seqDuration    prometheus.Histogram
	dropped        prometheus.Counter
	scanErrors     prometheus.Counter
	mqttConnected  prometheus.Gauge
}

// New registers the collectors with reg. Pass a fresh prometheus.Registry in
// tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		observations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Accepted beacon observations by identity.",
		}, []string{"identity"}),
		droppedSamples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_dropped_total",
			Help:      "Observations dropped because the ingest queue was full.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_events_total",
			Help:      "Presence transitions by type and identity.",
		}, []string{"type", "identity"}),
		present: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "identity_present",
			Help:      "1 if the identity is currently PRESENT.",
		}, []string{"identity"}),
		rssi: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "identity_rssi_dbm",
			Help:      "Most recent RSSI per identity.",
		}, []string{"identity"}),
		evicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_evicted_total",
			Help:      "Signal history entries evicted by age or size.",
		}),
		sequences: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequences_total",
			Help:      "Actuation sequences by outcome.",
		}, []string{"outcome"}),
		seqDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sequence_duration_seconds",
			Help:      "Wall time of actuation sequences.",
			Buckets:   []float64{1, 2, 5, 8, 10, 11, 12, 15, 20},
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_dropped_total",
			Help:      "Actuation requests dropped because a sequence was in flight.",
		}),
		scanErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_errors_total",
			Help:      "BLE scan transport failures.",
		}),
		mqttConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 if the MQTT broker connection is up.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Observation counts an accepted observation and records its RSSI.
func (m *Metrics) Observation(obs presence.Observation) {
	id := string(obs.Identity)
	m.observations.WithLabelValues(id).Inc()
	m.rssi.WithLabelValues(id).Set(float64(obs.RSSI))
}

// ObservationDropped counts an observation lost to a full queue.
func (m *Metrics) ObservationDropped() { m.droppedSamples.Inc() }

// Event counts a presence transition and updates the presence gauge.
func (m *Metrics) Event(ev presence.Event) {
	id := string(ev.Identity)
	m.events.WithLabelValues(string(ev.Type), id).Inc()
	if ev.Type == presence.EventDeparted {
		m.present.WithLabelValues(id).Set(0)
	} else {
		m.present.WithLabelValues(id).Set(1)
	}
}

// Evicted adds n evicted history entries.
func (m *Metrics) Evicted(n int) { m.evicted.Add(float64(n)) }

// Sequence records a finished sequence.
func (m *Metrics) Sequence(r actuation.Report) {
	m.sequences.WithLabelValues(r.Outcome()).Inc()
	m.seqDuration.Observe(r.Duration().Seconds())
}

// RequestDropped counts a request the sequencer refused.
func (m *Metrics) RequestDropped() { m.dropped.Inc() }

// ScanError counts a scan failure.
func (m *Metrics) ScanError() { m.scanErrors.Inc() }

// MQTTConnected sets the broker connectivity gauge.
func (m *Metrics) MQTTConnected(up bool) {
	if up {
		m.mqttConnected.Set(1)
	} else {
		m.mqttConnected.Set(0)
	}
}
