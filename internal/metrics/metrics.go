// Package metrics exposes Prometheus counters for the resolution pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lookup sources and results.
const (
	SourceCache  = "cache"
	SourceRemote = "remote"

	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// Metrics holds the registry and every collector the pipeline records to.
type Metrics struct {
	registry *prometheus.Registry

	rtUpdates      *prometheus.CounterVec   // RT updates by outcome status
	lookups        *prometheus.CounterVec   // lookups by source and result
	remoteLatency  *prometheus.HistogramVec // remote call latency by operation
	stationChanges prometheus.Counter
	activeStations prometheus.Gauge
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		rtUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdstrack",
			Subsystem: "pipeline",
			Name:      "rt_updates_total",
			Help:      "Radio Text updates processed, by outcome",
		}, []string{"status"}),

		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdstrack",
			Subsystem: "pipeline",
			Name:      "lookups_total",
			Help:      "Track lookups by source and result",
		}, []string{"source", "result"}),

		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rdstrack",
			Subsystem: "remote",
			Name:      "request_duration_seconds",
			Help:      "Latency of remote resolver calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"operation"}),

		stationChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdstrack",
			Subsystem: "pipeline",
			Name:      "station_changes_total",
			Help:      "Station changes received",
		}),

		activeStations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rdstrack",
			Subsystem: "pipeline",
			Name:      "active_stations",
			Help:      "Stations with a running worker",
		}),
	}

	m.registry.MustRegister(
		m.rtUpdates,
		m.lookups,
		m.remoteLatency,
		m.stationChanges,
		m.activeStations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRtUpdate counts one processed RT update.
func (m *Metrics) RecordRtUpdate(status string) {
	if m == nil {
		return
	}
	m.rtUpdates.WithLabelValues(status).Inc()
}

// RecordLookup counts one cache or remote lookup.
func (m *Metrics) RecordLookup(source, result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(source, result).Inc()
}

// RecordRemoteLatency observes the duration of one remote call.
func (m *Metrics) RecordRemoteLatency(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.remoteLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordStationChange counts a station change.
func (m *Metrics) RecordStationChange() {
	if m == nil {
		return
	}
	m.stationChanges.Inc()
}

// SetActiveStations reports how many station workers are running.
func (m *Metrics) SetActiveStations(n int) {
	if m == nil {
		return
	}
	m.activeStations.Set(float64(n))
}
