// Package metrics holds the Prometheus collectors exported by geolocal serve.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "geolocal"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Lookups       *prometheus.CounterVec
	Ranges        *prometheus.GaugeVec
	Reloads       *prometheus.CounterVec
	LastReload    prometheus.Gauge
	ReloadSeconds prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Membership queries by transport and result.",
		}, []string{"transport", "result"}),
		Ranges: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_ranges",
			Help:      "Ranges in the loaded table by family.",
		}, []string{"family"}),
		Reloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "table_reloads_total",
			Help:      "Table reload attempts by outcome.",
		}, []string{"outcome"}),
		LastReload: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_last_reload_timestamp_seconds",
			Help:      "Unix time of the last successful table load.",
		}),
		ReloadSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "table_reload_duration_seconds",
			Help:      "Time spent decoding and certifying an artifact.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}
}

// ObserveLookup counts one query. result is "match", "miss" or "error".
func (m *Metrics) ObserveLookup(transport, result string) {
	if m == nil {
		return
	}
	m.Lookups.WithLabelValues(transport, result).Inc()
}

// ObserveReload records a reload attempt. ranges maps family names to
// range counts and is only applied when err is nil.
func (m *Metrics) ObserveReload(took time.Duration, ranges map[string]int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Reloads.WithLabelValues("error").Inc()
		return
	}
	m.Reloads.WithLabelValues("ok").Inc()
	m.ReloadSeconds.Observe(took.Seconds())
	m.LastReload.SetToCurrentTime()
	m.Ranges.Reset()
	for family, n := range ranges {
		m.Ranges.WithLabelValues(family).Set(float64(n))
	}
}

// LookupResult names the result label for a membership answer.
func LookupResult(found bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case found:
		return "match"
	default:
		return "miss"
	}
}
