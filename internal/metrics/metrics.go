// Package metrics exposes Prometheus collectors for the debounce coordinator
// and backup runs.
//
// A nil *Metrics is valid and records nothing, so callers never need to check
// whether metrics are enabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks change events and backup runs.
type Metrics struct {
	// EventsTotal counts change events by source
	EventsTotal *prometheus.CounterVec

	// RunsTotal counts backup runs by trigger and result
	RunsTotal *prometheus.CounterVec

	// RunDuration tracks backup wall time
	RunDuration *prometheus.HistogramVec

	// CoalescedEvents tracks how many events each debounced run absorbed
	CoalescedEvents prometheus.Histogram

	// State is 0 idle, 1 waiting, 2 running
	State prometheus.Gauge

	// LastSuccess is the unix time of the last successful run
	LastSuccess prometheus.Gauge
}

// New creates and registers the collectors on reg.
// Panics if registration fails (expected during initialization only).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrorwatch_events_total",
				Help: "Total change events received by source",
			},
			[]string{"source"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrorwatch_backup_runs_total",
				Help: "Total backup runs by trigger and result",
			},
			[]string{"trigger", "result"}, // result: "success", "failure"
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mirrorwatch_backup_duration_seconds",
				Help:    "Backup run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"trigger"},
		),
		CoalescedEvents: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mirrorwatch_coalesced_events",
				Help:    "Number of change events folded into a single debounced run",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		State: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirrorwatch_coordinator_state",
				Help: "Debounce coordinator state (0 idle, 1 waiting, 2 running)",
			},
		),
		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirrorwatch_last_success_timestamp_seconds",
				Help: "Unix time of the last successful backup",
			},
		),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.RunsTotal,
		m.RunDuration,
		m.CoalescedEvents,
		m.State,
		m.LastSuccess,
	)
	return m
}

// ObserveEvent records one change event.
func (m *Metrics) ObserveEvent(source string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(source).Inc()
}

// ObserveRun records a finished backup.
func (m *Metrics) ObserveRun(trigger string, d time.Duration, ok bool, finished time.Time) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
		m.LastSuccess.Set(float64(finished.Unix()))
	}
	m.RunsTotal.WithLabelValues(trigger, result).Inc()
	m.RunDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// ObserveCoalesced records how many events a debounced run absorbed.
func (m *Metrics) ObserveCoalesced(n int) {
	if m == nil {
		return
	}
	m.CoalescedEvents.Observe(float64(n))
}

// SetState records the coordinator state.
func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.State.Set(float64(state))
}
