// Package metrics exposes reconciliation counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Runs          *prometheus.CounterVec
	Devices       *prometheus.CounterVec
	Reports       *prometheus.CounterVec
	Pushes        *prometheus.CounterVec
	LastRunSecond prometheus.Gauge
}

// New registers the collectors on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trackbridge",
			Name:      "runs_total",
			Help:      "Reconciliation runs by result.",
		}, []string{"result"}),
		Devices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trackbridge",
			Name:      "devices_total",
			Help:      "Devices reconciled by result.",
		}, []string{"result"}),
		Reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trackbridge",
			Name:      "reports_total",
			Help:      "History reports by freshness status.",
		}, []string{"status"}),
		Pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trackbridge",
			Name:      "pushes_total",
			Help:      "Sink pushes by outcome.",
		}, []string{"outcome"}),
		LastRunSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trackbridge",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.Devices, m.Reports, m.Pushes, m.LastRunSecond)
	}
	return m
}
