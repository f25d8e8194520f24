// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package diagnostics provides Prometheus metrics and OpenTelemetry tracing for
deployment runs, smoke tests and probes.

drydock is a short-lived CLI, so metrics are not served over HTTP. They are
written to a node-exporter textfile after each command when
telemetry.metrics_textfile is configured.

# Metrics Exported

  - drydock_deploy_runs_total: Counter by final status
  - drydock_deploy_run_duration_seconds: Histogram of run durations
  - drydock_deploy_tier_results_total: Counter by tier and outcome
  - drydock_deploy_service_health: Gauge by service (1=ok, 0=failed)
  - drydock_deploy_health_attempts: Histogram of attempts per service
  - drydock_smoke_checks_total: Counter by category and status
  - drydock_smoke_check_latency_seconds: Histogram by category
  - drydock_smoke_last_exit_code: Gauge
  - drydock_probe_results_total: Counter by category and result
  - drydock_snapshot_bytes: Gauge of the last dump size
  - drydock_snapshot_pruned_total: Counter
*/
package diagnostics

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "drydock"

// Metrics records operational measurements.
type Metrics interface {
	RecordRun(status string, duration time.Duration)
	RecordTier(tier int, outcome string)
	RecordServiceHealth(service string, ok bool, attempts int)
	RecordSmokeCheck(category, status string, latency time.Duration)
	RecordSmokeExit(code int)
	RecordProbe(category string, success bool)
	RecordSnapshot(dumpBytes int64)
	RecordPruned(count int)

	// WriteTextfile persists the current values; a no-op for NoOpMetrics.
	WriteTextfile(path string) error
}

// NoOpMetrics counts in memory and exports nothing.
type NoOpMetrics struct {
	runs        atomic.Int64
	tiers       atomic.Int64
	smokeChecks atomic.Int64
	probes      atomic.Int64
	pruned      atomic.Int64
	lastExit    atomic.Int64
}

// NewNoOpMetrics creates an in-memory recorder.
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (m *NoOpMetrics) RecordRun(status string, duration time.Duration) { m.runs.Add(1) }
func (m *NoOpMetrics) RecordTier(tier int, outcome string)             { m.tiers.Add(1) }
func (m *NoOpMetrics) RecordServiceHealth(string, bool, int)           {}
func (m *NoOpMetrics) RecordSmokeCheck(string, string, time.Duration)  { m.smokeChecks.Add(1) }
func (m *NoOpMetrics) RecordSmokeExit(code int)                        { m.lastExit.Store(int64(code)) }
func (m *NoOpMetrics) RecordProbe(string, bool)                        { m.probes.Add(1) }
func (m *NoOpMetrics) RecordSnapshot(int64)                            {}
func (m *NoOpMetrics) RecordPruned(count int)                          { m.pruned.Add(int64(count)) }
func (m *NoOpMetrics) WriteTextfile(string) error                      { return nil }

// Runs returns the number of recorded runs.
func (m *NoOpMetrics) Runs() int64 { return m.runs.Load() }

// Tiers returns the number of recorded tier outcomes.
func (m *NoOpMetrics) Tiers() int64 { return m.tiers.Load() }

// SmokeChecks returns the number of recorded smoke checks.
func (m *NoOpMetrics) SmokeChecks() int64 { return m.smokeChecks.Load() }

// Probes returns the number of recorded probe results.
func (m *NoOpMetrics) Probes() int64 { return m.probes.Load() }

// LastSmokeExit returns the last recorded smoke exit code.
func (m *NoOpMetrics) LastSmokeExit() int64 { return m.lastExit.Load() }

// PrometheusMetrics records into a private registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	tierResults    *prometheus.CounterVec
	serviceHealth  *prometheus.GaugeVec
	healthAttempts prometheus.Histogram
	smokeChecks    *prometheus.CounterVec
	smokeLatency   *prometheus.HistogramVec
	smokeExit      prometheus.Gauge
	probeResults   *prometheus.CounterVec
	snapshotBytes  prometheus.Gauge
	prunedTotal    prometheus.Counter

	mu sync.Mutex
}

// NewPrometheusMetrics creates and registers every collector.
func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "deploy", Name: "runs_total",
			Help: "Deployment runs by final status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "deploy", Name: "run_duration_seconds",
			Help:    "Duration of deployment runs",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
		}),
		tierResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "deploy", Name: "tier_results_total",
			Help: "Tier outcomes by tier number",
		}, []string{"tier", "outcome"}),
		serviceHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "deploy", Name: "service_health",
			Help: "Last health verdict per service (1=ok, 0=failed)",
		}, []string{"service"}),
		healthAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "deploy", Name: "health_attempts",
			Help:    "Health check attempts needed per service",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}),
		smokeChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "smoke", Name: "checks_total",
			Help: "Smoke checks by category and status",
		}, []string{"category", "status"}),
		smokeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "smoke", Name: "check_latency_seconds",
			Help:    "Smoke check latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"category"}),
		smokeExit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "smoke", Name: "last_exit_code",
			Help: "Exit code of the last smoke run",
		}),
		probeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "probe", Name: "results_total",
			Help: "Probe results by category",
		}, []string{"category", "result"}),
		snapshotBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "snapshot", Name: "bytes",
			Help: "Size of the last database dump",
		}),
		prunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "snapshot", Name: "pruned_total",
			Help: "Snapshots removed by retention",
		}),
	}
	m.registry.MustRegister(
		m.runsTotal, m.runDuration, m.tierResults, m.serviceHealth, m.healthAttempts,
		m.smokeChecks, m.smokeLatency, m.smokeExit, m.probeResults, m.snapshotBytes, m.prunedTotal,
	)
	return m
}

func (m *PrometheusMetrics) RecordRun(status string, duration time.Duration) {
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordTier(tier int, outcome string) {
	m.tierResults.WithLabelValues(strconv.Itoa(tier), outcome).Inc()
}

func (m *PrometheusMetrics) RecordServiceHealth(service string, ok bool, attempts int) {
	v := 0.0
	if ok {
		v = 1
	}
	m.serviceHealth.WithLabelValues(service).Set(v)
	m.healthAttempts.Observe(float64(attempts))
}

func (m *PrometheusMetrics) RecordSmokeCheck(category, status string, latency time.Duration) {
	m.smokeChecks.WithLabelValues(category, status).Inc()
	m.smokeLatency.WithLabelValues(category).Observe(latency.Seconds())
}

func (m *PrometheusMetrics) RecordSmokeExit(code int) {
	m.smokeExit.Set(float64(code))
}

func (m *PrometheusMetrics) RecordProbe(category string, success bool) {
	result := "failed"
	if success {
		result = "passed"
	}
	m.probeResults.WithLabelValues(category, result).Inc()
}

func (m *PrometheusMetrics) RecordSnapshot(dumpBytes int64) {
	m.snapshotBytes.Set(float64(dumpBytes))
}

func (m *PrometheusMetrics) RecordPruned(count int) {
	m.prunedTotal.Add(float64(count))
}

// WriteTextfile writes the registry in the text exposition format.
func (m *PrometheusMetrics) WriteTextfile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return prometheus.WriteToTextfile(path, m.registry)
}

// Registry exposes the registry for tests.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// NewMetrics returns Prometheus metrics when a textfile is configured.
func NewMetrics(textfile string) Metrics {
	if textfile != "" {
		return NewPrometheusMetrics()
	}
	return NewNoOpMetrics()
}

var _ Metrics = (*NoOpMetrics)(nil)
var _ Metrics = (*PrometheusMetrics)(nil)
