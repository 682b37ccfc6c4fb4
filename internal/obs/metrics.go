/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package obs wires the runner's observability. A run can spend close to an
// hour waiting on the cluster lock alone, so the scrape endpoint is how CI
// dashboards distinguish a run that is making progress from one that hung.
package obs

import (
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// OutcomeSuccess labels commands and phases that completed cleanly.
	OutcomeSuccess = "success"
	// OutcomeFailure labels commands and phases that did not.
	OutcomeFailure = "failure"
)

// Metrics holds the instruments published by a test run.
type Metrics struct {
	// CommandsTotal counts commands executed through the gateway, by outcome.
	CommandsTotal *prometheus.CounterVec
	// CommandSeconds observes the wall time of gateway commands.
	CommandSeconds prometheus.Histogram
	// PhasesTotal counts finished run phases, by phase and outcome.
	PhasesTotal *prometheus.CounterVec
	// LockWaitSeconds records how long the run waited to acquire the
	// cluster lock.
	LockWaitSeconds prometheus.Gauge
}

// NewMetrics builds the run instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "systest_commands_total",
			Help: "Commands executed through the gateway, by outcome.",
		}, []string{"outcome"}),
		CommandSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "systest_command_duration_seconds",
			Help:    "Wall time of commands executed through the gateway.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		PhasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "systest_phases_total",
			Help: "Run phases finished, by phase and outcome.",
		}, []string{"phase", "outcome"}),
		LockWaitSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "systest_lock_wait_seconds",
			Help: "Time spent waiting to acquire the cluster lock.",
		}),
	}
	reg.MustRegister(m.CommandsTotal, m.CommandSeconds, m.PhasesTotal, m.LockWaitSeconds)
	return m
}

// ObservePhase records a finished phase under the outcome matching err.
func (m *Metrics) ObservePhase(phase string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.PhasesTotal.WithLabelValues(phase, outcome).Inc()
}

// ObserveLockWait records the time spent acquiring the cluster lock.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	m.LockWaitSeconds.Set(d.Seconds())
}

// StartServer exposes gatherer on addr under /metrics in the background.
// The endpoint is advisory: a run must never fail because scraping is
// unavailable, so listen errors are logged and swallowed.
func StartServer(addr string, gatherer prometheus.Gatherer, logger logr.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error(err, "Metrics server stopped")
		}
	}()
}
