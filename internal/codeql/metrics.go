// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codeql

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	subprocessDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeql_mcp_subprocess_duration_seconds",
			Help:    "Duration of codeql subprocesses in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"operation", "status"},
	)

	subprocessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeql_mcp_subprocess_total",
			Help: "Total codeql subprocesses by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	subprocessAbandoned = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codeql_mcp_subprocess_abandoned",
		Help: "Subprocesses still running after their caller timed out",
	})

	subprocessInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codeql_mcp_subprocess_in_flight",
		Help: "Subprocesses currently holding a concurrency slot",
	})

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeql_mcp_dbinfo_cache_lookups_total",
			Help: "Database info cache lookups by result",
		},
		[]string{"result"},
	)
)

// Subprocess outcome labels.
const (
	statusOK        = "ok"
	statusFailed    = "failed"
	statusTimeout   = "timeout"
	statusCancelled = "cancelled"
	statusLaunch    = "launch_error"
)

func recordSubprocess(operation, status string, seconds float64) {
	subprocessDuration.WithLabelValues(operation, status).Observe(seconds)
	subprocessTotal.WithLabelValues(operation, status).Inc()
}
