// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package dbserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the server-side Prometheus collectors described in
// SPEC_FULL.md §4.11. Passing nil Metrics (the zero value has its
// fields as nil) is not safe to call methods on; use NewMetrics, which
// always returns a usable instance whether or not it's registered.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeConns     prometheus.Gauge
	queueDepth      prometheus.Gauge
	lockTimeouts    *prometheus.CounterVec
}

// NewMetrics builds and registers the server's metrics on reg. Pass a
// fresh prometheus.NewRegistry() in tests to avoid collisions with the
// global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docdb_requests_total",
			Help: "Total requests handled, by operation and outcome status.",
		}, []string{"operation", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docdb_request_duration_seconds",
			Help:    "Request handling latency, by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docdb_active_connections",
			Help: "Currently open client connections.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docdb_queue_depth",
			Help: "Items currently waiting in the bounded work queue.",
		}),
		lockTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docdb_lock_timeouts_total",
			Help: "Per-database mutex acquisitions that timed out.",
		}, []string{"database"}),
	}
	if reg != nil {
		reg.MustRegister(m.requestsTotal, m.requestDuration, m.activeConns, m.queueDepth, m.lockTimeouts)
	}
	return m
}

func (m *Metrics) observeRequest(operation, status string, start time.Time) {
	m.requestsTotal.WithLabelValues(operation, status).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) connOpened()  { m.activeConns.Inc() }
func (m *Metrics) connClosed()  { m.activeConns.Dec() }
func (m *Metrics) queueGauge(n int) { m.queueDepth.Set(float64(n)) }
func (m *Metrics) lockTimeout(database string) { m.lockTimeouts.WithLabelValues(database).Inc() }
