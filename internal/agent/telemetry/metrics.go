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

// Package telemetry holds the agent-side Prometheus collectors and the
// shared metrics HTTP listener, mirroring the server's
// internal/dbserver.Metrics and the teacher's opt-in telemetry posture:
// an empty address disables the endpoint entirely.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent-side collectors described in SPEC_FULL.md
// §4.11. Always construct via NewMetrics; the zero value is not safe
// to call methods on.
type Metrics struct {
	eventsProcessed *prometheus.CounterVec
	eventsExcluded  *prometheus.CounterVec
	bufferSize      prometheus.Gauge
	sendBatches     *prometheus.CounterVec
	collectorErrors *prometheus.CounterVec
}

// NewMetrics builds and registers the agent's metrics on reg. Pass a
// fresh prometheus.NewRegistry() in tests to avoid collisions with the
// global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_events_processed_total",
			Help: "Raw log lines turned into a security event, by source.",
		}, []string{"source"}),
		eventsExcluded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_events_excluded_total",
			Help: "Raw log lines dropped by the exclude filter, by source.",
		}, []string{"source"}),
		bufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siem_buffer_size",
			Help: "Events currently held in the persistent buffer (memory + spill).",
		}),
		sendBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_send_batches_total",
			Help: "Batches handed to the database client, by outcome status.",
		}, []string{"status"}),
		collectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_collector_errors_total",
			Help: "Errors raised while tailing a log source, by source.",
		}, []string{"source"}),
	}
	if reg != nil {
		reg.MustRegister(m.eventsProcessed, m.eventsExcluded, m.bufferSize, m.sendBatches, m.collectorErrors)
	}
	return m
}

func (m *Metrics) eventProcessed(source string) { m.eventsProcessed.WithLabelValues(source).Inc() }
func (m *Metrics) eventExcluded(source string)  { m.eventsExcluded.WithLabelValues(source).Inc() }
func (m *Metrics) setBufferSize(n int)          { m.bufferSize.Set(float64(n)) }
func (m *Metrics) sendBatch(status string)      { m.sendBatches.WithLabelValues(status).Inc() }
func (m *Metrics) collectorError(source string) { m.collectorErrors.WithLabelValues(source).Inc() }

// Server is a minimal /metrics HTTP listener, adapted from the
// teacher's api.Server: a bare mux serving promhttp.Handler, started
// and stopped independently of the main request path.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics server bound to addr. An empty addr means
// telemetry is disabled; callers should skip calling Start entirely in
// that case.
func NewServer(addr string, reg *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the listener in the background. Errors other than a
// graceful Shutdown are sent to errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
}

// Stop shuts the listener down within timeout.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
