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

// Package agent implements the orchestrator (C9): the two cooperative
// loops described in SPEC_FULL.md §4.9, wired the way the teacher's
// core.Worker wires its commit and eviction loops — Start spins up
// named goroutines tracked by a sync.WaitGroup, Stop closes a shared
// stop channel and waits, guarded by an atomic CompareAndSwap so it is
// safe to call more than once.
package agent

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"docdb/internal/agent/buffer"
	"docdb/internal/agent/collector"
	"docdb/internal/agent/event"
	"docdb/internal/agent/eventproc"
	"docdb/internal/agent/telemetry"
	"docdb/internal/dbclient"
	"docdb/pkg/wire"
)

const (
	sweepInterval   = 10 * time.Second
	pollInterval    = 1 * time.Second
	sendBatchSize   = 500
	drainBatchSize  = 1000
	sendFailBackoff = 5 * time.Second
)

// Orchestrator owns the collectors, the event processor, the
// persistent buffer, and the database client; it grants the monitor
// loop and sender loop shared access to the buffer only, per
// spec.md §4's ownership rule.
type Orchestrator struct {
	manager   *collector.Manager
	processor *eventproc.Processor
	buf       *buffer.Buffer
	client    *dbclient.Client
	metrics   *telemetry.Metrics
	log       zerolog.Logger

	database   string
	collection string
	agentID    string

	kafka *KafkaSink

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopped  uint32
}

// SetKafkaSink attaches the optional Kafka mirror sink (kafka.enabled
// in the agent config, SPEC_FULL.md §6). Left nil, no event is ever
// mirrored; this never affects the primary delivery path.
func (o *Orchestrator) SetKafkaSink(sink *KafkaSink) {
	o.kafka = sink
}

// New builds an Orchestrator. database/collection name where batches
// are inserted; agentID is stamped onto every event the processor
// produces.
func New(manager *collector.Manager, processor *eventproc.Processor, buf *buffer.Buffer, client *dbclient.Client, metrics *telemetry.Metrics, database, collection, agentID string, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		manager:    manager,
		processor:  processor,
		buf:        buf,
		client:     client,
		metrics:    metrics,
		log:        log,
		database:   database,
		collection: collection,
		agentID:    agentID,
		stopChan:   make(chan struct{}),
	}
}

// Start launches the monitor loop and the sender loop.
func (o *Orchestrator) Start() {
	o.log.Info().Msg("starting agent orchestrator")
	o.wg.Add(2)
	go func() {
		defer o.wg.Done()
		o.monitorLoop()
	}()
	go func() {
		defer o.wg.Done()
		o.senderLoop()
	}()
}

// Stop gracefully shuts the orchestrator down: joins both loops, then
// drains the buffer completely in bounded batches, retrying the
// connection with no limit on attempts, until the buffer is empty.
// Safe to call more than once.
func (o *Orchestrator) Stop() {
	if !atomic.CompareAndSwapUint32(&o.stopped, 0, 1) {
		return
	}
	o.log.Info().Msg("stopping agent orchestrator")
	close(o.stopChan)
	o.wg.Wait()
	o.drainFully()
	o.client.Close()
	if o.kafka != nil {
		if err := o.kafka.Close(); err != nil {
			o.log.Warn().Err(err).Msg("kafka sink close error")
		}
	}
}

func (o *Orchestrator) monitorLoop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	lastSweep := time.Now()

	for {
		select {
		case <-o.stopChan:
			return
		case <-o.manager.Events():
			o.sweep()
			lastSweep = time.Now()
		case err := <-o.manager.Errors():
			o.log.Warn().Err(err).Msg("collector watch error")
		case <-ticker.C:
			if time.Since(lastSweep) >= sweepInterval {
				o.sweep()
				lastSweep = time.Now()
			}
		}
	}
}

func (o *Orchestrator) sweep() {
	raw, err := o.manager.CollectAll()
	if err != nil {
		o.log.Warn().Err(err).Msg("collector sweep failed")
		if o.metrics != nil {
			o.metrics.collectorError("unknown")
		}
	}
	for _, r := range raw {
		var e event.SecurityEvent
		if r.User != "" || r.Timestamp != "" {
			e = o.processor.ProcessWithBase(event.SecurityEvent{Source: r.Source, User: r.User, Timestamp: r.Timestamp}, r.Line, o.agentID)
		} else {
			e = o.processor.Process(r.Source, r.Line, o.agentID)
		}
		if e.IsZero() {
			if o.metrics != nil {
				o.metrics.eventExcluded(r.Source)
			}
			continue
		}
		if o.metrics != nil {
			o.metrics.eventProcessed(r.Source)
		}
		if err := o.buf.AddEvent(e); err != nil {
			o.log.Error().Err(err).Msg("buffer add failed")
		}
		if o.kafka != nil {
			if err := o.kafka.Mirror(context.Background(), e); err != nil {
				o.log.Warn().Err(err).Msg("kafka mirror failed")
			}
		}
	}
	if o.metrics != nil {
		o.metrics.setBufferSize(o.buf.Size())
	}
}

func (o *Orchestrator) senderLoop() {
	for {
		select {
		case <-o.stopChan:
			return
		default:
		}
		if o.buf.Size() == 0 {
			select {
			case <-o.stopChan:
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if !o.sendOneBatch(sendBatchSize) {
			select {
			case <-o.stopChan:
				return
			case <-time.After(sendFailBackoff):
			}
		}
	}
}

// sendOneBatch pulls up to n events and attempts to insert them as one
// request. It reports whether the send succeeded; on failure nothing
// was removed from the buffer (GetBatch only peeks), so the batch is
// implicitly re-enqueued — no explicit re-add is needed.
func (o *Orchestrator) sendOneBatch(n int) bool {
	batch, err := o.buf.GetBatch(n)
	if err != nil {
		o.log.Error().Err(err).Msg("buffer read failed")
		return false
	}
	if len(batch) == 0 {
		return true
	}

	resp, err := o.insertWithReconnect(batch)
	if err != nil || resp.Status != wire.StatusSuccess {
		o.log.Warn().Err(err).Str("status", string(resp.Status)).Msg("batch insert failed, retaining buffer contents")
		if o.metrics != nil {
			o.metrics.sendBatch("error")
		}
		return false
	}

	if err := o.buf.Drain(len(batch)); err != nil {
		o.log.Error().Err(err).Msg("buffer drain failed after successful insert")
		return false
	}
	if o.metrics != nil {
		o.metrics.sendBatch("success")
		o.metrics.setBufferSize(o.buf.Size())
	}
	return true
}

// insertWithReconnect sends batch as a single insert request. The
// underlying dbclient.Client dials lazily and drops its connection on
// any transport error, so a connect failure here simply means the
// next call to Insert dials again; the "sleep 5s on connect failure"
// policy from spec.md §4.9 lives in the caller (senderLoop/drainFully)
// so a failed send is reported immediately and the backoff pacing is
// in one place.
func (o *Orchestrator) insertWithReconnect(batch []event.SecurityEvent) (wire.Response, error) {
	docs := make([]json.RawMessage, 0, len(batch))
	for _, e := range batch {
		raw, err := e.MarshalJSONLine()
		if err != nil {
			o.log.Error().Err(err).Msg("event marshal failed")
			continue
		}
		docs = append(docs, json.RawMessage(raw))
	}

	return o.client.Insert(o.database, o.collection, docs...)
}

// drainFully implements the shutdown contract from spec.md §4.9: drain
// the buffer completely in batches up to drainBatchSize, retrying the
// connection with no bound on attempts, until the buffer reports
// empty. It has no abort path: while the database stays unreachable
// it keeps retrying every sendFailBackoff and Stop does not return.
func (o *Orchestrator) drainFully() {
	for o.buf.Size() > 0 {
		if !o.sendOneBatch(drainBatchSize) {
			time.Sleep(sendFailBackoff)
			continue
		}
	}
}
