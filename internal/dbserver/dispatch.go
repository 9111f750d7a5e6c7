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
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"docdb/internal/store"
	"docdb/pkg/condition"
	"docdb/pkg/wire"
)

// lockTimeout is the 3-second timed-wait for a per-database mutex
// described in SPEC_FULL.md §4.5.
const lockTimeout = 3 * time.Second

// Dispatcher turns a decoded Request into a Response by acquiring the
// target database's lock, then calling into the collection engine.
// Workers MUST NOT hold any other lock while waiting on a database
// lock (SPEC_FULL.md §4.5); Dispatcher never takes one of its own.
type Dispatcher struct {
	registry *store.Registry
	locks    LockManager
	metrics  *Metrics
	log      zerolog.Logger
}

// NewDispatcher builds a Dispatcher over registry, using locks for
// per-database serialization.
func NewDispatcher(registry *store.Registry, locks LockManager, metrics *Metrics, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, locks: locks, metrics: metrics, log: log}
}

// Dispatch handles one request and returns the Response to send back.
// It never returns an error itself: every failure mode becomes an
// error Response, per SPEC_FULL.md §7 ("errors on one request never
// affect other requests").
func (d *Dispatcher) Dispatch(ctx context.Context, req *wire.Request) wire.Response {
	start := time.Now()
	req.Normalize()

	resp := d.dispatchLocked(ctx, req)

	status := "success"
	if resp.Status == wire.StatusError {
		status = "error"
	}
	if d.metrics != nil {
		d.metrics.observeRequest(string(req.Operation), status, start)
	}
	return resp
}

func (d *Dispatcher) dispatchLocked(ctx context.Context, req *wire.Request) wire.Response {
	if req.Database == "" {
		return wire.Error("database is required")
	}
	if req.Collection == "" {
		return wire.Error("collection is required")
	}

	release, err := d.locks.Acquire(ctx, req.Database, lockTimeout)
	if err != nil {
		if d.metrics != nil {
			d.metrics.lockTimeout(req.Database)
		}
		d.log.Warn().Str("database", req.Database).Msg("database lock timeout")
		return wire.Error("Database lock timeout")
	}
	defer release()

	col, err := d.registry.GetCollection(ctx, req.Database, req.Collection)
	if err != nil {
		d.log.Error().Err(err).Str("database", req.Database).Str("collection", req.Collection).Msg("collection load failed")
		return wire.Error(err.Error())
	}

	switch req.Operation {
	case wire.OpInsert:
		return d.handleInsert(ctx, col, req)
	case wire.OpFind:
		return d.handleFind(col, req)
	case wire.OpDelete:
		return d.handleDelete(ctx, col, req)
	default:
		return wire.Error("unknown operation: " + string(req.Operation))
	}
}

func (d *Dispatcher) handleInsert(ctx context.Context, col *store.Collection, req *wire.Request) wire.Response {
	if len(req.Data) == 0 {
		return wire.Error("insert requires at least one document in data")
	}
	raws := make([][]byte, len(req.Data))
	for i, r := range req.Data {
		raws[i] = r
	}
	ids, err := col.InsertMany(ctx, raws)
	if err != nil {
		return wire.Error(err.Error())
	}
	resp := wire.Success("inserted", len(ids))
	return resp
}

func (d *Dispatcher) parseQuery(req *wire.Request) (*condition.Condition, error) {
	return condition.Parse(req.Query)
}

func (d *Dispatcher) handleFind(col *store.Collection, req *wire.Request) wire.Response {
	cond, err := d.parseQuery(req)
	if err != nil {
		return wire.Error(err.Error())
	}
	docs, total := col.FindPage(cond, req.Page, req.Limit)
	data := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		raw, err := doc.ToJSON()
		if err != nil {
			return wire.Error(err.Error())
		}
		data = append(data, json.RawMessage(raw))
	}
	return wire.Page(data, total, req.Page, req.Limit)
}

func (d *Dispatcher) handleDelete(ctx context.Context, col *store.Collection, req *wire.Request) wire.Response {
	cond, err := d.parseQuery(req)
	if err != nil {
		return wire.Error(err.Error())
	}
	removed, err := col.Remove(ctx, cond)
	if err != nil {
		return wire.Error(err.Error())
	}
	return wire.Success("deleted", removed)
}
