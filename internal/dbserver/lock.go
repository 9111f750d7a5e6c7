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

// Package dbserver implements the connection manager (C5): the TCP
// accept loop, per-connection reader, bounded work queue, worker pool,
// and request dispatch.
package dbserver

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is surfaced as the "Database lock timeout" response
// message described in SPEC_FULL.md §4.5/§7.
var ErrLockTimeout = errors.New("dbserver: database lock timeout")

// LockManager grants exclusive, timed access to a named database. It
// is the generalization of spec.md's "mapping dbName -> mutex"; insert,
// delete, and find all acquire the named lock before touching a
// database's collections, and release it when done.
type LockManager interface {
	// Acquire blocks up to timeout waiting for the named database's
	// lock. On success it returns a release function that the caller
	// must call exactly once. On timeout it returns ErrLockTimeout.
	Acquire(ctx context.Context, database string, timeout time.Duration) (release func(), err error)
}

// processLock is a single database's lock, implemented as a
// buffered channel acting as a non-reentrant mutex with a timed
// acquire (sync.Mutex only gained a non-blocking TryLock, not a timed
// one, so a size-1 channel is the idiomatic substitute).
type processLock struct {
	slot chan struct{}
}

func newProcessLock() *processLock {
	l := &processLock{slot: make(chan struct{}, 1)}
	l.slot <- struct{}{}
	return l
}

func (l *processLock) tryAcquire(ctx context.Context, timeout time.Duration) (func(), bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.slot:
		released := false
		var mu sync.Mutex
		return func() {
			mu.Lock()
			defer mu.Unlock()
			if !released {
				released = true
				l.slot <- struct{}{}
			}
		}, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// LocalLockManager keeps one processLock per database name in a
// sync.Map, so a lookup can never observe a lock whose owning entry
// was freed out from under it — the same managed-entry discipline used
// by store.Registry (SPEC_FULL.md §9).
type LocalLockManager struct {
	locks sync.Map // name -> *processLock
}

// NewLocalLockManager returns an in-process LockManager suitable for a
// single dbserver instance.
func NewLocalLockManager() *LocalLockManager {
	return &LocalLockManager{}
}

func (m *LocalLockManager) getOrCreate(database string) *processLock {
	if v, ok := m.locks.Load(database); ok {
		return v.(*processLock)
	}
	fresh := newProcessLock()
	actual, _ := m.locks.LoadOrStore(database, fresh)
	return actual.(*processLock)
}

// Acquire implements LockManager.
func (m *LocalLockManager) Acquire(ctx context.Context, database string, timeout time.Duration) (func(), error) {
	lock := m.getOrCreate(database)
	release, ok := lock.tryAcquire(ctx, timeout)
	if !ok {
		return nil, ErrLockTimeout
	}
	return release, nil
}
