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

package store

import (
	"context"
	"fmt"
	"sync"
)

// managedDatabase bundles a database's open collections with the lock
// that guards that collection map (per-request locking of a database
// is the dbserver LockManager's job). Keeping the lock as a field inside the
// same struct that is published into the registry's sync.Map — rather
// than handing out a lock pointer from a side table — is what resolves
// the stale-mutex-pointer hazard flagged in SPEC_FULL.md §9: a lookup
// can never observe a lock whose owning entry has been replaced or
// freed, because the lock and the entry are the same allocation.
type managedDatabase struct {
	name        string
	mu          sync.Mutex // guards collections
	collections map[string]*Collection
}

// Registry is the database registry (C4): a lazily-populated map of
// database name to its open collection set, memoizing both the
// database and each collection within it on first access.
type Registry struct {
	backend Backend
	dbs     sync.Map // name -> *managedDatabase
}

// NewRegistry constructs a registry backed by the given Backend.
func NewRegistry(backend Backend) *Registry {
	return &Registry{backend: backend}
}

func (r *Registry) getOrCreateDatabase(name string) *managedDatabase {
	if v, ok := r.dbs.Load(name); ok {
		return v.(*managedDatabase)
	}
	fresh := &managedDatabase{name: name, collections: make(map[string]*Collection)}
	actual, _ := r.dbs.LoadOrStore(name, fresh)
	return actual.(*managedDatabase)
}

// GetCollection returns the named collection within the named
// database, constructing (and loading from the backend) it on first
// access. The database itself is implicitly created on first access,
// per SPEC_FULL.md §4.4.
func (r *Registry) GetCollection(ctx context.Context, database, collection string) (*Collection, error) {
	db := r.getOrCreateDatabase(database)

	db.mu.Lock()
	defer db.mu.Unlock()

	if c, ok := db.collections[collection]; ok {
		return c, nil
	}
	c, err := LoadCollection(ctx, r.backend, database, collection)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	db.collections[collection] = c
	return c, nil
}

// DatabaseNames returns every database name seen by this registry so
// far. Order is unspecified.
func (r *Registry) DatabaseNames() []string {
	var names []string
	r.dbs.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	return names
}
