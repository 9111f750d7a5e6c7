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

// Package store implements the collection engine (C3) and database
// registry (C4): a named, file-backed set of documents with
// insert/find/delete, and a lazily-created map of database name to
// collection set.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"docdb/pkg/condition"
	"docdb/pkg/document"
)

// ErrPersistence wraps any failure to durably rewrite a collection.
var ErrPersistence = errors.New("store: persistence failure")

// Backend abstracts where a collection's documents actually live. The
// spec-mandated default is FileBackend (one JSON array file per
// collection); PostgresBackend is the SPEC_FULL.md §4.3/§4.12 addition
// for multi-node deployments. Both satisfy the same full-scan contract:
// Collection always evaluates predicates in Go over the full decoded
// set, regardless of which Backend loaded it.
type Backend interface {
	// Load returns every document currently stored for (database,
	// collection). A collection with no backing data yet returns an
	// empty, non-nil map and no error.
	Load(ctx context.Context, database, collection string) (map[string]document.Document, error)
	// Save durably replaces the entire document set for (database,
	// collection). Implementations must leave the previous durable
	// state intact if Save returns an error.
	Save(ctx context.Context, database, collection string, docs map[string]document.Document) error
}

// Collection is an in-memory mapping of _id to Document, backed by a
// Backend. Mutations rewrite the entire backing store synchronously,
// matching SPEC_FULL.md §4.3's durability model.
type Collection struct {
	name     string
	database string
	backend  Backend

	mu   sync.Mutex
	docs map[string]document.Document
	seq  int64
}

// LoadCollection loads (or lazily initializes) a collection from its
// backend and seeds its id counter from the highest existing numeric
// sequence found, resolving the "global counter" design note in
// SPEC_FULL.md §9 (OQ-1).
func LoadCollection(ctx context.Context, backend Backend, database, name string) (*Collection, error) {
	docs, err := backend.Load(ctx, database, name)
	if err != nil {
		return nil, fmt.Errorf("store: load collection %s/%s: %w", database, name, err)
	}
	c := &Collection{name: name, database: database, backend: backend, docs: docs}
	c.seq = maxSeq(docs)
	return c, nil
}

func maxSeq(docs map[string]document.Document) int64 {
	var max int64
	for id := range docs {
		parts := strings.Split(id, "_")
		if len(parts) < 2 {
			continue
		}
		if n, err := strconv.ParseInt(parts[1], 10, 64); err == nil && n > max {
			max = n
		}
	}
	return max
}

func (c *Collection) nextID() string {
	c.seq++
	return fmt.Sprintf("doc_%d_%s", c.seq, shortUUID())
}

func shortUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Insert parses jsonDoc, assigns an _id, and synchronously persists the
// new collection state. On a persistence failure the in-memory state
// is rolled back before the error is returned.
func (c *Collection) Insert(ctx context.Context, jsonDoc []byte) (string, error) {
	doc, err := document.FromJSON(jsonDoc)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID()
	doc[document.IDField] = id
	c.docs[id] = doc

	if err := c.persistLocked(ctx); err != nil {
		delete(c.docs, id)
		c.seq--
		return "", err
	}
	return id, nil
}

// InsertMany inserts every document in jsonDocs as a single persisted
// batch (one file rewrite, not one per document). The whole call fails
// and rolls back entirely if any document fails to parse or the batch
// cannot be persisted; SPEC_FULL.md §9 keeps multi-document insert
// failure aggregated, not partial.
func (c *Collection) InsertMany(ctx context.Context, jsonDocs [][]byte) ([]string, error) {
	parsed := make([]document.Document, 0, len(jsonDocs))
	for i, raw := range jsonDocs {
		doc, err := document.FromJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		parsed = append(parsed, doc)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	startSeq := c.seq
	ids := make([]string, 0, len(parsed))
	for _, doc := range parsed {
		id := c.nextID()
		doc[document.IDField] = id
		c.docs[id] = doc
		ids = append(ids, id)
	}

	if err := c.persistLocked(ctx); err != nil {
		for _, id := range ids {
			delete(c.docs, id)
		}
		c.seq = startSeq
		return nil, err
	}
	return ids, nil
}

func (c *Collection) persistLocked(ctx context.Context) error {
	if err := c.backend.Save(ctx, c.database, c.name, c.docs); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Find returns every document satisfying cond. Order is unspecified.
func (c *Collection) Find(cond *condition.Condition) []document.Document {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []document.Document
	for _, doc := range c.docs {
		if condition.Eval(cond, doc) {
			out = append(out, doc.Clone())
		}
	}
	return out
}

// FindPage returns the [start, start+limit) slice of Find's result set
// (1-based page) along with the total unpaginated match count.
// Out-of-range pages return an empty slice, not an error.
func (c *Collection) FindPage(cond *condition.Condition, page, limit int) ([]document.Document, int) {
	matches := c.Find(cond)
	total := len(matches)
	if limit <= 0 {
		return nil, total
	}
	start := (page - 1) * limit
	if start < 0 || start >= total {
		return nil, total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matches[start:end], total
}

// Count returns the number of documents satisfying cond without
// materializing them.
func (c *Collection) Count(cond *condition.Condition) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, doc := range c.docs {
		if condition.Eval(cond, doc) {
			n++
		}
	}
	return n
}

// Remove deletes every document satisfying cond and persists the new
// state. An empty match set returns 0 without touching the backend.
func (c *Collection) Remove(ctx context.Context, cond *condition.Condition) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toDelete []string
	for id, doc := range c.docs {
		if condition.Eval(cond, doc) {
			toDelete = append(toDelete, id)
		}
	}
	if len(toDelete) == 0 {
		return 0, nil
	}

	removed := make(map[string]document.Document, len(toDelete))
	for _, id := range toDelete {
		removed[id] = c.docs[id]
		delete(c.docs, id)
	}

	if err := c.persistLocked(ctx); err != nil {
		for id, doc := range removed {
			c.docs[id] = doc
		}
		return 0, err
	}
	return len(toDelete), nil
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// SortedIDs returns the collection's document ids in a stable sorted
// order; used by tests that need deterministic output.
func (c *Collection) SortedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
