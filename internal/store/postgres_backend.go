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
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"docdb/pkg/document"
)

// Postgres schema (reference):
//
//	CREATE TABLE IF NOT EXISTS documents (
//	  database   TEXT NOT NULL,
//	  collection TEXT NOT NULL,
//	  id         TEXT NOT NULL,
//	  body       JSONB NOT NULL,
//	  PRIMARY KEY (database, collection, id)
//	);
//
// PostgresBackend is the SPEC_FULL.md §4.3/§4.12 alternate Backend for
// multi-node deployments where several dbserver processes share one
// store. Like FileBackend, it is a byte store only: predicate
// evaluation still happens in Go over the fully decoded set, so C3's
// scan/evaluate/paginate contract is identical regardless of backend.
type PostgresBackend struct {
	pool           *pgxpool.Pool
	defaultTimeout time.Duration
}

// NewPostgresBackend wraps an already-connected pool. Callers are
// responsible for creating the documents table (see the schema above)
// before first use.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool, defaultTimeout: 10 * time.Second}
}

func (p *PostgresBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.defaultTimeout)
}

// Load fetches every row for (database, collection).
func (p *PostgresBackend) Load(ctx context.Context, database, collection string) (map[string]document.Document, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx,
		`SELECT id, body FROM documents WHERE database = $1 AND collection = $2`,
		database, collection)
	if err != nil {
		return nil, fmt.Errorf("postgres load %s/%s: %w", database, collection, err)
	}
	defer rows.Close()

	docs := make(map[string]document.Document)
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("postgres scan %s/%s: %w", database, collection, err)
		}
		doc, err := document.FromJSON(body)
		if err != nil {
			return nil, fmt.Errorf("postgres decode %s/%s/%s: %w", database, collection, id, err)
		}
		docs[id] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres rows %s/%s: %w", database, collection, err)
	}
	return docs, nil
}

// Save replaces the full row set for (database, collection) inside a
// single transaction: delete everything currently stored for the
// collection, then re-insert the provided set. This keeps the same
// whole-collection-rewrite durability model as FileBackend (a crash
// mid-transaction leaves the previous committed rows intact, since
// Postgres rolls an aborted transaction back in full).
func (p *PostgresBackend) Save(ctx context.Context, database, collection string, docs map[string]document.Document) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE database = $1 AND collection = $2`, database, collection); err != nil {
		return fmt.Errorf("postgres clear %s/%s: %w", database, collection, err)
	}

	for id, doc := range docs {
		body, err := doc.ToJSON()
		if err != nil {
			return fmt.Errorf("postgres encode %s: %w", id, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO documents(database, collection, id, body) VALUES ($1,$2,$3,$4)
			 ON CONFLICT (database, collection, id) DO UPDATE SET body = EXCLUDED.body`,
			database, collection, id, body); err != nil {
			return fmt.Errorf("postgres upsert %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres commit %s/%s: %w", database, collection, err)
	}
	return nil
}
