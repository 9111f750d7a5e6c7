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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"docdb/pkg/document"
)

// FileBackend is the spec-mandated Backend: each database is a
// directory, each collection a `<name>.json` file inside it holding a
// top-level JSON array of document objects. Directories are created on
// first use.
type FileBackend struct {
	rootDir string
}

// NewFileBackend roots every database directory under rootDir.
func NewFileBackend(rootDir string) *FileBackend {
	return &FileBackend{rootDir: rootDir}
}

func (f *FileBackend) dbDir(database string) string {
	return filepath.Join(f.rootDir, database)
}

func (f *FileBackend) collectionPath(database, collection string) string {
	return filepath.Join(f.dbDir(database), collection+".json")
}

// Load reads the collection file if present; a missing file is an
// empty collection, not an error.
func (f *FileBackend) Load(_ context.Context, database, collection string) (map[string]document.Document, error) {
	path := f.collectionPath(database, collection)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]document.Document), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var objects []map[string]any
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	docs := make(map[string]document.Document, len(objects))
	for _, obj := range objects {
		jsonBytes, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("re-encode document in %s: %w", path, err)
		}
		doc, err := document.FromJSON(jsonBytes)
		if err != nil {
			return nil, fmt.Errorf("decode document in %s: %w", path, err)
		}
		if id := doc.ID(); id != "" {
			docs[id] = doc
		}
	}
	return docs, nil
}

// Save rewrites the entire collection file. The write goes to a
// temporary file in the same directory and is renamed into place so a
// crash mid-write cannot leave a half-written collection; this
// upgrades the "write-in-place" durability model flagged as an open
// question in SPEC_FULL.md §4.3.
func (f *FileBackend) Save(_ context.Context, database, collection string, docs map[string]document.Document) error {
	dir := f.dbDir(database)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database dir %s: %w", dir, err)
	}

	objects := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		raw, err := doc.ToJSON()
		if err != nil {
			return fmt.Errorf("encode document %s: %w", doc.ID(), err)
		}
		objects = append(objects, raw)
	}
	body, err := json.Marshal(objects)
	if err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}

	path := f.collectionPath(database, collection)
	tmp, err := os.CreateTemp(dir, collection+".json.tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
