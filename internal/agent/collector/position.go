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

// Package collector implements the log collector (C6): per-source file
// tailers with position/inode tracking, pattern-path expansion, and
// fsnotify-based change notification.
package collector

import (
	"encoding/json"
	"os"
	"sync"
)

// posKey mirrors spec.md's "source\x00path" sidecar key, but as a
// struct instead of a formatted string: struct map keys let the
// position store avoid a separator-collision footgun entirely.
type posKey struct {
	Source string
	Path   string
}

type posValue struct {
	Position int64 `json:"position"`
	Inode    uint64 `json:"inode"`
}

// PositionStore owns every (source, path) -> (position, inode) pair.
// It is the explicit replacement for the static maps flagged in
// SPEC_FULL.md §9: the orchestrator owns one PositionStore and injects
// it into every collector, instead of collectors reaching into
// package-level state.
type PositionStore struct {
	mu       sync.Mutex
	path     string
	entries  map[posKey]posValue
}

type onDiskEntry struct {
	Source   string `json:"source"`
	Path     string `json:"path"`
	Position int64  `json:"position"`
	Inode    uint64 `json:"inode"`
}

// NewPositionStore loads sidecarPath if it exists, or starts empty.
func NewPositionStore(sidecarPath string) (*PositionStore, error) {
	s := &PositionStore{path: sidecarPath, entries: make(map[posKey]posValue)}
	raw, err := os.ReadFile(sidecarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var onDisk []onDiskEntry
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		return nil, err
	}
	for _, e := range onDisk {
		s.entries[posKey{Source: e.Source, Path: e.Path}] = posValue{Position: e.Position, Inode: e.Inode}
	}
	return s, nil
}

// Get returns the last recorded (position, inode) for (source, path),
// or the zero value if never seen.
func (s *PositionStore) Get(source, path string) (position int64, inode uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[posKey{Source: source, Path: path}]
	return v.Position, v.Inode, ok
}

// Set records the new (position, inode) for (source, path). It does
// not persist to disk; call Flush after a non-empty read batch.
func (s *PositionStore) Set(source, path string, position int64, inode uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[posKey{Source: source, Path: path}] = posValue{Position: position, Inode: inode}
}

// Flush persists the current state to the sidecar file. Per
// spec.md §4.6, this should be called after every non-empty read
// batch so the positions file only ever advances or resets to zero.
func (s *PositionStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	onDisk := make([]onDiskEntry, 0, len(s.entries))
	for k, v := range s.entries {
		onDisk = append(onDisk, onDiskEntry{Source: k.Source, Path: k.Path, Position: v.Position, Inode: v.Inode})
	}
	data, err := json.Marshal(onDisk)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
