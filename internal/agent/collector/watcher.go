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

package collector

import (
	"errors"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Source describes one configured log source: either a static path
// (watched with fsnotify) or an expandable pattern (re-globbed on
// every collection tick, per spec.md §4.6).
type Source struct {
	Name    string
	Path    string // static mode
	Pattern string // pattern mode; mutually exclusive with Path
}

func (s Source) isPattern() bool { return s.Pattern != "" }

// Manager owns every configured Source's tailer(s) and the single
// fsnotify.Watcher backing all static-path sources, mirroring the one
// inotify-instance-per-process design from spec.md §4.9.
type Manager struct {
	watcher *fsnotify.Watcher
	store   *PositionStore
	static  map[string]*Tailer            // path -> tailer, static sources
	pattern map[string]Source             // name -> source, pattern sources
	patternTailers map[string]*Tailer      // path -> tailer, for currently-expanded pattern matches
}

// NewManager installs an fsnotify watch for every static source. A
// static path that does not exist yet gets no watch but keeps its
// tailer, so it is still read by the periodic sweep once it appears.
func NewManager(sources []Source, store *PositionStore) (*Manager, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("collector: new watcher: %w", err)
	}

	m := &Manager{
		watcher:        watcher,
		store:          store,
		static:         make(map[string]*Tailer),
		pattern:        make(map[string]Source),
		patternTailers: make(map[string]*Tailer),
	}

	for _, src := range sources {
		if src.isPattern() {
			m.pattern[src.Name] = src
			continue
		}
		if err := watcher.Add(src.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("collector: watch %s: %w", src.Path, err)
		}
		m.static[src.Path] = NewTailer(src.Name, src.Path, store)
	}
	return m, nil
}

// Events exposes the underlying fsnotify event channel so the monitor
// loop can select on it directly.
func (m *Manager) Events() <-chan fsnotify.Event { return m.watcher.Events }

// Errors exposes fsnotify's error channel.
func (m *Manager) Errors() <-chan error { return m.watcher.Errors }

// Close releases the fsnotify watcher.
func (m *Manager) Close() error { return m.watcher.Close() }

// CollectAll asks every static and pattern-expanded tailer for new
// lines, in no particular order. Pattern sources are re-expanded on
// every call.
func (m *Manager) CollectAll() ([]RawEvent, error) {
	var all []RawEvent

	for _, tailer := range m.static {
		events, err := tailer.CollectNew()
		if err != nil {
			return all, err
		}
		all = append(all, events...)
	}

	for name, src := range m.pattern {
		matches, err := expandPattern(src.Pattern)
		if err != nil {
			continue
		}
		seen := make(map[string]bool, len(matches))
		for _, path := range matches {
			seen[path] = true
			tailer, ok := m.patternTailers[path]
			if !ok {
				tailer = NewTailer(name, path, m.store)
				m.patternTailers[path] = tailer
			}
			events, err := tailer.CollectNew()
			if err != nil {
				continue
			}
			all = append(all, events...)
		}
		for path := range m.patternTailers {
			if !seen[path] {
				delete(m.patternTailers, path)
			}
		}
	}

	return all, nil
}
