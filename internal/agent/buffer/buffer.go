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

// Package buffer implements the persistent buffer (C8): an in-memory
// ring backed by an append-only JSONL spill file, giving the agent an
// at-least-once delivery guarantee across process restarts. The spill
// file itself is grounded on the teacher's SBatchFileSink buffered
// append-only JSONL writer.
package buffer

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"docdb/internal/agent/event"
)

// Buffer is the two-tier FIFO described in spec.md §4.8. A single
// mutex guards all state; operations are short and never block on a
// network call.
type Buffer struct {
	mu        sync.Mutex
	maxMemory int
	memory    []event.SecurityEvent
	spillPath string
	spillFile *os.File
	spillW    *bufio.Writer
	diskLines int
}

// New opens (or creates) the spill file at spillPath and returns a
// ready Buffer with the given in-memory capacity.
func New(spillPath string, maxMemory int) (*Buffer, error) {
	f, err := os.OpenFile(spillPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	lines, err := countLines(spillPath)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Buffer{
		maxMemory: maxMemory,
		spillPath: spillPath,
		spillFile: f,
		spillW:    bufio.NewWriterSize(f, 1<<20),
		diskLines: lines,
	}, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n := 0
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

// AddEvent appends e to the buffer. If memory is at capacity, the
// entire memory content is spilled to disk and memory is cleared
// before e is pushed, per spec.md §4.8. e itself always goes to
// memory; it reaches disk only with a later spill or Close.
func (b *Buffer) AddEvent(e event.SecurityEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.memory) >= b.maxMemory {
		if err := b.spillLocked(); err != nil {
			return err
		}
	}
	b.memory = append(b.memory, e)
	return nil
}

func (b *Buffer) spillLocked() error {
	if len(b.memory) == 0 {
		return nil
	}
	enc := json.NewEncoder(b.spillW)
	for _, e := range b.memory {
		if err := enc.Encode(&e); err != nil {
			return err
		}
	}
	if err := b.spillW.Flush(); err != nil {
		return err
	}
	b.diskLines += len(b.memory)
	b.memory = b.memory[:0]
	return nil
}

// GetBatch takes up to n events: memory first, in insertion order, then
// topped up from the front of the spill file if memory holds fewer
// than n. Spilled events are older than those in memory, so a batch
// that spans both tiers is not in overall arrival order.
func (b *Buffer) GetBatch(n int) ([]event.SecurityEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.memory) >= n {
		batch := make([]event.SecurityEvent, n)
		copy(batch, b.memory[:n])
		return batch, nil
	}

	batch := make([]event.SecurityEvent, len(b.memory))
	copy(batch, b.memory)

	remaining := n - len(batch)
	if remaining > 0 && b.diskLines > 0 {
		fromDisk, err := b.readFrontLocked(remaining)
		if err != nil {
			return batch, err
		}
		batch = append(batch, fromDisk...)
	}
	return batch, nil
}

func (b *Buffer) readFrontLocked(n int) ([]event.SecurityEvent, error) {
	if err := b.spillW.Flush(); err != nil {
		return nil, err
	}
	f, err := os.Open(b.spillPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var out []event.SecurityEvent
	for len(out) < n && scanner.Scan() {
		var e event.SecurityEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err == nil {
			out = append(out, e)
		}
	}
	return out, scanner.Err()
}

// Size returns the total number of buffered events: memory length
// plus spill-file line count.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.memory) + b.diskLines
}

// Clear wipes memory and deletes the spill file. The sender path does
// not use it; a delivered batch is removed with Drain.
func (b *Buffer) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memory = b.memory[:0]
	b.diskLines = 0
	if err := b.spillFile.Close(); err != nil {
		return err
	}
	if err := os.Remove(b.spillPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	f, err := os.OpenFile(b.spillPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	b.spillFile = f
	b.spillW = bufio.NewWriterSize(f, 1<<20)
	return nil
}

// Drain removes the same n events GetBatch(n) returns (memory first,
// then the front of the spill file) after they have been durably
// delivered elsewhere (a successful insert). It is the counterpart to
// GetBatch: GetBatch peeks, Drain commits the removal.
func (b *Buffer) Drain(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n >= len(b.memory)+b.diskLines {
		return b.clearAllLocked()
	}

	if n <= len(b.memory) {
		b.memory = append([]event.SecurityEvent(nil), b.memory[n:]...)
		return nil
	}

	fromDisk := n - len(b.memory)
	b.memory = b.memory[:0]
	return b.dropFrontOfSpillLocked(fromDisk)
}

func (b *Buffer) clearAllLocked() error {
	b.memory = b.memory[:0]
	b.diskLines = 0
	if err := b.spillFile.Close(); err != nil {
		return err
	}
	if err := os.Remove(b.spillPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	f, err := os.OpenFile(b.spillPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	b.spillFile = f
	b.spillW = bufio.NewWriterSize(f, 1<<20)
	return nil
}

// dropFrontOfSpillLocked rewrite-compacts the spill file, removing
// its first n lines. spec.md §4.8 permits either rewrite-compaction
// or a monotone read offset; this buffer takes the simpler
// rewrite-compaction route so Size/GetBatch never need a separate
// cursor.
func (b *Buffer) dropFrontOfSpillLocked(n int) error {
	if err := b.spillW.Flush(); err != nil {
		return err
	}
	if err := b.spillFile.Close(); err != nil {
		return err
	}

	oldPath := b.spillPath
	tmpPath := oldPath + ".compact-tmp"

	src, err := os.Open(oldPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	w := bufio.NewWriter(dst)
	skipped, kept := 0, 0
	for scanner.Scan() {
		if skipped < n {
			skipped++
			continue
		}
		if _, err := w.Write(scanner.Bytes()); err != nil {
			dst.Close()
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			dst.Close()
			return err
		}
		kept++
	}
	if err := scanner.Err(); err != nil {
		dst.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, oldPath); err != nil {
		return err
	}

	f, err := os.OpenFile(oldPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	b.spillFile = f
	b.spillW = bufio.NewWriterSize(f, 1<<20)
	b.diskLines = kept
	return nil
}

// Close flushes and closes the spill file, draining memory to disk
// first so nothing in-memory is lost — the "drained to disk on
// destructor" guarantee from spec.md §4.8.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.spillLocked(); err != nil {
		return err
	}
	return b.spillFile.Close()
}
