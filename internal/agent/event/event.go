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

// Package event defines the SecurityEvent record produced by the
// event processor (C7), buffered by C8, and shipped by C9/C10.
package event

import "encoding/json"

// SecurityEvent is a structured record derived from one raw log line.
// It is transient in memory until handed to the persistent buffer,
// durable thereafter.
type SecurityEvent struct {
	Timestamp string `json:"timestamp"`
	Hostname  string `json:"hostname"`
	Source    string `json:"source"`
	EventType string `json:"event_type"`
	Severity  string `json:"severity"`
	User      string `json:"user"`
	Process   string `json:"process"`
	Command   string `json:"command"`
	RawLog    string `json:"raw_log"`
	AgentID   string `json:"agent_id"`
}

// IsZero reports whether e carries no data, the shape returned by the
// processor when a line is excluded.
func (e SecurityEvent) IsZero() bool {
	return e == SecurityEvent{}
}

// MarshalJSONLine encodes e as a single compact JSON line, suitable for
// the buffer's spill file or a database insert payload.
func (e SecurityEvent) MarshalJSONLine() ([]byte, error) {
	return json.Marshal(e)
}
