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

package agent

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"docdb/internal/agent/event"
)

// KafkaSink mirrors every processed event onto a Kafka topic as an
// optional, best-effort egress alongside the required dbserver
// delivery path. It is the one place the optional sender (kafka.enabled
// in the agent config, SPEC_FULL.md §6) plugs in; a failed mirror write
// never blocks or fails the primary send path.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink builds a sink against the given brokers/topic, using
// the producer the same way the teacher's own KafkaPersister
// interface models one: idempotent single-writer semantics are not
// required here since this path is a mirror, not the system of
// record.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 100 * time.Millisecond,
		},
	}
}

// Mirror publishes one security event. Errors are returned for the
// caller to log and count, never to block the primary delivery path.
func (k *KafkaSink) Mirror(ctx context.Context, e event.SecurityEvent) error {
	raw, err := e.MarshalJSONLine()
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.AgentID),
		Value: raw,
	})
}

// Close flushes and closes the underlying writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
