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
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the agent's on-disk configuration: a JSON object per
// spec.md §6's external-interface contract. Unknown keys are ignored
// by encoding/json itself; missing keys keep the defaults from
// NewConfig. (A third-party config-format library such as TOML or
// YAML was deliberately not used here — spec.md §6 names the config
// file's wire format explicitly as JSON, and adopting a different
// format would contradict that external interface; see DESIGN.md.)
type Config struct {
	Server  ServerConfig   `json:"server"`
	Agent   AgentConfig    `json:"agent"`
	Sender  SenderConfig   `json:"sender"`
	Buffer  BufferConfig   `json:"buffer"`
	Kafka   KafkaConfig    `json:"kafka"`
	Redis   RedisConfig    `json:"redis"`
	Metrics MetricsConfig  `json:"metrics"`
	Log     LogConfig      `json:"log"`
	Sources []SourceConfig `json:"sources"`
}

// ServerConfig is the dbserver this agent ships events to.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// AgentConfig identifies this agent instance.
type AgentConfig struct {
	ID string `json:"id"`
}

// SenderConfig tunes the sender loop.
type SenderConfig struct {
	BatchSize    int `json:"batch_size"`
	SendInterval int `json:"send_interval"` // seconds
}

// BufferConfig tunes the persistent buffer.
type BufferConfig struct {
	MaxMemoryEvents int    `json:"max_memory_events"`
	DiskPath        string `json:"disk_path"`
}

// KafkaConfig is the optional mirrored-egress sink described in
// SPEC_FULL.md §4.8. Disabled by default; when enabled, a kafka-go
// writer (KafkaSink) is built from it.
type KafkaConfig struct {
	Enabled bool     `json:"enabled"`
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

// RedisConfig points at a shared lock backend, a server-side concern
// this agent process never touches directly; kept here only so one
// config file can describe a whole deployment.
type RedisConfig struct {
	LockAddr string `json:"lock_addr"`
}

// MetricsConfig configures the agent's /metrics listener.
type MetricsConfig struct {
	Addr string `json:"addr"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// SourceConfig describes one log source for the collector (C6).
type SourceConfig struct {
	Name        string   `json:"name"`
	Enabled     bool     `json:"enabled"`
	Path        string   `json:"path"`
	PathPattern string   `json:"path_pattern"`
	Users       []string `json:"users"`
}

// NewConfig returns a Config populated with the defaults listed in
// spec.md §4 and SPEC_FULL.md §6.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8080},
		Agent:  AgentConfig{ID: "agent-1"},
		Sender: SenderConfig{BatchSize: sendBatchSize, SendInterval: 10},
		Buffer: BufferConfig{MaxMemoryEvents: 1000, DiskPath: "/tmp/siem_buffer"},
		Kafka:  KafkaConfig{Topic: "siem-events"},
		Log:    LogConfig{Level: "info"},
	}
}

// LoadConfigFile loads and decodes a JSON config file on top of the
// defaults from NewConfig, then applies SIEM_-prefixed environment
// overrides. Missing path is not an error: defaults are returned as-is
// (the CLI may be run purely off flags and env).
func LoadConfigFile(path string) (*Config, error) {
	cfg := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("agent: read config %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("agent: parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets a handful of operationally-hot settings be
// overridden without editing the config file, the same role
// godotenv.Load() plus os.Getenv plays for API keys in the teacher
// agent's own main.go — env wins over file, file wins over default.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIEM_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SIEM_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("SIEM_AGENT_ID"); v != "" {
		cfg.Agent.ID = v
	}
	if v := os.Getenv("SIEM_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("SIEM_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SIEM_REDIS_LOCK_ADDR"); v != "" {
		cfg.Redis.LockAddr = v
	}
	if v := os.Getenv("SIEM_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("SIEM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SIEM_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}

// Addr returns the "host:port" dial string for Server.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
