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

// Package main is the siemagent entry point: tails configured log
// sources, processes and buffers security events, and ships them to a
// dbserver, CLI surface `--config --daemon --loglevel` per spec.md §6.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"docdb/internal/agent"
	"docdb/internal/agent/buffer"
	"docdb/internal/agent/collector"
	"docdb/internal/agent/eventproc"
	agenttelemetry "docdb/internal/agent/telemetry"
	"docdb/internal/dbclient"
	"docdb/internal/telemetry"
)

const (
	siemDatabase   = "siem"
	siemCollection = "events"
)

var (
	configPath  string
	daemon      bool
	loglevel    string
	metricsAddr string
)

func main() {
	// Mirrors the teacher pack's own agent entry point: load a .env
	// file if one is present, silently continuing when it is not.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "siemagent",
	Short: "Host-based security-event collection agent",
	RunE:  runAgent,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "/etc/siemagent/agent.json", "path to the agent's JSON config file")
	rootCmd.Flags().BoolVar(&daemon, "daemon", false, "run as a daemon; logs are JSON lines only when log.file is set in the config, otherwise the console writer on stderr is kept")
	rootCmd.Flags().StringVar(&loglevel, "loglevel", "", "log level: debug|info|warn|error; overrides the config file")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "prometheus /metrics listen address; overrides the config file")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := agent.LoadConfigFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal startup failure: load config: %v\n", err)
		os.Exit(1)
	}

	if loglevel != "" {
		cfg.Log.Level = loglevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	logFile := cfg.Log.File
	if !daemon {
		logFile = ""
	}
	log, err := telemetry.NewLogger(cfg.Log.Level, logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal startup failure: logger: %v\n", err)
		os.Exit(1)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	sources := make([]collector.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if !s.Enabled {
			continue
		}
		sources = append(sources, collector.Source{Name: s.Name, Path: s.Path, Pattern: s.PathPattern})
	}

	positions, err := collector.NewPositionStore("/tmp/siem_positions.json")
	if err != nil {
		log.Error().Err(err).Msg("fatal startup failure")
		os.Exit(1)
	}
	manager, err := collector.NewManager(sources, positions)
	if err != nil {
		log.Error().Err(err).Msg("fatal startup failure")
		os.Exit(1)
	}
	defer manager.Close()

	processor := eventproc.New(hostname, nil)

	buf, err := buffer.New(cfg.Buffer.DiskPath+"_data.json", cfg.Buffer.MaxMemoryEvents)
	if err != nil {
		log.Error().Err(err).Msg("fatal startup failure")
		os.Exit(1)
	}
	defer buf.Close()

	client := dbclient.New(cfg.Server.Addr(), 10*time.Second)

	var metrics *agenttelemetry.Metrics
	var metricsSrv *agenttelemetry.Server
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		metrics = agenttelemetry.NewMetrics(reg)
		metricsSrv = agenttelemetry.NewServer(cfg.Metrics.Addr, reg)
		metricsErrCh := make(chan error, 1)
		metricsSrv.Start(metricsErrCh)
		go func() {
			if err := <-metricsErrCh; err != nil {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	orch := agent.New(manager, processor, buf, client, metrics, siemDatabase, siemCollection, cfg.Agent.ID, log)
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		orch.SetKafkaSink(agent.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic))
	}
	orch.Start()

	log.Info().Str("agent_id", cfg.Agent.ID).Int("sources", len(sources)).Msg("siemagent running")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down siemagent")
	orch.Stop()
	if metricsSrv != nil {
		if err := metricsSrv.Stop(5 * time.Second); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown error")
		}
	}
	log.Info().Msg("siemagent stopped")
	return nil
}
