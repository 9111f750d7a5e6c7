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

// Package main is the dbserver entry point: a TCP document database
// server, CLI surface `<port> <workers>` per spec.md §6 plus the
// structured flags SPEC_FULL.md §6 adds on top.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	agenttelemetry "docdb/internal/agent/telemetry"
	"docdb/internal/dbserver"
	"docdb/internal/store"
	"docdb/internal/telemetry"
)

var (
	workers     int
	storageKind string
	postgresDSN string
	redisAddr   string
	dataDir     string
	metricsAddr string
	loglevel    string
	logfile     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dbserver [port] [workers]",
	Short: "Document database server",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runServer,
}

func init() {
	rootCmd.Flags().IntVar(&workers, "workers", 8, "number of worker goroutines")
	rootCmd.Flags().StringVar(&storageKind, "storage", "file", "storage backend: file|postgres")
	rootCmd.Flags().StringVar(&postgresDSN, "postgres-dsn", "", "postgres connection string, required when --storage=postgres")
	rootCmd.Flags().StringVar(&redisAddr, "redis-lock-addr", "", "redis address for cross-process locking; empty uses an in-process mutex")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "root directory for the file storage backend")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "prometheus /metrics listen address; empty disables it")
	rootCmd.Flags().StringVar(&loglevel, "loglevel", "info", "log level: debug|info|warn|error")
	rootCmd.Flags().StringVar(&logfile, "logfile", "", "write logs as JSON to this file instead of stderr")
}

func runServer(cmd *cobra.Command, args []string) error {
	port := 8080
	if len(args) >= 1 {
		p, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", args[0], err)
		}
		port = p
	}
	if len(args) == 2 {
		w, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid workers %q: %w", args[1], err)
		}
		workers = w
	}

	log, err := telemetry.NewLogger(loglevel, logfile)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	backend, err := buildBackend()
	if err != nil {
		log.Error().Err(err).Msg("fatal startup failure")
		return err
	}
	registry := store.NewRegistry(backend)

	locks, err := buildLockManager()
	if err != nil {
		log.Error().Err(err).Msg("fatal startup failure")
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := dbserver.NewMetrics(reg)
	dispatcher := dbserver.NewDispatcher(registry, locks, metrics, log)
	srv := dbserver.NewServer(fmt.Sprintf(":%d", port), workers, dispatcher, metrics, log)

	var metricsSrv *agenttelemetry.Server
	if metricsAddr != "" {
		metricsSrv = agenttelemetry.NewServer(metricsAddr, reg)
		metricsErrCh := make(chan error, 1)
		metricsSrv.Start(metricsErrCh)
		go func() {
			if err := <-metricsErrCh; err != nil {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		log.Info().Int("port", port).Int("workers", workers).Msg("dbserver listening")
		if err := srv.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("server stopped with error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down dbserver")
	srv.Stop()
	if metricsSrv != nil {
		if err := metricsSrv.Stop(5 * time.Second); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown error")
		}
	}
	log.Info().Msg("dbserver stopped")
	return nil
}

func buildBackend() (store.Backend, error) {
	switch storageKind {
	case "postgres":
		if postgresDSN == "" {
			return nil, fmt.Errorf("--postgres-dsn is required when --storage=postgres")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool, err := pgxpool.New(ctx, postgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return store.NewPostgresBackend(pool), nil
	case "file", "":
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return store.NewFileBackend(dataDir), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", storageKind)
	}
}

func buildLockManager() (dbserver.LockManager, error) {
	if redisAddr == "" {
		return dbserver.NewLocalLockManager(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis lock backend: %w", err)
	}
	return dbserver.NewRedisLockManager(client), nil
}
