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

// Package main is the dbclient entry point: a single-shot command
// against a dbserver, CLI surface
// `--host --port --database [--command --collection --data]` per
// spec.md §6.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"docdb/internal/dbclient"
	"docdb/internal/telemetry"
)

var (
	host       string
	port       int
	database   string
	command    string
	collection string
	data       string
	queryStr   string
	page       int
	limit      int
	loglevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dbclient",
	Short: "One-shot command-line client for dbserver",
	RunE:  runClient,
}

func init() {
	rootCmd.Flags().StringVar(&host, "host", "127.0.0.1", "dbserver host")
	rootCmd.Flags().IntVar(&port, "port", 8080, "dbserver port")
	rootCmd.Flags().StringVar(&database, "database", "", "database name (required)")
	rootCmd.Flags().StringVar(&command, "command", "find", "operation: insert|find|delete")
	rootCmd.Flags().StringVar(&collection, "collection", "", "collection name (required)")
	rootCmd.Flags().StringVar(&data, "data", "", "JSON document for insert (a single object or a JSON array of objects)")
	rootCmd.Flags().StringVar(&queryStr, "query", "", "JSON query object for find/delete")
	rootCmd.Flags().IntVar(&page, "page", 1, "page number for find")
	rootCmd.Flags().IntVar(&limit, "limit", 0, "page size for find; 0 means server default")
	rootCmd.Flags().StringVar(&loglevel, "loglevel", "info", "log level: debug|info|warn|error")
	rootCmd.MarkFlagRequired("database")
	rootCmd.MarkFlagRequired("collection")
}

func runClient(cmd *cobra.Command, args []string) error {
	log, err := telemetry.NewLogger(loglevel, "")
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	client := dbclient.New(addr, 10*time.Second)
	defer client.Close()

	switch command {
	case "insert":
		docs, err := parseInsertData(data)
		if err != nil {
			return err
		}
		r, err := client.Insert(database, collection, docs...)
		if err != nil {
			log.Error().Err(err).Msg("insert failed")
		}
		return printResponseOrError(r, err)
	case "find":
		q, err := parseQuery(queryStr)
		if err != nil {
			return err
		}
		r, err := client.Find(database, collection, q, page, limit)
		if err != nil {
			log.Error().Err(err).Msg("find failed")
		}
		return printResponseOrError(r, err)
	case "delete":
		q, err := parseQuery(queryStr)
		if err != nil {
			return err
		}
		r, err := client.Delete(database, collection, q)
		if err != nil {
			log.Error().Err(err).Msg("delete failed")
		}
		return printResponseOrError(r, err)
	default:
		return fmt.Errorf("unknown --command %q", command)
	}
}

func parseInsertData(raw string) ([]json.RawMessage, error) {
	if raw == "" {
		return nil, fmt.Errorf("--data is required for --command insert")
	}
	var many []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &many); err == nil {
		return many, nil
	}
	var single json.RawMessage
	if err := json.Unmarshal([]byte(raw), &single); err != nil {
		return nil, fmt.Errorf("--data is not valid JSON: %w", err)
	}
	return []json.RawMessage{single}, nil
}

func parseQuery(raw string) (json.RawMessage, error) {
	if raw == "" {
		return nil, nil
	}
	var q json.RawMessage
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return nil, fmt.Errorf("--query is not valid JSON: %w", err)
	}
	return q, nil
}

func printResponseOrError(resp interface{}, err error) error {
	out, merr := json.MarshalIndent(resp, "", "  ")
	if merr != nil {
		return merr
	}
	fmt.Println(string(out))
	if err != nil {
		return err
	}
	return nil
}
