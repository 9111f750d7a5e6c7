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

// Package telemetry holds the zerolog setup shared by all three
// binaries (dbserver, dbclient, siemagent), adapted from the wider
// example pack's own pkg/log setup: one Logger, a level string parsed
// into zerolog.Level, and a switch between a human console writer and
// plain JSON lines depending on whether output is going to a terminal
// or a file.
package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds a zerolog.Logger at the given level. When file is
// empty, output goes to stderr with a console writer; otherwise it is
// opened (created/appended) and written as plain JSON lines, the
// posture SPEC_FULL.md §4.11 calls "daemonized".
func NewLogger(level, file string) (zerolog.Logger, error) {
	zlevel, err := zerolog.ParseLevel(level)
	if err != nil {
		zlevel = zerolog.InfoLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, err
		}
		out = f
	}

	logger := zerolog.New(out).Level(zlevel).With().Timestamp().Logger()
	return logger, nil
}
