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

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BackendOptions holds the knobs needed to construct any Backend.
type BackendOptions struct {
	FileRootDir string
	PostgresDSN string
}

// BuildBackend constructs a Backend based on a string selector.
// Supported kinds: "file" (default) and "postgres".
func BuildBackend(ctx context.Context, kind string, opts BackendOptions) (Backend, error) {
	switch kind {
	case "", "file":
		if opts.FileRootDir == "" {
			return nil, fmt.Errorf("store: file backend requires a root directory")
		}
		return NewFileBackend(opts.FileRootDir), nil
	case "postgres":
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("store: postgres backend requires a DSN")
		}
		pool, err := pgxpool.New(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("store: connect postgres: %w", err)
		}
		return NewPostgresBackend(pool), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", kind)
	}
}
