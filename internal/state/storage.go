// Copyright 2024 Genie Teams Bot Project
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

// Package state persists conversation and user scoped bot state, such as the
// dialog stack of an in-progress sign-in, between turns.
package state

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

const (
	// StorageTypeMemory keeps state in process memory
	StorageTypeMemory = "memory"
	// StorageTypeSQLite keeps state in a SQLite database file
	StorageTypeSQLite = "sqlite"
)

// Storage is a key/value store of JSON documents
type Storage interface {
	// Read returns the documents stored under keys. Missing keys are absent
	// from the result.
	Read(ctx context.Context, keys []string) (map[string]json.RawMessage, error)
	// Write stores every document in changes, replacing existing ones
	Write(ctx context.Context, changes map[string]json.RawMessage) error
	// Delete removes the documents stored under keys
	Delete(ctx context.Context, keys []string) error
	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error
	// Close releases the backend's resources
	Close() error
}

// Config selects and configures a storage backend
type Config struct {
	StorageType string `json:"storage_type"`
	DBPath      string `json:"db_path"`
}

// NewStorage creates the storage backend named by config
func NewStorage(config Config, logger *zap.Logger) (Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch config.StorageType {
	case StorageTypeMemory, "":
		return NewMemoryStorage(), nil
	case StorageTypeSQLite:
		storage, err := NewSQLiteStorage(config.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite storage: %w", err)
		}
		return storage, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.StorageType)
	}
}
