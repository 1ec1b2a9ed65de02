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

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS bot_state (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
`

const upsertSQL = `
	INSERT INTO bot_state (key, data, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
`

// SQLiteStorage keeps documents in a single SQLite table
type SQLiteStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStorage opens (and creates if needed) the database at path
func NewSQLiteStorage(path string, logger *zap.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create state database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// sqlite3 serializes writers; one connection avoids SQLITE_BUSY and keeps
	// ":memory:" databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create state table: %w", err)
	}

	logger.Info("State storage opened", zap.String("db_path", path))

	return &SQLiteStorage{db: db, logger: logger}, nil
}

// Read implements Storage
func (s *SQLiteStorage) Read(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	result := make(map[string]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]interface{}, len(keys))
	for i, key := range keys {
		args[i] = key
	}

	// #nosec G201 -- only placeholders are interpolated
	query := fmt.Sprintf("SELECT key, data FROM bot_state WHERE key IN (%s)", placeholders)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("failed to scan state row: %w", err)
		}
		result[key] = json.RawMessage(data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate state rows: %w", err)
	}

	return result, nil
}

// Write implements Storage. All changes are written in one transaction.
func (s *SQLiteStorage) Write(ctx context.Context, changes map[string]json.RawMessage) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin state transaction: %w", err)
	}

	now := time.Now().UTC()
	for key, doc := range changes {
		if _, err := tx.ExecContext(ctx, upsertSQL, key, string(doc), now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to write state %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}

	s.logger.Debug("State written", zap.Int("documents", len(changes)))
	return nil
}

// Delete implements Storage
func (s *SQLiteStorage) Delete(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM bot_state WHERE key = ?", key); err != nil {
			return fmt.Errorf("failed to delete state %s: %w", key, err)
		}
	}
	return nil
}

// Ping implements Storage
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Storage
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
