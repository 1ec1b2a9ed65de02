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
	"encoding/json"
	"sync"
)

// MemoryStorage keeps documents in a map. Documents are copied on the way in
// and out so callers cannot modify stored state.
type MemoryStorage struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{docs: make(map[string][]byte)}
}

// Read implements Storage
func (m *MemoryStorage) Read(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		if doc, ok := m.docs[key]; ok {
			result[key] = append(json.RawMessage(nil), doc...)
		}
	}
	return result, nil
}

// Write implements Storage
func (m *MemoryStorage) Write(ctx context.Context, changes map[string]json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, doc := range changes {
		m.docs[key] = append([]byte(nil), doc...)
	}
	return nil
}

// Delete implements Storage
func (m *MemoryStorage) Delete(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.docs, key)
	}
	return nil
}

// Ping implements Storage
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Storage
func (m *MemoryStorage) Close() error {
	return nil
}

// Len returns the number of stored documents
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
