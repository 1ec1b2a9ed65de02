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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingKeyPart is returned when an activity lacks the ids a scope is keyed by
var ErrMissingKeyPart = errors.New("missing state key part")

// Reference identifies the conversation and user a turn belongs to
type Reference struct {
	ChannelID      string
	ConversationID string
	UserID         string
}

// KeyFunc derives the storage key of a scope from a reference
type KeyFunc func(ref Reference) (string, error)

// ConversationKey keys state by channel and conversation
func ConversationKey(ref Reference) (string, error) {
	if ref.ChannelID == "" || ref.ConversationID == "" {
		return "", fmt.Errorf("%w: conversation state needs channel and conversation ids", ErrMissingKeyPart)
	}
	return ref.ChannelID + "/conversations/" + ref.ConversationID, nil
}

// UserKey keys state by channel and user
func UserKey(ref Reference) (string, error) {
	if ref.ChannelID == "" || ref.UserID == "" {
		return "", fmt.Errorf("%w: user state needs channel and user ids", ErrMissingKeyPart)
	}
	return ref.ChannelID + "/users/" + ref.UserID, nil
}

// BotState is one named state scope backed by a Storage
type BotState struct {
	name    string
	storage Storage
	key     KeyFunc
}

// NewBotState creates a scope with a custom key function
func NewBotState(name string, storage Storage, key KeyFunc) *BotState {
	return &BotState{name: name, storage: storage, key: key}
}

// NewConversationState creates the conversation scope
func NewConversationState(storage Storage) *BotState {
	return NewBotState("ConversationState", storage, ConversationKey)
}

// NewUserState creates the user scope
func NewUserState(storage Storage) *BotState {
	return NewBotState("UserState", storage, UserKey)
}

// Name returns the scope name
func (b *BotState) Name() string {
	return b.name
}

// Snapshot is the state of one scope as loaded for a single turn. It is not
// safe for concurrent use; a turn owns its snapshots.
type Snapshot struct {
	scope  string
	key    string
	values map[string]json.RawMessage
	loaded []byte
}

// Load reads the scope's document for ref. A missing document yields an
// empty snapshot.
func (b *BotState) Load(ctx context.Context, ref Reference) (*Snapshot, error) {
	key, err := b.key(ref)
	if err != nil {
		return nil, err
	}

	docs, err := b.storage.Read(ctx, []string{key})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", b.name, err)
	}

	snapshot := &Snapshot{
		scope:  b.name,
		key:    key,
		values: make(map[string]json.RawMessage),
	}
	if doc, ok := docs[key]; ok {
		if err := json.Unmarshal(doc, &snapshot.values); err != nil {
			return nil, fmt.Errorf("failed to decode %s %s: %w", b.name, key, err)
		}
		if snapshot.values == nil {
			snapshot.values = make(map[string]json.RawMessage)
		}
	}
	snapshot.loaded, err = json.Marshal(snapshot.values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", b.name, err)
	}

	return snapshot, nil
}

// SaveChanges writes the snapshot back when it differs from what was loaded,
// or always when force is set
func (b *BotState) SaveChanges(ctx context.Context, snapshot *Snapshot, force bool) error {
	if snapshot == nil {
		return nil
	}

	if !force && !snapshot.Changed() {
		return nil
	}
	doc, err := json.Marshal(snapshot.values)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", b.name, err)
	}

	if err := b.storage.Write(ctx, map[string]json.RawMessage{snapshot.key: doc}); err != nil {
		return fmt.Errorf("failed to save %s: %w", b.name, err)
	}
	snapshot.loaded = doc
	return nil
}

// Key returns the storage key the snapshot was loaded from
func (s *Snapshot) Key() string {
	return s.key
}

// Changed reports whether the snapshot differs from what was loaded
func (s *Snapshot) Changed() bool {
	doc, err := json.Marshal(s.values)
	return err != nil || !bytes.Equal(doc, s.loaded)
}

// Property is a typed accessor for one named value in a snapshot
type Property[T any] struct {
	name string
}

// NewProperty creates an accessor for name
func NewProperty[T any](name string) Property[T] {
	return Property[T]{name: name}
}

// Name returns the property name
func (p Property[T]) Name() string {
	return p.name
}

// Get decodes the property. When it is not set, def (if given) provides the
// value and it is stored. Changes to the returned value need a Set.
func (p Property[T]) Get(s *Snapshot, def func() T) (T, bool, error) {
	var value T
	raw, ok := s.values[p.name]
	if !ok {
		if def == nil {
			return value, false, nil
		}
		value = def()
		if err := p.Set(s, value); err != nil {
			return value, false, err
		}
		return value, true, nil
	}

	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false, fmt.Errorf("failed to decode %s.%s: %w", s.scope, p.name, err)
	}
	return value, true, nil
}

// Set encodes and stores the property
func (p Property[T]) Set(s *Snapshot, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s.%s: %w", s.scope, p.name, err)
	}
	s.values[p.name] = raw
	return nil
}

// Delete removes the property
func (p Property[T]) Delete(s *Snapshot) {
	delete(s.values, p.name)
}
