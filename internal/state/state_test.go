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
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// countingStorage wraps a storage and counts writes
type countingStorage struct {
	Storage
	writes   int
	writeErr error
}

func (c *countingStorage) Write(ctx context.Context, changes map[string]json.RawMessage) error {
	c.writes++
	if c.writeErr != nil {
		return c.writeErr
	}
	return c.Storage.Write(ctx, changes)
}

type dialogInfo struct {
	Stack []string `json:"stack"`
}

var ref = Reference{ChannelID: "msteams", ConversationID: "conv-1", UserID: "user-1"}

func storages(t *testing.T) map[string]Storage {
	t.Helper()
	sqlite, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "state", "bot.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"sqlite": sqlite,
	}
}

func TestStorage_ReadWriteDelete(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			docs, err := storage.Read(ctx, []string{"a"})
			require.NoError(t, err)
			assert.Empty(t, docs)

			require.NoError(t, storage.Write(ctx, map[string]json.RawMessage{
				"a": json.RawMessage(`{"x":1}`),
				"b": json.RawMessage(`{"y":2}`),
			}))
			require.NoError(t, storage.Write(ctx, map[string]json.RawMessage{
				"a": json.RawMessage(`{"x":3}`),
			}))

			docs, err = storage.Read(ctx, []string{"a", "b", "missing"})
			require.NoError(t, err)
			assert.Len(t, docs, 2)
			assert.JSONEq(t, `{"x":3}`, string(docs["a"]))
			assert.JSONEq(t, `{"y":2}`, string(docs["b"]))

			require.NoError(t, storage.Delete(ctx, []string{"a", "missing"}))
			docs, err = storage.Read(ctx, []string{"a", "b"})
			require.NoError(t, err)
			assert.Len(t, docs, 1)

			assert.NoError(t, storage.Ping(ctx))
		})
	}
}

func TestMemoryStorage_CopiesDocuments(t *testing.T) {
	storage := NewMemoryStorage()
	doc := json.RawMessage(`{"x":1}`)
	require.NoError(t, storage.Write(context.Background(), map[string]json.RawMessage{"a": doc}))
	doc[2] = 'z'

	docs, err := storage.Read(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(docs["a"]))
	assert.Equal(t, 1, storage.Len())
}

func TestNewStorage(t *testing.T) {
	storage, err := NewStorage(Config{StorageType: StorageTypeMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, storage)

	storage, err = NewStorage(Config{StorageType: StorageTypeSQLite, DBPath: filepath.Join(t.TempDir(), "bot.db")}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStorage{}, storage)
	_ = storage.Close()

	_, err = NewStorage(Config{StorageType: "cosmos"}, nil)
	assert.Error(t, err)

	_, err = NewStorage(Config{StorageType: StorageTypeSQLite}, nil)
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	key, err := ConversationKey(ref)
	require.NoError(t, err)
	assert.Equal(t, "msteams/conversations/conv-1", key)

	key, err = UserKey(ref)
	require.NoError(t, err)
	assert.Equal(t, "msteams/users/user-1", key)

	_, err = UserKey(Reference{ChannelID: "msteams"})
	assert.ErrorIs(t, err, ErrMissingKeyPart)
	_, err = ConversationKey(Reference{ConversationID: "c"})
	assert.ErrorIs(t, err, ErrMissingKeyPart)
}

func TestBotState_LoadModifySave(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conversation := NewConversationState(storage)
			dialogs := NewProperty[dialogInfo]("DialogState")

			snapshot, err := conversation.Load(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, "msteams/conversations/conv-1", snapshot.Key())

			info, found, err := dialogs.Get(snapshot, nil)
			require.NoError(t, err)
			assert.False(t, found)
			assert.Empty(t, info.Stack)

			require.NoError(t, dialogs.Set(snapshot, dialogInfo{Stack: []string{"LoginDialog"}}))
			assert.True(t, snapshot.Changed())
			require.NoError(t, conversation.SaveChanges(ctx, snapshot, false))
			assert.False(t, snapshot.Changed())

			reloaded, err := conversation.Load(ctx, ref)
			require.NoError(t, err)
			info, found, err = dialogs.Get(reloaded, nil)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, []string{"LoginDialog"}, info.Stack)

			dialogs.Delete(reloaded)
			require.NoError(t, conversation.SaveChanges(ctx, reloaded, false))
			final, err := conversation.Load(ctx, ref)
			require.NoError(t, err)
			_, found, err = dialogs.Get(final, nil)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestBotState_SaveSkipsUnchanged(t *testing.T) {
	storage := &countingStorage{Storage: NewMemoryStorage()}
	user := NewUserState(storage)
	ctx := context.Background()

	snapshot, err := user.Load(ctx, ref)
	require.NoError(t, err)

	require.NoError(t, user.SaveChanges(ctx, snapshot, false))
	assert.Equal(t, 0, storage.writes)

	require.NoError(t, user.SaveChanges(ctx, snapshot, true))
	assert.Equal(t, 1, storage.writes)

	require.NoError(t, user.SaveChanges(ctx, nil, true))
	assert.Equal(t, 1, storage.writes)
}

func TestBotState_SaveError(t *testing.T) {
	storage := &countingStorage{Storage: NewMemoryStorage(), writeErr: errors.New("disk full")}
	user := NewUserState(storage)
	ctx := context.Background()

	snapshot, err := user.Load(ctx, ref)
	require.NoError(t, err)
	require.NoError(t, NewProperty[string]("name").Set(snapshot, "Ada"))

	err = user.SaveChanges(ctx, snapshot, false)
	assert.ErrorContains(t, err, "UserState")
	assert.True(t, snapshot.Changed())
}

func TestBotState_LoadCorruptDocument(t *testing.T) {
	storage := NewMemoryStorage()
	require.NoError(t, storage.Write(context.Background(), map[string]json.RawMessage{
		"msteams/users/user-1": json.RawMessage(`[not json`),
	}))

	_, err := NewUserState(storage).Load(context.Background(), ref)
	assert.Error(t, err)
}

func TestProperty_DefaultIsStored(t *testing.T) {
	snapshot, err := NewUserState(NewMemoryStorage()).Load(context.Background(), ref)
	require.NoError(t, err)

	counter := NewProperty[int]("turns")
	value, found, err := counter.Get(snapshot, func() int { return 7 })
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, value)
	assert.True(t, snapshot.Changed())

	again, found, err := counter.Get(snapshot, nil)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, again)
}

func TestProperty_DecodeError(t *testing.T) {
	snapshot, err := NewUserState(NewMemoryStorage()).Load(context.Background(), ref)
	require.NoError(t, err)

	require.NoError(t, NewProperty[string]("value").Set(snapshot, "text"))
	_, _, err = NewProperty[int]("value").Get(snapshot, nil)
	assert.Error(t, err)
}
