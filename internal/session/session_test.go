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

package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/genie-teams-bot/internal/genie"
)

type stubAPI struct{ genie.API }

func (stubAPI) CurrentUser(context.Context) (string, error) { return "stub", nil }

func TestStore_GetUnknownUser(t *testing.T) {
	store := NewStore(zaptest.NewLogger(t))

	_, ok := store.Get("u1")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestStore_EnsureCreatesOnce(t *testing.T) {
	store := NewStore(zaptest.NewLogger(t))

	first := store.Ensure("u1")
	assert.Equal(t, "u1", first.UserID)
	assert.False(t, first.HasToken())

	store.SetConversationID("u1", "c1")
	second := store.Ensure("u1")
	assert.Equal(t, "c1", second.ConversationID)
	assert.Equal(t, 1, store.Len())
}

func TestStore_SetTokenDropsClient(t *testing.T) {
	store := NewStore(nil)

	store.SetToken("u1", "abc")
	store.SetClient("u1", stubAPI{})
	store.SetConversationID("u1", "c1")

	session, ok := store.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "abc", session.Token)
	assert.NotNil(t, session.Client)

	store.SetToken("u1", "def")
	session, _ = store.Get("u1")
	assert.Equal(t, "def", session.Token)
	assert.Nil(t, session.Client)
	assert.Equal(t, "c1", session.ConversationID)
}

func TestStore_Clear(t *testing.T) {
	store := NewStore(zaptest.NewLogger(t))
	store.SetToken("u1", "abc")
	store.SetClient("u1", stubAPI{})
	store.SetConversationID("u1", "c1")
	store.SetToken("u2", "xyz")

	store.Clear("u1")
	store.Clear("never-seen")

	_, ok := store.Get("u1")
	assert.False(t, ok)
	assert.False(t, store.Ensure("u1").HasToken())

	other, ok := store.Get("u2")
	require.True(t, ok)
	assert.Equal(t, "xyz", other.Token)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	store := NewStore(nil)
	store.SetToken("u1", "abc")

	session, _ := store.Get("u1")
	session.Token = "tampered"

	again, _ := store.Get("u1")
	assert.Equal(t, "abc", again.Token)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := NewStore(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", i%5)
			store.SetToken(userID, fmt.Sprintf("t%d", i))
			store.SetConversationID(userID, fmt.Sprintf("c%d", i))
			_, _ = store.Get(userID)
			if i%10 == 0 {
				store.Clear(userID)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, store.Len(), 5)
}
