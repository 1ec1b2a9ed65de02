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

// Package session keeps the per-user authentication and Genie conversation
// details for the lifetime of the process. Nothing here is persisted: after a
// restart every user has to sign in again.
package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/your-org/genie-teams-bot/internal/genie"
)

// UserSession is what the bot knows about one user
type UserSession struct {
	UserID         string
	Token          string
	Client         genie.API
	ConversationID string
}

// HasToken reports whether the user has completed sign-in
func (s UserSession) HasToken() bool {
	return s.Token != ""
}

// Store maps user ids to sessions. It is safe for concurrent use; turns of
// different conversations of the same user may run in parallel.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*UserSession
	logger   *zap.Logger
}

// NewStore creates an empty store
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sessions: make(map[string]*UserSession),
		logger:   logger,
	}
}

// Get returns a copy of the user's session
func (s *Store) Get(userID string) (UserSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[userID]
	if !ok {
		return UserSession{}, false
	}
	return *session, true
}

// Ensure returns the user's session, creating an empty one on first contact
func (s *Store) Ensure(userID string) UserSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.entry(userID)
}

// SetToken stores a new bearer token. Any cached client was built for the
// previous token and is dropped.
func (s *Store) SetToken(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.entry(userID)
	session.Token = token
	session.Client = nil

	s.logger.Debug("Stored user token", zap.String("user_id", userID))
}

// SetClient caches the Genie client built from the user's token
func (s *Store) SetClient(userID string, client genie.API) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entry(userID).Client = client
}

// SetConversationID records the Genie conversation to continue next time
func (s *Store) SetConversationID(userID, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entry(userID).ConversationID = conversationID
}

// Clear forgets the user's token, client and conversation
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[userID]; ok {
		delete(s.sessions, userID)
		s.logger.Info("Cleared user session", zap.String("user_id", userID))
	}
}

// Len returns the number of known users
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// entry must be called with mu held for writing
func (s *Store) entry(userID string) *UserSession {
	session, ok := s.sessions[userID]
	if !ok {
		session = &UserSession{UserID: userID}
		s.sessions[userID] = session
	}
	return session
}
