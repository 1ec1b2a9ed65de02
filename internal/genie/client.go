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

// Package genie asks questions of a Databricks Genie space and renders the
// answers as Markdown for chat replies.
package genie

import (
	"context"
	"encoding/json"
)

// API is the subset of the Genie conversation and statement execution APIs
// used by the bot. Every call blocks until the remote side has answered.
type API interface {
	// StartConversation opens a conversation with a first question and waits
	// for Genie to finish the reply message
	StartConversation(ctx context.Context, spaceID, content string) (*Message, error)
	// CreateMessage posts a follow-up question and waits for the reply message
	CreateMessage(ctx context.Context, spaceID, conversationID, content string) (*Message, error)
	// GetMessage fetches a message with its attachments
	GetMessage(ctx context.Context, spaceID, conversationID, messageID string) (*Message, error)
	// GetMessageQueryResult returns the statement execution behind a message
	GetMessageQueryResult(ctx context.Context, spaceID, conversationID, messageID string) (*QueryResult, error)
	// GetStatement fetches the schema and rows of an executed statement
	GetStatement(ctx context.Context, statementID string) (*StatementResult, error)
	// CurrentUser returns the user name the credentials belong to
	CurrentUser(ctx context.Context) (string, error)
}

// ClientFactory builds an API handle for a user's bearer token
type ClientFactory func(ctx context.Context, token string) (API, error)

// Message is a Genie conversation message
type Message struct {
	ID             string
	ConversationID string
	Content        string
	HasQueryResult bool
	Attachments    []Attachment
}

// Attachment is one attachment of a Genie message. A query attachment carries
// a description of the generated SQL, a text attachment carries prose.
type Attachment struct {
	HasQuery         bool
	QueryDescription string
	Text             string
}

// ReferencesQuery reports whether the message points at a query result
func (m *Message) ReferencesQuery() bool {
	if m.HasQueryResult {
		return true
	}
	for _, a := range m.Attachments {
		if a.HasQuery {
			return true
		}
	}
	return false
}

// QueryResult points at the statement execution that produced a result
type QueryResult struct {
	StatementID string
}

// StatementResult holds the manifest schema and result data of a statement
// as the raw objects returned by the statement execution API
type StatementResult struct {
	Schema json.RawMessage
	Data   json.RawMessage
}
