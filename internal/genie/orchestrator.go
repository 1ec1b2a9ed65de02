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

package genie

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Orchestrator drives the call sequence that turns a question into an answer
type Orchestrator struct {
	logger *zap.Logger
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{logger: logger}
}

// Ask sends a question to a Genie space and returns the encoded answer along
// with the conversation id to use for the next question. An empty
// conversationID starts a new conversation. Ask never fails: remote errors are
// logged and reported as an Error answer, and the conversation id is returned
// as it was known when the failure happened.
func (o *Orchestrator) Ask(
	ctx context.Context,
	question string,
	spaceID string,
	api API,
	conversationID string,
) (json.RawMessage, string) {
	startTime := time.Now()

	answer, newConversationID, err := o.ask(ctx, question, spaceID, api, conversationID)
	if err != nil {
		o.logger.Error("Genie request failed",
			zap.String("space_id", spaceID),
			zap.String("conversation_id", newConversationID),
			zap.Duration("elapsed", time.Since(startTime)),
			zap.Error(err))
		answer = Error{Message: GenericErrorMessage}
	} else {
		o.logger.Info("Genie request completed",
			zap.String("space_id", spaceID),
			zap.String("conversation_id", newConversationID),
			zap.String("answer_kind", answer.Kind()),
			zap.Duration("elapsed", time.Since(startTime)))
	}

	encoded, err := EncodeAnswer(answer)
	if err != nil {
		// Only reachable for an unknown Answer implementation
		o.logger.Error("Failed to encode answer", zap.Error(err))
		encoded, _ = EncodeAnswer(Error{Message: GenericErrorMessage})
	}

	return encoded, newConversationID
}

func (o *Orchestrator) ask(
	ctx context.Context,
	question string,
	spaceID string,
	api API,
	conversationID string,
) (Answer, string, error) {
	if api == nil {
		return nil, conversationID, fmt.Errorf("no genie client")
	}

	var initial *Message
	var err error
	if conversationID == "" {
		initial, err = api.StartConversation(ctx, spaceID, question)
		if err != nil {
			return nil, conversationID, fmt.Errorf("failed to start conversation: %w", err)
		}
		conversationID = initial.ConversationID
	} else {
		initial, err = api.CreateMessage(ctx, spaceID, conversationID, question)
		if err != nil {
			return nil, conversationID, fmt.Errorf("failed to create message: %w", err)
		}
	}

	messageConversationID := initial.ConversationID
	if messageConversationID == "" {
		messageConversationID = conversationID
	}

	var queryResult *QueryResult
	if initial.ReferencesQuery() {
		queryResult, err = api.GetMessageQueryResult(ctx, spaceID, messageConversationID, initial.ID)
		if err != nil {
			return nil, conversationID, fmt.Errorf("failed to get message query result: %w", err)
		}
	}

	content, err := api.GetMessage(ctx, spaceID, messageConversationID, initial.ID)
	if err != nil {
		return nil, conversationID, fmt.Errorf("failed to get message: %w", err)
	}

	if queryResult != nil && queryResult.StatementID != "" {
		statement, err := api.GetStatement(ctx, queryResult.StatementID)
		if err != nil {
			return nil, conversationID, fmt.Errorf("failed to get statement %s: %w", queryResult.StatementID, err)
		}

		o.logger.Debug("Fetched statement result",
			zap.String("statement_id", queryResult.StatementID),
			zap.String("message_id", initial.ID))

		return Tabular{
			Columns:          statement.Schema,
			Data:             statement.Data,
			QueryDescription: queryDescription(content.Attachments),
		}, conversationID, nil
	}

	for _, attachment := range content.Attachments {
		if attachment.Text != "" {
			return TextMessage{Text: attachment.Text}, conversationID, nil
		}
	}

	return TextMessage{Text: content.Content}, conversationID, nil
}

// queryDescription returns the first non-empty query description
func queryDescription(attachments []Attachment) string {
	for _, attachment := range attachments {
		if attachment.QueryDescription != "" {
			return attachment.QueryDescription
		}
	}
	return ""
}
