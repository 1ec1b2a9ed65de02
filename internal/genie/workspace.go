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

	"github.com/databricks/databricks-sdk-go"
	"github.com/databricks/databricks-sdk-go/service/dashboards"
	"github.com/databricks/databricks-sdk-go/service/sql"
)

// WorkspaceAPI implements API on top of the Databricks SDK workspace client
type WorkspaceAPI struct {
	client *databricks.WorkspaceClient
}

// NewWorkspaceAPI creates a workspace client authenticated with a bearer token
func NewWorkspaceAPI(host, token string) (*WorkspaceAPI, error) {
	if host == "" {
		return nil, fmt.Errorf("databricks host is required")
	}
	if token == "" {
		return nil, fmt.Errorf("databricks token is required")
	}

	client, err := databricks.NewWorkspaceClient(&databricks.Config{
		Host:     host,
		Token:    token,
		AuthType: "pat",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace client: %w", err)
	}

	return &WorkspaceAPI{client: client}, nil
}

// NewWorkspaceClientFactory returns a ClientFactory bound to one workspace host
func NewWorkspaceClientFactory(host string) ClientFactory {
	return func(_ context.Context, token string) (API, error) {
		return NewWorkspaceAPI(host, token)
	}
}

// StartConversation implements API
func (w *WorkspaceAPI) StartConversation(ctx context.Context, spaceID, content string) (*Message, error) {
	msg, err := w.client.Genie.StartConversationAndWait(ctx, dashboards.GenieStartConversationMessageRequest{
		SpaceId: spaceID,
		Content: content,
	})
	if err != nil {
		return nil, err
	}
	return convertMessage(msg), nil
}

// CreateMessage implements API
func (w *WorkspaceAPI) CreateMessage(ctx context.Context, spaceID, conversationID, content string) (*Message, error) {
	msg, err := w.client.Genie.CreateMessageAndWait(ctx, dashboards.GenieCreateConversationMessageRequest{
		SpaceId:        spaceID,
		ConversationId: conversationID,
		Content:        content,
	})
	if err != nil {
		return nil, err
	}
	return convertMessage(msg), nil
}

// GetMessage implements API
func (w *WorkspaceAPI) GetMessage(ctx context.Context, spaceID, conversationID, messageID string) (*Message, error) {
	msg, err := w.client.Genie.GetMessage(ctx, dashboards.GenieGetConversationMessageRequest{
		SpaceId:        spaceID,
		ConversationId: conversationID,
		MessageId:      messageID,
	})
	if err != nil {
		return nil, err
	}
	return convertMessage(msg), nil
}

// GetMessageQueryResult implements API
func (w *WorkspaceAPI) GetMessageQueryResult(ctx context.Context, spaceID, conversationID, messageID string) (*QueryResult, error) {
	resp, err := w.client.Genie.GetMessageQueryResult(ctx, dashboards.GenieGetMessageQueryResultRequest{
		SpaceId:        spaceID,
		ConversationId: conversationID,
		MessageId:      messageID,
	})
	if err != nil {
		return nil, err
	}

	result := &QueryResult{}
	if resp.StatementResponse != nil {
		result.StatementID = resp.StatementResponse.StatementId
	}
	return result, nil
}

// GetStatement implements API
func (w *WorkspaceAPI) GetStatement(ctx context.Context, statementID string) (*StatementResult, error) {
	resp, err := w.client.StatementExecution.GetStatement(ctx, sql.GetStatementRequest{
		StatementId: statementID,
	})
	if err != nil {
		return nil, err
	}

	result := &StatementResult{
		Schema: json.RawMessage("null"),
		Data:   json.RawMessage("null"),
	}
	if resp.Manifest != nil && resp.Manifest.Schema != nil {
		schema, err := json.Marshal(resp.Manifest.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal statement schema: %w", err)
		}
		result.Schema = schema
	}
	if resp.Result != nil {
		data, err := json.Marshal(resp.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal statement data: %w", err)
		}
		result.Data = data
	}

	return result, nil
}

// CurrentUser implements API
func (w *WorkspaceAPI) CurrentUser(ctx context.Context) (string, error) {
	user, err := w.client.CurrentUser.Me(ctx)
	if err != nil {
		return "", err
	}
	return user.UserName, nil
}

func convertMessage(msg *dashboards.GenieMessage) *Message {
	if msg == nil {
		return &Message{}
	}

	out := &Message{
		ID:             msg.Id,
		ConversationID: msg.ConversationId,
		Content:        msg.Content,
		HasQueryResult: msg.QueryResult != nil,
		Attachments:    make([]Attachment, 0, len(msg.Attachments)),
	}
	for _, a := range msg.Attachments {
		var attachment Attachment
		if a.Query != nil {
			attachment.HasQuery = true
			attachment.QueryDescription = a.Query.Description
		}
		if a.Text != nil {
			attachment.Text = a.Text.Content
		}
		out.Attachments = append(out.Attachments, attachment)
	}
	return out
}
