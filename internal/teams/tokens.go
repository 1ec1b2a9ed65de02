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

package teams

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// DefaultTokenServiceURL is the global Bot Framework user token service
const DefaultTokenServiceURL = "https://api.botframework.com"

// TokenResponse is a user token issued through an OAuth connection
type TokenResponse struct {
	ChannelID      string `json:"channelId,omitempty"`
	ConnectionName string `json:"connectionName"`
	Token          string `json:"token"`
	Expiration     string `json:"expiration,omitempty"`
}

// UserTokenProvider is the OAuth connector used by the sign-in prompt
type UserTokenProvider interface {
	// GetSignInLink returns the URL the user opens to sign in
	GetSignInLink(ctx context.Context, activity *Activity, connectionName string) (string, error)
	// GetUserToken returns the cached token for the user, redeeming magicCode
	// when given. A nil response means no token is available.
	GetUserToken(ctx context.Context, userID, connectionName, channelID, magicCode string) (*TokenResponse, error)
	// SignOutUser revokes the user's token for the connection
	SignOutUser(ctx context.Context, userID, connectionName, channelID string) error
}

// conversationReference and tokenExchangeState form the sign-in state
// parameter understood by the token service
type conversationReference struct {
	ActivityID   string              `json:"activityId,omitempty"`
	User         ChannelAccount      `json:"user"`
	Bot          ChannelAccount      `json:"bot"`
	Conversation ConversationAccount `json:"conversation"`
	ChannelID    string              `json:"channelId"`
	ServiceURL   string              `json:"serviceUrl"`
}

type tokenExchangeState struct {
	ConnectionName string                `json:"connectionName"`
	Conversation   conversationReference `json:"conversation"`
	MsAppID        string                `json:"msAppId"`
}

// TokenClient talks to the Bot Framework user token service
type TokenClient struct {
	baseURL string
	appID   string
	client  *http.Client
	logger  *zap.Logger
}

// NewTokenClient creates a token service client. client must authenticate as
// the bot, see Credentials.HTTPClient.
func NewTokenClient(baseURL, appID string, client *http.Client, logger *zap.Logger) *TokenClient {
	if baseURL == "" {
		baseURL = DefaultTokenServiceURL
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		appID:   appID,
		client:  client,
		logger:  logger,
	}
}

// GetSignInLink implements UserTokenProvider
func (t *TokenClient) GetSignInLink(ctx context.Context, activity *Activity, connectionName string) (string, error) {
	exchangeState := tokenExchangeState{
		ConnectionName: connectionName,
		Conversation: conversationReference{
			ActivityID:   activity.ID,
			User:         activity.From,
			Bot:          activity.Recipient,
			Conversation: activity.Conversation,
			ChannelID:    activity.ChannelID,
			ServiceURL:   activity.ServiceURL,
		},
		MsAppID: t.appID,
	}
	encoded, err := json.Marshal(exchangeState)
	if err != nil {
		return "", fmt.Errorf("failed to encode sign-in state: %w", err)
	}

	query := url.Values{"state": {base64.StdEncoding.EncodeToString(encoded)}}
	resp, err := t.do(ctx, http.MethodGet, "/api/botsignin/GetSignInUrl", query)
	if err != nil {
		return "", fmt.Errorf("failed to get sign-in link: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkResponse(resp); err != nil {
		return "", fmt.Errorf("failed to get sign-in link: %w", err)
	}
	link, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read sign-in link: %w", err)
	}
	return strings.Trim(strings.TrimSpace(string(link)), `"`), nil
}

// GetUserToken implements UserTokenProvider
func (t *TokenClient) GetUserToken(ctx context.Context, userID, connectionName, channelID, magicCode string) (*TokenResponse, error) {
	query := url.Values{
		"userId":         {userID},
		"connectionName": {connectionName},
		"channelId":      {channelID},
	}
	if magicCode != "" {
		query.Set("code", magicCode)
	}

	resp, err := t.do(ctx, http.MethodGet, "/api/usertoken/GetToken", query)
	if err != nil {
		return nil, fmt.Errorf("failed to get user token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := checkResponse(resp); err != nil {
		return nil, fmt.Errorf("failed to get user token: %w", err)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode user token: %w", err)
	}
	if token.Token == "" {
		return nil, nil
	}
	return &token, nil
}

// SignOutUser implements UserTokenProvider
func (t *TokenClient) SignOutUser(ctx context.Context, userID, connectionName, channelID string) error {
	query := url.Values{
		"userId":         {userID},
		"connectionName": {connectionName},
		"channelId":      {channelID},
	}

	resp, err := t.do(ctx, http.MethodDelete, "/api/usertoken/SignOut", query)
	if err != nil {
		return fmt.Errorf("failed to sign out user: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkResponse(resp); err != nil {
		return fmt.Errorf("failed to sign out user: %w", err)
	}

	t.logger.Info("User signed out of token service",
		zap.String("user_id", userID),
		zap.String("connection_name", connectionName))
	return nil
}

func (t *TokenClient) do(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return t.client.Do(req)
}
