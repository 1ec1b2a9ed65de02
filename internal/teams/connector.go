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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/your-org/genie-teams-bot/internal/resilience"
)

const (
	// BotFrameworkScope is the OAuth scope of outbound Bot Framework calls
	BotFrameworkScope = "https://api.botframework.com/.default"
	// DefaultHTTPTimeout bounds a single outbound request
	DefaultHTTPTimeout = 15 * time.Second

	botFrameworkTokenURL = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	tenantTokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	maxErrorBodyBytes    = 1024
)

// Credentials are the bot's Microsoft app registration
type Credentials struct {
	AppID       string
	AppPassword string
	TenantID    string
	// TokenURL overrides the Azure AD token endpoint
	TokenURL string
}

// Anonymous reports whether no app id is configured, as when talking to a
// local emulator
func (c Credentials) Anonymous() bool {
	return c.AppID == ""
}

func (c Credentials) tokenURL() string {
	switch {
	case c.TokenURL != "":
		return c.TokenURL
	case c.TenantID != "":
		return fmt.Sprintf(tenantTokenURLFormat, c.TenantID)
	default:
		return botFrameworkTokenURL
	}
}

// HTTPClient returns a client that attaches a client-credentials bearer
// token to every request. Tokens are cached and refreshed by oauth2.
func (c Credentials) HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	base := &http.Client{Timeout: timeout}
	if c.Anonymous() {
		return base
	}

	config := clientcredentials.Config{
		ClientID:     c.AppID,
		ClientSecret: c.AppPassword,
		TokenURL:     c.tokenURL(),
		Scopes:       []string{BotFrameworkScope},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := config.Client(ctx)
	client.Timeout = timeout
	return client
}

// ResourceResponse is returned by the connector for created activities
type ResourceResponse struct {
	ID string `json:"id"`
}

// Sender delivers outbound activities
type Sender interface {
	SendActivity(ctx context.Context, activity *Activity) (*ResourceResponse, error)
}

// Connector sends activities to the channel's Bot Connector service
type Connector struct {
	client  *http.Client
	backoff resilience.BackoffConfig
	logger  *zap.Logger
}

// NewConnector creates a connector using client for authenticated requests
func NewConnector(client *http.Client, backoff resilience.BackoffConfig, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Connector{client: client, backoff: backoff, logger: logger}
}

// SendActivity posts activity to its conversation, as a reply when ReplyToID
// is set. Throttling and server errors are retried with backoff.
func (c *Connector) SendActivity(ctx context.Context, activity *Activity) (*ResourceResponse, error) {
	endpoint, err := activitiesURL(activity)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(activity)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity: %w", err)
	}

	var resource ResourceResponse
	err = resilience.WithExponentialBackoff(ctx, c.logger, c.backoff, func(ctx context.Context) error {
		return c.post(ctx, endpoint, body, &resource)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send activity to conversation %s: %w", activity.Conversation.ID, err)
	}

	c.logger.Debug("Activity sent",
		zap.String("conversation_id", activity.Conversation.ID),
		zap.String("reply_to_id", activity.ReplyToID),
		zap.String("activity_id", resource.ID))

	return &resource, nil
}

func (c *Connector) post(ctx context.Context, endpoint string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkResponse(resp); err != nil {
		return err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func activitiesURL(activity *Activity) (string, error) {
	if activity.ServiceURL == "" || activity.Conversation.ID == "" {
		return "", fmt.Errorf("%w: serviceUrl and conversation id are required to send", ErrInvalidActivity)
	}

	endpoint := fmt.Sprintf("%s/v3/conversations/%s/activities",
		strings.TrimSuffix(activity.ServiceURL, "/"),
		url.PathEscape(activity.Conversation.ID))
	if activity.ReplyToID != "" {
		endpoint += "/" + url.PathEscape(activity.ReplyToID)
	}
	return endpoint, nil
}

// checkResponse turns non-2xx responses into errors. 429 and 5xx responses
// are retryable.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &resilience.RetryableError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
			Err:        err,
		}
	}
	return err
}

func retryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
