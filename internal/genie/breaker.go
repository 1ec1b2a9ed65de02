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
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/databricks/databricks-sdk-go/apierr"
	"go.uber.org/zap"

	"github.com/your-org/genie-teams-bot/internal/resilience"
)

// NewBreaker creates the circuit breaker shared by every user's handle. It
// trips on workspace outages only, see IsOutage.
func NewBreaker(maxFailures int, resetTimeout time.Duration, logger *zap.Logger) *resilience.CircuitBreaker {
	config := resilience.DefaultCircuitBreakerConfig("genie")
	config.MaxFailures = maxFailures
	config.ResetTimeout = resetTimeout
	config.IsFailureFunc = IsOutage
	return resilience.NewCircuitBreaker(config, logger)
}

// IsOutage reports whether err says the workspace itself is failing: a
// transport error, 429 or a 5xx. Authentication, permission and other client
// errors belong to one user's token or question and are not counted.
func IsOutage(err error) bool {
	if !resilience.DefaultIsFailureFunc(err) {
		return false
	}

	var apiErr *apierr.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode >= http.StatusInternalServerError
	}

	var urlErr *url.Error
	var netErr net.Error
	return errors.As(err, &urlErr) || errors.As(err, &netErr)
}

// BreakerAPI routes the Genie calls of an API through a shared circuit breaker
// so an unavailable workspace fails fast for all users at once. CurrentUser
// bypasses it: the identity check only says something about one token.
type BreakerAPI struct {
	next    API
	breaker *resilience.CircuitBreaker
}

// NewBreakerAPI wraps next with breaker
func NewBreakerAPI(next API, breaker *resilience.CircuitBreaker) *BreakerAPI {
	return &BreakerAPI{next: next, breaker: breaker}
}

// WithBreaker decorates every handle produced by factory
func WithBreaker(factory ClientFactory, breaker *resilience.CircuitBreaker) ClientFactory {
	return func(ctx context.Context, token string) (API, error) {
		api, err := factory(ctx, token)
		if err != nil {
			return nil, err
		}
		return NewBreakerAPI(api, breaker), nil
	}
}

// StartConversation implements API
func (b *BreakerAPI) StartConversation(ctx context.Context, spaceID, content string) (msg *Message, err error) {
	err = b.breaker.Execute(ctx, func(ctx context.Context) error {
		msg, err = b.next.StartConversation(ctx, spaceID, content)
		return err
	})
	return msg, err
}

// CreateMessage implements API
func (b *BreakerAPI) CreateMessage(ctx context.Context, spaceID, conversationID, content string) (msg *Message, err error) {
	err = b.breaker.Execute(ctx, func(ctx context.Context) error {
		msg, err = b.next.CreateMessage(ctx, spaceID, conversationID, content)
		return err
	})
	return msg, err
}

// GetMessage implements API
func (b *BreakerAPI) GetMessage(ctx context.Context, spaceID, conversationID, messageID string) (msg *Message, err error) {
	err = b.breaker.Execute(ctx, func(ctx context.Context) error {
		msg, err = b.next.GetMessage(ctx, spaceID, conversationID, messageID)
		return err
	})
	return msg, err
}

// GetMessageQueryResult implements API
func (b *BreakerAPI) GetMessageQueryResult(ctx context.Context, spaceID, conversationID, messageID string) (result *QueryResult, err error) {
	err = b.breaker.Execute(ctx, func(ctx context.Context) error {
		result, err = b.next.GetMessageQueryResult(ctx, spaceID, conversationID, messageID)
		return err
	})
	return result, err
}

// GetStatement implements API
func (b *BreakerAPI) GetStatement(ctx context.Context, statementID string) (result *StatementResult, err error) {
	err = b.breaker.Execute(ctx, func(ctx context.Context) error {
		result, err = b.next.GetStatement(ctx, statementID)
		return err
	})
	return result, err
}

// CurrentUser implements API
func (b *BreakerAPI) CurrentUser(ctx context.Context) (string, error) {
	return b.next.CurrentUser(ctx)
}
