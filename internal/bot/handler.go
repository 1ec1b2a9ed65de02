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

package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/your-org/genie-teams-bot/internal/genie"
	"github.com/your-org/genie-teams-bot/internal/resilience"
	"github.com/your-org/genie-teams-bot/internal/teams"
)

const (
	// MessagesPath is the Bot Framework messaging endpoint
	MessagesPath = "/api/messages"
	// DefaultTurnTimeout bounds one turn, Genie round trips included
	DefaultTurnTimeout = 2 * time.Minute

	// requestIDKey holds the request id in the turn's values
	requestIDKey = "request_id"
	// apologyTimeout bounds the error reply sent after a failed turn
	apologyTimeout = 10 * time.Second
)

// Authenticator checks the channel's bearer token for an activity
type Authenticator interface {
	Validate(ctx context.Context, authHeader string, activity *teams.Activity) error
}

// Handler receives activities from the Bot Connector
type Handler struct {
	bot         TurnHandler
	auth        Authenticator
	sender      teams.Sender
	queue       *TurnQueue
	turnTimeout time.Duration
	metrics     *Metrics
	logger      *zap.Logger
}

// NewHandler creates the messaging endpoint handler. metrics may be nil.
func NewHandler(
	bot TurnHandler,
	auth Authenticator,
	sender teams.Sender,
	queue *TurnQueue,
	turnTimeout time.Duration,
	metrics *Metrics,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queue == nil {
		queue = NewTurnQueue(DefaultMaxPending, logger)
	}
	if turnTimeout <= 0 {
		turnTimeout = DefaultTurnTimeout
	}
	return &Handler{
		bot:         bot,
		auth:        auth,
		sender:      sender,
		queue:       queue,
		turnTimeout: turnTimeout,
		metrics:     metrics,
		logger:      logger,
	}
}

// Register adds the messaging route
func (h *Handler) Register(router gin.IRoutes) {
	router.POST(MessagesPath, h.HandleMessages)
}

// HandleMessages acknowledges activities with 202 and runs them in
// conversation order. Invokes wait for their turn and return its invoke
// response.
func (h *Handler) HandleMessages(c *gin.Context) {
	requestID := resilience.NewRequestID()

	var activity teams.Activity
	if err := c.ShouldBindJSON(&activity); err != nil {
		resilience.AbortWithError(c, h.logger, resilience.NewError(resilience.ErrorCodeBadRequest, "Invalid activity", err), requestID)
		return
	}
	if err := activity.Validate(); err != nil {
		resilience.AbortWithError(c, h.logger, resilience.NewError(resilience.ErrorCodeBadRequest, err.Error(), err), requestID)
		return
	}
	if h.auth != nil {
		if err := h.auth.Validate(c.Request.Context(), c.GetHeader("Authorization"), &activity); err != nil {
			resilience.AbortWithError(c, h.logger, resilience.NewError(resilience.ErrorCodeUnauthorized, "Unauthorized", err), requestID)
			return
		}
	}

	logger := h.logger.With(
		zap.String("request_id", requestID),
		zap.String("activity_type", activity.Type),
		zap.String("conversation_id", activity.Conversation.ID))

	turn := teams.NewTurnContext(&activity, h.sender)
	turn.Set(requestIDKey, requestID)
	isInvoke := activity.Type == teams.ActivityTypeInvoke
	done := make(chan error, 1)

	err := h.queue.Enqueue(activity.Conversation.ID, func() {
		err := h.runTurn(turn)
		if err != nil {
			logger.Error("Turn failed", zap.Error(err))
			if h.metrics != nil {
				h.metrics.TurnFailures.WithLabelValues(activity.Type).Inc()
			}
			if !isInvoke {
				h.apologize(turn, logger)
			}
		}
		done <- err
	})
	if err != nil {
		if errors.Is(err, ErrQueueFull) {
			resilience.AbortWithError(c, logger,
				resilience.NewError(resilience.ErrorCodeTooManyRequests, "Too many pending activities", err), requestID)
		} else {
			resilience.AbortWithError(c, logger,
				resilience.NewError(resilience.ErrorCodeServiceUnavailable, "Shutting down", err), requestID)
		}
		return
	}

	if !isInvoke {
		c.Status(http.StatusAccepted)
		return
	}

	select {
	case err := <-done:
		if err != nil {
			resilience.AbortWithError(c, logger, err, requestID)
			return
		}
	case <-c.Request.Context().Done():
		logger.Warn("Client went away before invoke completed")
		return
	}

	response := turn.InvokeResponse()
	if response.Body == nil {
		c.Status(response.Status)
		return
	}
	c.JSON(response.Status, response.Body)
}

// apologize tells the user a message failed unless the turn already replied
func (h *Handler) apologize(turn *teams.TurnContext, logger *zap.Logger) {
	if turn.Responded() || turn.Activity.Type != teams.ActivityTypeMessage {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), apologyTimeout)
	defer cancel()
	if err := turn.SendText(ctx, genie.GenericErrorMessage); err != nil {
		logger.Warn("Failed to send error reply", zap.Error(err))
	}
}

// ErrTurnPanicked wraps a panic raised while handling a turn
var ErrTurnPanicked = errors.New("turn panicked")

// runTurn converts a panic into an error so a waiting invoke still gets its
// response
func (h *Handler) runTurn(turn *teams.TurnContext) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.turnTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTurnPanicked, r)
		}
	}()
	return h.bot.OnTurn(ctx, turn)
}
