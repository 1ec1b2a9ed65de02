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

// Package bot routes Teams activities to the sign-in dialog or to Genie and
// hosts the messaging endpoint.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/genie-teams-bot/internal/dialog"
	"github.com/your-org/genie-teams-bot/internal/genie"
	"github.com/your-org/genie-teams-bot/internal/session"
	"github.com/your-org/genie-teams-bot/internal/state"
	"github.com/your-org/genie-teams-bot/internal/teams"
)

// Replies sent by the dispatcher
const (
	DefaultWelcomeMessage = "Welcome to AuthenticationBot. Type anything to get logged in. " +
		"Type 'logout' to sign-out. Test Teams bot"

	LoginRequiredMessage  = "Unable to login, Please type login to sign"
	NotInWorkspaceMessage = "User is not added to Databricks workspace, Please get access and try again"
	DecodeFailedMessage   = "Failed to decode response from the server."
	RateLimitedMessage    = "You're sending messages too fast. Please slow down."

	loginKeyword = "login"
)

var (
	// ErrNoToken means the user has not signed in
	ErrNoToken = errors.New("user has no token")
	// ErrNotInWorkspace means the token is valid but the user has no
	// Databricks identity
	ErrNotInWorkspace = errors.New("user is not part of the workspace")
)

// TurnHandler handles one inbound activity
type TurnHandler interface {
	OnTurn(ctx context.Context, turn *teams.TurnContext) error
}

// Asker turns a question into an encoded answer and the Genie conversation
// to continue with. genie.Orchestrator is the production Asker.
type Asker interface {
	Ask(ctx context.Context, question, spaceID string, api genie.API, conversationID string) (json.RawMessage, string)
}

// Config tunes the dispatcher
type Config struct {
	SpaceID        string
	WelcomeMessage string
	// ValidateClient checks the workspace identity when a client is created
	ValidateClient bool
}

// Deps are the collaborators of TeamsBot
type Deps struct {
	ConversationState *state.BotState
	UserState         *state.BotState
	Dialog            dialog.Dialog
	Sessions          *session.Store
	ClientFactory     genie.ClientFactory
	Orchestrator      Asker
	RateLimiter       *UserRateLimiter
	Metrics           *Metrics
}

// TeamsBot dispatches activities by type and saves state after every turn
type TeamsBot struct {
	config Config
	deps   Deps
	logger *zap.Logger
}

// NewTeamsBot creates the dispatcher
func NewTeamsBot(config Config, deps Deps, logger *zap.Logger) (*TeamsBot, error) {
	if deps.ConversationState == nil {
		return nil, errors.New("conversation state is required")
	}
	if deps.UserState == nil {
		return nil, errors.New("user state is required")
	}
	if deps.Dialog == nil {
		return nil, errors.New("dialog is required")
	}
	if deps.Sessions == nil || deps.ClientFactory == nil {
		return nil, errors.New("session store and client factory are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Orchestrator == nil {
		deps.Orchestrator = genie.NewOrchestrator(logger)
	}
	if config.WelcomeMessage == "" {
		config.WelcomeMessage = DefaultWelcomeMessage
	}

	return &TeamsBot{config: config, deps: deps, logger: logger}, nil
}

// OnTurn implements TurnHandler. State is saved whatever branch ran, and
// save errors are reported together with the turn's own error.
func (b *TeamsBot) OnTurn(ctx context.Context, turn *teams.TurnContext) error {
	activity := turn.Activity
	ref := activity.Reference()

	conversation, err := b.deps.ConversationState.Load(ctx, ref)
	if err != nil {
		return err
	}
	user, err := b.deps.UserState.Load(ctx, ref)
	if err != nil && !errors.Is(err, state.ErrMissingKeyPart) {
		return err
	}

	if b.deps.Metrics != nil {
		b.deps.Metrics.Turns.WithLabelValues(activity.Type).Inc()
	}

	turnErr := b.dispatch(ctx, turn, conversation)
	saveErr := b.saveState(ctx, conversation, user)
	return errors.Join(turnErr, saveErr)
}

func (b *TeamsBot) dispatch(ctx context.Context, turn *teams.TurnContext, conversation *state.Snapshot) error {
	activity := turn.Activity

	switch activity.Type {
	case teams.ActivityTypeMessage:
		return b.OnMessage(ctx, turn, conversation)
	case teams.ActivityTypeConversationUpdate:
		if len(activity.MembersAdded) > 0 {
			return b.OnMembersAdded(ctx, turn)
		}
	case teams.ActivityTypeInvoke:
		if activity.Name == teams.InvokeNameVerifyState || activity.Name == teams.InvokeNameTokenExchange {
			return b.OnSigninVerify(ctx, turn, conversation)
		}
	case teams.ActivityTypeEvent:
		if activity.Name == teams.EventNameTokenResponse {
			return b.OnTokenResponse(ctx, turn, conversation)
		}
	}

	b.logger.Debug("Ignoring activity",
		zap.String("type", activity.Type),
		zap.String("name", activity.Name))
	return nil
}

// OnMembersAdded greets every added member except the bot itself
func (b *TeamsBot) OnMembersAdded(ctx context.Context, turn *teams.TurnContext) error {
	for _, member := range turn.Activity.MembersAdded {
		if member.ID == turn.Activity.Recipient.ID {
			continue
		}
		if err := turn.SendText(ctx, b.config.WelcomeMessage); err != nil {
			return fmt.Errorf("failed to send welcome message: %w", err)
		}
	}
	return nil
}

// OnSigninVerify lets the sign-in dialog see the invoke that completes it
func (b *TeamsBot) OnSigninVerify(ctx context.Context, turn *teams.TurnContext, conversation *state.Snapshot) error {
	return b.runDialog(ctx, turn, conversation)
}

// OnTokenResponse lets the sign-in dialog see a token pushed by the channel
func (b *TeamsBot) OnTokenResponse(ctx context.Context, turn *teams.TurnContext, conversation *state.Snapshot) error {
	return b.runDialog(ctx, turn, conversation)
}

// OnMessage handles login, logout and questions
func (b *TeamsBot) OnMessage(ctx context.Context, turn *teams.TurnContext, conversation *state.Snapshot) error {
	userID := turn.Activity.From.ID
	text := teams.NormalizeText(turn.Activity)

	if !b.deps.RateLimiter.Allow(userID) {
		if b.deps.Metrics != nil {
			b.deps.Metrics.RateLimited.Inc()
		}
		b.logger.Warn("Rate limit exceeded", zap.String("user_id", userID))
		return turn.SendText(ctx, RateLimitedMessage)
	}

	switch {
	case teams.IsKeyword(text, dialog.LogoutKeyword):
		b.deps.Sessions.Clear(userID)
		return b.runDialog(ctx, turn, conversation)
	case teams.IsKeyword(text, loginKeyword):
		return b.runDialog(ctx, turn, conversation)
	case dialog.IsMagicCode(text) && dialog.Active(conversation):
		return b.runDialog(ctx, turn, conversation)
	}

	if err := b.answer(ctx, turn, userID, text); err != nil {
		b.loggerFor(turn).Error("Error processing message",
			zap.String("user_id", userID),
			zap.Error(err))
		if sendErr := turn.SendText(ctx, genie.GenericErrorMessage); sendErr != nil {
			return errors.Join(err, sendErr)
		}
	}
	return nil
}

func (b *TeamsBot) answer(ctx context.Context, turn *teams.TurnContext, userID, question string) error {
	client, err := b.client(ctx, userID)
	if err != nil {
		b.logger.Info("Cannot query Genie for user",
			zap.String("user_id", userID),
			zap.Error(err))
		if errors.Is(err, ErrNotInWorkspace) {
			return turn.SendText(ctx, NotInWorkspaceMessage)
		}
		return turn.SendText(ctx, LoginRequiredMessage)
	}

	current, _ := b.deps.Sessions.Get(userID)

	startTime := time.Now()
	raw, conversationID := b.deps.Orchestrator.Ask(ctx, question, b.config.SpaceID, client, current.ConversationID)
	if b.deps.Metrics != nil {
		b.deps.Metrics.ObserveGenieLatency(time.Since(startTime))
	}
	b.deps.Sessions.SetConversationID(userID, conversationID)

	answer, err := genie.DecodeAnswer(raw)
	if err != nil {
		b.loggerFor(turn).Error("Failed to decode Genie answer",
			zap.String("user_id", userID),
			zap.Error(err))
		return turn.SendText(ctx, DecodeFailedMessage)
	}
	if b.deps.Metrics != nil {
		b.deps.Metrics.Answers.WithLabelValues(answer.Kind()).Inc()
	}

	if err := turn.SendText(ctx, genie.Format(answer)); err != nil {
		return fmt.Errorf("failed to send answer: %w", err)
	}
	return nil
}

// client returns the user's cached Genie client, building one from the
// session token on first use
func (b *TeamsBot) client(ctx context.Context, userID string) (genie.API, error) {
	current := b.deps.Sessions.Ensure(userID)
	if !current.HasToken() {
		return nil, ErrNoToken
	}
	if current.Client != nil {
		return current.Client, nil
	}

	client, err := b.deps.ClientFactory(ctx, current.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Genie client: %w", err)
	}

	if b.config.ValidateClient {
		name, err := client.CurrentUser(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to look up workspace user: %w", err)
		}
		if name == "" {
			return nil, ErrNotInWorkspace
		}
	}

	b.deps.Sessions.SetClient(userID, client)
	return client, nil
}

// loggerFor adds the request id the handler stored on the turn
func (b *TeamsBot) loggerFor(turn *teams.TurnContext) *zap.Logger {
	if id, ok := turn.Get(requestIDKey); ok {
		return b.logger.With(zap.Any("request_id", id))
	}
	return b.logger
}

func (b *TeamsBot) runDialog(ctx context.Context, turn *teams.TurnContext, conversation *state.Snapshot) error {
	result, err := dialog.Run(ctx, b.deps.Dialog, turn, conversation)
	if err != nil {
		return fmt.Errorf("dialog failed: %w", err)
	}
	b.logger.Debug("Dialog turn finished",
		zap.String("user_id", turn.Activity.From.ID),
		zap.String("status", string(result.Status)))
	return nil
}

// saveState writes both scopes concurrently; both are attempted even when
// one fails
func (b *TeamsBot) saveState(ctx context.Context, conversation, user *state.Snapshot) error {
	var conversationErr, userErr error
	var g errgroup.Group

	g.Go(func() error {
		conversationErr = b.deps.ConversationState.SaveChanges(ctx, conversation, false)
		return conversationErr
	})
	g.Go(func() error {
		userErr = b.deps.UserState.SaveChanges(ctx, user, false)
		return userErr
	})
	_ = g.Wait()

	err := errors.Join(conversationErr, userErr)
	if err != nil {
		if b.deps.Metrics != nil {
			b.deps.Metrics.StateSaveFailure.Inc()
		}
		b.logger.Error("Failed to save state", zap.Error(err))
	}
	return err
}
