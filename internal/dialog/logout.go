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

package dialog

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/your-org/genie-teams-bot/internal/teams"
)

const (
	// LogoutKeyword cancels the sign-in flow and revokes the token
	LogoutKeyword = "logout"
	// SignedOutMessage confirms a logout
	SignedOutMessage = "You have been signed out."
)

// LogoutGuard interrupts a component when the user types logout
type LogoutGuard struct {
	connectionName string
	tokens         teams.UserTokenProvider
	logger         *zap.Logger
}

// NewLogoutGuard creates a guard for the OAuth connection
func NewLogoutGuard(connectionName string, tokens teams.UserTokenProvider, logger *zap.Logger) *LogoutGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogoutGuard{
		connectionName: connectionName,
		tokens:         tokens,
		logger:         logger,
	}
}

// Interrupt implements Interrupter
func (g *LogoutGuard) Interrupt(ctx context.Context, inner *Context) (TurnResult, bool, error) {
	activity := inner.Turn.Activity
	if activity.Type != teams.ActivityTypeMessage || !teams.IsKeyword(teams.NormalizeText(activity), LogoutKeyword) {
		return TurnResult{}, false, nil
	}

	if err := g.tokens.SignOutUser(ctx, activity.From.ID, g.connectionName, activity.ChannelID); err != nil {
		return TurnResult{}, true, fmt.Errorf("failed to sign out: %w", err)
	}
	if err := inner.Turn.SendText(ctx, SignedOutMessage); err != nil {
		return TurnResult{}, true, err
	}

	g.logger.Info("User logged out", zap.String("user_id", activity.From.ID))
	return inner.CancelAllDialogs(), true, nil
}
