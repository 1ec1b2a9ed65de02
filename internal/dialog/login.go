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

	"go.uber.org/zap"

	"github.com/your-org/genie-teams-bot/internal/session"
	"github.com/your-org/genie-teams-bot/internal/teams"
)

const (
	// LoginDialogID identifies the sign-in flow in conversation state
	LoginDialogID = "LoginDialog"
	// LoggedInMessage confirms a completed sign-in
	LoggedInMessage = "You are now logged in."
	// LoginFailedMessage is sent when the prompt ended without a token
	LoginFailedMessage = "Login was not successful please try again."

	oauthPromptID = "OAuthPrompt"
	waterfallID   = "WFDialog"
)

// LoginDialog signs the user in and records the token in the session store
type LoginDialog struct {
	*Component

	sessions *session.Store
	logger   *zap.Logger
}

// NewLoginDialog wires the OAuth prompt, the login waterfall and the logout guard
func NewLoginDialog(
	settings OAuthPromptSettings,
	tokens teams.UserTokenProvider,
	sessions *session.Store,
	logger *zap.Logger,
) *LoginDialog {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &LoginDialog{sessions: sessions, logger: logger}
	d.Component = NewComponent(LoginDialogID, waterfallID,
		NewOAuthPrompt(oauthPromptID, settings, tokens, logger),
		NewWaterfall(waterfallID, d.promptStep, d.loginStep),
	).WithInterrupter(NewLogoutGuard(settings.ConnectionName, tokens, logger))

	return d
}

func (d *LoginDialog) promptStep(ctx context.Context, sc *StepContext) (TurnResult, error) {
	return sc.BeginDialog(ctx, oauthPromptID, nil)
}

func (d *LoginDialog) loginStep(ctx context.Context, sc *StepContext) (TurnResult, error) {
	token, _ := sc.Result.(*teams.TokenResponse)
	if token == nil || token.Token == "" {
		if err := sc.Turn.SendText(ctx, LoginFailedMessage); err != nil {
			return TurnResult{}, err
		}
		return sc.EndDialog(ctx, nil)
	}

	userID := sc.Turn.Activity.From.ID
	d.sessions.SetToken(userID, token.Token)
	d.logger.Info("User signed in", zap.String("user_id", userID))

	if err := sc.Turn.SendText(ctx, LoggedInMessage); err != nil {
		return TurnResult{}, err
	}
	return sc.EndDialog(ctx, token.Token)
}
