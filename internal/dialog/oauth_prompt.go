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
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/genie-teams-bot/internal/teams"
)

const (
	// DefaultPromptTimeout is how long a sign-in card stays valid
	DefaultPromptTimeout = 300 * time.Second
	// DefaultPromptText is the sign-in card text
	DefaultPromptText = "Please Sign In"
	// DefaultPromptTitle is the sign-in button title
	DefaultPromptTitle = "Sign In"
)

var magicCodePattern = regexp.MustCompile(`^\d{6}$`)

// OAuthPromptSettings configure the sign-in card
type OAuthPromptSettings struct {
	ConnectionName string
	Text           string
	Title          string
	Timeout        time.Duration
}

func (s OAuthPromptSettings) withDefaults() OAuthPromptSettings {
	if s.Text == "" {
		s.Text = DefaultPromptText
	}
	if s.Title == "" {
		s.Title = DefaultPromptTitle
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultPromptTimeout
	}
	return s
}

type promptState struct {
	Expires time.Time `json:"expires"`
}

// OAuthPrompt asks the user to sign in through the OAuth connection and ends
// with the *teams.TokenResponse, or nil when the prompt expired
type OAuthPrompt struct {
	id       string
	settings OAuthPromptSettings
	tokens   teams.UserTokenProvider
	logger   *zap.Logger
	now      func() time.Time
}

// NewOAuthPrompt creates a sign-in prompt
func NewOAuthPrompt(id string, settings OAuthPromptSettings, tokens teams.UserTokenProvider, logger *zap.Logger) *OAuthPrompt {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OAuthPrompt{
		id:       id,
		settings: settings.withDefaults(),
		tokens:   tokens,
		logger:   logger,
		now:      time.Now,
	}
}

// ID implements Dialog
func (p *OAuthPrompt) ID() string {
	return p.id
}

// Begin implements Dialog. A user who already holds a token skips the card.
func (p *OAuthPrompt) Begin(ctx context.Context, dc *Context, options interface{}) (TurnResult, error) {
	if err := dc.ActiveDialog().Encode(promptState{Expires: p.now().Add(p.settings.Timeout)}); err != nil {
		return TurnResult{}, err
	}

	activity := dc.Turn.Activity
	token, err := p.tokens.GetUserToken(ctx, activity.From.ID, p.settings.ConnectionName, activity.ChannelID, "")
	if err != nil {
		return TurnResult{}, err
	}
	if token != nil {
		return dc.EndDialog(ctx, token)
	}

	if err := p.sendCard(ctx, dc); err != nil {
		return TurnResult{}, err
	}
	return TurnResult{Status: StatusWaiting}, nil
}

// Continue implements Dialog
func (p *OAuthPrompt) Continue(ctx context.Context, dc *Context) (TurnResult, error) {
	var st promptState
	if err := dc.ActiveDialog().Decode(&st); err != nil {
		return TurnResult{}, err
	}

	if !st.Expires.IsZero() && p.now().After(st.Expires) {
		p.logger.Info("Sign-in prompt expired",
			zap.String("user_id", dc.Turn.Activity.From.ID),
			zap.String("connection_name", p.settings.ConnectionName))
		return dc.EndDialog(ctx, (*teams.TokenResponse)(nil))
	}

	token, err := p.recognize(ctx, dc.Turn)
	if err != nil {
		return TurnResult{}, err
	}
	if token != nil {
		return dc.EndDialog(ctx, token)
	}
	return TurnResult{Status: StatusWaiting}, nil
}

// Resume implements Dialog
func (p *OAuthPrompt) Resume(ctx context.Context, dc *Context, result interface{}) (TurnResult, error) {
	return TurnResult{Status: StatusWaiting}, nil
}

func (p *OAuthPrompt) sendCard(ctx context.Context, dc *Context) error {
	activity := dc.Turn.Activity
	link, err := p.tokens.GetSignInLink(ctx, activity, p.settings.ConnectionName)
	if err != nil {
		return err
	}

	card := teams.NewOAuthCardAttachment(p.settings.ConnectionName, p.settings.Title, p.settings.Text, link)
	if err := dc.Turn.SendActivity(ctx, activity.ReplyWithAttachments(card)); err != nil {
		return fmt.Errorf("failed to send sign-in card: %w", err)
	}
	return nil
}

// recognize extracts a token from the turn. Invokes always get an invoke
// response.
func (p *OAuthPrompt) recognize(ctx context.Context, turn *teams.TurnContext) (*teams.TokenResponse, error) {
	activity := turn.Activity

	switch {
	case activity.Type == teams.ActivityTypeEvent && activity.Name == teams.EventNameTokenResponse:
		var token teams.TokenResponse
		if err := json.Unmarshal(activity.Value, &token); err != nil || token.Token == "" {
			p.logger.Warn("Ignoring malformed token response event", zap.Error(err))
			return nil, nil
		}
		return &token, nil

	case activity.Type == teams.ActivityTypeInvoke && activity.Name == teams.InvokeNameVerifyState:
		var value struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(activity.Value, &value); err != nil {
			p.logger.Warn("Ignoring malformed verify state invoke", zap.Error(err))
			turn.SetInvokeResponse(http.StatusNotFound, nil)
			return nil, nil
		}

		token, err := p.tokens.GetUserToken(ctx, activity.From.ID, p.settings.ConnectionName, activity.ChannelID, value.State)
		if err != nil {
			p.logger.Warn("Failed to redeem sign-in state", zap.Error(err))
			token = nil
		}
		if token == nil {
			turn.SetInvokeResponse(http.StatusNotFound, nil)
			return nil, nil
		}
		turn.SetInvokeResponse(http.StatusOK, nil)
		return token, nil

	case activity.Type == teams.ActivityTypeInvoke && activity.Name == teams.InvokeNameTokenExchange:
		// Single sign-on exchange is not configured for the connection
		turn.SetInvokeResponse(http.StatusPreconditionFailed, map[string]string{
			"connectionName": p.settings.ConnectionName,
			"failureDetail":  "The bot is unable to exchange token. Proceed with regular login.",
		})
		return nil, nil

	case activity.Type == teams.ActivityTypeMessage:
		code := teams.NormalizeText(activity)
		if !magicCodePattern.MatchString(code) {
			return nil, nil
		}
		return p.tokens.GetUserToken(ctx, activity.From.ID, p.settings.ConnectionName, activity.ChannelID, code)
	}

	return nil, nil
}

// IsMagicCode reports whether text looks like the code shown after signing in
// on a device without a browser callback
func IsMagicCode(text string) bool {
	return magicCodePattern.MatchString(text)
}
