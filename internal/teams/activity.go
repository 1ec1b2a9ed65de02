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

// Package teams implements the parts of the Bot Framework protocol the bot
// needs to talk to Microsoft Teams: the activity schema, the connector used
// to send replies, the user token service and inbound request authentication.
package teams

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/your-org/genie-teams-bot/internal/state"
)

// Activity types
const (
	ActivityTypeMessage            = "message"
	ActivityTypeConversationUpdate = "conversationUpdate"
	ActivityTypeInvoke             = "invoke"
	ActivityTypeEvent              = "event"
	ActivityTypeInvokeResponse     = "invokeResponse"
)

// Invoke and event names used by the sign-in flow
const (
	InvokeNameVerifyState   = "signin/verifyState"
	InvokeNameTokenExchange = "signin/tokenExchange"
	EventNameTokenResponse  = "tokens/response"
)

// TextFormatMarkdown marks outbound text as Markdown
const TextFormatMarkdown = "markdown"

// ErrInvalidActivity is returned for activities missing required fields
var ErrInvalidActivity = errors.New("invalid activity")

var (
	atTagPattern      = regexp.MustCompile(`(?is)<at[^>]*>.*?</at>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	controlPattern    = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
)

// Activity is a Bot Framework activity as sent by the Teams channel
type Activity struct {
	Type         string              `json:"type"`
	ID           string              `json:"id,omitempty"`
	Name         string              `json:"name,omitempty"`
	Timestamp    string              `json:"timestamp,omitempty"`
	ServiceURL   string              `json:"serviceUrl,omitempty"`
	ChannelID    string              `json:"channelId,omitempty"`
	From         ChannelAccount      `json:"from"`
	Conversation ConversationAccount `json:"conversation"`
	Recipient    ChannelAccount      `json:"recipient"`
	Text         string              `json:"text,omitempty"`
	TextFormat   string              `json:"textFormat,omitempty"`
	Locale       string              `json:"locale,omitempty"`
	ReplyToID    string              `json:"replyToId,omitempty"`
	MembersAdded []ChannelAccount    `json:"membersAdded,omitempty"`
	Entities     []Entity            `json:"entities,omitempty"`
	Attachments  []Attachment        `json:"attachments,omitempty"`
	Value        json.RawMessage     `json:"value,omitempty"`
	ChannelData  json.RawMessage     `json:"channelData,omitempty"`
}

// ChannelAccount is a user or bot on a channel
type ChannelAccount struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	AADObjectID string `json:"aadObjectId,omitempty"`
}

// ConversationAccount identifies a conversation
type ConversationAccount struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	IsGroup          bool   `json:"isGroup,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
}

// Entity is extra metadata attached to an activity, such as a mention
type Entity struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Mentioned *ChannelAccount `json:"mentioned,omitempty"`
}

// Attachment is a card or file attached to an activity
type Attachment struct {
	ContentType string      `json:"contentType"`
	Content     interface{} `json:"content,omitempty"`
	Name        string      `json:"name,omitempty"`
}

// Validate checks the fields every handled activity needs
func (a *Activity) Validate() error {
	if a.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidActivity)
	}
	if a.Type == ActivityTypeInvokeResponse {
		return nil
	}
	if a.ServiceURL == "" {
		return fmt.Errorf("%w: serviceUrl is required", ErrInvalidActivity)
	}
	if a.Conversation.ID == "" {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidActivity)
	}
	if a.Type == ActivityTypeMessage && a.From.ID == "" {
		return fmt.Errorf("%w: sender id is required", ErrInvalidActivity)
	}
	return nil
}

// Reference returns the state keys the activity belongs to
func (a *Activity) Reference() state.Reference {
	return state.Reference{
		ChannelID:      a.ChannelID,
		ConversationID: a.Conversation.ID,
		UserID:         a.From.ID,
	}
}

// Reply creates a Markdown message answering a
func (a *Activity) Reply(text string) *Activity {
	return &Activity{
		Type:         ActivityTypeMessage,
		ServiceURL:   a.ServiceURL,
		ChannelID:    a.ChannelID,
		From:         a.Recipient,
		Recipient:    a.From,
		Conversation: a.Conversation,
		ReplyToID:    a.ID,
		Locale:       a.Locale,
		Text:         text,
		TextFormat:   TextFormatMarkdown,
	}
}

// ReplyWithAttachments creates a message carrying attachments
func (a *Activity) ReplyWithAttachments(attachments ...Attachment) *Activity {
	reply := a.Reply("")
	reply.TextFormat = ""
	reply.Attachments = attachments
	return reply
}

// NormalizeText returns the message text without bot mentions, HTML entities,
// control characters and surplus whitespace
func NormalizeText(a *Activity) string {
	text := a.Text
	for _, entity := range a.Entities {
		if entity.Type == "mention" && entity.Text != "" &&
			(entity.Mentioned == nil || entity.Mentioned.ID == a.Recipient.ID) {
			text = strings.Replace(text, entity.Text, "", 1)
		}
	}
	text = atTagPattern.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = controlPattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// IsKeyword reports whether text is exactly keyword, ignoring case
func IsKeyword(text, keyword string) bool {
	return strings.EqualFold(strings.TrimSpace(text), keyword)
}
