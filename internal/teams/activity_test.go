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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMessage = `{
	"type": "message",
	"id": "act-1",
	"serviceUrl": "https://smba.trafficmanager.net/emea/",
	"channelId": "msteams",
	"from": {"id": "29:user", "name": "Ada", "aadObjectId": "aad-1"},
	"conversation": {"id": "a:conv", "conversationType": "personal", "tenantId": "tenant"},
	"recipient": {"id": "28:bot", "name": "Genie"},
	"text": "<at>Genie</at> How many   orders\nlast month?",
	"entities": [{"type": "mention", "text": "<at>Genie</at>", "mentioned": {"id": "28:bot", "name": "Genie"}}]
}`

func TestActivity_Decode(t *testing.T) {
	var activity Activity
	require.NoError(t, json.Unmarshal([]byte(sampleMessage), &activity))

	assert.Equal(t, ActivityTypeMessage, activity.Type)
	assert.Equal(t, "29:user", activity.From.ID)
	assert.Equal(t, "a:conv", activity.Conversation.ID)
	assert.NoError(t, activity.Validate())
	assert.Equal(t, "personal", activity.Conversation.ConversationType)

	ref := activity.Reference()
	assert.Equal(t, "msteams", ref.ChannelID)
	assert.Equal(t, "a:conv", ref.ConversationID)
	assert.Equal(t, "29:user", ref.UserID)
}

func TestActivity_Validate(t *testing.T) {
	valid := func() Activity {
		return Activity{
			Type:         ActivityTypeMessage,
			ServiceURL:   "https://service",
			Conversation: ConversationAccount{ID: "c"},
			From:         ChannelAccount{ID: "u"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Activity)
		valid  bool
	}{
		{"complete", func(*Activity) {}, true},
		{"missing type", func(a *Activity) { a.Type = "" }, false},
		{"missing service url", func(a *Activity) { a.ServiceURL = "" }, false},
		{"missing conversation", func(a *Activity) { a.Conversation.ID = "" }, false},
		{"message without sender", func(a *Activity) { a.From.ID = "" }, false},
		{"conversation update without sender", func(a *Activity) {
			a.Type = ActivityTypeConversationUpdate
			a.From.ID = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			activity := valid()
			tt.mutate(&activity)
			err := activity.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidActivity)
			}
		})
	}
}

func TestActivity_Reply(t *testing.T) {
	var activity Activity
	require.NoError(t, json.Unmarshal([]byte(sampleMessage), &activity))

	reply := activity.Reply("## Query Results")

	assert.Equal(t, ActivityTypeMessage, reply.Type)
	assert.Equal(t, "28:bot", reply.From.ID)
	assert.Equal(t, "29:user", reply.Recipient.ID)
	assert.Equal(t, "act-1", reply.ReplyToID)
	assert.Equal(t, activity.ServiceURL, reply.ServiceURL)
	assert.Equal(t, TextFormatMarkdown, reply.TextFormat)
	assert.Equal(t, "## Query Results", reply.Text)
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name     string
		activity Activity
		expected string
	}{
		{
			name: "mention entity removed",
			activity: Activity{
				Text:      "<at>Genie</at> login",
				Recipient: ChannelAccount{ID: "bot"},
				Entities:  []Entity{{Type: "mention", Text: "<at>Genie</at>", Mentioned: &ChannelAccount{ID: "bot"}}},
			},
			expected: "login",
		},
		{
			name: "mention of another user kept",
			activity: Activity{
				Text:      "ask Bob",
				Recipient: ChannelAccount{ID: "bot"},
				Entities:  []Entity{{Type: "mention", Text: "Bob", Mentioned: &ChannelAccount{ID: "bob"}}},
			},
			expected: "ask Bob",
		},
		{
			name:     "at tags without entities",
			activity: Activity{Text: "<at id=\"0\">Genie Bot</at>   logout "},
			expected: "logout",
		},
		{
			name:     "html entities decoded",
			activity: Activity{Text: "revenue &gt; 100 &amp; region"},
			expected: "revenue > 100 & region",
		},
		{
			name:     "whitespace and control characters",
			activity: Activity{Text: "  top\t5\r\nproducts\x07 "},
			expected: "top 5 products",
		},
		{
			name:     "empty",
			activity: Activity{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(&tt.activity); got != tt.expected {
				t.Errorf("NormalizeText() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestIsKeyword(t *testing.T) {
	assert.True(t, IsKeyword("login", "login"))
	assert.True(t, IsKeyword(" Logout ", "logout"))
	assert.False(t, IsKeyword("login please", "login"))
	assert.False(t, IsKeyword("", "login"))
}

func TestNewOAuthCardAttachment(t *testing.T) {
	attachment := NewOAuthCardAttachment("databricks", "Sign In", "Please Sign In", "https://signin/link")

	data, err := json.Marshal(attachment)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"contentType": "application/vnd.microsoft.card.oauth",
		"content": {
			"text": "Please Sign In",
			"connectionName": "databricks",
			"buttons": [{"type": "signin", "title": "Sign In", "value": "https://signin/link"}]
		}
	}`, string(data))
}
