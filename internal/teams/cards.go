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

const (
	// ContentTypeOAuthCard is the attachment content type of sign-in cards
	ContentTypeOAuthCard = "application/vnd.microsoft.card.oauth"
	// ActionTypeSignIn opens the sign-in flow of the channel
	ActionTypeSignIn = "signin"
)

// OAuthCard asks the user to sign in through an OAuth connection
type OAuthCard struct {
	Text           string       `json:"text,omitempty"`
	ConnectionName string       `json:"connectionName"`
	Buttons        []CardAction `json:"buttons"`
}

// CardAction is a clickable button on a card
type CardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Value string `json:"value,omitempty"`
}

// NewOAuthCardAttachment builds the sign-in card sent by the OAuth prompt
func NewOAuthCardAttachment(connectionName, title, text, signInLink string) Attachment {
	return Attachment{
		ContentType: ContentTypeOAuthCard,
		Content: OAuthCard{
			Text:           text,
			ConnectionName: connectionName,
			Buttons: []CardAction{
				{
					Type:  ActionTypeSignIn,
					Title: title,
					Value: signInLink,
				},
			},
		},
	}
}
