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
	"context"
	"fmt"
	"net/http"
	"sync"
)

// InvokeResponse is the synchronous HTTP answer to an invoke activity
type InvokeResponse struct {
	Status int         `json:"status"`
	Body   interface{} `json:"body,omitempty"`
}

// TurnContext carries one inbound activity through the handlers that process
// it, and collects what they send back
type TurnContext struct {
	Activity *Activity

	sender Sender

	mu             sync.Mutex
	responded      bool
	invokeResponse *InvokeResponse
	values         map[string]interface{}
}

// NewTurnContext creates the context for activity, sending replies with sender
func NewTurnContext(activity *Activity, sender Sender) *TurnContext {
	return &TurnContext{
		Activity: activity,
		sender:   sender,
		values:   make(map[string]interface{}),
	}
}

// SendText replies to the inbound activity with Markdown text
func (tc *TurnContext) SendText(ctx context.Context, text string) error {
	return tc.SendActivity(ctx, tc.Activity.Reply(text))
}

// SendActivity sends an outbound activity
func (tc *TurnContext) SendActivity(ctx context.Context, activity *Activity) error {
	if tc.sender == nil {
		return fmt.Errorf("turn has no sender")
	}
	if _, err := tc.sender.SendActivity(ctx, activity); err != nil {
		return err
	}

	tc.mu.Lock()
	tc.responded = true
	tc.mu.Unlock()
	return nil
}

// SetInvokeResponse records the answer to an invoke activity
func (tc *TurnContext) SetInvokeResponse(status int, body interface{}) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.invokeResponse = &InvokeResponse{Status: status, Body: body}
	tc.responded = true
}

// InvokeResponse returns the recorded invoke answer. Invokes nobody answered
// are acknowledged with 501, like the Bot Framework SDKs do.
func (tc *TurnContext) InvokeResponse() InvokeResponse {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.invokeResponse == nil {
		return InvokeResponse{Status: http.StatusNotImplemented}
	}
	return *tc.invokeResponse
}

// Responded reports whether anything was sent during the turn
func (tc *TurnContext) Responded() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.responded
}

// Set stores a value for the rest of the turn
func (tc *TurnContext) Set(key string, value interface{}) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.values[key] = value
}

// Get returns a value stored with Set
func (tc *TurnContext) Get(key string) (interface{}, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	value, ok := tc.values[key]
	return value, ok
}
