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

	"github.com/your-org/genie-teams-bot/internal/teams"
)

// Step is one stage of a waterfall
type Step func(ctx context.Context, sc *StepContext) (TurnResult, error)

// StepContext is passed to a waterfall step
type StepContext struct {
	*Context
	// Index of the running step
	Index int
	// Options the waterfall was begun with
	Options interface{}
	// Result of the previous step or of the child dialog it started
	Result interface{}
}

type waterfallState struct {
	StepIndex int `json:"stepIndex"`
}

// Waterfall runs steps in order, one per turn or per completed child dialog
type Waterfall struct {
	id    string
	steps []Step
}

// NewWaterfall creates a waterfall dialog
func NewWaterfall(id string, steps ...Step) *Waterfall {
	return &Waterfall{id: id, steps: steps}
}

// ID implements Dialog
func (w *Waterfall) ID() string {
	return w.id
}

// Begin implements Dialog
func (w *Waterfall) Begin(ctx context.Context, dc *Context, options interface{}) (TurnResult, error) {
	return w.runStep(ctx, dc, 0, options, nil)
}

// Continue implements Dialog. Only messages advance a waterfall that is
// waiting on its own; the text becomes the next step's result.
func (w *Waterfall) Continue(ctx context.Context, dc *Context) (TurnResult, error) {
	if dc.Turn.Activity.Type != teams.ActivityTypeMessage {
		return TurnResult{Status: StatusWaiting}, nil
	}
	return w.Resume(ctx, dc, dc.Turn.Activity.Text)
}

// Resume implements Dialog
func (w *Waterfall) Resume(ctx context.Context, dc *Context, result interface{}) (TurnResult, error) {
	var st waterfallState
	if err := dc.ActiveDialog().Decode(&st); err != nil {
		return TurnResult{}, err
	}
	return w.runStep(ctx, dc, st.StepIndex+1, nil, result)
}

func (w *Waterfall) runStep(ctx context.Context, dc *Context, index int, options, result interface{}) (TurnResult, error) {
	if index >= len(w.steps) {
		return dc.EndDialog(ctx, result)
	}
	if err := dc.ActiveDialog().Encode(waterfallState{StepIndex: index}); err != nil {
		return TurnResult{}, err
	}
	return w.steps[index](ctx, &StepContext{
		Context: dc,
		Index:   index,
		Options: options,
		Result:  result,
	})
}
