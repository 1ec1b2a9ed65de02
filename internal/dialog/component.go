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
)

// Interrupter may take over a turn before the inner dialogs of a component
// see it. A handled interrupt returns its own result.
type Interrupter interface {
	Interrupt(ctx context.Context, inner *Context) (TurnResult, bool, error)
}

// Component is a dialog made of its own set of dialogs, with an inner stack
// persisted in the component's instance state
type Component struct {
	id          string
	initial     string
	dialogs     *Set
	interrupter Interrupter
}

// NewComponent creates a component starting at the dialog initial
func NewComponent(id, initial string, dialogs ...Dialog) *Component {
	return &Component{
		id:      id,
		initial: initial,
		dialogs: NewSet(dialogs...),
	}
}

// WithInterrupter installs an interrupt check run on every turn
func (c *Component) WithInterrupter(i Interrupter) *Component {
	c.interrupter = i
	return c
}

// ID implements Dialog
func (c *Component) ID() string {
	return c.id
}

// Begin implements Dialog
func (c *Component) Begin(ctx context.Context, dc *Context, options interface{}) (TurnResult, error) {
	var inner State
	innerDC := NewContext(c.dialogs, dc.Turn, &inner)

	result, handled, err := c.interrupt(ctx, innerDC)
	if err != nil {
		return TurnResult{}, err
	}
	if !handled {
		result, err = innerDC.BeginDialog(ctx, c.initial, options)
		if err != nil {
			return TurnResult{}, err
		}
	}
	return c.finish(ctx, dc, &inner, result)
}

// Continue implements Dialog
func (c *Component) Continue(ctx context.Context, dc *Context) (TurnResult, error) {
	var inner State
	if err := dc.ActiveDialog().Decode(&inner); err != nil {
		return TurnResult{}, err
	}
	innerDC := NewContext(c.dialogs, dc.Turn, &inner)

	result, handled, err := c.interrupt(ctx, innerDC)
	if err != nil {
		return TurnResult{}, err
	}
	if !handled {
		result, err = innerDC.ContinueDialog(ctx)
		if err != nil {
			return TurnResult{}, err
		}
	}
	return c.finish(ctx, dc, &inner, result)
}

// Resume implements Dialog. Components start no outer children, so a resume
// just waits for the next turn.
func (c *Component) Resume(ctx context.Context, dc *Context, result interface{}) (TurnResult, error) {
	return TurnResult{Status: StatusWaiting}, nil
}

func (c *Component) interrupt(ctx context.Context, inner *Context) (TurnResult, bool, error) {
	if c.interrupter == nil {
		return TurnResult{}, false, nil
	}
	return c.interrupter.Interrupt(ctx, inner)
}

func (c *Component) finish(ctx context.Context, dc *Context, inner *State, result TurnResult) (TurnResult, error) {
	switch result.Status {
	case StatusWaiting:
		if err := dc.ActiveDialog().Encode(inner); err != nil {
			return TurnResult{}, err
		}
		return result, nil
	case StatusCancelled:
		return dc.CancelAllDialogs(), nil
	default:
		return dc.EndDialog(ctx, result.Result)
	}
}
