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

// Package dialog implements multi-turn conversations whose progress is kept
// in conversation state between turns.
package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/your-org/genie-teams-bot/internal/state"
	"github.com/your-org/genie-teams-bot/internal/teams"
)

// Status is the outcome of driving a dialog for one turn
type Status string

const (
	// StatusEmpty means no dialog was active
	StatusEmpty Status = "empty"
	// StatusWaiting means the active dialog expects more input
	StatusWaiting Status = "waiting"
	// StatusComplete means the root dialog ended
	StatusComplete Status = "complete"
	// StatusCancelled means the stack was cancelled
	StatusCancelled Status = "cancelled"
)

// ErrDialogNotFound is returned when a dialog id is not part of the set
var ErrDialogNotFound = errors.New("dialog not found")

// TurnResult reports what happened to the dialog stack this turn
type TurnResult struct {
	Status Status
	Result interface{}
}

// Dialog is one conversational step machine. Implementations keep their
// progress in the Instance on top of the stack, never in struct fields.
type Dialog interface {
	ID() string
	Begin(ctx context.Context, dc *Context, options interface{}) (TurnResult, error)
	Continue(ctx context.Context, dc *Context) (TurnResult, error)
	// Resume is called when a child dialog started by this one ends
	Resume(ctx context.Context, dc *Context, result interface{}) (TurnResult, error)
}

// Instance is a running dialog on the stack
type Instance struct {
	ID    string          `json:"id"`
	State json.RawMessage `json:"state,omitempty"`
}

// Decode reads the instance state into v
func (i *Instance) Decode(v interface{}) error {
	if len(i.State) == 0 {
		return nil
	}
	if err := json.Unmarshal(i.State, v); err != nil {
		return fmt.Errorf("failed to decode state of dialog %s: %w", i.ID, err)
	}
	return nil
}

// Encode replaces the instance state with v
func (i *Instance) Encode(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode state of dialog %s: %w", i.ID, err)
	}
	i.State = raw
	return nil
}

// State is the persisted dialog stack of a conversation
type State struct {
	Stack []*Instance `json:"dialogStack"`
}

// Set is a registry of dialogs by id
type Set struct {
	dialogs map[string]Dialog
}

// NewSet creates a set holding dialogs
func NewSet(dialogs ...Dialog) *Set {
	s := &Set{dialogs: make(map[string]Dialog, len(dialogs))}
	for _, d := range dialogs {
		s.Add(d)
	}
	return s
}

// Add registers d, replacing any dialog with the same id
func (s *Set) Add(d Dialog) {
	s.dialogs[d.ID()] = d
}

// Find returns the dialog registered under id
func (s *Set) Find(id string) (Dialog, bool) {
	d, ok := s.dialogs[id]
	return d, ok
}

// Context drives a dialog stack for one turn
type Context struct {
	Turn *teams.TurnContext

	dialogs *Set
	state   *State
}

// NewContext binds a stack to a turn
func NewContext(dialogs *Set, turn *teams.TurnContext, st *State) *Context {
	return &Context{Turn: turn, dialogs: dialogs, state: st}
}

// ActiveDialog returns the instance on top of the stack, or nil
func (dc *Context) ActiveDialog() *Instance {
	if len(dc.state.Stack) == 0 {
		return nil
	}
	return dc.state.Stack[len(dc.state.Stack)-1]
}

// BeginDialog pushes the dialog id and starts it
func (dc *Context) BeginDialog(ctx context.Context, id string, options interface{}) (TurnResult, error) {
	d, ok := dc.dialogs.Find(id)
	if !ok {
		return TurnResult{}, fmt.Errorf("%w: %s", ErrDialogNotFound, id)
	}
	dc.state.Stack = append(dc.state.Stack, &Instance{ID: id})
	return d.Begin(ctx, dc, options)
}

// ContinueDialog hands the turn to the active dialog
func (dc *Context) ContinueDialog(ctx context.Context) (TurnResult, error) {
	active := dc.ActiveDialog()
	if active == nil {
		return TurnResult{Status: StatusEmpty}, nil
	}
	d, ok := dc.dialogs.Find(active.ID)
	if !ok {
		return TurnResult{}, fmt.Errorf("%w: %s", ErrDialogNotFound, active.ID)
	}
	return d.Continue(ctx, dc)
}

// EndDialog pops the active dialog and resumes its parent with result. With
// no parent left the stack is complete.
func (dc *Context) EndDialog(ctx context.Context, result interface{}) (TurnResult, error) {
	if len(dc.state.Stack) > 0 {
		dc.state.Stack = dc.state.Stack[:len(dc.state.Stack)-1]
	}

	parent := dc.ActiveDialog()
	if parent == nil {
		return TurnResult{Status: StatusComplete, Result: result}, nil
	}
	d, ok := dc.dialogs.Find(parent.ID)
	if !ok {
		return TurnResult{}, fmt.Errorf("%w: %s", ErrDialogNotFound, parent.ID)
	}
	return d.Resume(ctx, dc, result)
}

// CancelAllDialogs empties the stack
func (dc *Context) CancelAllDialogs() TurnResult {
	dc.state.Stack = nil
	return TurnResult{Status: StatusCancelled}
}

// StateProperty is where Run keeps the dialog stack in conversation state
var StateProperty = state.NewProperty[State]("DialogState")

// Run continues the active dialog of the conversation, or begins root when
// none is active, and writes the stack back into the conversation snapshot.
func Run(ctx context.Context, root Dialog, turn *teams.TurnContext, conversation *state.Snapshot) (TurnResult, error) {
	st, _, err := StateProperty.Get(conversation, func() State { return State{} })
	if err != nil {
		return TurnResult{}, err
	}

	dc := NewContext(NewSet(root), turn, &st)
	result, err := dc.ContinueDialog(ctx)
	if err == nil && result.Status == StatusEmpty {
		result, err = dc.BeginDialog(ctx, root.ID(), nil)
	}

	if setErr := StateProperty.Set(conversation, st); setErr != nil && err == nil {
		err = setErr
	}
	return result, err
}

// Active reports whether the conversation has a dialog in progress
func Active(conversation *state.Snapshot) bool {
	st, ok, err := StateProperty.Get(conversation, nil)
	return err == nil && ok && len(st.Stack) > 0
}
