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

package genie

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedAnswer is returned when an encoded answer cannot be decoded
var ErrMalformedAnswer = errors.New("malformed genie answer")

// GenericErrorMessage is the error text carried by answers for failed requests
const GenericErrorMessage = "An error occurred while processing your request."

// Answer is the result of asking Genie a question. It is one of
// Tabular, TextMessage or Error.
type Answer interface {
	// Kind returns a short label used in logs and metrics
	Kind() string
	isAnswer()
}

// Tabular carries a statement result set. Columns and Data keep the raw
// manifest schema and result objects returned by the statement API.
type Tabular struct {
	Columns          json.RawMessage
	Data             json.RawMessage
	QueryDescription string
}

// TextMessage carries a free-text reply from Genie
type TextMessage struct {
	Text string
}

// Error carries a user-facing error description
type Error struct {
	Message string
}

func (Tabular) Kind() string     { return "tabular" }
func (TextMessage) Kind() string { return "message" }
func (Error) Kind() string       { return "error" }

func (Tabular) isAnswer()     {}
func (TextMessage) isAnswer() {}
func (Error) isAnswer()       {}

type tabularWire struct {
	Columns          json.RawMessage `json:"columns"`
	Data             json.RawMessage `json:"data"`
	QueryDescription string          `json:"query_description"`
}

type messageWire struct {
	Message string `json:"message"`
}

type errorWire struct {
	Error string `json:"error"`
}

// EncodeAnswer serializes an answer to its wire JSON shape
func EncodeAnswer(answer Answer) (json.RawMessage, error) {
	var v interface{}
	switch a := answer.(type) {
	case Tabular:
		v = tabularWire{
			Columns:          orNull(a.Columns),
			Data:             orNull(a.Data),
			QueryDescription: a.QueryDescription,
		}
	case TextMessage:
		v = messageWire{Message: a.Text}
	case Error:
		v = errorWire{Error: a.Message}
	default:
		return nil, fmt.Errorf("unsupported answer type %T", answer)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return data, nil
}

// DecodeAnswer parses the wire JSON shape back into an Answer. The shape is
// picked the same way the renderer reads it: columns and data first, then
// message, then error. Only input that is not a JSON object, or whose known
// keys hold values of the wrong type, yields ErrMalformedAnswer.
func DecodeAnswer(data []byte) (Answer, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedAnswer)
	}

	columns, hasColumns := fields["columns"]
	rows, hasData := fields["data"]
	if hasColumns && hasData {
		answer := Tabular{Columns: columns, Data: rows}
		if raw, ok := fields["query_description"]; ok && !isNull(raw) {
			if err := json.Unmarshal(raw, &answer.QueryDescription); err != nil {
				return nil, fmt.Errorf("%w: query_description: %v", ErrMalformedAnswer, err)
			}
		}
		return answer, nil
	}

	if raw, ok := fields["message"]; ok {
		var text string
		if !isNull(raw) {
			if err := json.Unmarshal(raw, &text); err != nil {
				return nil, fmt.Errorf("%w: message: %v", ErrMalformedAnswer, err)
			}
		}
		return TextMessage{Text: text}, nil
	}

	if raw, ok := fields["error"]; ok {
		var message string
		if !isNull(raw) {
			if err := json.Unmarshal(raw, &message); err != nil {
				return nil, fmt.Errorf("%w: error: %v", ErrMalformedAnswer, err)
			}
		}
		return Error{Message: message}, nil
	}

	// Valid JSON with none of the known keys renders as "no data".
	return Error{}, nil
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
