// Copyright 2025 Tom Barlow
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

package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/sourcegraph/jsonrpc2"

	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// Version is the only JSON-RPC version accepted on the wire.
const Version = "2.0"

// Message is a decoded JSON-RPC envelope: *Request, *Response or *Notification.
type Message interface {
	isMessage()
}

// Request is a call that expects a Response with the same ID.
type Request struct {
	ID     jsonrpc2.ID
	Method string
	Params json.RawMessage
}

// Response answers the Request with the same ID.
type Response struct {
	ID     jsonrpc2.ID
	Result json.RawMessage
	Error  *jsonrpc2.Error
}

// Notification is a one-way message with no ID.
type Notification struct {
	Method string
	Params json.RawMessage
}

func (*Request) isMessage()      {}
func (*Response) isMessage()     {}
func (*Notification) isMessage() {}

// envelope is the wire form shared by all three message shapes.
type envelope struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *jsonrpc2.ID     `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  *json.RawMessage `json:"params,omitempty"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpc2.Error  `json:"error,omitempty"`
}

// NewRequest builds a request with a numeric ID, marshalling params.
func NewRequest(id uint64, method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	return &Request{ID: jsonrpc2.ID{Num: id}, Method: method, Params: raw}, nil
}

// NewNotification builds a notification, marshalling params.
func NewNotification(method string, params any) (*Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	return &Notification{Method: method, Params: raw}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}

// Marshal encodes m as a single JSON object with no trailing newline.
func Marshal(m Message) ([]byte, error) {
	env := envelope{JSONRPC: Version}

	switch msg := m.(type) {
	case *Request:
		id := msg.ID
		env.ID = &id
		env.Method = msg.Method
		env.Params = rawPtr(msg.Params)
	case *Response:
		id := msg.ID
		env.ID = &id
		env.Error = msg.Error
		if msg.Error == nil {
			result := msg.Result
			if result == nil {
				result = json.RawMessage("null")
			}
			env.Result = &result
		}
	case *Notification:
		env.Method = msg.Method
		env.Params = rawPtr(msg.Params)
	default:
		return nil, fmt.Errorf("rpc: cannot marshal %T", m)
	}

	return json.Marshal(env)
}

func rawPtr(raw json.RawMessage) *json.RawMessage {
	if raw == nil {
		return nil
	}
	return &raw
}

// Decode classifies one raw envelope. Anything that is not valid JSON-RPC
// 2.0 yields a *errors.ProtocolError carrying the offending input.
func Decode(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &cqerrors.ProtocolError{Message: "malformed JSON", Line: string(trimmed), Cause: err}
	}
	if env.JSONRPC != Version {
		return nil, &cqerrors.ProtocolError{
			Message: fmt.Sprintf("unsupported jsonrpc version %q", env.JSONRPC),
			Line:    string(trimmed),
		}
	}

	switch {
	case env.ID != nil && env.Method != "":
		return &Request{ID: *env.ID, Method: env.Method, Params: deref(env.Params)}, nil
	case env.ID != nil:
		if env.Result != nil && env.Error != nil {
			return nil, &cqerrors.ProtocolError{Message: "response has both result and error", Line: string(trimmed)}
		}
		return &Response{ID: *env.ID, Result: deref(env.Result), Error: env.Error}, nil
	case env.Method != "":
		return &Notification{Method: env.Method, Params: deref(env.Params)}, nil
	default:
		return nil, &cqerrors.ProtocolError{Message: "envelope has neither id nor method", Line: string(trimmed)}
	}
}

func deref(raw *json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return *raw
}
