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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sourcegraph/jsonrpc2"
)

// Codec moves single encoded messages across a byte stream.
type Codec interface {
	// WriteMessage writes one encoded message, including any framing.
	WriteMessage(w io.Writer, data []byte) error

	// ReadMessage reads the next framed message body. A non-nil error
	// that is not io.EOF leaves the stream usable for the next read when
	// the framing allows recovery.
	ReadMessage(r *bufio.Reader) ([]byte, error)
}

// NewCodec returns the codec for a framing name ("line" or "header").
func NewCodec(framing string) (Codec, error) {
	switch framing {
	case "line", "":
		return LineCodec{}, nil
	case "header":
		return HeaderCodec{}, nil
	default:
		return nil, fmt.Errorf("rpc: unknown framing %q", framing)
	}
}

// LineCodec frames each message as one '\n'-terminated line.
type LineCodec struct{}

// WriteMessage writes data followed by a newline in a single write.
func (LineCodec) WriteMessage(w io.Writer, data []byte) error {
	if bytes.ContainsAny(data, "\r\n") {
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return fmt.Errorf("rpc: compact message: %w", err)
		}
		data = buf.Bytes()
	}
	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	_, err := w.Write(line)
	return err
}

// ReadMessage returns the next non-blank line without its terminator. A
// final line without a newline is returned before io.EOF.
func (LineCodec) ReadMessage(r *bufio.Reader) ([]byte, error) {
	for {
		line, err := r.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			return trimmed, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// HeaderCodec frames messages with Content-Length headers using
// jsonrpc2.VSCodeObjectCodec.
type HeaderCodec struct{}

// WriteMessage writes the header block and the body.
func (HeaderCodec) WriteMessage(w io.Writer, data []byte) error {
	return jsonrpc2.VSCodeObjectCodec{}.WriteObject(w, json.RawMessage(data))
}

// ReadMessage reads one header-framed body.
func (HeaderCodec) ReadMessage(r *bufio.Reader) ([]byte, error) {
	var raw json.RawMessage
	if err := (jsonrpc2.VSCodeObjectCodec{}).ReadObject(r, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
