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

/*
Package rpc implements the JSON-RPC 2.0 message model and stream framing
used to talk to a long-lived CodeQL query server.

# Messages

Every envelope decodes to exactly one of three shapes:

  - *Request: has an id and a method, expects a response
  - *Response: has an id and either a result or an error object
  - *Notification: has a method and no id, expects nothing

Identifiers and error objects reuse the types from
github.com/sourcegraph/jsonrpc2 so they marshal the way every other
JSON-RPC peer expects.

# Framing

Two framings are supported:

	rpc.LineCodec{}   // one JSON object per '\n'-terminated line
	rpc.HeaderCodec{} // Content-Length headers, as used by query-server2

A codec only moves bytes; classification happens in Decode.
*/
package rpc
