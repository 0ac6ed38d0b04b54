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

package errors

import (
	"fmt"
	"strings"
	"time"
)

// Error kinds reported to MCP clients. Each typed error returns one of
// these from ErrorType.
const (
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindLaunch     = "launch"
	KindTimeout    = "timeout"
	KindProcess    = "process_failure"
	KindProtocol   = "protocol"
	KindRPC        = "rpc"
	KindConfig     = "config"
	KindInternal   = "internal"
)

// ValidationError represents user input that failed a whitelist, format,
// or path check. Inputs that fail validation never reach a subprocess.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) ErrorType() string { return KindValidation }
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a missing file, database, or other resource.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "database", "query file")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) ErrorType() string { return KindNotFound }
func (e *NotFoundError) IsRetryable() bool { return false }

// LaunchError means the external binary could not be found or started,
// or exited before it became usable.
type LaunchError struct {
	// Binary is the executable that failed to launch
	Binary string

	// Reason explains the failure in one line
	Reason string

	// Cause is the underlying exec or OS error
	Cause error
}

// Error implements the error interface.
func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("failed to launch %s", e.Binary)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *LaunchError) Unwrap() error {
	return e.Cause
}

func (e *LaunchError) ErrorType() string { return KindLaunch }
func (e *LaunchError) IsRetryable() bool { return false }

// TimeoutError represents a caller that stopped waiting. The underlying
// process or request is not assumed dead: PID is set when a subprocess
// was left running.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "database create", "evaluation/runQuery")
	Operation string

	// Duration is how long the caller waited before giving up
	Duration time.Duration

	// PID is the process left running after the timeout, or 0
	PID int

	// Queued is set when the caller gave up before any process was
	// spawned, while waiting for a concurrency slot
	Queued bool

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Queued {
		return fmt.Sprintf("%s operation gave up after %v waiting for a free process slot", e.Operation, e.Duration)
	}
	msg := fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
	if e.PID > 0 {
		msg = fmt.Sprintf("%s (process %d still running)", msg, e.PID)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

func (e *TimeoutError) ErrorType() string { return KindTimeout }
func (e *TimeoutError) IsRetryable() bool { return true }

// ProcessFailure represents a one-shot subprocess that exited non-zero.
// Stderr is kept verbatim for the caller.
type ProcessFailure struct {
	// Command is the argument vector that was executed, binary first
	Command []string

	// ExitCode is the process exit status
	ExitCode int

	// Stderr is the captured standard error text
	Stderr string
}

// Error implements the error interface.
func (e *ProcessFailure) Error() string {
	name := "process"
	if len(e.Command) > 1 {
		name = strings.Join(subcommand(e.Command), " ")
	}
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("%s exited with code %d", name, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", name, e.ExitCode, stderr)
}

func (e *ProcessFailure) ErrorType() string { return KindProcess }
func (e *ProcessFailure) IsRetryable() bool { return false }

// subcommand returns the leading non-flag words after the binary.
func subcommand(argv []string) []string {
	var words []string
	for _, a := range argv[1:] {
		if strings.HasPrefix(a, "-") || strings.ContainsAny(a, `/\.`) {
			break
		}
		words = append(words, a)
	}
	if len(words) == 0 {
		return argv[:1]
	}
	return words
}

// ProtocolError represents malformed or out-of-band JSON-RPC traffic, or a
// query server that is no longer usable.
type ProtocolError struct {
	// Message describes the protocol violation
	Message string

	// Line is the offending raw input, if any
	Line string

	// Cause is the underlying decode or I/O error
	Cause error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

func (e *ProtocolError) ErrorType() string { return KindProtocol }
func (e *ProtocolError) IsRetryable() bool { return false }

// RPCError is an error object returned by the query server in a response.
type RPCError struct {
	Method  string
	Code    int64
	Message string
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("%s failed (code %d): %s", e.Method, e.Code, e.Message)
}

func (e *RPCError) ErrorType() string { return KindRPC }
func (e *RPCError) IsRetryable() bool { return false }

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "codeql.path")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

func (e *ConfigError) ErrorType() string { return KindConfig }
func (e *ConfigError) IsRetryable() bool { return false }

// InternalError is an unexpected fault in the server itself.
type InternalError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *InternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("internal error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("internal error: %s", e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *InternalError) Unwrap() error {
	return e.Cause
}

func (e *InternalError) ErrorType() string { return KindInternal }
func (e *InternalError) IsRetryable() bool { return false }
