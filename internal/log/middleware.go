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

package log

import (
	"context"
	"log/slog"
	"time"
)

// ToolCall describes one MCP tool invocation for logging purposes.
type ToolCall struct {
	// Tool is the registered tool name (e.g. "evaluate_query").
	Tool string

	// RequestID is the unique ID assigned to this invocation.
	RequestID string

	// Arguments holds the non-sensitive arguments worth logging.
	Arguments map[string]any
}

// ToolOutcome is the result of a tool invocation for logging purposes.
type ToolOutcome struct {
	// Success indicates whether the tool produced a result payload.
	Success bool

	// ErrorKind is the error taxonomy kind when Success is false.
	ErrorKind string

	// Error is the error message if the tool failed.
	Error string

	// DurationMs is the duration of the call in milliseconds.
	DurationMs int64
}

// LogToolCall logs an incoming tool call.
func LogToolCall(logger *slog.Logger, call *ToolCall) {
	attrs := []any{
		"event", "tool_call",
		ToolKey, call.Tool,
	}
	if call.RequestID != "" {
		attrs = append(attrs, "request_id", call.RequestID)
	}
	for k, v := range call.Arguments {
		attrs = append(attrs, k, v)
	}

	logger.Info("tool call received", attrs...)
}

// LogToolOutcome logs the completion of a tool call. Failures are logged at
// warn: they are reported to the client and are not server faults unless
// their kind is internal.
func LogToolOutcome(logger *slog.Logger, call *ToolCall, out *ToolOutcome) {
	attrs := []any{
		"event", "tool_result",
		ToolKey, call.Tool,
		"success", out.Success,
		DurationKey, out.DurationMs,
	}
	if call.RequestID != "" {
		attrs = append(attrs, "request_id", call.RequestID)
	}

	level := slog.LevelInfo
	message := "tool call completed"
	if !out.Success {
		attrs = append(attrs, "error_kind", out.ErrorKind, "error", out.Error)
		level = slog.LevelWarn
		message = "tool call failed"
		if out.ErrorKind == "internal" {
			level = slog.LevelError
		}
	}

	logger.Log(context.Background(), level, message, attrs...)
}

// ToolMiddleware wraps tool handlers with call/result logging.
type ToolMiddleware struct {
	logger *slog.Logger
	kindOf func(error) string
}

// NewToolMiddleware creates a tool logging middleware. kindOf maps an
// error to its taxonomy kind; nil reports every failure as "error".
func NewToolMiddleware(logger *slog.Logger, kindOf func(error) string) *ToolMiddleware {
	if kindOf == nil {
		kindOf = func(error) string { return "error" }
	}
	return &ToolMiddleware{logger: logger, kindOf: kindOf}
}

// Handle logs call, runs handler, and logs the outcome.
func (m *ToolMiddleware) Handle(call *ToolCall, handler func() error) error {
	start := time.Now()
	LogToolCall(m.logger, call)

	err := handler()

	out := &ToolOutcome{
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		out.Error = err.Error()
		out.ErrorKind = m.kindOf(err)
	}
	LogToolOutcome(m.logger, call, out)

	return err
}
