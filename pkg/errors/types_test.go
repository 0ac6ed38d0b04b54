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

package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *cqerrors.ValidationError
		wantMsg string
	}{
		{
			name: "with field",
			err: &cqerrors.ValidationError{
				Field:      "language",
				Message:    `unsupported language "cobol"`,
				Suggestion: "Use list_supported_languages",
			},
			wantMsg: `validation failed on language: unsupported language "cobol"`,
		},
		{
			name:    "without field",
			err:     &cqerrors.ValidationError{Message: "invalid format"},
			wantMsg: "validation failed: invalid format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestTimeoutError_Error(t *testing.T) {
	err := &cqerrors.TimeoutError{Operation: "evaluation/runQuery", Duration: 2 * time.Second}
	if got := err.Error(); got != "evaluation/runQuery operation timed out after 2s" {
		t.Errorf("unexpected message: %q", got)
	}

	err.PID = 4242
	if !strings.Contains(err.Error(), "process 4242 still running") {
		t.Errorf("expected pid in message, got %q", err.Error())
	}

	queued := &cqerrors.TimeoutError{Operation: "bqrs decode", Duration: time.Second, Queued: true}
	if got := queued.Error(); got != "bqrs decode operation gave up after 1s waiting for a free process slot" {
		t.Errorf("unexpected queued message: %q", got)
	}
}

func TestProcessFailure_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *cqerrors.ProcessFailure
		wantMsg string
	}{
		{
			name: "subcommand and stderr",
			err: &cqerrors.ProcessFailure{
				Command:  []string{"/usr/bin/codeql", "database", "create", "/tmp/db", "--language=python"},
				ExitCode: 2,
				Stderr:   "A fatal error occurred\n",
			},
			wantMsg: "database create exited with code 2: A fatal error occurred",
		},
		{
			name: "no stderr",
			err: &cqerrors.ProcessFailure{
				Command:  []string{"codeql", "resolve", "languages"},
				ExitCode: 1,
			},
			wantMsg: "resolve languages exited with code 1",
		},
		{
			name:    "empty command",
			err:     &cqerrors.ProcessFailure{ExitCode: 1},
			wantMsg: "process exited with code 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ProcessFailure.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestProcessFailure_KeepsStderrVerbatim(t *testing.T) {
	stderr := "  line one\n\tline two  \n"
	err := &cqerrors.ProcessFailure{Command: []string{"codeql"}, ExitCode: 1, Stderr: stderr}
	if err.Stderr != stderr {
		t.Errorf("stderr was modified: %q", err.Stderr)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("exec: not found")
	tests := []struct {
		name string
		err  error
	}{
		{"launch", &cqerrors.LaunchError{Binary: "codeql", Cause: cause}},
		{"timeout", &cqerrors.TimeoutError{Operation: "x", Cause: cause}},
		{"protocol", &cqerrors.ProtocolError{Message: "bad", Cause: cause}},
		{"config", &cqerrors.ConfigError{Key: "k", Reason: "r", Cause: cause}},
		{"internal", &cqerrors.InternalError{Message: "m", Cause: cause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, cause) {
				t.Errorf("%T does not unwrap to its cause", tt.err)
			}
		})
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&cqerrors.ValidationError{Message: "m"}, cqerrors.KindValidation},
		{&cqerrors.NotFoundError{Resource: "database", ID: "/db"}, cqerrors.KindNotFound},
		{&cqerrors.LaunchError{Binary: "codeql"}, cqerrors.KindLaunch},
		{&cqerrors.TimeoutError{Operation: "op"}, cqerrors.KindTimeout},
		{&cqerrors.ProcessFailure{ExitCode: 1}, cqerrors.KindProcess},
		{&cqerrors.ProtocolError{Message: "m"}, cqerrors.KindProtocol},
		{&cqerrors.RPCError{Method: "m"}, cqerrors.KindRPC},
		{&cqerrors.ConfigError{Reason: "r"}, cqerrors.KindConfig},
		{&cqerrors.InternalError{Message: "m"}, cqerrors.KindInternal},
		{errors.New("plain"), cqerrors.KindInternal},
		{fmt.Errorf("wrapped: %w", &cqerrors.TimeoutError{Operation: "op"}), cqerrors.KindTimeout},
	}

	for _, tt := range tests {
		if got := cqerrors.Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !cqerrors.IsRetryable(&cqerrors.TimeoutError{Operation: "op"}) {
		t.Error("timeouts should be retryable")
	}
	if cqerrors.IsRetryable(&cqerrors.ProcessFailure{ExitCode: 1}) {
		t.Error("process failures should not be retryable")
	}
	if cqerrors.IsRetryable(errors.New("plain")) {
		t.Error("plain errors should not be retryable")
	}
}
