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
	"strings"
	"testing"

	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

func TestWrap(t *testing.T) {
	t.Run("wraps error with context", func(t *testing.T) {
		original := errors.New("original error")
		wrapped := cqerrors.Wrap(original, "additional context")

		if wrapped == nil {
			t.Fatal("Wrap should not return nil for non-nil error")
		}
		if !strings.Contains(wrapped.Error(), "additional context") {
			t.Errorf("wrapped error should contain context, got: %s", wrapped)
		}
		if !errors.Is(wrapped, original) {
			t.Error("wrapped error should match original with errors.Is")
		}
	})

	t.Run("returns nil for nil error", func(t *testing.T) {
		if wrapped := cqerrors.Wrap(nil, "context"); wrapped != nil {
			t.Errorf("Wrap(nil, _) should return nil, got: %v", wrapped)
		}
	})
}

func TestWrapf(t *testing.T) {
	original := errors.New("permission denied")
	wrapped := cqerrors.Wrapf(original, "creating %s", "/tmp/codeql-mcp")
	if got := wrapped.Error(); got != "creating /tmp/codeql-mcp: permission denied" {
		t.Errorf("unexpected message: %q", got)
	}
	if cqerrors.Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestAs(t *testing.T) {
	err := cqerrors.Wrap(&cqerrors.ProcessFailure{ExitCode: 3, Stderr: "boom"}, "decode")

	var failure *cqerrors.ProcessFailure
	if !cqerrors.As(err, &failure) {
		t.Fatal("As should find ProcessFailure in chain")
	}
	if failure.Stderr != "boom" {
		t.Errorf("unexpected stderr %q", failure.Stderr)
	}
}

func TestSuggestionFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "validation suggestion",
			err:  &cqerrors.ValidationError{Message: "m", Suggestion: "use json"},
			want: "use json",
		},
		{
			name: "abandoned process",
			err:  &cqerrors.TimeoutError{Operation: "op", PID: 12},
			want: "terminate_abandoned",
		},
		{
			name: "queued for a slot",
			err:  &cqerrors.TimeoutError{Operation: "op", Queued: true},
			want: "max_concurrent",
		},
		{
			name: "launch",
			err:  &cqerrors.LaunchError{Binary: "codeql"},
			want: "CODEQL_PATH",
		},
		{
			name: "protocol",
			err:  &cqerrors.ProtocolError{Message: "dead"},
			want: "restart_query_server",
		},
		{
			name: "none",
			err:  errors.New("plain"),
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cqerrors.SuggestionFor(tt.err)
			if tt.want == "" {
				if got != "" {
					t.Errorf("expected no suggestion, got %q", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("SuggestionFor() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}
