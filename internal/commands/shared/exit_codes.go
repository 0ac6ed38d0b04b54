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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailed       = 1
	ExitConfigError  = 2
	ExitLaunchError  = 3
	ExitChecksFailed = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates an error for configuration that cannot be loaded
// or is invalid.
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitConfigError, Message: msg, Cause: cause}
}

// NewLaunchError creates an error for a codeql binary that cannot be run.
func NewLaunchError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitLaunchError, Message: msg, Cause: cause}
}

// NewChecksFailedError creates an error for doctor checks that failed.
func NewChecksFailedError(msg string) *ExitError {
	return &ExitError{Code: ExitChecksFailed, Message: msg}
}

// ExitCode returns the exit code for err. Unwrapped taxonomy errors map
// by kind; everything else exits with ExitFailed.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch cqerrors.Kind(err) {
	case cqerrors.KindConfig:
		return ExitConfigError
	case cqerrors.KindLaunch:
		return ExitLaunchError
	default:
		return ExitFailed
	}
}

// WriteExitError prints err and its suggestion, if any, to w and returns
// the exit code.
func WriteExitError(w io.Writer, err error) int {
	if err == nil {
		return ExitSuccess
	}
	if msg := err.Error(); msg != "" {
		fmt.Fprintln(w, "Error:", msg)
	}
	if hint := cqerrors.SuggestionFor(err); hint != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", hint)
	}
	return ExitCode(err)
}

// HandleExitError prints err to stderr and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(WriteExitError(os.Stderr, err))
}
