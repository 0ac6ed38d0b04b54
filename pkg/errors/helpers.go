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
	"errors"
	"fmt"
)

// Wrap creates a new error that wraps the given error with additional context.
// If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf creates a new error that wraps the given error with formatted context.
// If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target type.
//
// Usage:
//
//	var failure *ProcessFailure
//	if errors.As(err, &failure) {
//	    log.Printf("stderr: %s", failure.Stderr)
//	}
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Kind returns the error kind of the first classified error in err's
// chain. Unclassified errors are reported as internal.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var classified ErrorClassifier
	if errors.As(err, &classified) {
		return classified.ErrorType()
	}
	return KindInternal
}

// IsRetryable reports whether the first classified error in err's chain
// may succeed on retry.
func IsRetryable(err error) bool {
	var classified ErrorClassifier
	if errors.As(err, &classified) {
		return classified.IsRetryable()
	}
	return false
}

// SuggestionFor returns the actionable hint carried by err, if any.
func SuggestionFor(err error) string {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Suggestion
	}
	var visible UserVisibleError
	if errors.As(err, &visible) {
		return visible.Suggestion()
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		switch {
		case timeout.Queued:
			return "all process slots are busy; call terminate_abandoned or raise codeql.max_concurrent"
		case timeout.PID > 0:
			return "the process is still running; call terminate_abandoned to stop it"
		}
	}
	var launch *LaunchError
	if errors.As(err, &launch) {
		return "install the CodeQL CLI or set CODEQL_PATH to its location"
	}
	var protocol *ProtocolError
	if errors.As(err, &protocol) {
		return "call restart_query_server to start a fresh query server"
	}
	return ""
}
