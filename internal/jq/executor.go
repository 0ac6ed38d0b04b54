// Package jq evaluates jq filters over JSON documents produced by codeql,
// such as decoded result sets and SARIF logs.
package jq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/itchyny/gojq"

	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

const (
	// DefaultTimeout bounds a single filter evaluation
	DefaultTimeout = 5 * time.Second

	// DefaultMaxInputSize is the largest document a filter may read (64MB)
	DefaultMaxInputSize = 64 * 1024 * 1024
)

// Executor evaluates jq filters with a timeout and an input size limit.
type Executor struct {
	timeout      time.Duration
	maxInputSize int64
}

// NewExecutor creates an executor. Zero values select the defaults.
func NewExecutor(timeout time.Duration, maxInputSize int64) *Executor {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}

	return &Executor{
		timeout:      timeout,
		maxInputSize: maxInputSize,
	}
}

// Compile parses and compiles a filter. Syntax errors are reported as
// validation errors on the "filter" field.
func (e *Executor) Compile(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, &cqerrors.ValidationError{
			Field:      "filter",
			Message:    fmt.Sprintf("invalid jq filter: %v", err),
			Suggestion: "check the filter with `jq` locally, e.g. '.#select.tuples | length'",
		}
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, &cqerrors.ValidationError{
			Field:   "filter",
			Message: fmt.Sprintf("jq compilation failed: %v", err),
		}
	}
	return code, nil
}

// Run evaluates code against input and collects every emitted value.
func (e *Executor) Run(ctx context.Context, code *gojq.Code, input any) ([]any, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var out []any
	iter := code.RunWithContext(runCtx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			if runCtx.Err() != nil {
				return nil, &cqerrors.TimeoutError{Operation: "jq filter", Duration: e.timeout, Cause: err}
			}
			return nil, fmt.Errorf("jq: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Apply decodes raw JSON and evaluates expression against it. A single
// result is returned as is, several as a slice, none as nil. An empty
// expression returns the decoded document.
func (e *Executor) Apply(ctx context.Context, expression string, raw []byte) (any, error) {
	if int64(len(raw)) > e.maxInputSize {
		return nil, &cqerrors.ValidationError{
			Field:   "filter",
			Message: fmt.Sprintf("input size (%d bytes) exceeds maximum (%d bytes)", len(raw), e.maxInputSize),
		}
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode jq input: %w", err)
	}
	if expression == "" {
		return doc, nil
	}

	code, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	results, err := e.Run(ctx, code, doc)
	if err != nil {
		return nil, err
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// Validate reports whether expression compiles.
func (e *Executor) Validate(expression string) error {
	if expression == "" {
		return nil
	}
	_, err := e.Compile(expression)
	return err
}
