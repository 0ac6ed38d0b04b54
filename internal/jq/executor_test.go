package jq

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

const decoded = `{"#select":{"columns":[{"name":"f","kind":"String"}],"tuples":[["a.py"],["b.py"]]}}`

func TestExecutor_Apply(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		input      string
		want       any
		wantErr    bool
	}{
		{
			name:       "empty expression returns document",
			expression: "",
			input:      `{"foo":"bar"}`,
			want:       map[string]any{"foo": "bar"},
		},
		{
			name:       "field extraction",
			expression: ".foo",
			input:      `{"foo":"bar"}`,
			want:       "bar",
		},
		{
			name:       "tuple count",
			expression: `.["#select"].tuples | length`,
			input:      decoded,
			want:       2,
		},
		{
			name:       "multiple results become a slice",
			expression: `.["#select"].tuples[][0]`,
			input:      decoded,
			want:       []any{"a.py", "b.py"},
		},
		{
			name:       "no results",
			expression: "empty",
			input:      decoded,
			want:       nil,
		},
		{
			name:       "invalid expression",
			expression: ".[",
			input:      `{}`,
			wantErr:    true,
		},
		{
			name:       "invalid input",
			expression: ".",
			input:      `{`,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := NewExecutor(DefaultTimeout, DefaultMaxInputSize)
			got, err := executor.Apply(context.Background(), tt.expression, []byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Apply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Apply() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestExecutor_CompileErrorIsValidation(t *testing.T) {
	executor := NewExecutor(0, 0)

	_, err := executor.Compile(".[")
	var valErr *cqerrors.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("Compile() error = %v, want *ValidationError", err)
	}
	if valErr.Field != "filter" {
		t.Errorf("Field = %q, want filter", valErr.Field)
	}
}

func TestExecutor_Validate(t *testing.T) {
	executor := NewExecutor(DefaultTimeout, DefaultMaxInputSize)

	if err := executor.Validate(""); err != nil {
		t.Errorf("Validate(\"\") = %v", err)
	}
	if err := executor.Validate(".runs[].results | length"); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	if err := executor.Validate(".["); err == nil {
		t.Error("Validate() expected error for .[")
	}
}

func TestExecutor_InputSizeLimit(t *testing.T) {
	executor := NewExecutor(DefaultTimeout, 8)

	_, err := executor.Apply(context.Background(), ".", []byte(`{"foo":"bar"}`))
	if err == nil {
		t.Fatal("Apply() expected size error")
	}
}

func TestExecutor_Timeout(t *testing.T) {
	executor := NewExecutor(100*time.Millisecond, DefaultMaxInputSize)

	_, err := executor.Apply(context.Background(), "while(true; . + 1)", []byte(`0`))
	var timeoutErr *cqerrors.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Errorf("Apply() error = %v, want *TimeoutError", err)
	}
}
