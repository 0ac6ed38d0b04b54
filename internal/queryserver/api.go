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

package queryserver

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// Query server methods used by the API.
const (
	MethodRegisterDatabases   = "evaluation/registerDatabases"
	MethodDeregisterDatabases = "evaluation/deregisterDatabases"
	MethodRunQuery            = "evaluation/runQuery"
)

// Result types reported by evaluation/runQuery.
const (
	ResultSuccess      = 0
	ResultOtherError   = 1
	ResultOOM          = 2
	ResultTimeout      = 3
	ResultCancellation = 4
	ResultDBScheme     = 5
	ResultDBSchemeNone = 6
)

// ClientSource hands out a usable client. *Supervisor implements it.
type ClientSource interface {
	Acquire(ctx context.Context) (*Client, error)
}

// Position is a source range in a .ql file, 1-based.
type Position struct {
	FileName  string `json:"fileName"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	EndLine   int    `json:"endLine"`
	EndColumn int    `json:"endColumn"`
}

// RunQueryResult is the body of an evaluation/runQuery response.
type RunQueryResult struct {
	ResultType     int     `json:"resultType"`
	Message        string  `json:"message,omitempty"`
	EvaluationTime float64 `json:"evaluationTime,omitempty"`
}

// Succeeded reports whether the evaluation completed.
func (r *RunQueryResult) Succeeded() bool {
	return r.ResultType == ResultSuccess
}

// API wraps the query server's methods with typed parameters. Every path
// is made absolute before it is sent.
type API struct {
	source ClientSource

	// ShortTimeout bounds registration calls.
	ShortTimeout time.Duration

	// OnProgress, if set, receives progress for every call.
	OnProgress ProgressListener
}

// NewAPI creates an API that acquires clients from source.
func NewAPI(source ClientSource, shortTimeout time.Duration) *API {
	if shortTimeout <= 0 {
		shortTimeout = 2 * time.Minute
	}
	return &API{source: source, ShortTimeout: shortTimeout}
}

// RegisterDatabases makes databases available for evaluation.
func (a *API) RegisterDatabases(ctx context.Context, dbs []string) error {
	return a.databases(ctx, MethodRegisterDatabases, dbs)
}

// DeregisterDatabases releases databases previously registered.
func (a *API) DeregisterDatabases(ctx context.Context, dbs []string) error {
	return a.databases(ctx, MethodDeregisterDatabases, dbs)
}

func (a *API) databases(ctx context.Context, method string, dbs []string) error {
	abs, err := absAll(dbs)
	if err != nil {
		return err
	}
	body := map[string]any{"databases": abs}
	_, err = a.call(ctx, method, body, a.ShortTimeout)
	return err
}

// RunQuery evaluates a whole query against db, writing results to output.
func (a *API) RunQuery(ctx context.Context, query, db, output string, timeout time.Duration) (*RunQueryResult, error) {
	return a.runQuery(ctx, query, db, output, map[string]any{"query": map[string]any{}}, timeout)
}

// QuickEvaluate evaluates the symbol at pos in query against db.
func (a *API) QuickEvaluate(ctx context.Context, query, db, output string, pos Position, timeout time.Duration) (*RunQueryResult, error) {
	if pos.FileName == "" {
		pos.FileName = query
	}
	file, err := filepath.Abs(pos.FileName)
	if err != nil {
		return nil, &cqerrors.ValidationError{Field: "file", Message: err.Error()}
	}
	pos.FileName = file
	target := map[string]any{"quickEval": map[string]any{"quickEvalPos": pos}}
	return a.runQuery(ctx, query, db, output, target, timeout)
}

func (a *API) runQuery(ctx context.Context, query, db, output string, target map[string]any, timeout time.Duration) (*RunQueryResult, error) {
	paths, err := absAll([]string{query, db, output})
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"queryPath":  paths[0],
		"db":         paths[1],
		"outputPath": paths[2],
		"target":     target,
	}

	raw, err := a.call(ctx, MethodRunQuery, body, timeout)
	if err != nil {
		return nil, err
	}

	var res RunQueryResult
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, &cqerrors.ProtocolError{Message: "decode runQuery result", Line: string(raw), Cause: err}
		}
	}
	if !res.Succeeded() {
		return &res, &cqerrors.RPCError{
			Method:  MethodRunQuery,
			Code:    int64(res.ResultType),
			Message: resultMessage(&res),
		}
	}
	return &res, nil
}

// call acquires a client, attaches a progress ID, and routes progress for
// the duration of the call.
func (a *API) call(ctx context.Context, method string, body map[string]any, timeout time.Duration) (json.RawMessage, error) {
	client, err := a.source.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	progressID := client.NewProgressID()
	if a.OnProgress != nil {
		cancel := client.WatchProgress(progressID, a.OnProgress)
		defer cancel()
	}

	params := map[string]any{
		"body":       body,
		"progressId": progressID,
	}
	return client.Call(ctx, method, params, timeout)
}

func resultMessage(res *RunQueryResult) string {
	if res.Message != "" {
		return res.Message
	}
	switch res.ResultType {
	case ResultOOM:
		return "evaluation ran out of memory"
	case ResultTimeout:
		return "evaluation timed out"
	case ResultCancellation:
		return "evaluation was cancelled"
	case ResultDBScheme, ResultDBSchemeNone:
		return "query and database schemes do not match"
	default:
		return fmt.Sprintf("evaluation failed with result type %d", res.ResultType)
	}
}

func absAll(paths []string) ([]string, error) {
	out := make([]string, len(paths))
	for i, p := range paths {
		if p == "" {
			return nil, &cqerrors.ValidationError{Field: "path", Message: "path is empty"}
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, &cqerrors.ValidationError{Field: "path", Message: err.Error()}
		}
		out[i] = abs
	}
	return out, nil
}
