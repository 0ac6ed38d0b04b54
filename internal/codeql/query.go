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

package codeql

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tombee/codeql-mcp/internal/log"
	"github.com/tombee/codeql-mcp/internal/queryserver"
	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// EvaluateQueryParams are the inputs of evaluate_query.
type EvaluateQueryParams struct {
	QueryPath  string
	DBPath     string
	OutputPath string
	Timeout    time.Duration
}

// TestPredicateParams are the inputs of test_predicate.
type TestPredicateParams struct {
	File       string
	DBPath     string
	Symbol     string
	OutputPath string
}

// DecodeParams are the inputs of decode_bqrs.
type DecodeParams struct {
	Path   string
	Format string
	Filter string
}

// EvaluateQuery compile-checks a query and evaluates it against a
// database, returning the path of the results file.
func (s *Service) EvaluateQuery(ctx context.Context, p EvaluateQueryParams) (string, error) {
	query, err := ValidateQueryFile(s.paths, p.QueryPath)
	if err != nil {
		return "", err
	}
	db, err := s.paths.ResolveExisting("db_path", p.DBPath, "Database path")
	if err != nil {
		return "", err
	}
	output, err := s.outputPath("output_path", p.OutputPath, "eval.bqrs")
	if err != nil {
		return "", err
	}

	if _, err := s.run(ctx, "query compile", s.timeouts.CompileCheck, "query", "compile", query, "--check-only"); err != nil {
		return "", cqerrors.Wrap(err, "Query validation failed")
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = s.timeouts.Query
	}
	res, err := s.qs.RunQuery(ctx, query, db, output, timeout)
	if err != nil {
		return "", cqerrors.Wrap(err, "CodeQL evaluation failed")
	}

	s.logger.Info("query evaluated",
		log.DatabaseKey, db,
		"query", query,
		"evaluation_ms", res.EvaluationTime,
	)
	return output, nil
}

// TestPredicate quick-evaluates one class or predicate of a query file.
func (s *Service) TestPredicate(ctx context.Context, p TestPredicateParams) (string, error) {
	file, err := ValidateQueryFile(s.paths, p.File)
	if err != nil {
		return "", err
	}
	db, err := s.paths.ResolveExisting("db", p.DBPath, "Database path")
	if err != nil {
		return "", err
	}
	if p.Symbol == "" {
		return "", &cqerrors.ValidationError{Field: "symbol", Message: "symbol is required"}
	}
	output, err := s.outputPath("output_path", p.OutputPath, "quickeval.bqrs")
	if err != nil {
		return "", err
	}

	pos, err := queryserver.FindSymbolPosition(file, p.Symbol)
	if err != nil {
		return "", &cqerrors.ValidationError{Field: "symbol", Message: err.Error()}
	}

	if _, err := s.qs.QuickEvaluate(ctx, file, db, output, pos, s.timeouts.Query); err != nil {
		return "", cqerrors.Wrap(err, "CodeQL evaluation failed")
	}
	return output, nil
}

// DecodeBQRS converts a results file to text. With a filter, the JSON
// output is passed through jq and returned as indented JSON.
func (s *Service) DecodeBQRS(ctx context.Context, p DecodeParams) (string, error) {
	if err := ValidateDecodeFormat(p.Format); err != nil {
		return "", err
	}
	if p.Filter != "" {
		if p.Format != "json" {
			return "", &cqerrors.ValidationError{
				Field:   "filter",
				Message: "a filter can only be applied to json output",
			}
		}
		if err := s.jq.Validate(p.Filter); err != nil {
			return "", err
		}
	}
	path, err := s.paths.ResolveExisting("path", p.Path, "BQRS file")
	if err != nil {
		return "", err
	}

	res, err := s.run(ctx, "bqrs decode", s.timeouts.Short, "bqrs", "decode", "--format="+p.Format, path)
	if err != nil {
		return "", err
	}
	if p.Filter == "" {
		return res.Stdout, nil
	}

	filtered, err := s.jq.Apply(ctx, p.Filter, []byte(res.Stdout))
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(filtered, "", "  ")
	if err != nil {
		return "", &cqerrors.InternalError{Message: "encode filtered results", Cause: err}
	}
	return string(out), nil
}
