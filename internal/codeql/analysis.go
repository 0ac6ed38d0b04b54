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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/codeql-mcp/internal/log"
	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// AnalyzeParams are the inputs of analyze_database.
type AnalyzeParams struct {
	DBPath       string
	QueryOrSuite string
	OutputFormat string
	OutputPath   string
}

// ScanParams are the inputs of run_security_scan.
type ScanParams struct {
	DBPath     string
	Language   string
	OutputPath string
}

// AnalysisResult reports where analysis results were written.
type AnalysisResult struct {
	Message    string         `json:"message"`
	OutputPath string         `json:"output_path"`
	Suite      string         `json:"suite,omitempty"`
	Summary    map[string]any `json:"summary,omitempty"`
}

// formatExtensions maps an analyze format to its output file extension.
var formatExtensions = map[string]string{
	"sarif-latest": ".sarif",
	"sarifv2.1.0":  ".sarif",
	"sarif":        ".sarif",
	"csv":          ".csv",
}

// sarifSummary counts results per rule and per level across all runs.
const sarifSummary = `{
  runs: (.runs | length),
  results: ([.runs[].results[]?] | length),
  by_rule: ([.runs[].results[]? | (.ruleId // .rule.id // "unknown")]
    | group_by(.) | map({rule: .[0], count: length}) | sort_by(-.count)),
  by_level: ([.runs[].results[]? | (.level // "warning")]
    | group_by(.) | map({key: .[0], value: length}) | from_entries)
}`

// AnalyzeDatabase runs a query, suite or pack against a database.
func (s *Service) AnalyzeDatabase(ctx context.Context, p AnalyzeParams) (*AnalysisResult, error) {
	format := p.OutputFormat
	if format == "" {
		format = "sarif-latest"
	}
	if err := ValidateAnalyzeFormat(format); err != nil {
		return nil, err
	}
	db, err := s.paths.ResolveExisting("db_path", p.DBPath, "Database path")
	if err != nil {
		return nil, err
	}
	target, err := s.resolveQueryOrSuite(p.QueryOrSuite)
	if err != nil {
		return nil, err
	}
	base, err := s.outputPath("output_path", p.OutputPath, "analysis")
	if err != nil {
		return nil, err
	}

	output := base + formatExtensions[format]
	if err := s.analyze(ctx, db, target, format, output); err != nil {
		return nil, err
	}

	result := &AnalysisResult{
		Message:    fmt.Sprintf("Analysis completed. Results saved to: %s", output),
		OutputPath: output,
	}
	if strings.HasPrefix(format, "sarif") {
		result.Summary = s.summarizeSARIF(ctx, output)
	}
	return result, nil
}

// RunSecurityScan runs the security-extended suite for the database's
// language and writes SARIF.
func (s *Service) RunSecurityScan(ctx context.Context, p ScanParams) (*AnalysisResult, error) {
	db, err := s.paths.ResolveExisting("db_path", p.DBPath, "Database path")
	if err != nil {
		return nil, err
	}

	language := p.Language
	if language == "" {
		info, err := s.GetDatabaseInfo(ctx, p.DBPath)
		if err != nil {
			return nil, err
		}
		if info.Language == "" {
			return nil, &cqerrors.ValidationError{Field: "db_path", Message: "Could not determine language from database"}
		}
		language = info.Language
	}
	lang, err := ValidateLanguage(language)
	if err != nil {
		return nil, err
	}
	base, err := s.outputPath("output_path", p.OutputPath, "security-scan")
	if err != nil {
		return nil, err
	}

	listing, err := s.ListQueryPacks(ctx)
	if err != nil {
		return nil, err
	}
	packLang := queryPackLanguages[lang]
	info, ok := listing.Packs[DisplayLanguage(packLang)]
	if !ok {
		info, ok = listing.Packs[packLang]
	}
	if !ok || len(info.Suites) <= SuiteSecurityExtended {
		return nil, &cqerrors.ValidationError{
			Field:      "language",
			Message:    fmt.Sprintf("Unsupported language: %s. Supported: %s", language, strings.Join(sortedKeys(listing.Packs), ", ")),
			Suggestion: fmt.Sprintf("install the pack with `codeql pack download %s`", QueryPack(lang)),
		}
	}
	suite := info.Suites[SuiteSecurityExtended]

	output := base + ".sarif"
	if err := s.analyze(ctx, db, suite, "sarif-latest", output); err != nil {
		return nil, err
	}

	return &AnalysisResult{
		Message:    fmt.Sprintf("Security scan completed. Results saved to: %s", output),
		OutputPath: output,
		Suite:      suite,
		Summary:    s.summarizeSARIF(ctx, output),
	}, nil
}

func (s *Service) analyze(ctx context.Context, db, target, format, output string) error {
	_, err := s.run(ctx, "database analyze", s.timeouts.Analyze,
		"database", "analyze", db, target,
		"--format="+format,
		"--output="+output,
	)
	if err != nil {
		return err
	}
	s.logger.Info("analysis completed", log.DatabaseKey, db, "target", target, "output", output)
	return nil
}

// resolveQueryOrSuite accepts a pack reference or a local .ql/.qls file
// or query directory.
func (s *Service) resolveQueryOrSuite(value string) (string, error) {
	if value == "" {
		return "", &cqerrors.ValidationError{Field: "query_or_suite", Message: "query or suite is required"}
	}
	if packRefPattern.MatchString(value) && !strings.HasPrefix(value, ".") {
		if err := ValidatePackRef("query_or_suite", value); err != nil {
			return "", err
		}
		if _, err := os.Stat(value); err != nil {
			return value, nil
		}
	}

	resolved, err := s.paths.ResolveExisting("query_or_suite", value, "Query or suite")
	if err != nil {
		return "", err
	}
	st, err := os.Stat(resolved)
	if err != nil {
		return "", &cqerrors.ValidationError{Field: "query_or_suite", Message: err.Error()}
	}
	if !st.IsDir() {
		switch filepath.Ext(resolved) {
		case ".ql", ".qls":
		default:
			return "", &cqerrors.ValidationError{
				Field:   "query_or_suite",
				Message: fmt.Sprintf("expected a .ql or .qls file, got: %s", filepath.Ext(resolved)),
			}
		}
	}
	return resolved, nil
}

// summarizeSARIF returns rule and level counts for a SARIF log, or nil if
// the file cannot be summarized.
func (s *Service) summarizeSARIF(ctx context.Context, path string) map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Debug("no SARIF output to summarize", "path", path, "error", err)
		return nil
	}
	v, err := s.jq.Apply(ctx, sarifSummary, data)
	if err != nil {
		s.logger.Warn("failed to summarize SARIF", "path", path, "error", err)
		return nil
	}
	summary, _ := v.(map[string]any)
	return summary
}
