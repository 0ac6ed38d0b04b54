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
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// Output formats accepted by bqrs decode and database analyze.
var (
	DecodeFormats  = []string{"json", "csv", "text"}
	AnalyzeFormats = []string{"sarif-latest", "sarifv2.1.0", "sarif", "csv"}
)

var (
	packRefPattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]*/[a-z0-9][a-z0-9_\-]*(@[A-Za-z0-9.\-+~^*<>=]+)?(:[A-Za-z0-9_\-./]+)?$`)
	categoryPattern = regexp.MustCompile(`^[A-Za-z0-9_\-/*.]+$`)
)

// ValidateLanguage checks language against the whitelist and returns its
// normalized form.
func ValidateLanguage(language string) (string, error) {
	lang := strings.ToLower(language)
	if _, ok := queryPackLanguages[lang]; !ok {
		return "", &cqerrors.ValidationError{
			Field:      "language",
			Message:    fmt.Sprintf("Unsupported language: %s", language),
			Suggestion: "supported languages: " + strings.Join(SupportedLanguages(), ", "),
		}
	}
	return lang, nil
}

// ValidateDecodeFormat checks a bqrs decode format.
func ValidateDecodeFormat(format string) error {
	return validateEnum("format", format, DecodeFormats)
}

// ValidateAnalyzeFormat checks a database analyze output format.
func ValidateAnalyzeFormat(format string) error {
	return validateEnum("output_format", format, AnalyzeFormats)
}

// ValidateVulnerabilityType checks a vulnerability type and returns its
// normalized form.
func ValidateVulnerabilityType(vulnType string) (string, error) {
	v := strings.ToLower(vulnType)
	if _, ok := vulnerabilityPatterns[v]; !ok {
		return "", &cqerrors.ValidationError{
			Field:      "vulnerability_type",
			Message:    fmt.Sprintf("Unknown vulnerability type: %s", vulnType),
			Suggestion: "known types: " + strings.Join(VulnerabilityTypes(), ", "),
		}
	}
	return v, nil
}

// ValidatePackRef checks a pack reference of the form
// scope/name[@version][:path].
func ValidatePackRef(field, ref string) error {
	if !packRefPattern.MatchString(ref) || strings.Contains(ref, "..") {
		return &cqerrors.ValidationError{
			Field:      field,
			Message:    fmt.Sprintf("invalid query pack reference: %q", ref),
			Suggestion: "use scope/name[@version][:path], e.g. codeql/python-queries",
		}
	}
	return nil
}

// ValidateCategory checks a discovery category, which may be a glob.
func ValidateCategory(category string) error {
	if !categoryPattern.MatchString(category) || !doublestar.ValidatePattern(category) {
		return &cqerrors.ValidationError{
			Field:   "category",
			Message: fmt.Sprintf("invalid category: %q", category),
		}
	}
	return nil
}

func validateEnum(field, value string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return &cqerrors.ValidationError{
		Field:      field,
		Message:    fmt.Sprintf("unsupported %s: %q", field, value),
		Suggestion: "use one of: " + strings.Join(allowed, ", "),
	}
}

// PathPolicy resolves user supplied paths. When Allowed is non-empty a
// resolved path must lie under one of its directories or match one of
// its doublestar patterns.
type PathPolicy struct {
	Allowed []string
}

// Resolve cleans path, rejects traversal, and returns it absolute with
// symlinks resolved where the path exists.
func (p PathPolicy) Resolve(field, path string) (string, error) {
	if path == "" {
		return "", &cqerrors.ValidationError{Field: field, Message: "path is empty"}
	}
	if strings.ContainsRune(path, 0) {
		return "", &cqerrors.ValidationError{Field: field, Message: "path contains a NUL byte"}
	}
	// Paths may be passed to codeql as given, where a leading dash would
	// be parsed as an option.
	if strings.HasPrefix(path, "-") {
		return "", &cqerrors.ValidationError{
			Field:      field,
			Message:    "path must not start with '-'",
			Suggestion: "prefix relative paths with ./",
		}
	}
	if hasTraversal(path) {
		return "", &cqerrors.ValidationError{
			Field:   field,
			Message: "path contains directory traversal sequence (..)",
		}
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", &cqerrors.ValidationError{Field: field, Message: fmt.Sprintf("failed to resolve path: %v", err)}
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", &cqerrors.ValidationError{Field: field, Message: fmt.Sprintf("failed to resolve symlinks: %v", err)}
		}
		resolved = abs
	}

	if !p.allows(resolved) {
		return "", &cqerrors.ValidationError{
			Field:      field,
			Message:    fmt.Sprintf("path is outside the allowed paths: %s", resolved),
			Suggestion: "add a matching entry to codeql.allowed_paths",
		}
	}
	return resolved, nil
}

// ResolveExisting resolves path and requires it to exist.
func (p PathPolicy) ResolveExisting(field, path, what string) (string, error) {
	resolved, err := p.Resolve(field, path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(resolved); err != nil {
		return "", &cqerrors.ValidationError{Field: field, Message: fmt.Sprintf("%s does not exist: %s", what, path)}
	}
	return resolved, nil
}

func (p PathPolicy) allows(path string) bool {
	if len(p.Allowed) == 0 {
		return true
	}
	slashPath := filepath.ToSlash(path)
	for _, entry := range p.Allowed {
		if isGlob(entry) {
			if ok, err := doublestar.Match(filepath.ToSlash(entry), slashPath); err == nil && ok {
				return true
			}
			continue
		}
		dir, err := filepath.Abs(entry)
		if err != nil {
			continue
		}
		if isPathWithinDir(path, dir) {
			return true
		}
	}
	return false
}

func isGlob(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

func hasTraversal(path string) bool {
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return true
		}
	}
	return false
}

// isPathWithinDir checks if path is within or equal to dir.
func isPathWithinDir(path, dir string) bool {
	path = filepath.Clean(path)
	dir = filepath.Clean(dir)
	if path == dir {
		return true
	}
	return strings.HasPrefix(path+string(filepath.Separator), dir+string(filepath.Separator))
}

// ValidateQueryFile checks that a query file exists and is a .ql file.
func ValidateQueryFile(policy PathPolicy, path string) (string, error) {
	resolved, err := policy.Resolve("query_path", path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(resolved); err != nil {
		return "", &cqerrors.ValidationError{Field: "query_path", Message: fmt.Sprintf("Query file not found: %s", path)}
	}
	if ext := filepath.Ext(resolved); ext != ".ql" {
		return "", &cqerrors.ValidationError{
			Field:   "query_path",
			Message: fmt.Sprintf("Query file must have .ql extension, got: %s", ext),
		}
	}
	return resolved, nil
}

// ValidateDatabaseDir checks that path is a database directory holding a
// source archive.
func ValidateDatabaseDir(policy PathPolicy, path string) (string, error) {
	resolved, err := policy.Resolve("db_path", path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return "", &cqerrors.ValidationError{Field: "db_path", Message: fmt.Sprintf("Database path does not exist: %s", path)}
	}
	if _, err := os.Stat(filepath.Join(resolved, "src.zip")); err != nil {
		return "", &cqerrors.ValidationError{
			Field:      "db_path",
			Message:    fmt.Sprintf("Missing required src.zip in: %s", path),
			Suggestion: "create the database with create_database before registering it",
		}
	}
	return resolved, nil
}
