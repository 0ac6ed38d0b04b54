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
	"errors"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// PackInfo is an installed query pack and its standard suites.
type PackInfo struct {
	Pack   string   `json:"pack"`
	Suites []string `json:"suites"`
}

// PackListing is the result of list_query_packs.
type PackListing struct {
	Packs   map[string]PackInfo `json:"packs,omitempty"`
	Error   string              `json:"error,omitempty"`
	Message string              `json:"message,omitempty"`
}

// QueryInfo identifies one query found by discovery.
type QueryInfo struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Filename string `json:"filename"`
}

// DiscoverParams are the inputs of discover_queries.
type DiscoverParams struct {
	PackName string
	Language string
	Category string
}

// SecurityQueryParams are the inputs of find_security_queries.
type SecurityQueryParams struct {
	VulnerabilityType string
	Language          string
	DBPath            string
}

// ListSupportedLanguages returns the languages the CLI has extractors for.
func (s *Service) ListSupportedLanguages(ctx context.Context) ([]string, error) {
	res, err := s.run(ctx, "resolve languages", s.timeouts.Short, "resolve", "languages")
	if err != nil {
		return nil, err
	}

	languages := []string{}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			languages = append(languages, fields[0])
		}
	}
	return languages, nil
}

// ListQueryPacks returns installed codeql/<lang>-queries packs keyed by
// display language. When the CLI cannot list packs the standard pack
// names are returned with an explanatory error.
func (s *Service) ListQueryPacks(ctx context.Context) (*PackListing, error) {
	res, err := s.run(ctx, "resolve packs", s.timeouts.Short, "resolve", "packs", "--kind=query")
	if err != nil {
		var failure *cqerrors.ProcessFailure
		if !errors.As(err, &failure) {
			return nil, err
		}
		s.logger.Warn("could not list query packs; using defaults", "error", err)
		listing := &PackListing{
			Error: "Could not dynamically list packs, using defaults",
			Packs: make(map[string]PackInfo, len(defaultPacks)),
		}
		for lang, pack := range defaultPacks {
			listing.Packs[lang] = PackInfo{Pack: pack, Suites: suitesFor(pack, lang)}
		}
		return listing, nil
	}

	listing := &PackListing{Packs: parsePackList(res.Stdout)}
	if len(listing.Packs) == 0 {
		listing.Packs = nil
		listing.Message = "No query packs found. Install CodeQL packs first."
	}
	return listing, nil
}

// parsePackList extracts codeql/<lang>-queries names from resolve packs
// output. Versions are dropped.
func parsePackList(out string) map[string]PackInfo {
	packs := make(map[string]PackInfo)
	for _, line := range strings.Split(out, "\n") {
		for _, field := range strings.Fields(line) {
			name, _, _ := strings.Cut(field, "(")
			name = strings.Trim(name, ":,")
			name, _, _ = strings.Cut(name, "@")
			if !strings.HasPrefix(name, "codeql/") || !strings.HasSuffix(name, "-queries") {
				continue
			}
			lang := strings.TrimSuffix(strings.TrimPrefix(name, "codeql/"), "-queries")
			if lang == "" {
				continue
			}
			packs[DisplayLanguage(lang)] = PackInfo{Pack: name, Suites: suitesFor(name, lang)}
			break
		}
	}
	return packs
}

// DiscoverQueries lists the queries of a pack, or of a language's
// standard pack, optionally narrowed by category. A category matches as
// a case-insensitive substring of the query path, or as a doublestar
// glob when it contains glob characters.
func (s *Service) DiscoverQueries(ctx context.Context, p DiscoverParams) ([]QueryInfo, error) {
	var pack string
	switch {
	case p.PackName != "":
		if err := ValidatePackRef("pack_name", p.PackName); err != nil {
			return nil, err
		}
		pack = p.PackName
	case p.Language != "":
		lang, err := ValidateLanguage(p.Language)
		if err != nil {
			return nil, err
		}
		pack = QueryPack(lang)
	default:
		return nil, &cqerrors.ValidationError{
			Field:   "pack_name",
			Message: "specify either language or pack name",
		}
	}
	if p.Category != "" {
		if err := ValidateCategory(p.Category); err != nil {
			return nil, err
		}
	}

	res, err := s.run(ctx, "resolve queries", s.timeouts.Short, "resolve", "queries", "--format=bylanguage", pack)
	if err != nil {
		return nil, err
	}
	queries, err := parseQueriesByLanguage(res.Stdout)
	if err != nil {
		return nil, err
	}

	if p.Category == "" {
		return queries, nil
	}
	filtered := []QueryInfo{}
	for _, q := range queries {
		if matchesCategory(p.Category, q.Path) {
			filtered = append(filtered, q)
		}
	}
	return filtered, nil
}

// parseQueriesByLanguage reads --format=bylanguage output:
// {"byLanguage": {"python": {"/path/Query.ql": {}, ...}}}.
func parseQueriesByLanguage(out string) ([]QueryInfo, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, &cqerrors.InternalError{Message: "parse resolve queries output", Cause: err}
	}
	if inner, ok := raw["byLanguage"]; ok {
		raw = nil
		if err := json.Unmarshal(inner, &raw); err != nil {
			return nil, &cqerrors.InternalError{Message: "parse resolve queries output", Cause: err}
		}
	}

	queries := []QueryInfo{}
	for _, lang := range sortedKeys(raw) {
		var byPath map[string]json.RawMessage
		if err := json.Unmarshal(raw[lang], &byPath); err != nil {
			continue
		}
		for _, p := range sortedKeys(byPath) {
			queries = append(queries, QueryInfo{
				Path:     p,
				Language: lang,
				Filename: path.Base(strings.ReplaceAll(p, "\\", "/")),
			})
		}
	}
	return queries, nil
}

func matchesCategory(category, queryPath string) bool {
	if isGlob(category) {
		slashPath := strings.ReplaceAll(queryPath, "\\", "/")
		if ok, _ := doublestar.Match(category, slashPath); ok {
			return true
		}
		ok, _ := doublestar.Match("**/"+category, slashPath)
		return ok
	}
	return strings.Contains(strings.ToLower(queryPath), strings.ToLower(category))
}

// FindSecurityQueries groups a language's security queries by
// vulnerability type. The language may come from a database instead.
func (s *Service) FindSecurityQueries(ctx context.Context, p SecurityQueryParams) (map[string][]QueryInfo, error) {
	var vulnType string
	if p.VulnerabilityType != "" {
		v, err := ValidateVulnerabilityType(p.VulnerabilityType)
		if err != nil {
			return nil, err
		}
		vulnType = v
	}

	language := p.Language
	if language == "" && p.DBPath != "" {
		info, err := s.GetDatabaseInfo(ctx, p.DBPath)
		if err != nil {
			return nil, err
		}
		if info.Language == "" {
			return nil, &cqerrors.ValidationError{Field: "db_path", Message: "Could not determine language from database"}
		}
		language = info.Language
	}
	if language == "" {
		return nil, &cqerrors.ValidationError{
			Field:   "language",
			Message: "Either language or db_path must be specified",
		}
	}

	queries, err := s.DiscoverQueries(ctx, DiscoverParams{Language: language, Category: "security"})
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]QueryInfo)
	types := VulnerabilityTypes()
	if vulnType != "" {
		types = []string{vulnType}
	}
	for _, q := range queries {
		for _, t := range types {
			if matchesVulnerability(t, q.Path, q.Filename) {
				grouped[t] = append(grouped[t], q)
			}
		}
	}
	for _, list := range grouped {
		sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
	}
	return grouped, nil
}
