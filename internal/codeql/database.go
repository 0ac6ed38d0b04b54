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

	"gopkg.in/yaml.v3"

	"github.com/tombee/codeql-mcp/internal/log"
	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// CreateDatabaseParams are the inputs of create_database.
type CreateDatabaseParams struct {
	SourcePath string
	Language   string
	DBPath     string
	Command    string
	Overwrite  bool
}

// RegisterDatabase registers a database directory with the query server.
func (s *Service) RegisterDatabase(ctx context.Context, dbPath string) (string, error) {
	resolved, err := ValidateDatabaseDir(s.paths, dbPath)
	if err != nil {
		return "", err
	}
	if err := s.qs.RegisterDatabases(ctx, []string{resolved}); err != nil {
		return "", err
	}
	return fmt.Sprintf("Database registered: %s", dbPath), nil
}

// CreateDatabase extracts a database from a source tree. Paths are passed
// to codeql as given, relative to the server's working directory.
func (s *Service) CreateDatabase(ctx context.Context, p CreateDatabaseParams) (string, error) {
	lang, err := ValidateLanguage(p.Language)
	if err != nil {
		return "", err
	}
	if _, err := s.paths.ResolveExisting("source_path", p.SourcePath, "Source path"); err != nil {
		return "", err
	}
	resolvedDB, err := s.paths.Resolve("db_path", p.DBPath)
	if err != nil {
		return "", err
	}
	if strings.ContainsAny(p.Command, "\x00\r\n") {
		return "", &cqerrors.ValidationError{Field: "command", Message: "build command must be a single line"}
	}
	if strings.HasPrefix(p.Command, "-") {
		return "", &cqerrors.ValidationError{Field: "command", Message: "build command must not start with '-'"}
	}

	args := []string{"database", "create", p.DBPath, "--language=" + lang}
	if p.Command != "" {
		args = append(args, "--command", p.Command)
	}
	if p.Overwrite {
		args = append(args, "--overwrite")
	}
	args = append(args, "--source-root", p.SourcePath)

	if _, err := s.run(ctx, "database create", s.timeouts.CreateDatabase, args...); err != nil {
		return "", err
	}

	s.cache.Invalidate(resolvedDB)
	s.logger.Info("database created", log.DatabaseKey, resolvedDB, "language", lang)
	return fmt.Sprintf("Database created successfully at: %s", p.DBPath), nil
}

// GetDatabaseInfo returns the language and size of a database. Results
// are cached per (binary, resolved path); a miss costs one subprocess.
func (s *Service) GetDatabaseInfo(ctx context.Context, dbPath string) (*DatabaseInfo, error) {
	resolved, err := s.paths.ResolveExisting("db_path", dbPath, "Database path")
	if err != nil {
		return nil, err
	}

	return s.cache.Get(ctx, s.binary, resolved, func() (*DatabaseInfo, error) {
		// The load is shared with concurrent callers, so it must outlive
		// the caller that happened to start it.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeouts.Short)
		defer cancel()
		res, err := s.run(loadCtx, "resolve database", s.timeouts.Short, "resolve", "database", resolved)
		if err != nil {
			return nil, err
		}
		info := parseResolveDatabase(resolved, res.Stdout)
		applyDatabaseYAML(info, resolved)
		return info, nil
	})
}

// parseResolveDatabase reads `codeql resolve database` output, which is
// a JSON object on current CLIs and key: value lines on older ones.
func parseResolveDatabase(path, out string) *DatabaseInfo {
	info := &DatabaseInfo{Path: path}

	var doc any
	if err := yaml.Unmarshal([]byte(out), &doc); err == nil {
		switch v := doc.(type) {
		case map[string]any:
			info.Details = make(map[string]any)
			for key, value := range v {
				lk := strings.ToLower(key)
				switch {
				case lk == "languages":
					if langs, ok := value.([]any); ok && len(langs) > 0 && info.Language == "" {
						info.Language = fmt.Sprint(langs[0])
					}
					info.Details[key] = value
				case strings.Contains(lk, "language"):
					info.Language = fmt.Sprint(value)
				default:
					info.Details[key] = value
				}
			}
			if len(info.Details) == 0 {
				info.Details = nil
			}
			return info
		case string:
			if !strings.Contains(strings.TrimSpace(v), "\n") {
				info.Language = strings.TrimSpace(v)
				return info
			}
		}
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if key, value, ok := strings.Cut(line, ":"); ok {
			if strings.Contains(strings.ToLower(key), "language") {
				info.Language = strings.TrimSpace(value)
			}
			continue
		}
		if info.Language == "" {
			info.Language = line
		}
	}
	return info
}

// databaseYAML is the subset of codeql-database.yml we read.
type databaseYAML struct {
	PrimaryLanguage     string `yaml:"primaryLanguage"`
	BaselineLinesOfCode *int   `yaml:"baselineLinesOfCode"`
}

// applyDatabaseYAML fills in what resolve database does not report.
func applyDatabaseYAML(info *DatabaseInfo, dbDir string) {
	data, err := os.ReadFile(filepath.Join(dbDir, "codeql-database.yml"))
	if err != nil {
		return
	}
	var meta databaseYAML
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return
	}
	if info.Language == "" {
		info.Language = meta.PrimaryLanguage
	}
	if meta.BaselineLinesOfCode != nil {
		loc := *meta.BaselineLinesOfCode
		info.LinesOfCode = &loc
	}
}
