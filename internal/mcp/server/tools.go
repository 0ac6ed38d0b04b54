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

package server

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/codeql-mcp/internal/codeql"
	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// registerTools registers every CodeQL tool.
func (s *Server) registerTools() {
	languages := codeql.SupportedLanguages()

	// Tool: register_database
	s.add(mcp.NewTool("register_database",
		mcp.WithDescription(`Register a CodeQL database with the query server.

Registers a pre-built database with the CodeQL query server so it can be used by evaluate_query and test_predicate.
The directory must contain the database files including src.zip; create one with create_database first.

Returns: confirmation message with the database path.`),
		mcp.WithString("db_path", mcp.Required(),
			mcp.Description("Path to the database directory (must contain src.zip)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		db, err := required(req, "db_path")
		if err != nil {
			return nil, err
		}
		return s.impl.RegisterDatabase(ctx, db)
	})

	// Tool: test_predicate
	s.add(mcp.NewTool("test_predicate",
		mcp.WithDescription(`Quickly test a single predicate or class from a CodeQL query (10-100x faster than full evaluation).

Evaluates only the named symbol instead of the entire query. Use it for rapid iteration, to test predicates in isolation, or to debug data flow logic before a full run.
The symbol is located in the query file as a class first, then as a predicate.

Returns: path to the binary .bqrs result file (read it with decode_bqrs).`),
		mcp.WithString("file", mcp.Required(), mcp.Description("Path to the .ql query file")),
		mcp.WithString("db", mcp.Required(), mcp.Description("Path to the CodeQL database")),
		mcp.WithString("symbol", mcp.Required(),
			mcp.Description("Name of the class or predicate to evaluate")),
		mcp.WithString("output_path",
			mcp.Description("Where to write results (default: a new quickeval-*.bqrs file in the server temp directory)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		file, err := required(req, "file")
		if err != nil {
			return nil, err
		}
		db, err := required(req, "db")
		if err != nil {
			return nil, err
		}
		symbol, err := required(req, "symbol")
		if err != nil {
			return nil, err
		}
		return s.impl.TestPredicate(ctx, codeql.TestPredicateParams{
			File:       file,
			DBPath:     db,
			Symbol:     symbol,
			OutputPath: req.GetString("output_path", ""),
		})
	})

	// Tool: decode_bqrs
	s.add(mcp.NewTool("decode_bqrs",
		mcp.WithDescription(`Convert binary CodeQL query results into a readable format.

BQRS files produced by evaluate_query and test_predicate are binary and cannot be read directly.
Formats: "json" for structured data and agents, "csv" for tabular export, "text" for a human-readable table.
An optional jq filter is applied to json output (for example ".\"#select\".tuples | length").

Returns: the decoded results.`),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the .bqrs file")),
		mcp.WithString("format", mcp.Required(),
			mcp.Description("Output format"),
			mcp.Enum(codeql.DecodeFormats...)),
		mcp.WithString("filter", mcp.Description("jq expression applied to json output")),
	), func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		path, err := required(req, "path")
		if err != nil {
			return nil, err
		}
		format, err := required(req, "format")
		if err != nil {
			return nil, err
		}
		return s.impl.DecodeBQRS(ctx, codeql.DecodeParams{
			Path:   path,
			Format: format,
			Filter: req.GetString("filter", ""),
		})
	})

	// Tool: evaluate_query
	s.add(mcp.NewTool("evaluate_query",
		mcp.WithDescription(`Execute a complete CodeQL query against a database.

The query is compile-checked first for fast feedback on syntax errors, then run by the query server.
Full queries may take seconds to minutes; use test_predicate for faster iteration during development.

Returns: path to the binary .bqrs result file (read it with decode_bqrs).`),
		mcp.WithString("query_path", mcp.Required(), mcp.Description("Path to the .ql query file")),
		mcp.WithString("db_path", mcp.Required(), mcp.Description("Path to the CodeQL database")),
		mcp.WithString("output_path",
			mcp.Description("Where to write results (default: a new eval-*.bqrs file in the server temp directory)")),
		mcp.WithNumber("timeout", mcp.Description("Evaluation timeout in seconds")),
	), func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		query, err := required(req, "query_path")
		if err != nil {
			return nil, err
		}
		db, err := required(req, "db_path")
		if err != nil {
			return nil, err
		}
		timeout, err := seconds(req, "timeout")
		if err != nil {
			return nil, err
		}
		return s.impl.EvaluateQuery(ctx, codeql.EvaluateQueryParams{
			QueryPath:  query,
			DBPath:     db,
			OutputPath: req.GetString("output_path", ""),
			Timeout:    timeout,
		})
	})

	// Tool: create_database
	s.add(mcp.NewTool("create_database",
		mcp.WithDescription(`Build a CodeQL database from source code. Required before running any queries.

Interpreted languages are extracted directly; compiled languages need a build command so compilation can be observed.
Register the result with register_database before querying it.

Returns: success message with the created database path.`),
		mcp.WithString("source_path", mcp.Required(),
			mcp.Description("Root directory of the source code to analyze")),
		mcp.WithString("language", mcp.Required(),
			mcp.Description("Programming language (see list_supported_languages)"),
			mcp.Enum(languages...)),
		mcp.WithString("db_path", mcp.Required(), mcp.Description("Where to create the database directory")),
		mcp.WithString("command", mcp.Description("Build command for compiled languages")),
		mcp.WithBoolean("overwrite", mcp.Description("Replace an existing database at db_path"),
			mcp.DefaultBool(false)),
	), func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		source, err := required(req, "source_path")
		if err != nil {
			return nil, err
		}
		language, err := required(req, "language")
		if err != nil {
			return nil, err
		}
		db, err := required(req, "db_path")
		if err != nil {
			return nil, err
		}
		return s.impl.CreateDatabase(ctx, codeql.CreateDatabaseParams{
			SourcePath: source,
			Language:   language,
			DBPath:     db,
			Command:    req.GetString("command", ""),
			Overwrite:  req.GetBool("overwrite", false),
		})
	})

	// Tool: list_supported_languages
	s.add(mcp.NewTool("list_supported_languages",
		mcp.WithDescription(`List programming languages supported by the installed CodeQL CLI.

Support depends on the extractors available in the installation. Use the returned identifiers as create_database's language.

Returns: list of language identifiers.`),
	), func(ctx context.Context, _ mcp.CallToolRequest) (any, error) {
		return s.impl.ListSupportedLanguages(ctx)
	})

	// Tool: list_query_packs
	s.add(mcp.NewTool("list_query_packs",
		mcp.WithDescription(`List installed CodeQL query packs.

Each language has a dedicated pack with suites of different depth: code scanning, extended security, and security and quality.
Use with discover_queries to list a pack's queries and analyze_database to run its suites.

Returns: languages mapped to their query pack and available suites.`),
	), func(ctx context.Context, _ mcp.CallToolRequest) (any, error) {
		return s.impl.ListQueryPacks(ctx)
	})

	// Tool: discover_queries
	s.add(mcp.NewTool("discover_queries",
		mcp.WithDescription(`Discover CodeQL queries in installed packs.

Specify either pack_name or language. Queries are grouped by category (Security, Maintainability, Reliability) and security queries further by CWE.
category matches as a case-insensitive substring, or as a glob when it contains wildcards (for example "Security/CWE-0*/*.ql").

Returns: list of queries with path, language and filename.`),
		mcp.WithString("pack_name", mcp.Description("Query pack (from list_query_packs)")),
		mcp.WithString("language", mcp.Description("Language whose default pack is searched"),
			mcp.Enum(languages...)),
		mcp.WithString("category", mcp.Description("Category filter (security, quality, ...)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		return s.impl.DiscoverQueries(ctx, codeql.DiscoverParams{
			PackName: req.GetString("pack_name", ""),
			Language: req.GetString("language", ""),
			Category: req.GetString("category", ""),
		})
	})

	// Tool: find_security_queries
	s.add(mcp.NewTool("find_security_queries",
		mcp.WithDescription(`Find security-focused CodeQL queries by language and vulnerability type.

Specify language, or db_path to detect the language from a database.
Vulnerability types cover injection flaws, cross-site scripting, path manipulation, authentication, data handling and memory safety.

Returns: vulnerability types mapped to matching queries.`),
		mcp.WithString("language", mcp.Description("Target language"), mcp.Enum(languages...)),
		mcp.WithString("vulnerability_type", mcp.Description("Vulnerability category"),
			mcp.Enum(codeql.VulnerabilityTypes()...)),
		mcp.WithString("db_path", mcp.Description("Database used to detect the language")),
	), func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		return s.impl.FindSecurityQueries(ctx, codeql.SecurityQueryParams{
			VulnerabilityType: req.GetString("vulnerability_type", ""),
			Language:          req.GetString("language", ""),
			DBPath:            req.GetString("db_path", ""),
		})
	})

	// Tool: analyze_database
	s.add(mcp.NewTool("analyze_database",
		mcp.WithDescription(`Run a query suite or query against a CodeQL database and write a report.

sarif-latest is recommended for GitHub Code Scanning; csv suits spreadsheets. The file extension is added to output_path automatically.
Use list_query_packs to discover the suites available for a language.

Returns: the report path and, for SARIF, a summary of results by level.`),
		mcp.WithString("db_path", mcp.Required(), mcp.Description("Path to the CodeQL database")),
		mcp.WithString("query_or_suite", mcp.Required(),
			mcp.Description("Suite reference (pack:path), pack name, or path to a .ql or .qls file")),
		mcp.WithString("output_format", mcp.Description("Report format"),
			mcp.Enum(codeql.AnalyzeFormats...), mcp.DefaultString("sarif-latest")),
		mcp.WithString("output_path",
			mcp.Description("Base path of the report (default: analysis in the server temp directory)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		db, err := required(req, "db_path")
		if err != nil {
			return nil, err
		}
		target, err := required(req, "query_or_suite")
		if err != nil {
			return nil, err
		}
		return s.impl.AnalyzeDatabase(ctx, codeql.AnalyzeParams{
			DBPath:       db,
			QueryOrSuite: target,
			OutputFormat: req.GetString("output_format", "sarif-latest"),
			OutputPath:   req.GetString("output_path", ""),
		})
	})

	// Tool: get_database_info
	s.add(mcp.NewTool("get_database_info",
		mcp.WithDescription(`Retrieve metadata about a CodeQL database.

Reports the primary language, lines of code, creation metadata and source location prefix. Useful to verify a database before analysis.
Results are cached until the database changes; clear_database_cache drops every entry.

Returns: database metadata.`),
		mcp.WithString("db_path", mcp.Required(), mcp.Description("Path to the database directory")),
	), func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		db, err := required(req, "db_path")
		if err != nil {
			return nil, err
		}
		return s.impl.GetDatabaseInfo(ctx, db)
	})

	// Tool: run_security_scan
	s.add(mcp.NewTool("run_security_scan",
		mcp.WithDescription(`Run the extended security suite for a database's language and write a SARIF report.

The language is detected from the database when not given. The suite covers high and medium severity security queries.

Returns: the SARIF report path and a summary of results by level.`),
		mcp.WithString("db_path", mcp.Required(), mcp.Description("Path to the CodeQL database")),
		mcp.WithString("language", mcp.Description("Target language (detected when omitted)"),
			mcp.Enum(languages...)),
		mcp.WithString("output_path",
			mcp.Description("Base path of the SARIF report (default: security-scan in the server temp directory)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		db, err := required(req, "db_path")
		if err != nil {
			return nil, err
		}
		return s.impl.RunSecurityScan(ctx, codeql.ScanParams{
			DBPath:     db,
			Language:   req.GetString("language", ""),
			OutputPath: req.GetString("output_path", ""),
		})
	})

	s.registerAdminTools()
}

// registerAdminTools registers the server management tools.
func (s *Server) registerAdminTools() {
	s.add(mcp.NewTool("query_server_status",
		mcp.WithDescription("Report the query server state, processes abandoned after timeouts, and the database info cache size."),
	), func(context.Context, mcp.CallToolRequest) (any, error) {
		return s.impl.Status(), nil
	})

	s.add(mcp.NewTool("restart_query_server",
		mcp.WithDescription("Stop the query server and start a fresh one. Use after a protocol error; pending requests fail."),
	), func(ctx context.Context, _ mcp.CallToolRequest) (any, error) {
		return s.impl.RestartQueryServer(ctx)
	})

	s.add(mcp.NewTool("clear_database_cache",
		mcp.WithDescription("Drop all cached database metadata so the next get_database_info call reads it again."),
	), func(context.Context, mcp.CallToolRequest) (any, error) {
		return map[string]int{"cleared": s.impl.ClearDatabaseCache()}, nil
	})

	s.add(mcp.NewTool("terminate_abandoned",
		mcp.WithDescription("Kill codeql processes left running after their caller timed out."),
	), func(context.Context, mcp.CallToolRequest) (any, error) {
		n, err := s.impl.TerminateAbandoned()
		if err != nil {
			return nil, err
		}
		return map[string]int{"terminated": n}, nil
	})
}

// required returns a non-empty string argument or a validation error.
func required(req mcp.CallToolRequest, field string) (string, error) {
	v, err := req.RequireString(field)
	if err != nil || v == "" {
		return "", &cqerrors.ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return v, nil
}

// seconds reads an optional positive number of seconds.
func seconds(req mcp.CallToolRequest, field string) (time.Duration, error) {
	n := req.GetFloat(field, 0)
	if n < 0 {
		return 0, &cqerrors.ValidationError{
			Field:   field,
			Message: "must not be negative",
		}
	}
	return time.Duration(n * float64(time.Second)), nil
}
