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

// Package server exposes the CodeQL tool implementations over MCP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/codeql-mcp/internal/codeql"
	"github.com/tombee/codeql-mcp/internal/log"
	"github.com/tombee/codeql-mcp/internal/queryserver"
	"github.com/tombee/codeql-mcp/internal/tracing"
	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// Tools is the set of operations the server exposes. *codeql.Service
// implements it.
type Tools interface {
	RegisterDatabase(ctx context.Context, dbPath string) (string, error)
	CreateDatabase(ctx context.Context, p codeql.CreateDatabaseParams) (string, error)
	GetDatabaseInfo(ctx context.Context, dbPath string) (*codeql.DatabaseInfo, error)
	EvaluateQuery(ctx context.Context, p codeql.EvaluateQueryParams) (string, error)
	TestPredicate(ctx context.Context, p codeql.TestPredicateParams) (string, error)
	DecodeBQRS(ctx context.Context, p codeql.DecodeParams) (string, error)
	ListSupportedLanguages(ctx context.Context) ([]string, error)
	ListQueryPacks(ctx context.Context) (*codeql.PackListing, error)
	DiscoverQueries(ctx context.Context, p codeql.DiscoverParams) ([]codeql.QueryInfo, error)
	FindSecurityQueries(ctx context.Context, p codeql.SecurityQueryParams) (map[string][]codeql.QueryInfo, error)
	AnalyzeDatabase(ctx context.Context, p codeql.AnalyzeParams) (*codeql.AnalysisResult, error)
	RunSecurityScan(ctx context.Context, p codeql.ScanParams) (*codeql.AnalysisResult, error)

	Status() *codeql.Status
	RestartQueryServer(ctx context.Context) (*queryserver.Status, error)
	ClearDatabaseCache() int
	TerminateAbandoned() (int, error)
}

// Server wraps the MCP server and the tool implementations behind it.
type Server struct {
	mcpServer  *server.MCPServer
	name       string
	version    string
	impl       Tools
	tools      []server.ServerTool
	limiter    *RateLimiter
	logger     *slog.Logger
	middleware *log.ToolMiddleware
	tracer     trace.Tracer
	metrics    *tracing.MetricsCollector
	shutdown   time.Duration
}

// Config configures the MCP server.
type Config struct {
	// Name is the server name advertised to clients (default: "CodeQL")
	Name string

	// Version is the codeql-mcp version
	Version string

	// Tools implements every tool. Required.
	Tools Tools

	// RateLimit bounds tool calls per minute. Zero values disable a limit.
	RateLimit Limits

	// ShutdownTimeout bounds graceful shutdown of the http transport.
	ShutdownTimeout time.Duration

	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *tracing.MetricsCollector
}

// toolFunc is the body of one tool. A string result is returned as
// text, anything else as indented JSON.
type toolFunc func(ctx context.Context, req mcp.CallToolRequest) (any, error)

// NewServer creates a server with every tool registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Tools == nil {
		return nil, &cqerrors.ConfigError{Key: "server.tools", Reason: "no tool implementation configured"}
	}
	if cfg.Name == "" {
		cfg.Name = "CodeQL"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("codeql-mcp")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	logger := log.WithComponent(cfg.Logger, "mcp")
	s := &Server{
		mcpServer: server.NewMCPServer(cfg.Name, cfg.Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		name:       cfg.Name,
		version:    cfg.Version,
		impl:       cfg.Tools,
		limiter:    NewRateLimiter(cfg.RateLimit),
		logger:     logger,
		middleware: log.NewToolMiddleware(logger, cqerrors.Kind),
		tracer:     cfg.Tracer,
		metrics:    cfg.Metrics,
		shutdown:   cfg.ShutdownTimeout,
	}

	s.registerTools()
	s.mcpServer.AddTools(s.tools...)

	return s, nil
}

// add registers one tool behind the handler pipeline.
func (s *Server) add(tool mcp.Tool, fn toolFunc) {
	s.tools = append(s.tools, server.ServerTool{
		Tool:    tool,
		Handler: s.handle(tool.Name, fn),
	})
}

// handle wraps fn with rate limiting, logging, tracing and metrics. Errors
// are always reported as tool results, never to mcp-go.
func (s *Server) handle(name string, fn toolFunc) server.ToolHandlerFunc {
	heavy := heavyTools[name]

	return func(ctx context.Context, req mcp.CallToolRequest) (res *mcp.CallToolResult, _ error) {
		if !s.limiter.Allow(heavy) {
			s.logger.Warn("tool call rate limited", log.ToolKey, name, "heavy", heavy)
			return mcp.NewToolResultError("[rate_limited] too many tool calls; retry later"), nil
		}

		requestID := uuid.NewString()
		call := &log.ToolCall{Tool: name, RequestID: requestID, Arguments: req.GetArguments()}

		ctx, span := tracing.StartToolSpan(ctx, s.tracer, name, requestID)
		if s.metrics != nil {
			s.metrics.ToolStarted()
		}
		start := time.Now()

		var err error
		defer func() {
			if r := recover(); r != nil {
				err = &cqerrors.InternalError{Message: fmt.Sprintf("tool %s panicked: %v", name, r)}
				s.logger.Error("tool panicked", log.ToolKey, name, "request_id", requestID, "panic", r)
				res = errorResult(err)
			}

			kind := cqerrors.Kind(err)
			tracing.EndToolSpan(span, kind, err)
			if s.metrics != nil {
				status := kind
				if status == "" {
					status = "ok"
				}
				s.metrics.RecordToolCall(ctx, name, status, time.Since(start))
			}
		}()

		var out any
		err = s.middleware.Handle(call, func() error {
			var err error
			out, err = fn(ctx, req)
			return err
		})
		if err != nil {
			return errorResult(err), nil
		}
		return s.result(name, out), nil
	}
}

// errorResult formats err as "[kind] message" with an optional suggestion.
func errorResult(err error) *mcp.CallToolResult {
	text := fmt.Sprintf("[%s] %s", cqerrors.Kind(err), err.Error())
	if hint := cqerrors.SuggestionFor(err); hint != "" {
		text += "\nSuggestion: " + hint
	}
	return mcp.NewToolResultError(text)
}

func (s *Server) result(name string, out any) *mcp.CallToolResult {
	if text, ok := out.(string); ok {
		return mcp.NewToolResultText(text)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		s.logger.Error("failed to encode tool result", log.ToolKey, name, log.Error(err))
		return errorResult(&cqerrors.InternalError{Message: "failed to encode result", Cause: err})
	}
	return mcp.NewToolResultText(string(data))
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ToolNames lists the registered tools in registration order.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.tools))
	for _, t := range s.tools {
		names = append(names, t.Tool.Name)
	}
	return names
}
