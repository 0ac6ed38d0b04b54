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

// Package serve implements the serve command, which runs the MCP server.
package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/codeql-mcp/internal/commands/shared"
	"github.com/tombee/codeql-mcp/internal/config"
	"github.com/tombee/codeql-mcp/internal/log"
	"github.com/tombee/codeql-mcp/internal/mcp/server"
	"github.com/tombee/codeql-mcp/internal/tracing"
)

// NewCommand creates the serve command
func NewCommand() *cobra.Command {
	var overrides *config.Overrides

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the CodeQL MCP server",
		Long: `Start the CodeQL MCP (Model Context Protocol) server.

The server exposes the CodeQL CLI and its query server as tools: database
creation and registration, query evaluation, quick evaluation of a single
predicate, BQRS decoding, query and pack discovery, and suite analysis.

The server runs in stdio mode by default. Use --transport http to serve the
streamable HTTP transport on --addr (PORT sets the port), with /healthz and,
with --metrics, Prometheus metrics on /metrics.

Configuration example for an MCP client:
  {
    "mcpServers": {
      "codeql": {
        "command": "codeql-mcp",
        "args": ["serve"]
      }
    }
  }

Logs are written to stderr; stdout carries MCP traffic in stdio mode.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, overrides)
		},
	}

	overrides = config.BindFlags(cmd.Flags())
	return cmd
}

func runServe(cmd *cobra.Command, overrides *config.Overrides) error {
	cfg, err := shared.LoadConfig(overrides)
	if err != nil {
		return err
	}
	logger := shared.NewLogger(cfg)
	version, _, _ := shared.GetVersion()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := tracing.NewProvider(ctx, cfg.TracingConfig(version), tracing.ProviderOptions{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", log.Error(err))
		}
	}()

	stack, err := NewStack(cfg, logger, provider.Metrics())
	if err != nil {
		if shared.ExitCode(err) == shared.ExitLaunchError {
			return shared.NewLaunchError("cannot run codeql", err)
		}
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.QueryServer.ShutdownGrace+time.Second)
		defer cancel()
		if err := stack.Close(stopCtx); err != nil {
			logger.Warn("shutdown incomplete", log.Error(err))
		}
		if n := len(stack.Runner.Abandoned()); n > 0 {
			logger.Warn("abandoned codeql processes are still running", "count", n)
		}
	}()

	if !cfg.QueryServer.Lazy {
		if err := stack.Supervisor.Start(ctx); err != nil {
			return shared.NewLaunchError("failed to start query server", err)
		}
	}

	srv, err := server.NewServer(server.Config{
		Name:    cfg.Server.Name,
		Version: version,
		Tools:   stack.Service,
		RateLimit: server.Limits{
			CallsPerMinute: cfg.Server.RateLimit.CallsPerMinute,
			HeavyPerMinute: cfg.Server.RateLimit.HeavyPerMinute,
		},
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger,
		Tracer:          provider.Tracer("codeql-mcp"),
		Metrics:         provider.Metrics(),
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	logger.Info("codeql-mcp ready",
		"codeql", stack.Binary,
		"temp_dir", stack.TempDir,
		"transport", cfg.Server.Transport,
		"lazy", cfg.QueryServer.Lazy)

	if cfg.Server.Transport == config.TransportHTTP {
		var metrics http.Handler
		if cfg.Observability.Metrics {
			metrics = provider.MetricsHandler()
		}
		return srv.ServeHTTP(ctx, cfg.Server.Addr, metrics)
	}
	return srv.ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
}
