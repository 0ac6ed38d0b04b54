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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/tombee/codeql-mcp/internal/tracing"
)

// ServeStdio serves MCP over in and out until ctx is cancelled or in is
// closed. Nothing else may write to out.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("starting CodeQL MCP server", "transport", "stdio", slog.String("version", s.version))

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// Handler returns the HTTP routes: streamable MCP on /mcp, /healthz, and
// /metrics when metrics is non-nil.
func (s *Server) Handler(metrics http.Handler) (http.Handler, *server.StreamableHTTPServer) {
	streamable := server.NewStreamableHTTPServer(s.mcpServer, server.WithEndpointPath("/mcp"))

	mux := http.NewServeMux()
	mux.Handle("/mcp", tracing.HTTPMiddleware(streamable))
	mux.HandleFunc("/healthz", s.handleHealth)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux, streamable
}

// handleHealth reports ok with the current service status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"name":    s.name,
		"version": s.version,
		"service": s.impl.Status(),
	})
}

// ServeHTTP listens on addr until ctx is cancelled, then shuts down
// gracefully within the configured shutdown timeout.
func (s *Server) ServeHTTP(ctx context.Context, addr string, metrics http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.serveListener(ctx, ln, metrics)
}

func (s *Server) serveListener(ctx context.Context, ln net.Listener, metrics http.Handler) error {
	handler, streamable := s.Handler(metrics)
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting CodeQL MCP server",
		"transport", "http",
		"addr", ln.Addr().String(),
		slog.String("version", s.version))

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down CodeQL MCP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()

	var errs []error
	if err := streamable.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
