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

package serve

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tombee/codeql-mcp/internal/codeql"
	"github.com/tombee/codeql-mcp/internal/config"
	"github.com/tombee/codeql-mcp/internal/jq"
	"github.com/tombee/codeql-mcp/internal/queryserver"
	"github.com/tombee/codeql-mcp/internal/tracing"
)

// Stack is the wired set of components behind the MCP server.
type Stack struct {
	Binary     string
	TempDir    string
	Runner     *codeql.ExecRunner
	Supervisor *queryserver.Supervisor
	API        *queryserver.API
	Cache      *codeql.InfoCache
	Service    *codeql.Service
}

// NewStack resolves the codeql binary and wires the runner, query server,
// cache and service. The query server is not started. metrics may be nil.
func NewStack(cfg *config.Config, logger *slog.Logger, metrics *tracing.MetricsCollector) (*Stack, error) {
	binary, err := cfg.ResolveBinary()
	if err != nil {
		return nil, err
	}
	tempDir, err := cfg.EnsureTempDir()
	if err != nil {
		return nil, err
	}

	qsCfg := queryserver.Config{
		Binary:            binary,
		Args:              queryserver.DefaultArgs(cfg.QueryServer.Args...),
		Framing:           cfg.QueryServer.Framing,
		ShutdownGrace:     cfg.QueryServer.ShutdownGrace,
		StartupProbe:      cfg.QueryServer.StartupProbe,
		MaxProtocolErrors: cfg.QueryServer.MaxProtocolErrors,
		Lazy:              cfg.QueryServer.Lazy,
		Logger:            logger,
	}
	if metrics != nil {
		qsCfg.Observer = metrics.RecordRPC
	}
	sup := queryserver.NewSupervisor(qsCfg)

	api := queryserver.NewAPI(sup, cfg.CodeQL.Timeouts.Register)
	api.OnProgress = func(u queryserver.ProgressUpdate) {
		logger.Debug("query server progress",
			"progress_id", u.ID,
			"step", u.Step,
			"max_step", u.MaxStep,
			"message", u.Message)
	}

	runner := codeql.NewExecRunner(codeql.ExecRunnerConfig{
		Binary:        binary,
		MaxConcurrent: cfg.CodeQL.MaxConcurrent,
		KillOnTimeout: cfg.CodeQL.KillOnTimeout,
		Logger:        logger,
	})

	cache := codeql.NewInfoCache(codeql.CacheConfig{
		Size:     cfg.Cache.Size,
		TTL:      cfg.Cache.TTL,
		Watch:    cfg.Cache.Watch,
		Debounce: cfg.Cache.Debounce,
		Logger:   logger,
	})

	t := cfg.CodeQL.Timeouts
	svc := codeql.NewService(codeql.Options{
		Binary:      binary,
		Runner:      runner,
		QueryServer: api,
		Control:     sup,
		Cache:       cache,
		Paths:       codeql.PathPolicy{Allowed: cfg.CodeQL.AllowedPaths},
		TempDir:     tempDir,
		Timeouts: codeql.Timeouts{
			CreateDatabase: t.CreateDatabase,
			CompileCheck:   t.CompileCheck,
			Query:          t.Query,
			Analyze:        t.Analyze,
			Short:          t.Short,
		},
		JQ:     jq.NewExecutor(0, 0),
		Logger: logger,
	})

	return &Stack{
		Binary:     binary,
		TempDir:    tempDir,
		Runner:     runner,
		Supervisor: sup,
		API:        api,
		Cache:      cache,
		Service:    svc,
	}, nil
}

// Close stops the query server and the cache watcher. Abandoned
// subprocesses are left running.
func (s *Stack) Close(ctx context.Context) error {
	return errors.Join(s.Supervisor.Stop(ctx), s.Cache.Close())
}
