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
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/codeql-mcp/internal/jq"
	"github.com/tombee/codeql-mcp/internal/log"
	"github.com/tombee/codeql-mcp/internal/queryserver"
)

// QueryServer is the part of the query server API the tools use.
type QueryServer interface {
	RegisterDatabases(ctx context.Context, dbs []string) error
	RunQuery(ctx context.Context, query, db, output string, timeout time.Duration) (*queryserver.RunQueryResult, error)
	QuickEvaluate(ctx context.Context, query, db, output string, pos queryserver.Position, timeout time.Duration) (*queryserver.RunQueryResult, error)
}

// ServerControl manages the query server process.
type ServerControl interface {
	Status() queryserver.Status
	Restart(ctx context.Context) error
}

// ProcessControl lists and kills subprocesses abandoned after a timeout.
// *ExecRunner implements it.
type ProcessControl interface {
	Abandoned() []AbandonedProcess
	TerminateAbandoned() (int, error)
}

// Timeouts bound how long each kind of tool call waits.
type Timeouts struct {
	CreateDatabase time.Duration
	CompileCheck   time.Duration
	Query          time.Duration
	Analyze        time.Duration
	Short          time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		CreateDatabase: 30 * time.Minute,
		CompileCheck:   30 * time.Second,
		Query:          30 * time.Minute,
		Analyze:        60 * time.Minute,
		Short:          2 * time.Minute,
	}
}

// Options configures a Service.
type Options struct {
	// Binary is the codeql executable, part of the info cache key.
	Binary string

	Runner      Runner
	QueryServer QueryServer

	// Control is optional; without it the server admin tools fail.
	Control ServerControl

	Cache    *InfoCache
	Paths    PathPolicy
	TempDir  string
	Timeouts Timeouts
	JQ       *jq.Executor
	Logger   *slog.Logger
}

// Service implements the CodeQL tools. Every input is validated before
// any subprocess or query server call is made.
type Service struct {
	binary   string
	runner   Runner
	qs       QueryServer
	control  ServerControl
	cache    *InfoCache
	paths    PathPolicy
	tempDir  string
	timeouts Timeouts
	jq       *jq.Executor
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Cache == nil {
		opts.Cache = NewInfoCache(CacheConfig{Logger: opts.Logger})
	}
	if opts.JQ == nil {
		opts.JQ = jq.NewExecutor(0, 0)
	}
	def := DefaultTimeouts()
	if opts.Timeouts.CreateDatabase <= 0 {
		opts.Timeouts.CreateDatabase = def.CreateDatabase
	}
	if opts.Timeouts.CompileCheck <= 0 {
		opts.Timeouts.CompileCheck = def.CompileCheck
	}
	if opts.Timeouts.Query <= 0 {
		opts.Timeouts.Query = def.Query
	}
	if opts.Timeouts.Analyze <= 0 {
		opts.Timeouts.Analyze = def.Analyze
	}
	if opts.Timeouts.Short <= 0 {
		opts.Timeouts.Short = def.Short
	}

	return &Service{
		binary:   opts.Binary,
		runner:   opts.Runner,
		qs:       opts.QueryServer,
		control:  opts.Control,
		cache:    opts.Cache,
		paths:    opts.Paths,
		tempDir:  opts.TempDir,
		timeouts: opts.Timeouts,
		jq:       opts.JQ,
		logger:   log.WithComponent(opts.Logger, "codeql"),
	}
}

// outputPath resolves a caller supplied output path, or returns a fresh
// file under the temp dir named after defaultName. Concurrent calls never
// share a default.
func (s *Service) outputPath(field, given, defaultName string) (string, error) {
	if given == "" {
		ext := filepath.Ext(defaultName)
		stem := strings.TrimSuffix(defaultName, ext)
		return filepath.Join(s.tempDir, stem+"-"+uuid.NewString()+ext), nil
	}
	return s.paths.Resolve(field, given)
}

func (s *Service) run(ctx context.Context, op string, timeout time.Duration, args ...string) (*Result, error) {
	return s.runner.Run(ctx, Command{Args: args, Timeout: timeout, Operation: op})
}
