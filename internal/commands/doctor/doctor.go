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

// Package doctor implements the doctor command, which checks that the
// CodeQL CLI and query server can be used by codeql-mcp.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/codeql-mcp/internal/codeql"
	"github.com/tombee/codeql-mcp/internal/commands/serve"
	"github.com/tombee/codeql-mcp/internal/commands/shared"
	"github.com/tombee/codeql-mcp/internal/config"
	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// Check is the outcome of one diagnostic.
type Check struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	Warning    bool   `json:"warning,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Report is the result of all diagnostics.
type Report struct {
	ConfigPath string  `json:"config_path,omitempty"`
	Checks     []Check `json:"checks"`
	Healthy    bool    `json:"healthy"`
}

func (r *Report) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.OK {
		r.Healthy = false
	}
}

func failed(name string, err error) Check {
	return Check{Name: name, Detail: err.Error(), Suggestion: cqerrors.SuggestionFor(err)}
}

// Options controls which checks run.
type Options struct {
	SkipQueryServer bool
	Timeout         time.Duration
}

// NewCommand creates the doctor command
func NewCommand() *cobra.Command {
	var (
		overrides *config.Overrides
		opts      Options
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the CodeQL installation and configuration",
		Long: `Check that codeql-mcp can run.

This command checks:
  - the configuration loads and validates
  - the codeql binary is found and reports its version
  - the temp directory is writable
  - the CLI lists its supported languages
  - the query server starts and stops cleanly

Exits non-zero when any check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, overrides, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.SkipQueryServer, "skip-query-server", false, "do not launch the query server")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 60*time.Second, "overall time limit for the checks")
	overrides = config.BindFlags(cmd.Flags())
	return cmd
}

func runDoctor(cmd *cobra.Command, overrides *config.Overrides, opts Options) error {
	report := &Report{Healthy: true}
	report.ConfigPath = shared.GetConfigPath()
	if report.ConfigPath == "" {
		if path, err := config.ConfigPath(); err == nil {
			if _, err := os.Stat(path); err == nil {
				report.ConfigPath = path
			}
		}
	}

	cfg, err := shared.LoadConfig(overrides)
	if err != nil {
		report.add(failed("configuration", err))
	} else {
		detail := "defaults"
		if report.ConfigPath != "" {
			detail = report.ConfigPath
		}
		report.add(Check{Name: "configuration", OK: true, Detail: detail})

		ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
		defer cancel()
		Run(ctx, cfg, shared.NewLogger(cfg), opts, report)
	}

	if shared.GetJSON() {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(cmd.OutOrStdout(), report)
	}

	if !report.Healthy {
		return shared.NewChecksFailedError("doctor found problems")
	}
	return nil
}

// Run executes the checks that need a valid configuration and appends
// them to report.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options, report *Report) {
	stack, err := serve.NewStack(cfg, logger, nil)
	if err != nil {
		name := "codeql binary"
		if cqerrors.Kind(err) == cqerrors.KindConfig {
			name = "temp directory"
		}
		report.add(failed(name, err))
		return
	}
	defer stack.Close(context.Background())
	report.add(Check{Name: "codeql binary", OK: true, Detail: stack.Binary})

	res, err := stack.Runner.Run(ctx, codeql.Command{
		Args:      []string{"version", "--format=terse"},
		Timeout:   30 * time.Second,
		Operation: "version",
	})
	if err != nil {
		report.add(failed("codeql version", err))
	} else {
		report.add(Check{Name: "codeql version", OK: true, Detail: strings.TrimSpace(res.Stdout)})
	}

	report.add(checkWritable(stack.TempDir))

	langs, err := stack.Service.ListSupportedLanguages(ctx)
	switch {
	case err != nil:
		report.add(failed("languages", err))
	case len(langs) == 0:
		report.add(Check{Name: "languages", OK: true, Warning: true,
			Detail:     "no extractors found",
			Suggestion: "install a CodeQL bundle that includes language extractors"})
	default:
		report.add(Check{Name: "languages", OK: true, Detail: strings.Join(langs, ", ")})
	}

	if opts.SkipQueryServer {
		report.add(Check{Name: "query server", OK: true, Warning: true, Detail: "skipped"})
		return
	}
	if err := stack.Supervisor.Start(ctx); err != nil {
		report.add(failed("query server", err))
		return
	}
	pid := stack.Supervisor.Status().PID
	if err := stack.Supervisor.Stop(ctx); err != nil {
		report.add(failed("query server", err))
		return
	}
	report.add(Check{Name: "query server", OK: true, Detail: fmt.Sprintf("started (pid %d) and stopped", pid)})
}

func checkWritable(dir string) Check {
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Check{Name: "temp directory", Detail: err.Error(),
			Suggestion: "set CODEQL_MCP_TMPDIR to a writable directory"}
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return Check{Name: "temp directory", OK: true, Detail: dir}
}

func printReport(w io.Writer, report *Report) {
	p := shared.NewPrinter(w)
	p.Header("codeql-mcp doctor")
	for _, c := range report.Checks {
		p.Check(c.OK, c.Warning, c.Name, c.Detail)
		if c.Suggestion != "" && (!c.OK || c.Warning) {
			p.Line("      " + c.Suggestion)
		}
	}
	p.Line("")
	if report.Healthy {
		p.Line("All checks passed.")
	} else {
		p.Line("Some checks failed.")
	}
}
